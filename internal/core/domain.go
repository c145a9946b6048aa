package core

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin      Role = "admin"
	RoleAccountant Role = "accountant"
	RoleViewer     Role = "viewer"
)

const (
	ScopeAll  DraftScope = "all"
	ScopeMine DraftScope = "mine"
)

// DraftKindExpense is the only draft kind handled by this module.
const DraftKindExpense = "expense"

type (
	Role       string
	DraftScope string

	// Attachment is a server-owned file record attached to one expense.
	Attachment struct {
		ID           int64     `json:"id"`
		ExpenseID    int64     `json:"expense_id"`
		Mime         string    `json:"mime"`
		OrigFilename string    `json:"orig_filename"`
		SizeBytes    int64     `json:"size_bytes"`
		CreatedAt    time.Time `json:"created_at"`
	}

	// DraftPayload is the staged content of an expense. It is also the body
	// used to create a committed expense.
	DraftPayload struct {
		ExpenseDate string          `json:"expense_date" validate:"required,datetime=2006-01-02"`
		Category    string          `json:"category" validate:"required,max=100"`
		Title       string          `json:"title" validate:"required,max=200"`
		Qty         decimal.Decimal `json:"qty" validate:"gt=0"`
		UnitAmount  decimal.Decimal `json:"unit_amount" validate:"gte=0"`
		Comment     *string         `json:"comment"`
		Tags        []string        `json:"tags" validate:"omitempty,max=20,dive,required,max=50"`
	}

	DraftSummary struct {
		Title       string          `json:"title"`
		Category    string          `json:"category"`
		ExpenseDate string          `json:"expense_date"`
		Total       decimal.Decimal `json:"total"`
	}

	// ExpenseDraft is a server-owned staged payload scoped to a month.
	ExpenseDraft struct {
		ID        int64        `json:"id"`
		MonthID   int64        `json:"month_id"`
		OwnerID   int64        `json:"user_id"`
		Kind      string       `json:"kind"`
		Payload   DraftPayload `json:"payload"`
		Summary   DraftSummary `json:"summary"`
		CreatedAt time.Time    `json:"created_at"`
	}

	Expense struct {
		ID               int64           `json:"id"`
		MonthID          int64           `json:"month_id"`
		ExpenseDate      string          `json:"expense_date"`
		Category         string          `json:"category"`
		Title            string          `json:"title"`
		Qty              decimal.Decimal `json:"qty"`
		UnitAmount       decimal.Decimal `json:"unit_amount"`
		Total            decimal.Decimal `json:"total"`
		Comment          *string         `json:"comment"`
		Tags             []string        `json:"tags"`
		AttachmentsCount int             `json:"attachments_count"`
	}

	Warning struct {
		Type     string `json:"type"`
		Category string `json:"category,omitempty"`
	}

	// CreatedExpense is the backend answer to an expense creation.
	CreatedExpense struct {
		ID       int64     `json:"id"`
		Warnings []Warning `json:"warnings"`
	}

	UserRef struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}

	Month struct {
		ID       int64      `json:"id"`
		Year     int        `json:"year"`
		Month    int        `json:"month"`
		IsClosed bool       `json:"is_closed"`
		ClosedAt *time.Time `json:"closed_at"`
		ClosedBy *UserRef   `json:"closed_by"`
	}

	// MonthSummary is the part of the month summary response the lock is
	// derived from.
	MonthSummary struct {
		Month Month `json:"month"`
	}
)

// CanMutate reports whether the role may write expenses, drafts and attachments.
func (r Role) CanMutate() bool {
	return r == RoleAdmin || r == RoleAccountant
}

// DraftScope returns the draft listing scope granted to the role.
func (r Role) DraftScope() DraftScope {
	if r == RoleAdmin {
		return ScopeAll
	}
	return ScopeMine
}

func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleAccountant, RoleViewer:
		return true
	default:
		return false
	}
}

// ParseRole normalizes a role name; unknown names map to RoleViewer.
func ParseRole(s string) Role {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return RoleViewer
	}
	return r
}

// Total returns qty × unit amount.
func (p DraftPayload) Total() decimal.Decimal {
	return p.Qty.Mul(p.UnitAmount)
}

// Summary builds the denormalized list view of the payload.
func (p DraftPayload) Summary() DraftSummary {
	return DraftSummary{
		Title:       p.Title,
		Category:    p.Category,
		ExpenseDate: p.ExpenseDate,
		Total:       p.Total(),
	}
}

// Clone returns a deep copy so callers can edit a draft form freely.
func (p DraftPayload) Clone() DraftPayload {
	out := p
	if p.Comment != nil {
		c := *p.Comment
		out.Comment = &c
	}
	if p.Tags != nil {
		out.Tags = append([]string(nil), p.Tags...)
	}
	return out
}

// MarshalJSON writes amounts as JSON numbers; the backend rejects quoted
// decimals.
func (p DraftPayload) MarshalJSON() ([]byte, error) {
	type alias DraftPayload
	return json.Marshal(struct {
		alias
		Qty        json.Number `json:"qty"`
		UnitAmount json.Number `json:"unit_amount"`
	}{
		alias:      alias(p),
		Qty:        json.Number(p.Qty.String()),
		UnitAmount: json.Number(p.UnitAmount.String()),
	})
}

// Payload returns the fields of a committed expense in draft form.
func (e Expense) Payload() DraftPayload {
	return DraftPayload{
		ExpenseDate: e.ExpenseDate,
		Category:    e.Category,
		Title:       e.Title,
		Qty:         e.Qty,
		UnitAmount:  e.UnitAmount,
		Comment:     e.Comment,
		Tags:        e.Tags,
	}
}
