// Package drafts manages staged expense payloads of a month.
package drafts

import (
	"context"
	"fmt"
	"sync"

	"ledger/internal/api"
	"ledger/internal/core"
	"ledger/internal/events"
	"ledger/internal/log"
)

// LockChecker reports a closed month as an error.
type LockChecker interface {
	Check() error
}

type Options struct {
	API      api.DraftAPI
	Gate     LockChecker
	Role     core.Role
	Notifier events.Notifier
	Logger   *log.Logger

	// OnSubmitted runs after a draft became an expense, typically to reload
	// the expense list.
	OnSubmitted func(ctx context.Context, draft core.ExpenseDraft, created core.CreatedExpense)
}

// Manager caches the draft list of one month. A draft only leaves the list
// through SubmitDraft or DeleteDraft.
type Manager struct {
	api         api.DraftAPI
	gate        LockChecker
	role        core.Role
	notifier    events.Notifier
	logger      *log.Logger
	onSubmitted func(context.Context, core.ExpenseDraft, core.CreatedExpense)

	mu       sync.Mutex
	monthID  int64
	drafts   []core.ExpenseDraft
	inFlight map[int64]struct{}
}

func New(opts Options) *Manager {
	n := opts.Notifier
	if n == nil {
		n = events.Noop{}
	}
	return &Manager{
		api:         opts.API,
		gate:        opts.Gate,
		role:        opts.Role,
		notifier:    n,
		logger:      log.OrDiscard(opts.Logger).WithComponent(log.ComponentDrafts),
		onSubmitted: opts.OnSubmitted,
		inFlight:    make(map[int64]struct{}),
	}
}

// Role returns the role the manager acts with.
func (m *Manager) Role() core.Role { return m.role }

// SaveDraft validates and stores payload as a new draft of monthID.
func (m *Manager) SaveDraft(ctx context.Context, monthID int64, payload core.DraftPayload) (core.ExpenseDraft, error) {
	if !m.role.CanMutate() {
		return core.ExpenseDraft{}, core.ErrForbiddenRole
	}
	if err := payload.Validate(); err != nil {
		return core.ExpenseDraft{}, err
	}
	if err := m.gate.Check(); err != nil {
		return core.ExpenseDraft{}, err
	}

	d, err := m.api.CreateDraft(ctx, monthID, payload)
	if err != nil {
		m.logger.WarnContext(ctx, "save draft failed",
			log.FieldMonthID, monthID,
			log.FieldError, err.Error())
		return core.ExpenseDraft{}, err
	}

	m.mu.Lock()
	if m.monthID == monthID {
		m.drafts = append(m.drafts, d)
	}
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "draft saved",
		log.FieldMonthID, monthID,
		log.FieldDraftID, d.ID)
	ev := events.New(events.DraftSaved)
	ev.MonthID, ev.DraftID = monthID, d.ID
	events.Send(ctx, m.notifier, m.logger, ev)
	return d, nil
}

// ListDrafts loads the drafts of monthID visible to the role: every draft
// for an admin, the caller's own for an accountant. Viewers get an empty
// list without a request.
func (m *Manager) ListDrafts(ctx context.Context, monthID int64) ([]core.ExpenseDraft, error) {
	if !m.role.CanMutate() {
		m.mu.Lock()
		m.monthID = monthID
		m.drafts = nil
		m.mu.Unlock()
		return []core.ExpenseDraft{}, nil
	}

	items, err := m.api.ListDrafts(ctx, monthID, m.role.DraftScope())
	if err != nil {
		// a stale list from an earlier load must not survive a failed one
		m.mu.Lock()
		m.monthID = monthID
		m.drafts = nil
		m.mu.Unlock()
		m.logger.WarnContext(ctx, "load drafts failed",
			log.FieldMonthID, monthID,
			log.FieldError, err.Error())
		return nil, err
	}

	m.mu.Lock()
	m.monthID = monthID
	m.drafts = append([]core.ExpenseDraft(nil), items...)
	m.mu.Unlock()

	m.logger.DebugContext(ctx, "drafts loaded",
		log.FieldMonthID, monthID,
		log.FieldCount, len(items),
		log.FieldRole, string(m.role))
	return items, nil
}

// Drafts returns the cached list.
func (m *Manager) Drafts() []core.ExpenseDraft {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.ExpenseDraft, len(m.drafts))
	copy(out, m.drafts)
	return out
}

// OpenDraft returns an editable copy of a cached draft's payload. Nothing is
// sent to the backend.
func (m *Manager) OpenDraft(id int64) (core.DraftPayload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.drafts {
		if d.ID == id {
			return d.Payload.Clone(), nil
		}
	}
	return core.DraftPayload{}, fmt.Errorf("draft %d: %w", id, core.ErrNotFound)
}

// Submitting reports whether a submit or delete of id is in progress.
func (m *Manager) Submitting(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.inFlight[id]
	return ok
}

// SubmitDraft turns a draft into an expense. While a submission of id is in
// progress further calls for id fail with ErrSubmitInFlight.
func (m *Manager) SubmitDraft(ctx context.Context, id int64) (core.CreatedExpense, error) {
	if !m.role.CanMutate() {
		return core.CreatedExpense{}, core.ErrForbiddenRole
	}
	if !m.begin(id) {
		return core.CreatedExpense{}, core.ErrSubmitInFlight
	}
	defer m.end(id)

	if err := m.gate.Check(); err != nil {
		return core.CreatedExpense{}, err
	}
	created, err := m.api.SubmitDraft(ctx, id)
	if err != nil {
		m.logger.WarnContext(ctx, "submit draft failed",
			log.FieldDraftID, id,
			log.FieldError, err.Error())
		return core.CreatedExpense{}, err
	}

	draft, _ := m.remove(id)
	m.logger.InfoContext(ctx, "draft submitted",
		log.FieldDraftID, id,
		log.FieldExpenseID, created.ID)

	ev := events.New(events.DraftSubmitted)
	ev.MonthID, ev.DraftID, ev.ExpenseID = draft.MonthID, id, created.ID
	events.Send(ctx, m.notifier, m.logger, ev)

	if m.onSubmitted != nil {
		m.onSubmitted(ctx, draft, created)
	}
	return created, nil
}

// DeleteDraft removes a draft permanently. It shares the in-flight marker
// with SubmitDraft, so a delete and a submit of the same draft never overlap.
func (m *Manager) DeleteDraft(ctx context.Context, id int64) error {
	if !m.role.CanMutate() {
		return core.ErrForbiddenRole
	}
	if !m.begin(id) {
		return core.ErrSubmitInFlight
	}
	defer m.end(id)

	if err := m.gate.Check(); err != nil {
		return err
	}
	if err := m.api.DeleteDraft(ctx, id); err != nil {
		m.logger.WarnContext(ctx, "delete draft failed",
			log.FieldDraftID, id,
			log.FieldError, err.Error())
		return err
	}

	draft, _ := m.remove(id)
	m.logger.InfoContext(ctx, "draft deleted", log.FieldDraftID, id)

	ev := events.New(events.DraftDeleted)
	ev.MonthID, ev.DraftID = draft.MonthID, id
	events.Send(ctx, m.notifier, m.logger, ev)
	return nil
}

// Reset forgets the cached list, e.g. on month switch.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.monthID = 0
	m.drafts = nil
}

func (m *Manager) begin(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.inFlight[id]; ok {
		return false
	}
	m.inFlight[id] = struct{}{}
	return true
}

func (m *Manager) end(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inFlight, id)
}

func (m *Manager) remove(id int64) (core.ExpenseDraft, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, d := range m.drafts {
		if d.ID == id {
			m.drafts = append(m.drafts[:i:i], m.drafts[i+1:]...)
			return d, true
		}
	}
	return core.ExpenseDraft{}, false
}
