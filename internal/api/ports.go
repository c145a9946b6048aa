package api

import (
	"context"
	"io"

	"ledger/internal/core"
)

// Ports consumed by the components. Client implements all of them; tests may
// substitute any single one.
type (
	AttachmentLister interface {
		ListAttachments(ctx context.Context, expenseID int64) ([]core.Attachment, error)
	}

	AttachmentUploader interface {
		UploadAttachment(ctx context.Context, expenseID int64, file core.File, onProgress func(float64)) (core.Attachment, error)
	}

	AttachmentDeleter interface {
		DeleteAttachment(ctx context.Context, attachmentID int64) error
	}

	// BlobFetcher returns the raw content of an attachment. The caller owns
	// and must close Content.Body.
	BlobFetcher interface {
		FetchAttachment(ctx context.Context, attachmentID int64) (*Content, error)
	}

	DraftAPI interface {
		ListDrafts(ctx context.Context, monthID int64, scope core.DraftScope) ([]core.ExpenseDraft, error)
		CreateDraft(ctx context.Context, monthID int64, payload core.DraftPayload) (core.ExpenseDraft, error)
		SubmitDraft(ctx context.Context, draftID int64) (core.CreatedExpense, error)
		DeleteDraft(ctx context.Context, draftID int64) error
	}

	MonthAPI interface {
		MonthSummary(ctx context.Context, monthID int64) (core.MonthSummary, error)
		CloseMonth(ctx context.Context, monthID int64) error
		ReopenMonth(ctx context.Context, monthID int64) error
	}

	ExpenseAPI interface {
		ListExpenses(ctx context.Context, monthID int64) ([]core.Expense, error)
		CreateExpense(ctx context.Context, monthID int64, payload core.DraftPayload) (core.CreatedExpense, error)
	}

	// Backend is the full collaborator surface used by a session.
	Backend interface {
		AttachmentLister
		AttachmentUploader
		AttachmentDeleter
		BlobFetcher
		DraftAPI
		MonthAPI
		ExpenseAPI
	}
)

// Content is a streamed attachment body.
type Content struct {
	Body io.ReadCloser
	Mime string
	Size int64 // -1 when unknown
}
