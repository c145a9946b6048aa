// Package upload validates files and transfers them to an expense.
package upload

import (
	"context"

	"ledger/internal/api"
	"ledger/internal/core"
	"ledger/internal/events"
	"ledger/internal/log"
)

// AttachmentIndex is the part of the attachment store the pipeline needs.
type AttachmentIndex interface {
	Count(expenseID int64) int
	Loaded(expenseID int64) bool
	Refresh(ctx context.Context, expenseID int64) ([]core.Attachment, error)
}

// LockChecker reports a closed month as an error.
type LockChecker interface {
	Check() error
}

type Options struct {
	// Role must be allowed to change data; any other role is refused before
	// the network.
	Role     core.Role
	Uploader api.AttachmentUploader
	Store    AttachmentIndex
	Gate     LockChecker
	Notifier events.Notifier
	Logger   *log.Logger

	// OnFileProgress observes batch transfers; index is the position of
	// the file in the batch input.
	OnFileProgress func(index int, fraction float64)
}

type Pipeline struct {
	role       core.Role
	uploader   api.AttachmentUploader
	store      AttachmentIndex
	gate       LockChecker
	notifier   events.Notifier
	logger     *log.Logger
	onProgress func(int, float64)
}

func New(opts Options) *Pipeline {
	n := opts.Notifier
	if n == nil {
		n = events.Noop{}
	}
	return &Pipeline{
		role:       opts.Role,
		uploader:   opts.Uploader,
		store:      opts.Store,
		gate:       opts.Gate,
		notifier:   n,
		logger:     log.OrDiscard(opts.Logger).WithComponent(log.ComponentUpload),
		onProgress: opts.OnFileProgress,
	}
}

// Validate checks files against the rules and the expense's cached count.
func (p *Pipeline) Validate(files []core.File, existing int) Result {
	return Validate(files, existing)
}

// UploadOne transfers a single file. The role, the lock and the per-file
// rules are checked first; no failure among them reaches the network.
func (p *Pipeline) UploadOne(ctx context.Context, expenseID int64, file core.File, onProgress func(float64)) (core.Attachment, error) {
	if !p.role.CanMutate() {
		return core.Attachment{}, core.ErrForbiddenRole
	}
	if err := p.gate.Check(); err != nil {
		return core.Attachment{}, err
	}
	if err := file.Validate(); err != nil {
		return core.Attachment{}, err
	}

	att, err := p.uploader.UploadAttachment(ctx, expenseID, file, onProgress)
	if err != nil {
		p.logger.WarnContext(ctx, "upload failed",
			log.FieldExpenseID, expenseID,
			log.FieldFile, file.Name,
			log.FieldError, err.Error())
		return core.Attachment{}, err
	}
	p.logger.InfoContext(ctx, "attachment uploaded",
		log.FieldExpenseID, expenseID,
		log.FieldAttachmentID, att.ID,
		log.FieldFile, file.Name,
		log.FieldSizeBytes, att.SizeBytes)
	return att, nil
}
