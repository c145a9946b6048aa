// Package session wires the attachment and draft components around one
// active accounting month.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"ledger/internal/api"
	"ledger/internal/attachments"
	"ledger/internal/blobcache"
	"ledger/internal/core"
	"ledger/internal/drafts"
	"ledger/internal/events"
	"ledger/internal/lockgate"
	"ledger/internal/log"
	"ledger/internal/pending"
	"ledger/internal/upload"
)

type Options struct {
	Role           core.Role
	MonthID        int64
	Materializer   blobcache.Materializer
	Notifier       events.Notifier
	Logger         *log.Logger
	OnFileProgress func(index int, fraction float64)
}

// Session owns every component and the state they share. Nothing here is
// global; tests build as many sessions as they need.
type Session struct {
	backend  api.Backend
	role     core.Role
	notifier events.Notifier
	logger   *log.Logger

	gate    *lockgate.Gate
	atts    *attachments.Store
	blobs   *blobcache.Cache
	uploads *upload.Pipeline
	queue   *pending.Queue
	drafts  *drafts.Manager
	viewer  *Viewer

	mu       sync.RWMutex
	monthID  int64
	summary  core.MonthSummary
	expenses []core.Expense
}

func New(backend api.Backend, opts Options) *Session {
	logger := log.OrDiscard(opts.Logger)
	notifier := opts.Notifier
	if notifier == nil {
		notifier = events.Noop{}
	}
	role := opts.Role
	if !role.IsValid() {
		role = core.RoleViewer
	}

	s := &Session{
		backend:  backend,
		role:     role,
		notifier: notifier,
		logger:   logger.WithComponent(log.ComponentSession),
		monthID:  opts.MonthID,
	}
	s.gate = lockgate.New(logger)
	s.atts = attachments.New(backend, logger)
	s.blobs = blobcache.New(backend, blobcache.Options{Materializer: opts.Materializer, Logger: logger})
	s.uploads = upload.New(upload.Options{
		Role:           s.role,
		Uploader:       backend,
		Store:          s.atts,
		Gate:           s.gate,
		Notifier:       notifier,
		Logger:         logger,
		OnFileProgress: opts.OnFileProgress,
	})
	s.queue = pending.New(s.uploads, logger)
	s.drafts = drafts.New(drafts.Options{
		API:      backend,
		Gate:     s.gate,
		Role:     role,
		Notifier: notifier,
		Logger:   logger,
		OnSubmitted: func(ctx context.Context, _ core.ExpenseDraft, _ core.CreatedExpense) {
			if err := s.reloadExpenses(ctx); err != nil {
				s.logger.WarnContext(ctx, "reload expenses after submit failed", log.FieldError, err.Error())
			}
		},
	})
	s.viewer = newViewer(s.blobs)
	return s
}

func (s *Session) Role() core.Role                 { return s.role }
func (s *Session) Gate() *lockgate.Gate            { return s.gate }
func (s *Session) Attachments() *attachments.Store { return s.atts }
func (s *Session) Blobs() *blobcache.Cache         { return s.blobs }
func (s *Session) Uploads() *upload.Pipeline       { return s.uploads }
func (s *Session) Pending() *pending.Queue         { return s.queue }
func (s *Session) Drafts() *drafts.Manager         { return s.drafts }
func (s *Session) Viewer() *Viewer                 { return s.viewer }

func (s *Session) MonthID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.monthID
}

// Summary returns the last loaded month summary.
func (s *Session) Summary() core.MonthSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summary
}

// Expenses returns the last loaded expense list.
func (s *Session) Expenses() []core.Expense {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Expense, len(s.expenses))
	copy(out, s.expenses)
	return out
}

// SwitchMonth drops everything tied to the previous month and loads the new
// one.
func (s *Session) SwitchMonth(ctx context.Context, monthID int64) error {
	s.mu.Lock()
	prev := s.monthID
	s.monthID = monthID
	s.summary = core.MonthSummary{}
	s.expenses = nil
	s.mu.Unlock()

	s.atts.ClearAll()
	if err := s.blobs.ClearAll(); err != nil {
		s.logger.WarnContext(ctx, "release blobs on month switch", log.FieldError, err.Error())
	}
	s.viewer.Close()
	s.queue.Reset()
	s.drafts.Reset()
	s.gate.Reset()

	s.logger.InfoContext(ctx, "month switched", "from", prev, log.FieldMonthID, monthID)
	return s.Refresh(ctx)
}

// Refresh reloads the month summary and the expense list, drops cached
// attachment lists and blobs, then reloads drafts.
func (s *Session) Refresh(ctx context.Context) error {
	monthID := s.MonthID()
	if monthID == 0 {
		return core.ErrNoMonth
	}

	var (
		summary  core.MonthSummary
		expenses []core.Expense
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		summary, err = s.backend.MonthSummary(gctx, monthID)
		return err
	})
	g.Go(func() error {
		var err error
		expenses, err = s.backend.ListExpenses(gctx, monthID)
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.WarnContext(ctx, "refresh failed", log.FieldMonthID, monthID, log.FieldError, err.Error())
		return err
	}

	s.mu.Lock()
	if s.monthID != monthID {
		s.mu.Unlock()
		return nil
	}
	s.summary = summary
	s.expenses = expenses
	s.mu.Unlock()
	s.gate.Update(summary)

	s.atts.ClearAll()
	if err := s.blobs.ClearAll(); err != nil {
		s.logger.WarnContext(ctx, "release blobs on refresh", log.FieldError, err.Error())
	}

	// A drafts failure is logged by the manager; the month stays usable
	// with an empty list.
	_, _ = s.drafts.ListDrafts(ctx, monthID)
	s.logger.DebugContext(ctx, "month refreshed",
		log.FieldMonthID, monthID,
		log.FieldCount, len(expenses),
		"locked", summary.Month.IsClosed)
	return nil
}

func (s *Session) reloadExpenses(ctx context.Context) error {
	monthID := s.MonthID()
	if monthID == 0 {
		return core.ErrNoMonth
	}
	expenses, err := s.backend.ListExpenses(ctx, monthID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.monthID == monthID {
		s.expenses = expenses
	}
	s.mu.Unlock()
	return nil
}

// CreateExpense commits payload, uploads the pending files to the new
// expense and refreshes the month. If the expense cannot be created the
// pending files are discarded. A non-nil report error after a successful
// creation leaves the expense in place.
func (s *Session) CreateExpense(ctx context.Context, payload core.DraftPayload) (core.CreatedExpense, upload.BatchReport, error) {
	if !s.role.CanMutate() {
		return core.CreatedExpense{}, upload.BatchReport{}, core.ErrForbiddenRole
	}
	monthID := s.MonthID()
	if monthID == 0 {
		return core.CreatedExpense{}, upload.BatchReport{}, core.ErrNoMonth
	}
	if err := payload.Validate(); err != nil {
		return core.CreatedExpense{}, upload.BatchReport{}, err
	}
	if err := s.gate.Check(); err != nil {
		return core.CreatedExpense{}, upload.BatchReport{}, err
	}

	created, err := s.backend.CreateExpense(ctx, monthID, payload)
	if err != nil {
		s.queue.Reset()
		s.logger.WarnContext(ctx, "create expense failed", log.FieldMonthID, monthID, log.FieldError, err.Error())
		return core.CreatedExpense{}, upload.BatchReport{}, err
	}
	s.logger.InfoContext(ctx, "expense created",
		log.FieldMonthID, monthID,
		log.FieldExpenseID, created.ID,
		"warnings", len(created.Warnings))

	ev := events.New(events.ExpenseCreated)
	ev.MonthID, ev.ExpenseID = monthID, created.ID
	events.Send(ctx, s.notifier, s.logger, ev)

	report, flushErr := s.queue.Flush(ctx, created.ID)
	if err := s.Refresh(ctx); err != nil {
		s.logger.WarnContext(ctx, "refresh after create failed", log.FieldError, err.Error())
	}
	if flushErr != nil {
		return created, report, fmt.Errorf("upload pending files: %w", flushErr)
	}
	return created, report, nil
}

// DeleteAttachment removes an attachment, releases its blob, closes the
// viewer if it shows it, and reloads the expense's list. Local state changes
// only after the backend confirmed.
func (s *Session) DeleteAttachment(ctx context.Context, expenseID, attachmentID int64) error {
	if !s.role.CanMutate() {
		return core.ErrForbiddenRole
	}
	if err := s.gate.Check(); err != nil {
		return err
	}
	if err := s.backend.DeleteAttachment(ctx, attachmentID); err != nil {
		s.logger.WarnContext(ctx, "delete attachment failed",
			log.FieldAttachmentID, attachmentID,
			log.FieldError, err.Error())
		return err
	}

	var result *multierror.Error
	if err := s.blobs.Release(attachmentID); err != nil {
		result = multierror.Append(result, err)
	}
	if cur, ok := s.viewer.Current(); ok && cur.ID == attachmentID {
		s.viewer.Close()
	}
	if _, err := s.atts.Refresh(ctx, expenseID); err != nil {
		result = multierror.Append(result, err)
	}

	s.logger.InfoContext(ctx, "attachment deleted",
		log.FieldExpenseID, expenseID,
		log.FieldAttachmentID, attachmentID)
	ev := events.New(events.AttachmentDeleted)
	ev.MonthID, ev.ExpenseID, ev.AttachmentID = s.MonthID(), expenseID, attachmentID
	events.Send(ctx, s.notifier, s.logger, ev)

	return result.ErrorOrNil()
}

// CloseMonth locks the active month. Admin only; closing a closed month is
// refused locally.
func (s *Session) CloseMonth(ctx context.Context) error {
	return s.transition(ctx, log.OpClose)
}

// ReopenMonth unlocks the active month. Admin only; reopening an open month
// is refused locally.
func (s *Session) ReopenMonth(ctx context.Context) error {
	return s.transition(ctx, log.OpReopen)
}

func (s *Session) transition(ctx context.Context, op string) error {
	if s.role != core.RoleAdmin {
		return core.ErrForbiddenRole
	}
	monthID := s.MonthID()
	if monthID == 0 {
		return core.ErrNoMonth
	}

	var (
		check func() error
		call  func(context.Context, int64) error
		evt   events.Type
	)
	if op == log.OpClose {
		check, call, evt = s.gate.CheckClose, s.backend.CloseMonth, events.MonthClosed
	} else {
		check, call, evt = s.gate.CheckReopen, s.backend.ReopenMonth, events.MonthReopened
	}

	if err := check(); err != nil {
		return err
	}
	if err := call(ctx, monthID); err != nil {
		s.logger.WarnContext(ctx, "month transition failed",
			log.FieldOperation, op,
			log.FieldMonthID, monthID,
			log.FieldError, err.Error())
		return err
	}
	s.logger.InfoContext(ctx, "month transition",
		log.FieldOperation, op,
		log.FieldMonthID, monthID)

	ev := events.New(evt)
	ev.MonthID = monthID
	events.Send(ctx, s.notifier, s.logger, ev)
	return s.Refresh(ctx)
}

// Close releases every blob and the notifier.
func (s *Session) Close() error {
	var result *multierror.Error
	s.viewer.Close()
	if err := s.blobs.ClearAll(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.notifier.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close notifier: %w", err))
	}
	return result.ErrorOrNil()
}
