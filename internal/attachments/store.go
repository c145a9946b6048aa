// Package attachments caches the attachment lists of expenses for the
// current session.
package attachments

import (
	"context"

	"ledger/internal/api"
	"ledger/internal/cache"
	"ledger/internal/core"
	"ledger/internal/log"
)

// Store keeps one list per expense. Lists are replaced whole, never merged.
type Store struct {
	lister api.AttachmentLister
	lists  *cache.MapCache[int64, []core.Attachment]
	logger *log.Logger
}

func New(lister api.AttachmentLister, logger *log.Logger) *Store {
	return &Store{
		lister: lister,
		lists:  cache.NewMapCache[int64, []core.Attachment](),
		logger: log.OrDiscard(logger).WithComponent(log.ComponentAttachments),
	}
}

// Set replaces the cached list for expenseID.
func (s *Store) Set(expenseID int64, items []core.Attachment) {
	s.lists.Set(expenseID, clone(items))
}

// Get returns the cached list, or an empty list if it was never loaded. It
// never calls the backend.
func (s *Store) Get(expenseID int64) []core.Attachment {
	items, ok := s.lists.Get(expenseID)
	if !ok {
		return []core.Attachment{}
	}
	return clone(items)
}

// Loaded reports whether a list is cached for expenseID.
func (s *Store) Loaded(expenseID int64) bool {
	_, ok := s.lists.Get(expenseID)
	return ok
}

// Count returns the number of cached attachments of an expense.
func (s *Store) Count(expenseID int64) int {
	items, _ := s.lists.Get(expenseID)
	return len(items)
}

// Refresh re-fetches the list from the backend and replaces the cache.
// Backend errors are returned unmodified and leave the cache untouched.
func (s *Store) Refresh(ctx context.Context, expenseID int64) ([]core.Attachment, error) {
	items, err := s.lister.ListAttachments(ctx, expenseID)
	if err != nil {
		s.logger.WarnContext(ctx, "refresh attachments failed",
			log.FieldExpenseID, expenseID,
			log.FieldError, err.Error())
		return nil, err
	}
	s.Set(expenseID, items)
	s.logger.DebugContext(ctx, "attachments refreshed",
		log.FieldExpenseID, expenseID,
		log.FieldCount, len(items))
	return clone(items), nil
}

// ClearAll drops every cached list.
func (s *Store) ClearAll() {
	n := s.lists.Len()
	s.lists.Clear()
	if n > 0 {
		s.logger.Debug("attachment lists cleared", log.FieldCount, n)
	}
}

func clone(items []core.Attachment) []core.Attachment {
	out := make([]core.Attachment, len(items))
	copy(out, items)
	return out
}
