// Package lockgate tracks whether the active accounting month accepts writes.
package lockgate

import (
	"sync"

	"ledger/internal/core"
	"ledger/internal/log"
)

// Gate is the single source of the month lock state. The state is derived
// from the last loaded month summary and is never cached by callers.
type Gate struct {
	mu      sync.RWMutex
	monthID int64
	known   bool
	locked  bool
	logger  *log.Logger
}

func New(logger *log.Logger) *Gate {
	return &Gate{logger: log.OrDiscard(logger).WithComponent(log.ComponentLock)}
}

func (g *Gate) IsLocked() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.locked
}

// Update re-derives the lock state from a freshly loaded summary.
func (g *Gate) Update(summary core.MonthSummary) {
	g.mu.Lock()
	changed := !g.known || g.locked != summary.Month.IsClosed || g.monthID != summary.Month.ID
	g.monthID = summary.Month.ID
	g.known = true
	g.locked = summary.Month.IsClosed
	g.mu.Unlock()

	if changed {
		g.logger.Info("month lock state",
			log.FieldMonthID, summary.Month.ID,
			"locked", summary.Month.IsClosed)
	}
}

// Reset forgets the state. An unknown month is treated as open until its
// first summary arrives.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.monthID = 0
	g.known = false
	g.locked = false
}

// Check must be called right before every mutating network effect.
func (g *Gate) Check() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.locked {
		return &core.LockedError{MonthID: g.monthID}
	}
	return nil
}

// CheckClose allows closing only an open month.
func (g *Gate) CheckClose() error {
	if g.IsLocked() {
		return core.ErrLockTransition
	}
	return nil
}

// CheckReopen allows reopening only a closed month.
func (g *Gate) CheckReopen() error {
	if !g.IsLocked() {
		return core.ErrLockTransition
	}
	return nil
}
