// Package events publishes lifecycle notifications about attachments, drafts
// and months. Delivery is best effort: a failed publish never fails the
// operation that caused it.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"ledger/internal/log"
)

type Type string

const (
	BatchUploaded     Type = "attachments.uploaded"
	AttachmentDeleted Type = "attachment.deleted"
	ExpenseCreated    Type = "expense.created"
	DraftSaved        Type = "draft.saved"
	DraftSubmitted    Type = "draft.submitted"
	DraftDeleted      Type = "draft.deleted"
	MonthClosed       Type = "month.closed"
	MonthReopened     Type = "month.reopened"
)

// Event is the message body. Only the ids relevant to Type are set.
type Event struct {
	Type         Type      `json:"type"`
	MonthID      int64     `json:"month_id,omitempty"`
	ExpenseID    int64     `json:"expense_id,omitempty"`
	DraftID      int64     `json:"draft_id,omitempty"`
	AttachmentID int64     `json:"attachment_id,omitempty"`
	Uploaded     []int64   `json:"uploaded,omitempty"`
	Failed       []string  `json:"failed,omitempty"`
	Rejected     []string  `json:"rejected,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// New stamps an event of type t.
func New(t Type) Event {
	return Event{Type: t, Timestamp: time.Now().UTC()}
}

func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// Notifier delivers events.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
	Close() error
}

// Noop drops every event.
type Noop struct{}

func (Noop) Notify(context.Context, Event) error { return nil }
func (Noop) Close() error                        { return nil }

// Send delivers ev and logs a failure instead of returning it.
func Send(ctx context.Context, n Notifier, logger *log.Logger, ev Event) {
	if n == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if err := n.Notify(ctx, ev); err != nil {
		log.OrDiscard(logger).WarnContext(ctx, "event not delivered",
			"event", string(ev.Type),
			log.FieldError, err.Error())
	}
}

// Recorder keeps events in memory. Useful for tests and dry runs.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
