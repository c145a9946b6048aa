package upload

import (
	"context"

	"ledger/internal/core"
)

// Transfer is an upload running in the background.
type Transfer struct {
	progress chan float64
	done     chan struct{}
	att      core.Attachment
	err      error
}

// Start begins uploading file and returns immediately. Cancelling ctx aborts
// the transfer.
func (p *Pipeline) Start(ctx context.Context, expenseID int64, file core.File) *Transfer {
	t := &Transfer{
		progress: make(chan float64, 1),
		done:     make(chan struct{}),
	}
	go func() {
		defer close(t.done)
		defer close(t.progress)
		t.att, t.err = p.UploadOne(ctx, expenseID, file, t.publish)
	}()
	return t
}

// publish keeps only the newest fraction buffered so a slow reader never
// stalls the upload. Values stay non-decreasing.
func (t *Transfer) publish(frac float64) {
	for {
		select {
		case t.progress <- frac:
			return
		default:
		}
		select {
		case <-t.progress:
		default:
		}
	}
}

// Progress yields fractions in [0,1] and is closed when the transfer ends.
func (t *Transfer) Progress() <-chan float64 { return t.progress }

// Done is closed when the transfer ends.
func (t *Transfer) Done() <-chan struct{} { return t.done }

// Wait blocks until the transfer ends.
func (t *Transfer) Wait() (core.Attachment, error) {
	<-t.done
	return t.att, t.err
}
