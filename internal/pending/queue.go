// Package pending stages files for an expense that does not exist yet.
package pending

import (
	"context"
	"fmt"
	"sync"

	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/upload"
)

// BatchUploader is satisfied by *upload.Pipeline.
type BatchUploader interface {
	UploadBatch(ctx context.Context, expenseID int64, files []core.File) (upload.BatchReport, error)
}

// Queue holds files in selection order until Flush or Reset.
type Queue struct {
	mu       sync.Mutex
	files    []core.File
	uploader BatchUploader
	logger   *log.Logger
}

func New(uploader BatchUploader, logger *log.Logger) *Queue {
	return &Queue{
		uploader: uploader,
		logger:   log.OrDiscard(logger).WithComponent(log.ComponentPending),
	}
}

// Add validates files with the queue length as the existing count and
// appends the accepted ones.
func (q *Queue) Add(files []core.File) upload.Result {
	q.mu.Lock()
	defer q.mu.Unlock()

	res := upload.Validate(files, len(q.files))
	q.files = append(q.files, res.Accepted...)
	for _, rej := range res.Rejected {
		q.logger.Info("file not queued",
			log.FieldFile, rej.File.Name,
			"reason", string(rej.Err.Reason))
	}
	return res
}

// RemoveAt drops the file at index i. Indices are only valid against the
// latest Files snapshot.
func (q *Queue) RemoveAt(i int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i < 0 || i >= len(q.files) {
		return fmt.Errorf("remove pending file %d of %d: %w", i, len(q.files), core.ErrIndexOutOfRange)
	}
	q.files = append(q.files[:i:i], q.files[i+1:]...)
	return nil
}

// Files returns a snapshot of the queue.
func (q *Queue) Files() []core.PendingFile {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]core.PendingFile, len(q.files))
	for i, f := range q.files {
		out[i] = core.PendingFile{Index: i, File: f}
	}
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.files)
}

// Flush hands every queued file to the uploader for expenseID. The queue is
// emptied whatever the outcome.
func (q *Queue) Flush(ctx context.Context, expenseID int64) (upload.BatchReport, error) {
	q.mu.Lock()
	files := q.files
	q.files = nil
	q.mu.Unlock()

	if len(files) == 0 {
		return upload.BatchReport{ExpenseID: expenseID}, nil
	}

	q.logger.InfoContext(ctx, "flushing pending files",
		log.FieldExpenseID, expenseID,
		log.FieldCount, len(files))
	report, err := q.uploader.UploadBatch(ctx, expenseID, files)
	if err != nil {
		q.logger.WarnContext(ctx, "flush failed",
			log.FieldExpenseID, expenseID,
			log.FieldError, err.Error())
	}
	return report, err
}

// Reset discards every queued file without uploading.
func (q *Queue) Reset() {
	q.mu.Lock()
	n := len(q.files)
	q.files = nil
	q.mu.Unlock()
	if n > 0 {
		q.logger.Info("pending files discarded", log.FieldCount, n)
	}
}
