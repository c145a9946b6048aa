package upload

import (
	"context"

	"ledger/internal/core"
	"ledger/internal/events"
	"ledger/internal/log"
)

// FileOutcome is the result of one attempted transfer.
type FileOutcome struct {
	Index      int
	File       core.File
	Attachment core.Attachment
	Err        error
}

// BatchReport describes a finished batch. A batch with failures is still a
// completed batch.
type BatchReport struct {
	ExpenseID int64
	Rejected  []Rejection
	Outcomes  []FileOutcome

	// Attachments is the list reloaded after the transfers. RefreshErr is
	// set when that reload failed.
	Attachments []core.Attachment
	RefreshErr  error
}

// Uploaded returns the attachments created by the batch, in input order.
func (r BatchReport) Uploaded() []core.Attachment {
	var out []core.Attachment
	for _, o := range r.Outcomes {
		if o.Err == nil {
			out = append(out, o.Attachment)
		}
	}
	return out
}

// Failed returns the outcomes whose transfer failed.
func (r BatchReport) Failed() []FileOutcome {
	var out []FileOutcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// Complete reports whether every input file was uploaded.
func (r BatchReport) Complete() bool {
	return len(r.Rejected) == 0 && len(r.Failed()) == 0
}

// UploadBatch validates files against the expense's attachment count and
// uploads the accepted ones one at a time in input order. A failed file does
// not stop the batch. When at least one transfer was attempted the
// attachment list is reloaded once at the end.
//
// The returned error is non-nil only when the batch did not start: a role
// that may not change data, a closed month, or an attachment count that
// could not be loaded.
func (p *Pipeline) UploadBatch(ctx context.Context, expenseID int64, files []core.File) (BatchReport, error) {
	report := BatchReport{ExpenseID: expenseID}

	if !p.role.CanMutate() {
		return report, core.ErrForbiddenRole
	}
	if err := p.gate.Check(); err != nil {
		p.logger.WarnContext(ctx, "batch refused, month closed",
			log.FieldExpenseID, expenseID,
			log.FieldCount, len(files))
		return report, err
	}

	if !p.store.Loaded(expenseID) {
		if _, err := p.store.Refresh(ctx, expenseID); err != nil {
			return report, err
		}
	}
	res := Validate(files, p.store.Count(expenseID))
	report.Rejected = res.Rejected
	for _, rej := range res.Rejected {
		p.logger.InfoContext(ctx, "file rejected",
			log.FieldExpenseID, expenseID,
			log.FieldFile, rej.File.Name,
			"reason", string(rej.Err.Reason))
	}
	if len(res.Accepted) == 0 {
		return report, nil
	}

	for j, f := range res.Accepted {
		idx := res.acceptedIdx[j]
		out := FileOutcome{Index: idx, File: f}

		if err := ctx.Err(); err != nil {
			out.Err = err
		} else {
			out.Attachment, out.Err = p.UploadOne(ctx, expenseID, f, p.fileProgress(idx))
		}
		report.Outcomes = append(report.Outcomes, out)
	}

	// The reload reconciles with the backend even if ctx ended mid-batch.
	report.Attachments, report.RefreshErr = p.store.Refresh(context.WithoutCancel(ctx), expenseID)

	uploaded := report.Uploaded()
	failed := report.Failed()
	p.logger.InfoContext(ctx, "batch finished",
		log.FieldExpenseID, expenseID,
		log.FieldCount, len(uploaded),
		"failed", len(failed),
		"rejected", len(report.Rejected))

	ev := events.New(events.BatchUploaded)
	ev.ExpenseID = expenseID
	for _, a := range uploaded {
		ev.Uploaded = append(ev.Uploaded, a.ID)
	}
	for _, o := range failed {
		ev.Failed = append(ev.Failed, o.File.Name)
	}
	for _, r := range report.Rejected {
		ev.Rejected = append(ev.Rejected, r.File.Name)
	}
	events.Send(ctx, p.notifier, p.logger, ev)

	return report, nil
}

func (p *Pipeline) fileProgress(index int) func(float64) {
	if p.onProgress == nil {
		return nil
	}
	return func(frac float64) { p.onProgress(index, frac) }
}
