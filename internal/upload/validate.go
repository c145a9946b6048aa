package upload

import (
	"errors"
	"sort"

	"ledger/internal/core"
)

// Rejection is a file refused before any network call.
type Rejection struct {
	Index int // position in the validated input
	File  core.File
	Err   *core.ValidationError
}

// Result splits a candidate batch. len(Accepted)+len(Rejected) always equals
// the input length.
type Result struct {
	Accepted []core.File
	Rejected []Rejection

	acceptedIdx []int
}

// Reasons returns one line per rejected file.
func (r Result) Reasons() []string {
	out := make([]string, len(r.Rejected))
	for i, rej := range r.Rejected {
		out[i] = rej.Err.Error()
	}
	return out
}

// Validate applies the per-file type and size rules, then the count cap: if
// existing plus the accepted files would exceed the cap, every accepted file
// is rejected with ReasonLimit.
func Validate(files []core.File, existing int) Result {
	var res Result
	for i, f := range files {
		if err := f.Validate(); err != nil {
			var ve *core.ValidationError
			if !errors.As(err, &ve) {
				ve = &core.ValidationError{File: f.Name, Reason: core.ReasonMime, Message: err.Error()}
			}
			res.Rejected = append(res.Rejected, Rejection{Index: i, File: f, Err: ve})
			continue
		}
		res.Accepted = append(res.Accepted, f)
		res.acceptedIdx = append(res.acceptedIdx, i)
	}

	if n := len(res.Accepted); n > 0 && existing+n > core.MaxAttachmentsPerExpense {
		for j, f := range res.Accepted {
			res.Rejected = append(res.Rejected, Rejection{
				Index: res.acceptedIdx[j],
				File:  f,
				Err:   core.LimitError(f.Name, existing, n),
			})
		}
		res.Accepted = nil
		res.acceptedIdx = nil
		sort.Slice(res.Rejected, func(a, b int) bool { return res.Rejected[a].Index < res.Rejected[b].Index })
	}
	return res
}
