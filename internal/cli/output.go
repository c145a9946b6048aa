package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"ledger/internal/core"
)

// Exit codes for ledgerctl.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // backend or transfer failure
	ExitCommandError = 2 // bad flags, config or local validation
	ExitLocked       = 3 // the month is closed
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// GetExitCode maps an error to the process exit code.
func GetExitCode(err error) int {
	var ve *core.ValidationError
	switch {
	case err == nil:
		return ExitSuccess
	case core.IsLocked(err):
		return ExitLocked
	case errors.As(err, &ve),
		errors.Is(err, core.ErrForbiddenRole),
		errors.Is(err, core.ErrNoMonth),
		errors.Is(err, core.ErrLockTransition):
		return ExitCommandError
	default:
		return ExitFailure
	}
}

// response is the JSON envelope of every command.
type response struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// printer writes either the JSON envelope or a text rendering.
type printer struct {
	format string
	out    io.Writer
}

func (p printer) result(data any, text func(w io.Writer)) error {
	if p.format == "json" {
		return json.NewEncoder(p.out).Encode(response{Status: "ok", Data: data})
	}
	text(p.out)
	return nil
}

// WriteError renders err in the given format.
func WriteError(w io.Writer, format string, err error) {
	if format == "json" {
		_ = json.NewEncoder(w).Encode(response{Status: "error", Error: err.Error()})
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}
