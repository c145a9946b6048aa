package log

import (
	"log/slog"
	"net/http"
	"time"
)

// RequestIDHeader carries the per-call id set by the API client.
const RequestIDHeader = "X-Request-ID"

// Transport logs every outgoing backend call: method, path, status and
// duration. The level follows the status class.
type Transport struct {
	Base   http.RoundTripper
	Logger *Logger
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper, logger *Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base, Logger: OrDiscard(logger).WithComponent(ComponentHTTP)}
}

func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.Base.RoundTrip(r)
	duration := time.Since(start)

	fields := NewFields().WithRequest(r.Method, r.URL.Path, r.Header.Get(RequestIDHeader))
	if err != nil {
		fields = fields.WithError(err).WithResponse(0, duration.Milliseconds())
		t.Logger.WarnContext(r.Context(), "Backend call failed", fields.ToSlice()...)
		return nil, err
	}

	level := slog.LevelDebug
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		level = slog.LevelWarn
	} else if resp.StatusCode >= 500 {
		level = slog.LevelError
	}
	fields = fields.WithResponse(resp.StatusCode, duration.Milliseconds())
	t.Logger.Logger.Log(r.Context(), level, "Backend call completed",
		append([]any{FieldComponent, t.Logger.component}, fields.ToSlice()...)...)
	return resp, nil
}
