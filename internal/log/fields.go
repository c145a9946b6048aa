package log

// Common field names for structured logging
const (
	FieldComponent    = "component"
	FieldRequestID    = "request_id"
	FieldMethod       = "method"
	FieldPath         = "path"
	FieldStatusCode   = "status_code"
	FieldDuration     = "duration_ms"
	FieldSuccess      = "success"
	FieldError        = "error"
	FieldOperation    = "operation"
	FieldMonthID      = "month_id"
	FieldExpenseID    = "expense_id"
	FieldAttachmentID = "attachment_id"
	FieldDraftID      = "draft_id"
	FieldFile         = "file"
	FieldSizeBytes    = "size_bytes"
	FieldCount        = "count"
	FieldRole         = "role"
)

// Components defines standard component names
const (
	ComponentApp         = "app"
	ComponentHTTP        = "http"
	ComponentLock        = "lock"
	ComponentAttachments = "attachments"
	ComponentBlobCache   = "blob_cache"
	ComponentUpload      = "upload"
	ComponentPending     = "pending"
	ComponentDrafts      = "drafts"
	ComponentSession     = "session"
	ComponentEvents      = "events"
)

// Operations defines standard operation names
const (
	OpCreate   = "create"
	OpRead     = "read"
	OpDelete   = "delete"
	OpList     = "list"
	OpUpload   = "upload"
	OpSubmit   = "submit"
	OpRefresh  = "refresh"
	OpRelease  = "release"
	OpValidate = "validate"
	OpClose    = "close"
	OpReopen   = "reopen"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithRequest adds outgoing request fields
func (f LogFields) WithRequest(method, path, requestID string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	if requestID != "" {
		f[FieldRequestID] = requestID
	}
	return f
}

// WithResponse adds response fields
func (f LogFields) WithResponse(statusCode int, durationMs int64) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = statusCode > 0 && statusCode < 400
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
