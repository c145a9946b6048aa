package core

import (
	"errors"
	"fmt"
)

var (
	ErrMonthClosed     = &LockedError{}
	ErrForbiddenRole   = errors.New("role is not allowed to change data")
	ErrLockTransition  = errors.New("month is already in the requested lock state")
	ErrNoMonth         = errors.New("no accounting month selected")
	ErrSubmitInFlight  = errors.New("draft submission already in progress")
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrNotFound        = errors.New("not found")
)

// RejectReason classifies a ValidationError.
type RejectReason string

const (
	ReasonMime  RejectReason = "mime"
	ReasonSize  RejectReason = "size"
	ReasonLimit RejectReason = "limit"
)

// ValidationError is a local file rejection. It never involves the network.
type ValidationError struct {
	File    string
	Reason  RejectReason
	Message string
}

func (e *ValidationError) Error() string {
	if e.File == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

// TransferError is a network or HTTP failure of a single operation.
type TransferError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *TransferError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("%s: %d: %s", e.Op, e.Status, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
}

func (e *TransferError) Unwrap() error { return e.Err }

// AuthorizationError is a 401/403 answer. It is handed to the authentication
// collaborator and never retried here.
type AuthorizationError struct {
	Status  int
	Message string
}

func (e *AuthorizationError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "Unauthorized"
	}
	return fmt.Sprintf("%d: %s", e.Status, msg)
}

// LockedError is returned by every mutating call attempted while the month
// is closed.
type LockedError struct {
	MonthID int64
}

func (e *LockedError) Error() string {
	return "period closed"
}

// Is makes every LockedError match ErrMonthClosed.
func (e *LockedError) Is(target error) bool {
	_, ok := target.(*LockedError)
	return ok
}

func IsLocked(err error) bool {
	return errors.Is(err, ErrMonthClosed)
}

func IsAuthorization(err error) bool {
	var ae *AuthorizationError
	return errors.As(err, &ae)
}
