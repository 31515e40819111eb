// Package service implements the reservation state machine and the
// session catalog on top of the repository, lock and queue packages.
package service

import (
	"errors"
	"fmt"
)

// Error kinds.  Every *Error unwraps to exactly one of these, so callers
// branch with errors.Is.
var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")
	ErrInvalid   = errors.New("invalid")
	ErrTransient = errors.New("transient")
)

// Error codes returned to clients.
const (
	CodeSeatNotFound          = "SEAT_NOT_FOUND"
	CodeSessionNotFound       = "SESSION_NOT_FOUND"
	CodeReservationNotFound   = "RESERVATION_NOT_FOUND"
	CodeSeatNotAvailable      = "SEAT_NOT_AVAILABLE"
	CodeSeatLocked            = "SEAT_LOCKED"
	CodeReservationNotPending = "RESERVATION_NOT_PENDING"
	CodeReservationExpired    = "RESERVATION_EXPIRED"
	CodeInvalidArgument       = "INVALID_ARGUMENT"
	CodeInternal              = "INTERNAL"
)

// Error is a classified failure of a use case.
type Error struct {
	Kind    error  // one of ErrNotFound, ErrConflict, ErrInvalid, ErrTransient
	Code    string // stable machine-readable code
	Message string // human readable
	Err     error  // underlying cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func notFound(code, msg string) *Error { return &Error{Kind: ErrNotFound, Code: code, Message: msg} }
func conflict(code, msg string) *Error { return &Error{Kind: ErrConflict, Code: code, Message: msg} }
func invalid(msg string) *Error {
	return &Error{Kind: ErrInvalid, Code: CodeInvalidArgument, Message: msg}
}

// internal classifies an unexpected store or broker failure.  *Error
// values pass through untouched.
func internal(op string, err error) error {
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Kind: ErrTransient, Code: CodeInternal, Message: op + " failed", Err: err}
}
