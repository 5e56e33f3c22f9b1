package apperr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure. The HTTP boundary maps kinds to status
// codes; components below the boundary only deal in kinds.
type Kind string

const (
	KindInvalidInput          Kind = "INVALID_INPUT"
	KindForbidden             Kind = "FORBIDDEN"
	KindNotFound              Kind = "NOT_FOUND"
	KindInvalidState          Kind = "INVALID_STATE"
	KindConflict              Kind = "CONFLICT"
	KindStaleSnapshot         Kind = "STALE_SNAPSHOT"
	KindCapacityExceeded      Kind = "CAPACITY_EXCEEDED"
	KindDependencyUnavailable Kind = "DEPENDENCY_UNAVAILABLE"
	KindTimeout               Kind = "TIMEOUT"
)

// Error is a typed application error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or empty if err is not an application error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
