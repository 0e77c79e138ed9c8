// Package errs defines the error kinds shared by the wave store, the reconciler and the
// HTTP layer. Business refusals travel as *Error values with a Kind; anything else is an
// infrastructure failure.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an expected business condition.
type Kind string

const (
	KindInvalidTransition  Kind = "INVALID_TRANSITION"
	KindPreconditionFailed Kind = "PRECONDITION_FAILED"
	KindStaleEvent         Kind = "STALE_EVENT"
	KindNotFound           Kind = "NOT_FOUND"
	KindConflict           Kind = "CONFLICT"
	KindPersistenceTimeout Kind = "PERSISTENCE_TIMEOUT"
	KindInvalidArgument    Kind = "INVALID_ARGUMENT"
)

// Sentinels for errors.Is checks
var (
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrStaleEvent         = errors.New("stale event")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrPersistenceTimeout = errors.New("persistence timeout")
	ErrInvalidArgument    = errors.New("invalid argument")
)

var sentinels = map[Kind]error{
	KindInvalidTransition:  ErrInvalidTransition,
	KindPreconditionFailed: ErrPreconditionFailed,
	KindStaleEvent:         ErrStaleEvent,
	KindNotFound:           ErrNotFound,
	KindConflict:           ErrConflict,
	KindPersistenceTimeout: ErrPersistenceTimeout,
	KindInvalidArgument:    ErrInvalidArgument,
}

// Error is a typed business error. Entity names the conflicting or missing object
// (e.g. "slot:2b0c..." or "wave:3") when there is one.
type Error struct {
	Kind    Kind
	Message string
	Entity  string
	Cause   error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Entity != "" {
		msg += fmt.Sprintf(" (%s)", e.Entity)
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(" (cause: %v)", e.Cause)
	}
	return msg
}

// Unwrap returns the sentinel for the kind so errors.Is(err, ErrConflict) works.
func (e *Error) Unwrap() []error {
	out := []error{sentinels[e.Kind]}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFound(entity string) *Error {
	return &Error{Kind: KindNotFound, Message: "not found", Entity: entity}
}

func Conflict(message, entity string) *Error {
	return &Error{Kind: KindConflict, Message: message, Entity: entity}
}

func Invalid(message string) *Error {
	return &Error{Kind: KindInvalidArgument, Message: message}
}

func PreconditionFailed(message string) *Error {
	return &Error{Kind: KindPreconditionFailed, Message: message}
}

// KindOf returns the kind of err, or "" for infrastructure errors.
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
