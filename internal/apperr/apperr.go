// Package apperr defines the error taxonomy shared across guestnotes.
//
// Remote failures are classified into kinds at the backend adapter boundary;
// raw remote error text is only ever carried as the message of an already
// classified error, never inspected again by callers.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for handling at the call site nearest the user.
type Kind int

const (
	// KindUnknown is the zero kind, reported for errors outside the taxonomy.
	KindUnknown Kind = iota

	// KindValidation marks a client-side precondition failure. No network
	// call was issued.
	KindValidation

	// KindAuthRequired marks a remote write rejected for missing or invalid
	// credentials. The caller should prompt the user to register rather than
	// surface a generic write failure.
	KindAuthRequired

	// KindFetch marks a failed remote read.
	KindFetch

	// KindWrite marks a failed remote mutation, including a mutation that
	// succeeded but returned no row.
	KindWrite

	// KindConfiguration marks a missing or invalid service configuration.
	// Checked once at top level; blocks all commands.
	KindConfiguration
)

// String returns the kind name for logs and messages.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthRequired:
		return "auth_required"
	case KindFetch:
		return "fetch"
	case KindWrite:
		return "write"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Error is a kinded error with an optional wrapped cause.
type Error struct {
	kind  Kind
	msg   string
	cause error
}

// New creates an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind wrapping a cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{kind: kind, msg: msg, cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Kind returns the error's kind.
func (e *Error) Kind() Kind {
	return e.kind
}

// Message returns the message without the wrapped cause.
func (e *Error) Message() string {
	return e.msg
}

// KindOf extracts the kind from an error chain.
// Returns KindUnknown for nil or unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindUnknown
}

// IsKind reports whether the error chain contains an error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
