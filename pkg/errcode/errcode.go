package errcode

import (
	"errors"
	"fmt"
)

// Kind is a stable error identifier. Kinds survive transport boundaries
// where Go error types do not, so callers match on these rather than on
// concrete types.
type Kind string

const (
	UnknownError               Kind = "UNKNOWN_ERROR"
	NoFilesFound               Kind = "NO_FILES_FOUND"
	Conflict                   Kind = "CONFLICT"
	AttributeValidationFailure Kind = "ATTRIBUTE_VALIDATION_FAILURE"
	NotImplemented             Kind = "NOT_IMPLEMENTED"
	InvalidMethodArgument      Kind = "INVALID_METHOD_ARGUMENT"
	InvalidConfig              Kind = "INVALID_CONFIG"
	DBConnectionError          Kind = "DB_CONNECTION_ERROR"
	ImportNotFound             Kind = "IMPORT_NOT_FOUND"
	NotFound                   Kind = "NOT_FOUND"
	ViewReduceFailure          Kind = "VIEW_REDUCE_FAILURE"
	ProbeFailure               Kind = "PROBE_FAILURE"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" && e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind with a printf-style message.
func New(kind Kind, format string, val ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, val...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, err error, format string, val ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, val...), Err: err}
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the kind carried by err, or UnknownError when none is.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return UnknownError
}
