// Package cortexerr defines the tagged error taxonomy shared by every
// cortex component. Internal layers return *Error rather than raw strings;
// the HTTP boundary maps Kind to a status code.
package cortexerr

import (
	"errors"
	"fmt"
)

// Kind is one variant of the error taxonomy.
type Kind string

const (
	InvalidInput       Kind = "INVALID_INPUT"
	UnsupportedFormat  Kind = "UNSUPPORTED_FORMAT"
	EmptyInput         Kind = "EMPTY_INPUT"
	InsufficientData   Kind = "INSUFFICIENT_DATA"
	NotFound           Kind = "NOT_FOUND"
	DimensionMismatch  Kind = "DIMENSION_MISMATCH"
	RetryableUpstream  Kind = "RETRYABLE_UPSTREAM"
	Internal           Kind = "INTERNAL"
)

// Error is the tagged union of all cortex errors.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Invalidf(format string, args ...any) *Error {
	return New(InvalidInput, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...any) *Error {
	return New(NotFound, fmt.Sprintf(format, args...))
}

func Internalf(cause error, format string, args ...any) *Error {
	return Wrap(Internal, fmt.Sprintf(format, args...), cause)
}

// KindOf extracts the Kind of err, defaulting to Internal for
// untagged errors so callers never have to nil-check.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
