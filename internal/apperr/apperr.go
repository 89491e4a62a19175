// Package apperr defines the error taxonomy shared by the coordinator components.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers and transports.
type Kind string

const (
	KindInternal     Kind = "internal"
	KindValidation   Kind = "validation_error"
	KindConflict     Kind = "conflict"
	KindInvalidState Kind = "invalid_state"
	KindNotFound     Kind = "not_found"
	KindTimeout      Kind = "timeout"
)

// Error is a classified error with an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Message == "" {
		return e.Cause.Error()
	}
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error of the same kind, so errors.Is(err, apperr.ErrConflict) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrConflict     = &Error{Kind: KindConflict}
	ErrInvalidState = &Error{Kind: KindInvalidState}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrTimeout      = &Error{Kind: KindTimeout}
)

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error { return newf(KindValidation, format, args...) }

func Conflict(format string, args ...any) *Error { return newf(KindConflict, format, args...) }

func InvalidState(format string, args ...any) *Error { return newf(KindInvalidState, format, args...) }

func NotFound(format string, args ...any) *Error { return newf(KindNotFound, format, args...) }

// Timeout wraps a store or context failure that exceeded its deadline.
func Timeout(message string, cause error) *Error {
	return &Error{Kind: KindTimeout, Message: message, Cause: cause}
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
