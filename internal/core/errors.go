package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind categorizes op failures for the script-facing taxonomy. Every
// failure below the dispatcher is converted to one of these before it
// reaches script; only Fatal terminates the isolate.
type ErrorKind string

const (
	ErrBadResource      ErrorKind = "BadResource"
	ErrTypeMismatch     ErrorKind = "TypeMismatch"
	ErrRange            ErrorKind = "RangeError"
	ErrPermissionDenied ErrorKind = "PermissionDenied"
	ErrCanceled         ErrorKind = "Canceled"
	ErrIo               ErrorKind = "IoError"
	ErrFatal            ErrorKind = "Fatal"
)

// ScriptClass maps an error kind to the constructor name used when the
// engine adapter materializes the failure as a thrown script exception.
func (k ErrorKind) ScriptClass() string {
	switch k {
	case ErrTypeMismatch:
		return "TypeError"
	case ErrRange:
		return "RangeError"
	default:
		return string(k)
	}
}

// Recoverable reports whether script may catch this failure. Everything
// except Fatal is catchable.
func (k ErrorKind) Recoverable() bool { return k != ErrFatal }

// OpError is the structured failure type crossing the op boundary.
type OpError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *OpError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *OpError) Unwrap() error { return e.Cause }

// Is matches any OpError of the same kind, so tests and callers can write
// errors.Is(err, &OpError{Kind: ErrBadResource}).
func (e *OpError) Is(target error) bool {
	t, ok := target.(*OpError)
	return ok && e.Kind == t.Kind
}

// BadResourcef builds a BadResource error. Always recoverable; surfaced to
// script as a catchable exception, never a panic.
func BadResourcef(format string, args ...any) *OpError {
	return &OpError{Kind: ErrBadResource, Message: fmt.Sprintf(format, args...)}
}

// TypeMismatchf builds an argument-shape error, thrown as TypeError.
func TypeMismatchf(format string, args ...any) *OpError {
	return &OpError{Kind: ErrTypeMismatch, Message: fmt.Sprintf(format, args...)}
}

// RangeErrorf builds a numeric truncation error.
func RangeErrorf(format string, args ...any) *OpError {
	return &OpError{Kind: ErrRange, Message: fmt.Sprintf(format, args...)}
}

// PermissionDeniedf builds a policy rejection.
func PermissionDeniedf(format string, args ...any) *OpError {
	return &OpError{Kind: ErrPermissionDenied, Message: fmt.Sprintf(format, args...)}
}

// Canceled builds the cancellation terminal error for an op or resource
// torn down mid-flight.
func Canceled(what string) *OpError {
	return &OpError{Kind: ErrCanceled, Message: what + " canceled"}
}

// IoError wraps a native OS failure.
func IoError(err error) *OpError {
	return &OpError{Kind: ErrIo, Message: err.Error(), Cause: err}
}

// Fatalf builds an unrecoverable engine fault. Dispatch and polling treat
// it as isolate-terminating.
func Fatalf(format string, args ...any) *OpError {
	return &OpError{Kind: ErrFatal, Message: fmt.Sprintf(format, args...)}
}

// AsOpError normalizes an arbitrary error into the taxonomy. Errors that
// are already OpErrors pass through; context cancellation maps to
// Canceled; anything else is a native passthrough wrapped as IoError.
func AsOpError(err error) *OpError {
	if err == nil {
		return nil
	}
	var oe *OpError
	if errors.As(err, &oe) {
		return oe
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Canceled("operation")
	}
	return IoError(err)
}
