package compiler

import (
	"errors"
	"fmt"

	"github.com/roach88/provtrace/internal/trace"
)

// Error is a fatal compilation error. Skip-class conditions (malformed
// keys, orphan events, noise paths) are never errors; they are counted in
// Stats.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Path is the trace store path, when known.
	Path string

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes compilation errors.
type ErrorCode string

const (
	// ErrCodeStoreUnavailable indicates the trace store is missing or
	// cannot be opened read-only.
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"

	// ErrCodeScanFailed indicates an I/O error while iterating the store.
	ErrCodeScanFailed ErrorCode = "SCAN_FAILED"

	// ErrCodeCanceled indicates the context was canceled mid-compilation.
	ErrCodeCanceled ErrorCode = "CANCELED"

	// ErrCodeInconsistent indicates the assembled graph failed validation.
	// It signals a bug in the compiler, not a bad trace.
	ErrCodeInconsistent ErrorCode = "INCONSISTENT_GRAPH"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Path != "" {
		msg += fmt.Sprintf(" (trace=%s)", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsStoreUnavailable reports whether err means the trace store could not
// be opened. Uses errors.As to handle wrapped errors.
func IsStoreUnavailable(err error) bool {
	var ce *Error
	if errors.As(err, &ce) && ce.Code == ErrCodeStoreUnavailable {
		return true
	}
	return errors.Is(err, trace.ErrStoreUnavailable)
}

// IsCanceled reports whether compilation stopped because of its context.
func IsCanceled(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Code == ErrCodeCanceled
}

func newStoreError(path string, err error) *Error {
	return &Error{
		Code:    ErrCodeStoreUnavailable,
		Message: "cannot open trace store",
		Path:    path,
		Err:     err,
	}
}

func newScanError(what string, err error) *Error {
	return &Error{
		Code:    ErrCodeScanFailed,
		Message: "scan " + what,
		Err:     err,
	}
}

func newCanceledError(err error) *Error {
	return &Error{
		Code:    ErrCodeCanceled,
		Message: "compilation canceled",
		Err:     err,
	}
}
