// Package apperr defines the error kinds shared by the domain packages and
// the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

// ValidationError reports bad caller input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Validation returns a *ValidationError with a formatted message.
func Validation(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing collection, record or resource. Hints are
// merged into the JSON error body so callers can self-correct.
type NotFoundError struct {
	Message string
	Hints   map[string]any
}

func (e *NotFoundError) Error() string { return e.Message }

// StoreError wraps a persistence failure with the operation that failed.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

// Code returns a machine-readable code for the failure: the provider's error
// code when the underlying error carries one, otherwise "StoreError".
func (e *StoreError) Code() string {
	var coded interface{ ErrorCode() string }
	if errors.As(e.Err, &coded) {
		return coded.ErrorCode()
	}
	return "StoreError"
}

// Store wraps err as a *StoreError unless it is nil.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
