package utils

import (
	"errors"
	"fmt"
)

// ErrNotFound signals that a referenced incident, flow, or watch entry does
// not exist or does not belong to the caller's org. Raised before any write.
var ErrNotFound = errors.New("not found")

// ValidationError reports input that failed an enum or shape check. It is
// always raised before any write, so a failed command is never partially
// applied.
type ValidationError struct {
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %q", e.Field, e.Value)
}

// NewValidationError constructs a ValidationError for a field/value pair.
func NewValidationError(field, value string) error {
	return &ValidationError{Field: field, Value: value}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}
