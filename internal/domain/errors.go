package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParameters marks a parameter combination that is undefined for the chosen method.
	ErrInvalidParameters = errors.New("invalid sampling parameters")

	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// ParameterError is the concrete InvalidParameters condition.
type ParameterError struct {
	Field  string
	Reason string
}

func (e *ParameterError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrInvalidParameters, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrInvalidParameters, e.Field, e.Reason)
}

func (e *ParameterError) Unwrap() error {
	return ErrInvalidParameters
}

func invalidParam(field, format string, args ...any) error {
	return &ParameterError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// InvalidParameter builds a ParameterError for callers outside this package.
func InvalidParameter(field, format string, args ...any) error {
	return invalidParam(field, format, args...)
}
