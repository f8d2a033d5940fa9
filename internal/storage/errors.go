package storage

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the stores, the ingestion service and the adapters.
// Callers classify with errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrBoxNotFound         = fmt.Errorf("box %w", ErrNotFound)
	ErrSensorNotFound      = fmt.Errorf("sensor %w", ErrNotFound)
	ErrMeasurementNotFound = fmt.Errorf("measurement %w", ErrNotFound)
	ErrConflict            = errors.New("conflict")
	ErrInvalidInput        = errors.New("invalid input")
	ErrStorage             = errors.New("storage failure")
	ErrClosed              = errors.New("router closed")
)

// FieldError is an ErrInvalidInput naming the offending field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is(err, ErrInvalidInput) match.
func (e *FieldError) Unwrap() error {
	return ErrInvalidInput
}

// Required returns the error reported for a missing required field.
func Required(field string) error {
	return &FieldError{Field: field, Reason: "is required"}
}

// Invalid returns the error reported for a malformed field.
func Invalid(field, reason string) error {
	return &FieldError{Field: field, Reason: reason}
}

func storageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
