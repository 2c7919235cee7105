package service

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrForbidden    = errors.New("forbidden")
	ErrDelivery     = errors.New("delivery failed")

	// The errors below wrap ErrInvalidState.
	ErrAlreadyProcessed        = fmt.Errorf("%w: order already processed", ErrInvalidState)
	ErrReceiptAlreadySubmitted = fmt.Errorf("%w: receipt already submitted", ErrInvalidState)
	ErrBlacklisted             = fmt.Errorf("%w: user is blacklisted", ErrInvalidState)
	ErrConfigInUse             = fmt.Errorf("%w: config is referenced by a pending order", ErrInvalidState)
)

// ValidationError describes bad user input for a single field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
