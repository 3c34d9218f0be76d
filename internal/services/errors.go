package services

import (
	"errors"
	"fmt"

	"mar-engine/internal/repository"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrValidationFailed = errors.New("validation failed")
	ErrConflict         = errors.New("conflict")
	ErrStorage          = errors.New("storage error")
)

// ValidationError describes a rejected input field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// AdministrationError is returned by Dispense when the validator rejects the attempt
type AdministrationError struct {
	Result *ValidationResult
}

func (e *AdministrationError) Error() string {
	return e.Result.Reason
}

func (e *AdministrationError) Unwrap() error {
	if e.Result.Code == CodeNotFound {
		return ErrNotFound
	}
	return ErrValidationFailed
}

// storageError maps a repository failure onto the service sentinels
func storageError(op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%s: %w", op, ErrConflict)
	case errors.Is(err, repository.ErrInsufficientStock):
		return &ValidationError{Field: "quantity", Message: "insufficient stock"}
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
	}
}
