package core

import (
	"errors"
	"fmt"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidDay           = errors.New("invalid day")
	ErrInvalidMonth         = errors.New("invalid month")
	ErrInvalidDate          = errors.New("invalid date")
	ErrAccountNotFound      = errors.New("account not found")
	ErrItemNotFound         = errors.New("budget item not found")
	ErrRecurringNotFound    = errors.New("recurring item not found")
	ErrGoalNotFound         = errors.New("savings goal not found")
	ErrConfirmationRequired = errors.New("confirmation required")
)

// ValidationError rejects user input before the store is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError for field.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// AccountNotFoundError names the account a transaction could not resolve.
type AccountNotFoundError struct {
	AccountID string
}

func (e *AccountNotFoundError) Error() string {
	return fmt.Sprintf("account not found: %s", e.AccountID)
}

func (e *AccountNotFoundError) Is(target error) bool {
	return target == ErrAccountNotFound
}
