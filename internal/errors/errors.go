// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrBudgetExceeded  = errors.New("market data budget exceeded")
	ErrDataNotFound    = errors.New("data not found")
	ErrTaskNotFound    = errors.New("watch task not found")
	ErrConfigInvalid   = errors.New("invalid configuration")
	ErrDatabaseError   = errors.New("database error")
	ErrInputValidation = errors.New("input validation failed")
	ErrTimeout         = errors.New("operation timed out")
)

// ProviderError represents an error from the market-data provider.
type ProviderError struct {
	Ticker     string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider error [%s] status=%d: %s: %v", e.Ticker, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("provider error [%s] status=%d: %s", e.Ticker, e.StatusCode, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a new ProviderError.
func NewProviderError(ticker string, statusCode int, message string, err error) *ProviderError {
	return &ProviderError{
		Ticker:     ticker,
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
	}
}

// BudgetError is returned when issuing a request would exceed the
// provider quota. The request is never sent.
type BudgetError struct {
	Requests int
	Limit    int
	Window   string // "hourly" or "daily"
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("budget exceeded [%s]: %d requests issued, effective limit %d", e.Window, e.Requests, e.Limit)
}

func (e *BudgetError) Unwrap() error {
	return ErrBudgetExceeded
}

// NewBudgetError creates a new BudgetError.
func NewBudgetError(requests, limit int, window string) *BudgetError {
	return &BudgetError{
		Requests: requests,
		Limit:    limit,
		Window:   window,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInputValidation
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// StoreError represents a persistence error. Store errors abort a sweep;
// partial updates are acceptable because transitions are idempotent replays.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error [%s]: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
