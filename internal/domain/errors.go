package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrOptimisticLock is returned when a row's version changed between the
	// caller's read and the locked re-read inside a transaction.
	ErrOptimisticLock = errors.New("optimistic lock failure")
)

// InsufficientBalanceError reports a balance operation that would take an
// available or locked quantity negative.
type InsufficientBalanceError struct {
	Currency  string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance: required %s, available %s",
		e.Currency, e.Required.String(), e.Available.String())
}

// OrderError is a user-facing order validation failure.
type OrderError struct {
	Message string
}

func (e *OrderError) Error() string { return e.Message }

func NewOrderError(format string, args ...any) *OrderError {
	return &OrderError{Message: fmt.Sprintf(format, args...)}
}
