/*
errors.go - Centralized error types for the ledger primitive

ERROR CATEGORIES:
  1. Validation errors - Rejected before any write (bad lines, bad movements)
  2. Accounting errors - Unbalanced entries, unknown account codes
  3. Stock errors - Movement would drive on-hand negative without approval
  4. Lookup errors - Missing entries, inventory rows, transactions

USAGE:
  Callers branch with errors.Is on the sentinels and errors.As on the
  structured types when they need the details:

    var unbalanced *ledger.UnbalancedEntryError
    if errors.As(err, &unbalanced) {
        log.Printf("off by %s", unbalanced.Difference)
    }
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed input rejected before persistence.
	ErrValidation = errors.New("validation failed")

	// ErrUnbalanced is returned when debits and credits differ by more than one minor unit.
	ErrUnbalanced = errors.New("journal entry is not balanced")

	// ErrUnknownAccount is returned when a line references an account not in the chart.
	ErrUnknownAccount = errors.New("unknown account")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientStock is returned when a movement would make on-hand negative
	// and the request does not carry approval for it.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrStoreRequired is returned when an operation needs a store capability
	// the supplied store does not implement.
	ErrStoreRequired = errors.New("operation requires extended store interface")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes one rejected input field.
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

func (e *ValidationError) Unwrap() error { return ErrValidation }

// UnbalancedEntryError reports the debit and credit totals of a rejected entry.
type UnbalancedEntryError struct {
	Debits     decimal.Decimal
	Credits    decimal.Decimal
	Difference decimal.Decimal
}

func (e *UnbalancedEntryError) Error() string {
	return fmt.Sprintf("journal entry is not balanced: debits %s, credits %s (difference %s)",
		e.Debits.StringFixed(MoneyPlaces), e.Credits.StringFixed(MoneyPlaces), e.Difference.StringFixed(MoneyPlaces))
}

func (e *UnbalancedEntryError) Unwrap() error { return ErrUnbalanced }

// UnknownAccountError names the account code that could not be resolved.
type UnknownAccountError struct {
	Code AccountCode
}

func (e *UnknownAccountError) Error() string {
	return fmt.Sprintf("unknown account code %q", e.Code)
}

func (e *UnknownAccountError) Unwrap() error { return ErrUnknownAccount }

// NotFoundError names the kind and id of a missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NegativeStockError provides details about a stock shortage at posting time.
type NegativeStockError struct {
	Product   ProductID
	Location  LocationID
	OnHand    decimal.Decimal
	Requested decimal.Decimal
}

func (e *NegativeStockError) Error() string {
	return fmt.Sprintf("cannot remove %s of %s at %s: only %s on hand",
		e.Requested, e.Product, e.Location, e.OnHand)
}

func (e *NegativeStockError) Unwrap() error { return ErrInsufficientStock }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrUnbalanced) ||
		errors.Is(err, ErrUnknownAccount) ||
		errors.Is(err, ErrInsufficientStock)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
