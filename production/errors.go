/*
errors.go - Error types for the production engine

Ledger-level failures (unbalanced entries, unknown accounts, stock going
negative, missing records) come from the ledger package and pass through
unchanged. This file adds the state-machine and quantity errors.

  InvalidTransitionError     guard of the operation state machine violated
  QuantityExceededError      more units than the upstream step left standing
  ConflictError              lost a race (resource busy, stale version)
  InsufficientMaterialError  strict reservation could not cover the BOM

Every message is written for direct display to an operator.
*/
package production

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/production-engine/ledger"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidTransition    = errors.New("invalid operation transition")
	ErrQuantityExceeded     = errors.New("quantity exceeds what is available")
	ErrConflict             = errors.New("concurrent modification")
	ErrInsufficientMaterial = errors.New("insufficient material")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

type InvalidTransitionError struct {
	Operation  OperationID
	Sequence   int
	From       OperationStatus
	Transition Transition
	Reason     string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot %s operation %d: %s", e.Transition, e.Sequence, e.Reason)
	}
	return fmt.Sprintf("cannot %s operation %d: it is %s", e.Transition, e.Sequence, e.From)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

type QuantityExceededError struct {
	Operation OperationID
	Requested decimal.Decimal
	Allowed   decimal.Decimal
	Message   string
}

func (e *QuantityExceededError) Error() string { return e.Message }

func (e *QuantityExceededError) Unwrap() error { return ErrQuantityExceeded }

type ConflictError struct {
	Operation OperationID
	Message   string
}

func (e *ConflictError) Error() string { return e.Message }

func (e *ConflictError) Unwrap() error { return ErrConflict }

// InsufficientMaterialError is only returned in strict reservation mode;
// otherwise shortages are reported in ReservationResult.Insufficient.
type InsufficientMaterialError struct {
	Shortages []Shortage
}

func (e *InsufficientMaterialError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s short by %s", s.Component, s.Shortfall))
	}
	return "insufficient material: " + strings.Join(parts, ", ")
}

func (e *InsufficientMaterialError) Unwrap() error { return ErrInsufficientMaterial }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true for errors caused by the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrQuantityExceeded) ||
		errors.Is(err, ErrInsufficientMaterial) ||
		ledger.IsClientError(err)
}

func IsNotFound(err error) bool { return ledger.IsNotFound(err) }

func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

func notFound(kind, id string) error {
	return &ledger.NotFoundError{Kind: kind, ID: id}
}

func invalidInput(field, format string, args ...any) error {
	return &ledger.ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
