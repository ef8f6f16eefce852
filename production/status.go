/*
status.go - Status enums, the operation transition table, status derivation

OPERATION STATES:
  ┌─────────┐  start   ┌─────────┐  complete  ┌──────────┐
  │ pending │────────▶ │ running │──────────▶ │ complete │
  └─────────┘          └─────────┘            └──────────┘
       │  ▲ schedule        ▲
       │  │                 │ start
       │  ┌────────┐────────┘
       │  │ queued │
       │  └────────┘
       │      │ skip
       ▼      ▼
     ┌─────────┐
     │ skipped │
     └─────────┘

  complete and skipped are terminal. Nothing leaves a terminal state.

ORDER STATUS (derived from operation statuses):
  all pending (or queued)              → released
  all terminal, completed ≥ ordered    → complete
  all terminal, completed < ordered    → short
  anything else                        → in_progress

  draft and cancelled are set explicitly, never derived.
*/
package production

import "github.com/shopspring/decimal"

// =============================================================================
// OPERATION STATUS
// =============================================================================

type OperationStatus string

const (
	OpPending  OperationStatus = "pending"
	OpQueued   OperationStatus = "queued"
	OpRunning  OperationStatus = "running"
	OpComplete OperationStatus = "complete"
	OpSkipped  OperationStatus = "skipped"
)

func (s OperationStatus) IsTerminal() bool { return s == OpComplete || s == OpSkipped }

// IsWaiting reports pending or queued.
func (s OperationStatus) IsWaiting() bool { return s == OpPending || s == OpQueued }

type Transition string

const (
	TransitionSchedule Transition = "schedule"
	TransitionStart    Transition = "start"
	TransitionComplete Transition = "complete"
	TransitionSkip     Transition = "skip"
)

// transitions is the single source of truth for legal operation moves.
var transitions = map[Transition]struct {
	from []OperationStatus
	to   OperationStatus
}{
	TransitionSchedule: {from: []OperationStatus{OpPending}, to: OpQueued},
	TransitionStart:    {from: []OperationStatus{OpPending, OpQueued}, to: OpRunning},
	TransitionComplete: {from: []OperationStatus{OpRunning}, to: OpComplete},
	TransitionSkip:     {from: []OperationStatus{OpPending, OpQueued}, to: OpSkipped},
}

// NextStatus returns the status op moves to under t, or an
// InvalidTransitionError if t is not legal from the current status.
func NextStatus(op *Operation, t Transition) (OperationStatus, error) {
	rule, ok := transitions[t]
	if !ok {
		return "", &InvalidTransitionError{Operation: op.ID, Sequence: op.Sequence, From: op.Status, Transition: t}
	}
	for _, from := range rule.from {
		if op.Status == from {
			return rule.to, nil
		}
	}
	return "", &InvalidTransitionError{Operation: op.ID, Sequence: op.Sequence, From: op.Status, Transition: t}
}

// =============================================================================
// ORDER STATUS
// =============================================================================

type OrderStatus string

const (
	OrderDraft      OrderStatus = "draft"
	OrderReleased   OrderStatus = "released"
	OrderInProgress OrderStatus = "in_progress"
	OrderComplete   OrderStatus = "complete"
	OrderShort      OrderStatus = "short"
	OrderCancelled  OrderStatus = "cancelled"
)

// IsClosed reports complete, short or cancelled.
func (s OrderStatus) IsClosed() bool {
	return s == OrderComplete || s == OrderShort || s == OrderCancelled
}

// DeriveOrderStatus aggregates operation statuses. It is pure: callers
// decide what to do when the result differs from the stored status.
func DeriveOrderStatus(ops []Operation, completed, ordered decimal.Decimal) OrderStatus {
	if len(ops) == 0 {
		return OrderReleased
	}

	// Queued operations have not started either.
	allPending, allTerminal := true, true
	for _, op := range ops {
		if !op.Status.IsWaiting() {
			allPending = false
		}
		if !op.Status.IsTerminal() {
			allTerminal = false
		}
	}

	switch {
	case allPending:
		return OrderReleased
	case allTerminal && completed.GreaterThanOrEqual(ordered):
		return OrderComplete
	case allTerminal:
		return OrderShort
	default:
		return OrderInProgress
	}
}

// =============================================================================
// SALES ORDER STATUS - Thin aggregate over linked production orders
// =============================================================================

type SalesOrderStatus string

const (
	SalesOpen         SalesOrderStatus = "open"
	SalesInProduction SalesOrderStatus = "in_production"
	SalesReadyToShip  SalesOrderStatus = "ready_to_ship"
)

// DeriveSalesOrderStatus: any order started → in_production; every order
// closed and QC passed (cancelled orders need no QC) → ready_to_ship.
func DeriveSalesOrderStatus(orders []ProductionOrder) SalesOrderStatus {
	if len(orders) == 0 {
		return SalesOpen
	}

	allClosedAndPassed, anyStarted, anyLive := true, false, false
	for _, o := range orders {
		if o.Status == OrderCancelled {
			continue
		}
		anyLive = true
		if o.Status != OrderDraft && o.Status != OrderReleased {
			anyStarted = true
		}
		if !o.Status.IsClosed() || !o.QCPassed {
			allClosedAndPassed = false
		}
	}

	switch {
	case anyLive && allClosedAndPassed:
		return SalesReadyToShip
	case anyStarted:
		return SalesInProduction
	default:
		return SalesOpen
	}
}
