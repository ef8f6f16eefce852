/*
operations.go - The operation state machine

PURPOSE:
  Moves one operation through pending/queued → running → complete, or
  pending/queued → skipped, inside a single store transaction per call.

GUARDS:
  start     predecessor complete or skipped, no material shortage,
            lot selected for lot-traced materials, resource not busy,
            version unchanged since load
  complete  operation running; completed + scrapped ≤ MaxAllowed
  skip      predecessor complete or skipped; reason required. Posts
            nothing; only the step's reservations are released

SIDE EFFECTS OF COMPLETE:
  1. Issue every material, scaled by units processed (good or scrapped)
  2. Scrapped units: cascade write-off across operations 1..k
  3. Final operation: receive finished goods at the order's WIP balance
  4. Zero good units: skip every waiting downstream operation
  5. Re-derive order status

  A failure at any step (e.g. stock would go negative) rolls back the
  whole completion; the operation stays running.

SEE ALSO:
  - status.go: Transition table
  - scrap.go: Write-off calculation
*/
package production

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/production-engine/ledger"
)

// OperationResult is what a transition did, for callers that publish it.
type OperationResult struct {
	Operation    *Operation
	Order        *ProductionOrder
	Entries      []ledger.JournalEntry
	Skipped      []OperationID
	Scrap        *ScrapResult
	StatusChange *StatusChange
}

// =============================================================================
// START
// =============================================================================

type StartOptions struct {
	// Resource overrides the operation's planned resource.
	Resource ResourceID
	Operator string
}

func (s *Service) StartOperation(ctx context.Context, orderID OrderID, opID OperationID, opts StartOptions) (*OperationResult, error) {
	var result *OperationResult
	err := inTx(ctx, s.Store, func(st Store) error {
		order, op, err := s.loadOperation(ctx, st, orderID, opID)
		if err != nil {
			return err
		}
		next, err := NextStatus(op, TransitionStart)
		if err != nil {
			return err
		}
		if err := checkOrderActive(order, op, TransitionStart); err != nil {
			return err
		}
		if err := checkPredecessor(order, op, TransitionStart); err != nil {
			return err
		}

		shortages, err := s.materialShortages(ctx, st, order, op)
		if err != nil {
			return err
		}
		if len(shortages) > 0 {
			sh := shortages[0]
			return &InvalidTransitionError{
				Operation:  op.ID,
				Sequence:   op.Sequence,
				From:       op.Status,
				Transition: TransitionStart,
				Reason:     fmt.Sprintf("material %s is short by %s", sh.Component, sh.Shortfall),
			}
		}

		policies, err := st.ListLotPolicies(ctx)
		if err != nil {
			return err
		}
		lots, err := missingLots(ctx, newProductCache(st), order, op, policies)
		if err != nil {
			return err
		}
		if len(lots) > 0 {
			return &InvalidTransitionError{
				Operation:  op.ID,
				Sequence:   op.Sequence,
				From:       op.Status,
				Transition: TransitionStart,
				Reason:     fmt.Sprintf("%s needs a lot selected", lots[0]),
			}
		}

		resource := op.Resource
		if opts.Resource != "" {
			resource = opts.Resource
		}
		if resource != "" {
			busy, err := st.RunningOnResource(ctx, resource, op.ID)
			if err != nil {
				return err
			}
			if busy != nil {
				return &ConflictError{
					Operation: op.ID,
					Message:   fmt.Sprintf("resource %s is busy with another running operation (%s)", resource, busy.Name),
				}
			}
		}

		now := s.Now()
		op.Status = next
		op.ActualStart = &now
		op.Resource = resource
		op.Operator = opts.Operator
		if err := st.UpdateOperation(ctx, op); err != nil {
			return err
		}

		change, err := s.refreshStatus(ctx, st, order)
		if err != nil {
			return err
		}
		result = &OperationResult{Operation: op, Order: order, StatusChange: change}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// =============================================================================
// COMPLETE
// =============================================================================

type CompleteRequest struct {
	QuantityCompleted decimal.Decimal
	QuantityScrapped  decimal.Decimal
	ScrapReason       ScrapReason
	Notes             string
}

func (r CompleteRequest) validate() error {
	if r.QuantityCompleted.IsNegative() {
		return invalidInput("quantity_completed", "quantity completed cannot be negative, got %s", r.QuantityCompleted)
	}
	if r.QuantityScrapped.IsNegative() {
		return invalidInput("quantity_scrapped", "quantity scrapped cannot be negative, got %s", r.QuantityScrapped)
	}
	if r.ScrapReason != "" && !r.ScrapReason.Valid() {
		return invalidInput("scrap_reason", "unknown scrap reason %q", r.ScrapReason)
	}
	return nil
}

func (s *Service) CompleteOperation(ctx context.Context, orderID OrderID, opID OperationID, req CompleteRequest) (*OperationResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var result *OperationResult
	err := inTx(ctx, s.Store, func(st Store) error {
		order, op, err := s.loadOperation(ctx, st, orderID, opID)
		if err != nil {
			return err
		}
		next, err := NextStatus(op, TransitionComplete)
		if err != nil {
			return err
		}

		processed := req.QuantityCompleted.Add(req.QuantityScrapped)
		if allowed := order.MaxAllowed(op); processed.GreaterThan(allowed) {
			return &QuantityExceededError{
				Operation: op.ID,
				Requested: processed,
				Allowed:   allowed,
				Message: fmt.Sprintf("Cannot complete %s units at operation %d: only %s units reached it",
					processed, op.Sequence, allowed),
			}
		}

		result = &OperationResult{Operation: op, Order: order}
		products := newProductCache(st)

		entry, err := s.consume(ctx, st, products, order, op, processed)
		if err != nil {
			return err
		}
		if entry != nil {
			result.Entries = append(result.Entries, *entry)
		}

		now := s.Now()
		op.Status = next
		op.ActualEnd = &now
		op.QuantityCompleted = req.QuantityCompleted
		op.QuantityScrapped = req.QuantityScrapped
		if err := st.UpdateOperation(ctx, op); err != nil {
			return err
		}

		if req.QuantityScrapped.IsPositive() {
			reason := req.ScrapReason
			if reason == "" {
				reason = ScrapOther
			}
			scrap, err := s.writeOff(ctx, st, products, order, op, req.QuantityScrapped, reason, req.Notes, false)
			if err != nil {
				return err
			}
			order.QuantityScrapped = order.QuantityScrapped.Add(req.QuantityScrapped)
			result.Scrap = scrap
			result.Entries = append(result.Entries, scrap.JournalEntry)
		}

		if order.IsLast(op) && req.QuantityCompleted.IsPositive() {
			entry, err := s.receiveFinishedGoods(ctx, st, order, req.QuantityCompleted)
			if err != nil {
				return err
			}
			result.Entries = append(result.Entries, *entry)
		}

		if req.QuantityCompleted.IsZero() {
			skipped, err := s.cascadeSkip(ctx, st, order, op,
				fmt.Sprintf("no good units left after operation %d", op.Sequence))
			if err != nil {
				return err
			}
			result.Skipped = skipped
		}

		result.StatusChange, err = s.refreshStatus(ctx, st, order)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// consume issues every material of op scaled by processed units. Material
// is spent whether the output is good or scrapped. Returns nil when
// nothing was issued.
func (s *Service) consume(ctx context.Context, st Store, products *productCache, order *ProductionOrder, op *Operation, processed decimal.Decimal) (*ledger.JournalEntry, error) {
	if !processed.IsPositive() || len(op.Materials) == 0 {
		return nil, nil
	}

	var issues []ledger.MaterialIssue
	var touched []int
	for i := range op.Materials {
		m := &op.Materials[i]
		qty := m.QuantityRequired.Mul(processed).Div(order.QuantityOrdered)
		if !qty.IsPositive() {
			continue
		}
		component, err := products.get(ctx, m.Component)
		if err != nil {
			return nil, err
		}
		release := decimal.Min(m.QuantityReserved, qty)
		issues = append(issues, ledger.MaterialIssue{
			Product:          m.Component,
			Location:         m.Source(order),
			Quantity:         qty,
			UnitCost:         component.UnitCost,
			Lot:              m.Lot,
			ReleaseAllocated: release,
			CostItem:         m.CostItem,
		})
		m.QuantityReserved = m.QuantityReserved.Sub(release)
		m.QuantityConsumed = m.QuantityConsumed.Add(qty)
		touched = append(touched, i)
	}
	if len(issues) == 0 {
		return nil, nil
	}

	memo := fmt.Sprintf("%s op %d: issue materials", order.Number, op.Sequence)
	entry, err := s.Ledger.PostIn(ctx, st, ledger.IssueMaterials(order.Reference(), memo, issues))
	if err != nil {
		return nil, err
	}
	for _, i := range touched {
		if err := st.UpdateMaterial(ctx, op.Materials[i]); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

// receiveFinishedGoods moves qty units into finished goods, valued at the
// order's remaining WIP balance.
func (s *Service) receiveFinishedGoods(ctx context.Context, st Store, order *ProductionOrder, qty decimal.Decimal) (*ledger.JournalEntry, error) {
	wip, err := st.AccountBalance(ctx, ledger.AccountWIP, order.Reference())
	if err != nil {
		return nil, err
	}
	if wip.IsNegative() {
		wip = decimal.Zero
	}
	entry, err := s.Ledger.PostIn(ctx, st, ledger.ReceiveFinishedGoods(order.Reference(), order.Product, order.Location, qty, wip))
	if err != nil {
		return nil, err
	}
	order.QuantityCompleted = order.QuantityCompleted.Add(qty)
	order.FinishedGoodsReceived = true
	return entry, nil
}

// =============================================================================
// SKIP / SCHEDULE
// =============================================================================

func (s *Service) SkipOperation(ctx context.Context, orderID OrderID, opID OperationID, reason string) (*OperationResult, error) {
	if reason == "" {
		return nil, invalidInput("reason", "a reason is required to skip an operation")
	}

	var result *OperationResult
	err := inTx(ctx, s.Store, func(st Store) error {
		order, op, err := s.loadOperation(ctx, st, orderID, opID)
		if err != nil {
			return err
		}
		next, err := NextStatus(op, TransitionSkip)
		if err != nil {
			return err
		}
		if err := checkOrderActive(order, op, TransitionSkip); err != nil {
			return err
		}
		if err := checkPredecessor(order, op, TransitionSkip); err != nil {
			return err
		}

		op.Status = next
		op.SkipReason = reason
		if err := st.UpdateOperation(ctx, op); err != nil {
			return err
		}
		if err := s.releaseReservations(ctx, st, order, op); err != nil {
			return err
		}
		result = &OperationResult{Operation: op, Order: order}
		result.StatusChange, err = s.refreshStatus(ctx, st, order)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ScheduleOperation queues a pending operation.
func (s *Service) ScheduleOperation(ctx context.Context, orderID OrderID, opID OperationID) (*Operation, error) {
	var op *Operation
	err := inTx(ctx, s.Store, func(st Store) error {
		var order *ProductionOrder
		var err error
		order, op, err = s.loadOperation(ctx, st, orderID, opID)
		if err != nil {
			return err
		}
		next, err := NextStatus(op, TransitionSchedule)
		if err != nil {
			return err
		}
		if err := checkOrderActive(order, op, TransitionSchedule); err != nil {
			return err
		}
		op.Status = next
		return st.UpdateOperation(ctx, op)
	})
	if err != nil {
		return nil, err
	}
	return op, nil
}

// =============================================================================
// GUARDS
// =============================================================================

func checkOrderActive(order *ProductionOrder, op *Operation, t Transition) error {
	if order.Status == OrderReleased || order.Status == OrderInProgress {
		return nil
	}
	return &InvalidTransitionError{
		Operation:  op.ID,
		Sequence:   op.Sequence,
		From:       op.Status,
		Transition: t,
		Reason:     fmt.Sprintf("order %s is %s", order.Number, order.Status),
	}
}

func checkPredecessor(order *ProductionOrder, op *Operation, t Transition) error {
	prev := order.predecessor(op)
	if prev == nil || prev.Status.IsTerminal() {
		return nil
	}
	return &InvalidTransitionError{
		Operation:  op.ID,
		Sequence:   op.Sequence,
		From:       op.Status,
		Transition: t,
		Reason:     fmt.Sprintf("operation %d (%s) is still %s", prev.Sequence, prev.Name, prev.Status),
	}
}
