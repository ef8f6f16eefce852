package production

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/production-engine/ledger"
)

// Service runs production workflows. Each exported method is one unit of
// work: it either commits everything it did or nothing.
type Service struct {
	Store  TxStore
	Ledger *ledger.Ledger
	Now    func() time.Time
	NewID  func() string

	// StrictReservation makes ReserveMaterials fail on any shortage
	// instead of reporting it.
	StrictReservation bool
}

func NewService(store TxStore, l *ledger.Ledger) *Service {
	return &Service{
		Store:  store,
		Ledger: l,
		Now:    func() time.Time { return time.Now().UTC() },
		NewID:  uuid.NewString,
	}
}

// StatusChange records an order moving from one status to another.
type StatusChange struct {
	Order OrderID
	From  OrderStatus
	To    OrderStatus
}

// =============================================================================
// STATUS REFRESH - Applied after every operation transition
// =============================================================================

// refreshStatus re-derives the order status, stamps timestamps on change,
// persists the order and propagates to its sales order. Returns nil when
// the status did not change.
func (s *Service) refreshStatus(ctx context.Context, st Store, order *ProductionOrder) (*StatusChange, error) {
	now := s.Now()
	order.UpdatedAt = now

	if order.Status == OrderDraft || order.Status == OrderCancelled {
		return nil, st.UpdateOrder(ctx, *order)
	}

	next := DeriveOrderStatus(order.Operations, order.QuantityCompleted, order.QuantityOrdered)
	if next == order.Status {
		return nil, st.UpdateOrder(ctx, *order)
	}

	change := &StatusChange{Order: order.ID, From: order.Status, To: next}
	order.Status = next
	switch next {
	case OrderInProgress:
		if order.ActualStart == nil {
			order.ActualStart = &now
		}
	case OrderComplete:
		order.ActualEnd = &now
		order.CompletedAt = &now
	case OrderShort:
		order.ActualEnd = &now
	}
	if next.IsClosed() {
		for i := range order.Operations {
			if err := s.releaseReservations(ctx, st, order, &order.Operations[i]); err != nil {
				return nil, err
			}
		}
	}

	if err := st.UpdateOrder(ctx, *order); err != nil {
		return nil, err
	}
	if err := s.syncSalesOrder(ctx, st, order.SalesOrder); err != nil {
		return nil, err
	}
	return change, nil
}

func (s *Service) syncSalesOrder(ctx context.Context, st Store, id SalesOrderID) error {
	if id == "" {
		return nil
	}
	so, err := st.GetSalesOrder(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		return err
	}
	orders, err := st.ListOrdersBySalesOrder(ctx, id)
	if err != nil {
		return err
	}
	status := DeriveSalesOrderStatus(orders)
	if status == so.Status {
		return nil
	}
	so.Status = status
	so.UpdatedAt = s.Now()
	return st.SaveSalesOrder(ctx, *so)
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) loadOperation(ctx context.Context, st Store, orderID OrderID, opID OperationID) (*ProductionOrder, *Operation, error) {
	order, err := st.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	sortOperations(order.Operations)
	op := order.Operation(opID)
	if op == nil {
		return nil, nil, notFound("operation", string(opID))
	}
	return order, op, nil
}

// predecessor returns the operation immediately before op, or nil.
func (o *ProductionOrder) predecessor(op *Operation) *Operation {
	var prev *Operation
	for i := range o.Operations {
		if o.Operations[i].Sequence >= op.Sequence {
			break
		}
		prev = &o.Operations[i]
	}
	return prev
}

// MaxAllowed is the number of units op may still process: the good output
// of the nearest completed predecessor (skipped ones pass through), or the
// ordered quantity when there is none.
func (o *ProductionOrder) MaxAllowed(op *Operation) decimal.Decimal {
	if prev := o.lastCompleteBefore(op); prev != nil {
		return prev.QuantityCompleted
	}
	return o.QuantityOrdered
}

func (o *ProductionOrder) lastCompleteBefore(op *Operation) *Operation {
	for i := len(o.Operations) - 1; i >= 0; i-- {
		prev := &o.Operations[i]
		if prev.Sequence < op.Sequence && prev.Status == OpComplete {
			return prev
		}
	}
	return nil
}

// nextActive returns the first operation after op that was not skipped, or nil.
func (o *ProductionOrder) nextActive(op *Operation) *Operation {
	for i := range o.Operations {
		next := &o.Operations[i]
		if next.Sequence > op.Sequence && next.Status != OpSkipped {
			return next
		}
	}
	return nil
}

// cascadeSkip skips every waiting operation after op. Returns the skipped ids.
func (s *Service) cascadeSkip(ctx context.Context, st Store, order *ProductionOrder, op *Operation, reason string) ([]OperationID, error) {
	var skipped []OperationID
	for i := range order.Operations {
		next := &order.Operations[i]
		if next.Sequence <= op.Sequence || !next.Status.IsWaiting() {
			continue
		}
		next.Status = OpSkipped
		next.SkipReason = reason
		if err := st.UpdateOperation(ctx, next); err != nil {
			return nil, err
		}
		skipped = append(skipped, next.ID)
	}
	return skipped, nil
}

// productCache memoises catalog lookups for the duration of one unit of work.
type productCache struct {
	st       Store
	products map[ledger.ProductID]*Product
}

func newProductCache(st Store) *productCache {
	return &productCache{st: st, products: make(map[ledger.ProductID]*Product)}
}

func (c *productCache) get(ctx context.Context, id ledger.ProductID) (*Product, error) {
	if p, ok := c.products[id]; ok {
		return p, nil
	}
	p, err := c.st.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	c.products[id] = p
	return p, nil
}
