package production

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/production-engine/ledger"
)

// =============================================================================
// ORDER LIFECYCLE - create (draft) → release (operations copied) → ... → close
// =============================================================================

// NewOrder is the input to CreateOrder. BOM and Routing default to the
// product's own.
type NewOrder struct {
	Product        ledger.ProductID
	Quantity       decimal.Decimal
	Location       ledger.LocationID
	BOM            BOMID
	Routing        RoutingID
	SalesOrder     SalesOrderID
	SalesOrderLine int
	Customer       string
	Channel        string
	RemakeOf       OrderID
}

// CreateOrder records a draft production order.
func (s *Service) CreateOrder(ctx context.Context, req NewOrder) (*ProductionOrder, error) {
	if req.Product == "" {
		return nil, invalidInput("product", "an order needs a product")
	}
	if !req.Quantity.IsPositive() {
		return nil, invalidInput("quantity", "order quantity must be positive, got %s", req.Quantity)
	}

	var order *ProductionOrder
	err := inTx(ctx, s.Store, func(st Store) error {
		var err error
		order, err = s.createOrderIn(ctx, st, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Service) createOrderIn(ctx context.Context, st Store, req NewOrder) (*ProductionOrder, error) {
	if _, err := st.GetProduct(ctx, req.Product); err != nil {
		return nil, err
	}

	bomID := req.BOM
	if bomID == "" {
		bom, err := st.GetBOMForProduct(ctx, req.Product)
		if err != nil {
			return nil, err
		}
		bomID = bom.ID
	}
	routingID := req.Routing
	if routingID == "" {
		routing, err := st.GetRoutingForProduct(ctx, req.Product)
		if err != nil && !IsNotFound(err) {
			return nil, err
		}
		if routing != nil {
			routingID = routing.ID
		}
	}

	if req.SalesOrder != "" && (req.Customer == "" || req.Channel == "") {
		so, err := st.GetSalesOrder(ctx, req.SalesOrder)
		if err != nil {
			return nil, err
		}
		if req.Customer == "" {
			req.Customer = so.Customer
		}
		if req.Channel == "" {
			req.Channel = so.Channel
		}
	}

	seq, err := st.NextOrderSequence(ctx)
	if err != nil {
		return nil, err
	}

	location := req.Location
	if location == "" {
		location = ledger.DefaultLocation
	}
	now := s.Now()
	order := ProductionOrder{
		ID:                OrderID(s.NewID()),
		Number:            fmt.Sprintf("PO-%06d", seq),
		Product:           req.Product,
		BOM:               bomID,
		Routing:           routingID,
		Location:          location,
		QuantityOrdered:   req.Quantity,
		QuantityCompleted: decimal.Zero,
		QuantityScrapped:  decimal.Zero,
		Status:            OrderDraft,
		SalesOrder:        req.SalesOrder,
		SalesOrderLine:    req.SalesOrderLine,
		Customer:          req.Customer,
		Channel:           req.Channel,
		RemakeOf:          req.RemakeOf,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := st.InsertOrder(ctx, order); err != nil {
		return nil, err
	}
	return &order, nil
}

// ReleaseOptions control how operations are created on release.
type ReleaseOptions struct {
	// Queued creates operations as queued (pre-scheduled) instead of pending.
	Queued bool
}

// ReleaseOrder copies the routing into operations and the BOM into
// operation materials, then moves the order to released.
func (s *Service) ReleaseOrder(ctx context.Context, id OrderID, opts ReleaseOptions) (*ProductionOrder, error) {
	var order *ProductionOrder
	err := inTx(ctx, s.Store, func(st Store) error {
		var err error
		order, err = st.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if order.Status != OrderDraft {
			return invalidInput("status", "order %s is %s; only draft orders can be released", order.Number, order.Status)
		}

		bom, err := st.GetBOM(ctx, order.BOM)
		if err != nil {
			return err
		}
		var steps []RoutingStep
		if order.Routing != "" {
			routing, err := st.GetRouting(ctx, order.Routing)
			if err != nil {
				return err
			}
			steps = routing.Steps
		}

		ops, err := s.explode(ctx, st, order, bom, steps, opts)
		if err != nil {
			return err
		}
		if err := st.InsertOperations(ctx, ops); err != nil {
			return err
		}

		order.Operations = ops
		order.Status = OrderReleased
		order.UpdatedAt = s.Now()
		if err := st.UpdateOrder(ctx, *order); err != nil {
			return err
		}
		return s.syncSalesOrder(ctx, st, order.SalesOrder)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// explode builds operations from routing steps and attaches each BOM line
// to the step named by its OperationSequence. Sequence 0 means the first
// step; any other sequence must exist in the routing.
func (s *Service) explode(ctx context.Context, st Store, order *ProductionOrder, bom *BOM, steps []RoutingStep, opts ReleaseOptions) ([]Operation, error) {
	if len(steps) == 0 {
		steps = []RoutingStep{{Sequence: 10, Name: "Build"}}
	}

	status := OpPending
	if opts.Queued {
		status = OpQueued
	}

	ops := make([]Operation, 0, len(steps))
	seen := make(map[int]bool, len(steps))
	for _, step := range steps {
		if seen[step.Sequence] {
			return nil, invalidInput("routing", "routing %s repeats sequence %d", order.Routing, step.Sequence)
		}
		seen[step.Sequence] = true
		ops = append(ops, Operation{
			ID:                  OperationID(s.NewID()),
			Order:               order.ID,
			Sequence:            step.Sequence,
			Name:                step.Name,
			Status:              status,
			PlannedSetupMinutes: step.SetupMinutes,
			PlannedRunMinutes:   step.RunMinutes.Mul(order.QuantityOrdered),
			QuantityCompleted:   decimal.Zero,
			QuantityScrapped:    decimal.Zero,
			Resource:            step.Resource,
		})
	}
	sortOperations(ops)

	products := newProductCache(st)
	for _, line := range bom.Lines {
		component, err := products.get(ctx, line.Component)
		if err != nil {
			return nil, err
		}
		var target *Operation
		if line.OperationSequence == 0 {
			target = &ops[0]
		}
		for i := range ops {
			if ops[i].Sequence == line.OperationSequence {
				target = &ops[i]
				break
			}
		}
		if target == nil {
			return nil, invalidInput("bom", "bom %s line %s names operation %d, which routing %s does not have",
				bom.ID, line.Component, line.OperationSequence, order.Routing)
		}
		target.Materials = append(target.Materials, OperationMaterial{
			ID:               MaterialID(s.NewID()),
			Operation:        target.ID,
			Component:        line.Component,
			QuantityRequired: line.RequiredFor(order.QuantityOrdered),
			QuantityReserved: decimal.Zero,
			QuantityConsumed: decimal.Zero,
			CostItem:         component.IsCostItem(),
		})
	}
	return ops, nil
}

func sortOperations(ops []Operation) {
	sort.Slice(ops, func(i, j int) bool { return ops[i].Sequence < ops[j].Sequence })
}

// CancelOrder terminates an order that has not started and releases its
// material reservations.
func (s *Service) CancelOrder(ctx context.Context, id OrderID, reason string) (*ProductionOrder, error) {
	var order *ProductionOrder
	err := inTx(ctx, s.Store, func(st Store) error {
		var err error
		order, err = st.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if order.Status != OrderDraft && order.Status != OrderReleased {
			return invalidInput("status", "order %s is %s; only draft or released orders can be cancelled", order.Number, order.Status)
		}

		if reason == "" {
			reason = "order cancelled"
		}
		for i := range order.Operations {
			op := &order.Operations[i]
			if err := s.releaseReservations(ctx, st, order, op); err != nil {
				return err
			}
			if op.Status.IsWaiting() {
				op.Status = OpSkipped
				op.SkipReason = reason
				if err := st.UpdateOperation(ctx, op); err != nil {
					return err
				}
			}
		}

		order.Status = OrderCancelled
		order.UpdatedAt = s.Now()
		if err := st.UpdateOrder(ctx, *order); err != nil {
			return err
		}
		return s.syncSalesOrder(ctx, st, order.SalesOrder)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Service) releaseReservations(ctx context.Context, st Store, order *ProductionOrder, op *Operation) error {
	for i := range op.Materials {
		m := &op.Materials[i]
		if m.CostItem || !m.QuantityReserved.IsPositive() {
			continue
		}
		_, err := s.Ledger.ReleaseIn(ctx, st, ledger.AllocationRequest{
			Product:   m.Component,
			Location:  m.Source(order),
			Quantity:  m.QuantityReserved,
			Lot:       m.Lot,
			Reference: order.Reference(),
		})
		if err != nil {
			return err
		}
		m.QuantityReserved = decimal.Zero
		if err := st.UpdateMaterial(ctx, *m); err != nil {
			return err
		}
	}
	return nil
}

// MarkQCPassed records a passed quality check on a closed order and
// propagates to the sales order.
func (s *Service) MarkQCPassed(ctx context.Context, id OrderID) (*ProductionOrder, error) {
	var order *ProductionOrder
	err := inTx(ctx, s.Store, func(st Store) error {
		var err error
		order, err = st.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if order.Status != OrderComplete && order.Status != OrderShort {
			return invalidInput("status", "order %s is %s; QC can only pass on a finished order", order.Number, order.Status)
		}
		order.QCPassed = true
		order.UpdatedAt = s.Now()
		if err := st.UpdateOrder(ctx, *order); err != nil {
			return err
		}
		return s.syncSalesOrder(ctx, st, order.SalesOrder)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}
