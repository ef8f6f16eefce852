package production

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/production-engine/ledger"
)

// =============================================================================
// READ QUERIES - No writes, no transaction
// =============================================================================

// ItemDemandSummary is the supply/demand picture of one product.
type ItemDemandSummary struct {
	Product   ledger.ProductID
	Location  ledger.LocationID
	OnHand    decimal.Decimal
	Allocated decimal.Decimal
	Available decimal.Decimal

	// ComponentDemand is what active orders still need beyond their reservations.
	ComponentDemand decimal.Decimal
	// IncomingSupply is what active orders for this product have yet to deliver.
	IncomingSupply decimal.Decimal
	// Projected = Available - ComponentDemand + IncomingSupply.
	Projected decimal.Decimal

	Demand []DemandLine
	Supply []SupplyLine
}

type DemandLine struct {
	Order     OrderID
	Number    string
	Operation OperationID
	Quantity  decimal.Decimal
}

type SupplyLine struct {
	Order    OrderID
	Number   string
	Status   OrderStatus
	Quantity decimal.Decimal
}

func (s *Service) ItemDemandSummary(ctx context.Context, product ledger.ProductID, location ledger.LocationID) (*ItemDemandSummary, error) {
	if location == "" {
		location = ledger.DefaultLocation
	}
	if _, err := s.Store.GetProduct(ctx, product); err != nil {
		return nil, err
	}
	inv, err := s.Store.GetInventory(ctx, product, location)
	if err != nil {
		return nil, err
	}
	orders, err := s.Store.ListActiveOrders(ctx)
	if err != nil {
		return nil, err
	}

	sum := &ItemDemandSummary{
		Product:         product,
		Location:        location,
		OnHand:          inv.OnHand,
		Allocated:       inv.Allocated,
		Available:       inv.Available(),
		ComponentDemand: decimal.Zero,
		IncomingSupply:  decimal.Zero,
	}
	for _, o := range orders {
		if o.Product == product && o.Location == location {
			remaining := o.QuantityOrdered.Sub(o.QuantityCompleted).Sub(o.QuantityScrapped)
			if remaining.IsPositive() {
				sum.IncomingSupply = sum.IncomingSupply.Add(remaining)
				sum.Supply = append(sum.Supply, SupplyLine{Order: o.ID, Number: o.Number, Status: o.Status, Quantity: remaining})
			}
		}
		for _, op := range o.Operations {
			if op.Status.IsTerminal() {
				continue
			}
			for _, m := range op.Materials {
				if m.Component != product || m.CostItem || m.Source(&o) != location {
					continue
				}
				if need := m.Shortfall(); need.IsPositive() {
					sum.ComponentDemand = sum.ComponentDemand.Add(need)
					sum.Demand = append(sum.Demand, DemandLine{Order: o.ID, Number: o.Number, Operation: op.ID, Quantity: need})
				}
			}
		}
	}
	sum.Projected = sum.Available.Sub(sum.ComponentDemand).Add(sum.IncomingSupply)
	return sum, nil
}

// OrderOperations returns the order's operations in sequence with their materials.
func (s *Service) OrderOperations(ctx context.Context, id OrderID) ([]Operation, error) {
	order, err := s.Store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	sortOperations(order.Operations)
	return order.Operations, nil
}

func (s *Service) ScrapRecords(ctx context.Context, id OrderID) ([]ScrapRecord, error) {
	if _, err := s.Store.GetOrder(ctx, id); err != nil {
		return nil, err
	}
	return s.Store.ListScrapRecords(ctx, id)
}

func (s *Service) Order(ctx context.Context, id OrderID) (*ProductionOrder, error) {
	return s.Store.GetOrder(ctx, id)
}

// ActiveOrders returns draft, released and in-progress orders by number.
func (s *Service) ActiveOrders(ctx context.Context) ([]ProductionOrder, error) {
	return s.Store.ListActiveOrders(ctx)
}

// =============================================================================
// BLOCKING ISSUES
// =============================================================================

type IssueKind string

const (
	IssuePredecessor  IssueKind = "predecessor_incomplete"
	IssueShortage     IssueKind = "material_shortage"
	IssueLotSelection IssueKind = "lot_selection_required"
	IssueResourceBusy IssueKind = "resource_busy"
)

// BlockingIssue explains why a waiting operation cannot start now.
type BlockingIssue struct {
	Operation OperationID
	Sequence  int
	Kind      IssueKind
	Component ledger.ProductID
	Shortfall decimal.Decimal
	Message   string
}

// BlockingIssues lists, per waiting operation, every guard start would fail on.
func (s *Service) BlockingIssues(ctx context.Context, id OrderID) ([]BlockingIssue, error) {
	order, err := s.Store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	sortOperations(order.Operations)
	policies, err := s.Store.ListLotPolicies(ctx)
	if err != nil {
		return nil, err
	}
	products := newProductCache(s.Store)

	var issues []BlockingIssue
	for i := range order.Operations {
		op := &order.Operations[i]
		if !op.Status.IsWaiting() {
			continue
		}

		if prev := order.predecessor(op); prev != nil && !prev.Status.IsTerminal() {
			issues = append(issues, BlockingIssue{
				Operation: op.ID,
				Sequence:  op.Sequence,
				Kind:      IssuePredecessor,
				Message:   fmt.Sprintf("operation %d (%s) is still %s", prev.Sequence, prev.Name, prev.Status),
			})
		}

		shortages, err := s.materialShortages(ctx, s.Store, order, op)
		if err != nil {
			return nil, err
		}
		for _, sh := range shortages {
			issues = append(issues, BlockingIssue{
				Operation: op.ID,
				Sequence:  op.Sequence,
				Kind:      IssueShortage,
				Component: sh.Component,
				Shortfall: sh.Shortfall,
				Message:   fmt.Sprintf("%s is short by %s", sh.Component, sh.Shortfall),
			})
		}

		lots, err := missingLots(ctx, products, order, op, policies)
		if err != nil {
			return nil, err
		}
		for _, component := range lots {
			issues = append(issues, BlockingIssue{
				Operation: op.ID,
				Sequence:  op.Sequence,
				Kind:      IssueLotSelection,
				Component: component,
				Message:   fmt.Sprintf("%s needs a lot selected", component),
			})
		}

		if op.Resource != "" {
			busy, err := s.Store.RunningOnResource(ctx, op.Resource, op.ID)
			if err != nil {
				return nil, err
			}
			if busy != nil {
				issues = append(issues, BlockingIssue{
					Operation: op.ID,
					Sequence:  op.Sequence,
					Kind:      IssueResourceBusy,
					Message:   fmt.Sprintf("resource %s is busy with %s", op.Resource, busy.Name),
				})
			}
		}
	}
	return issues, nil
}
