/*
reservation.go - BOM reservation engine

PURPOSE:
  Soft-allocates the components an order still needs. Allocation raises
  Inventory.Allocated and logs a reservation transaction; on-hand stock
  does not move and no journal entry is posted.

OUTCOMES PER MATERIAL (disjoint):
  reserved      available ≥ outstanding need, allocation made
  insufficient  available < need; nothing reserved, shortfall reported
  lot required  lot-traced component with no lot supplied; nothing reserved

  Cost items (machine time, labour) are skipped: they have no stock.

SHORTAGE POLICY:
  Shortages are data, not errors: the caller surfaces them and may proceed
  with a partial reservation. Strict mode turns any shortage into an
  InsufficientMaterialError and rolls back the reservations already made.
*/
package production

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/warp/production-engine/ledger"
)

type ReserveOptions struct {
	// Location overrides the order's stock location.
	Location ledger.LocationID
	// Lots selects a lot per component for lot-traced components.
	Lots map[ledger.ProductID]string
	// Strict fails the whole reservation on any shortage.
	Strict bool
}

type Reservation struct {
	Material    MaterialID
	Operation   OperationID
	Component   ledger.ProductID
	Quantity    decimal.Decimal
	Lot         string
	Transaction ledger.TransactionID
}

type Shortage struct {
	Material  MaterialID
	Operation OperationID
	Component ledger.ProductID
	Required  decimal.Decimal
	Available decimal.Decimal
	Shortfall decimal.Decimal
}

type LotRequirement struct {
	Material  MaterialID
	Operation OperationID
	Component ledger.ProductID
	Required  decimal.Decimal
}

// ReservationResult holds three disjoint lists.
type ReservationResult struct {
	Reserved     []Reservation
	Insufficient []Shortage
	LotRequired  []LotRequirement
}

// ReserveMaterials reserves the outstanding need of every material on
// operations that have not finished.
func (s *Service) ReserveMaterials(ctx context.Context, id OrderID, opts ReserveOptions) (*ReservationResult, error) {
	strict := opts.Strict || s.StrictReservation

	var result *ReservationResult
	err := inTx(ctx, s.Store, func(st Store) error {
		order, err := st.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if order.Status != OrderReleased && order.Status != OrderInProgress {
			return invalidInput("status", "order %s is %s; materials can only be reserved on released or in-progress orders", order.Number, order.Status)
		}

		result, err = s.reserveIn(ctx, st, order, opts)
		if err != nil {
			return err
		}
		if strict && len(result.Insufficient) > 0 {
			return &InsufficientMaterialError{Shortages: result.Insufficient}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) reserveIn(ctx context.Context, st Store, order *ProductionOrder, opts ReserveOptions) (*ReservationResult, error) {
	location := opts.Location
	if location == "" {
		location = order.Location
	}

	policies, err := st.ListLotPolicies(ctx)
	if err != nil {
		return nil, err
	}
	products := newProductCache(st)

	result := &ReservationResult{}
	for i := range order.Operations {
		op := &order.Operations[i]
		if op.Status.IsTerminal() {
			continue
		}
		for j := range op.Materials {
			m := &op.Materials[j]
			if m.CostItem {
				continue
			}
			need := m.Shortfall()
			if !need.IsPositive() {
				continue
			}

			component, err := products.get(ctx, m.Component)
			if err != nil {
				return nil, err
			}
			lot := m.Lot
			if l, ok := opts.Lots[m.Component]; ok && l != "" {
				lot = l
			}
			if lot == "" && requiresLot(component, order, policies) {
				result.LotRequired = append(result.LotRequired, LotRequirement{
					Material:  m.ID,
					Operation: op.ID,
					Component: m.Component,
					Required:  need,
				})
				continue
			}

			// An open reservation pins the material to its location.
			source := location
			if m.QuantityReserved.IsPositive() {
				source = m.Source(order)
			}

			inv, err := st.GetInventory(ctx, m.Component, source)
			if err != nil {
				return nil, err
			}
			available := inv.Available()
			if available.LessThan(need) {
				result.Insufficient = append(result.Insufficient, Shortage{
					Material:  m.ID,
					Operation: op.ID,
					Component: m.Component,
					Required:  need,
					Available: available,
					Shortfall: need.Sub(decimal.Max(available, decimal.Zero)),
				})
				continue
			}

			tx, err := s.Ledger.AllocateIn(ctx, st, ledger.AllocationRequest{
				Product:   m.Component,
				Location:  source,
				Quantity:  need,
				Lot:       lot,
				Reference: order.Reference(),
			})
			if err != nil {
				return nil, err
			}
			m.QuantityReserved = m.QuantityReserved.Add(need)
			m.Lot = lot
			m.Location = source
			if err := st.UpdateMaterial(ctx, *m); err != nil {
				return nil, err
			}
			result.Reserved = append(result.Reserved, Reservation{
				Material:    m.ID,
				Operation:   op.ID,
				Component:   m.Component,
				Quantity:    need,
				Lot:         lot,
				Transaction: tx.ID,
			})
		}
	}
	return result, nil
}

func requiresLot(component *Product, order *ProductionOrder, policies []LotPolicy) bool {
	if component.LotTracked {
		return true
	}
	for _, p := range policies {
		if p.Matches(component.ID, order.Customer, order.Channel) {
			return true
		}
	}
	return false
}

// materialShortages lists materials of op whose outstanding need cannot be
// covered by current availability.
func (s *Service) materialShortages(ctx context.Context, st Store, order *ProductionOrder, op *Operation) ([]Shortage, error) {
	var shortages []Shortage
	for _, m := range op.Materials {
		if m.CostItem {
			continue
		}
		need := m.Shortfall()
		if !need.IsPositive() {
			continue
		}
		inv, err := st.GetInventory(ctx, m.Component, m.Source(order))
		if err != nil {
			return nil, err
		}
		if available := inv.Available(); available.LessThan(need) {
			shortages = append(shortages, Shortage{
				Material:  m.ID,
				Operation: op.ID,
				Component: m.Component,
				Required:  need,
				Available: available,
				Shortfall: need.Sub(decimal.Max(available, decimal.Zero)),
			})
		}
	}
	return shortages, nil
}

// missingLots lists the lot-traced components of op that still have stock
// to draw but no lot selected.
func missingLots(ctx context.Context, products *productCache, order *ProductionOrder, op *Operation, policies []LotPolicy) ([]ledger.ProductID, error) {
	var missing []ledger.ProductID
	for _, m := range op.Materials {
		if m.CostItem || m.Lot != "" || !m.QuantityRequired.GreaterThan(m.QuantityConsumed) {
			continue
		}
		component, err := products.get(ctx, m.Component)
		if err != nil {
			return nil, err
		}
		if requiresLot(component, order, policies) {
			missing = append(missing, m.Component)
		}
	}
	return missing, nil
}
