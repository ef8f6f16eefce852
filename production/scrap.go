/*
scrap.go - Scrap cascade

PURPOSE:
  Units rejected at operation k carry every material spent on them by
  operations 1..k. Writing them off means writing off those materials
  too, not just what operation k itself consumed.

CALCULATION (pure, CalculateScrapCascade):
  for each operation with sequence ≤ k that was not skipped
    for each material with a non-zero requirement
      per_unit  = quantity_required / quantity_ordered
      write_off = per_unit × N
      cost      = round(write_off × unit_cost)
  total = Σ cost

POSTING:
  One journal entry per scrap event for the total (Dr Scrap Expense,
  Cr WIP), one ScrapRecord per (operation, material), all pointing at that
  entry. Units already received into finished goods are written off
  against Finished Goods instead, and leave stock.

AVAILABLE TO SCRAP:
  An operation's good units, less what the next completed operation has
  already taken in. Scrapping more fails; quantities are never clamped.
*/
package production

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/production-engine/ledger"
)

// WriteOff is one (operation, material) line of a scrap cascade.
type WriteOff struct {
	Operation OperationID
	Sequence  int
	Material  MaterialID
	Component ledger.ProductID
	Quantity  decimal.Decimal
	UnitCost  decimal.Decimal
	Cost      decimal.Decimal
	CostItem  bool
}

type ScrapCascade struct {
	Lines []WriteOff
	// Total is the sum of line costs, already rounded to money.
	Total decimal.Decimal
}

// CalculateScrapCascade computes the write-off of qty units rejected at op
// at. Unit costs come from costs; a missing component costs zero.
func CalculateScrapCascade(order *ProductionOrder, at *Operation, qty decimal.Decimal, costs map[ledger.ProductID]decimal.Decimal) ScrapCascade {
	cascade := ScrapCascade{Total: decimal.Zero}
	if !order.QuantityOrdered.IsPositive() || !qty.IsPositive() {
		return cascade
	}

	for _, op := range order.Operations {
		if op.Sequence > at.Sequence || op.Status == OpSkipped {
			continue
		}
		for _, m := range op.Materials {
			if m.QuantityRequired.IsZero() {
				continue
			}
			perUnit := m.QuantityRequired.Div(order.QuantityOrdered)
			quantity := perUnit.Mul(qty)
			unitCost := costs[m.Component]
			cost := ledger.RoundMoney(quantity.Mul(unitCost))
			cascade.Lines = append(cascade.Lines, WriteOff{
				Operation: op.ID,
				Sequence:  op.Sequence,
				Material:  m.ID,
				Component: m.Component,
				Quantity:  quantity,
				UnitCost:  unitCost,
				Cost:      cost,
				CostItem:  m.CostItem,
			})
			cascade.Total = cascade.Total.Add(cost)
		}
	}
	return cascade
}

// =============================================================================
// PROCESS SCRAP
// =============================================================================

type ScrapRequest struct {
	Quantity decimal.Decimal
	Reason   ScrapReason
	Notes    string
	// CreateReplacement opens a draft remake order for the scrapped units.
	CreateReplacement bool
}

type ScrapResult struct {
	Operation    *Operation
	Order        *ProductionOrder
	Records      []ScrapRecord
	JournalEntry ledger.JournalEntry
	Replacement  *ProductionOrder
	Skipped      []OperationID
	StatusChange *StatusChange
}

// ProcessScrap rejects good units of a completed operation.
func (s *Service) ProcessScrap(ctx context.Context, orderID OrderID, opID OperationID, req ScrapRequest) (*ScrapResult, error) {
	if !req.Quantity.IsPositive() {
		return nil, invalidInput("quantity", "scrap quantity must be positive, got %s", req.Quantity)
	}
	if !req.Reason.Valid() {
		return nil, invalidInput("reason", "unknown scrap reason %q", req.Reason)
	}

	var result *ScrapResult
	err := inTx(ctx, s.Store, func(st Store) error {
		order, op, err := s.loadOperation(ctx, st, orderID, opID)
		if err != nil {
			return err
		}
		if op.Status != OpComplete {
			return &InvalidTransitionError{
				Operation:  op.ID,
				Sequence:   op.Sequence,
				From:       op.Status,
				Transition: "scrap",
				Reason:     fmt.Sprintf("only completed operations can be scrapped; it is %s", op.Status),
			}
		}

		available := op.QuantityCompleted
		if next := order.nextActive(op); next != nil && next.Status == OpComplete {
			available = available.Sub(next.Input())
		}
		if req.Quantity.GreaterThan(available) {
			return &QuantityExceededError{
				Operation: op.ID,
				Requested: req.Quantity,
				Allowed:   available,
				Message:   fmt.Sprintf("Cannot scrap %s units: only %s available to scrap", req.Quantity, available),
			}
		}

		finishedGoods := order.IsLast(op) && order.FinishedGoodsReceived
		result, err = s.writeOff(ctx, st, newProductCache(st), order, op, req.Quantity, req.Reason, req.Notes, finishedGoods)
		if err != nil {
			return err
		}

		op.QuantityCompleted = op.QuantityCompleted.Sub(req.Quantity)
		op.QuantityScrapped = op.QuantityScrapped.Add(req.Quantity)
		if err := st.UpdateOperation(ctx, op); err != nil {
			return err
		}
		order.QuantityScrapped = order.QuantityScrapped.Add(req.Quantity)
		if finishedGoods {
			order.QuantityCompleted = order.QuantityCompleted.Sub(req.Quantity)
		}

		if op.QuantityCompleted.IsZero() {
			result.Skipped, err = s.cascadeSkip(ctx, st, order, op,
				fmt.Sprintf("all units scrapped at operation %d", op.Sequence))
			if err != nil {
				return err
			}
		}

		if req.CreateReplacement {
			result.Replacement, err = s.createOrderIn(ctx, st, NewOrder{
				Product:        order.Product,
				Quantity:       req.Quantity,
				Location:       order.Location,
				BOM:            order.BOM,
				Routing:        order.Routing,
				SalesOrder:     order.SalesOrder,
				SalesOrderLine: order.SalesOrderLine,
				Customer:       order.Customer,
				Channel:        order.Channel,
				RemakeOf:       order.ID,
			})
			if err != nil {
				return err
			}
		}

		result.Operation = op
		result.Order = order
		result.StatusChange, err = s.refreshStatus(ctx, st, order)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// writeOff posts the cascade for qty units rejected at op and stores one
// ScrapRecord per line. Quantity counters are left to the caller.
func (s *Service) writeOff(ctx context.Context, st Store, products *productCache, order *ProductionOrder, at *Operation, qty decimal.Decimal, reason ScrapReason, notes string, finishedGoods bool) (*ScrapResult, error) {
	costs := make(map[ledger.ProductID]decimal.Decimal)
	for _, op := range order.Operations {
		if op.Sequence > at.Sequence {
			break
		}
		for _, m := range op.Materials {
			p, err := products.get(ctx, m.Component)
			if err != nil {
				return nil, err
			}
			costs[m.Component] = p.UnitCost
		}
	}
	cascade := CalculateScrapCascade(order, at, qty, costs)

	memo := fmt.Sprintf("%s op %d: scrap %s units (%s)", order.Number, at.Sequence, qty, reason)
	var post ledger.PostRequest
	if finishedGoods {
		post = ledger.ScrapFinishedGoods(order.Reference(), memo, order.Product, order.Location, qty, cascade.Total)
	} else {
		var movements []ledger.Movement
		for _, line := range cascade.Lines {
			if line.CostItem {
				continue
			}
			movements = append(movements, ledger.Movement{
				Product:  line.Component,
				Location: order.Location,
				Quantity: line.Quantity,
				UnitCost: line.UnitCost,
			})
		}
		post = ledger.ScrapWIP(order.Reference(), memo, cascade.Total, movements)
	}

	entry, err := s.Ledger.PostIn(ctx, st, post)
	if err != nil {
		return nil, err
	}
	txs, err := st.ListInventoryTransactions(ctx, ledger.TransactionFilter{JournalEntryID: entry.ID})
	if err != nil {
		return nil, err
	}

	now := s.Now()
	records := make([]ScrapRecord, 0, len(cascade.Lines))
	next := 0
	for _, line := range cascade.Lines {
		rec := ScrapRecord{
			ID:             ScrapRecordID(s.NewID()),
			Order:          order.ID,
			Operation:      line.Operation,
			ScrappedAt:     at.ID,
			Component:      line.Component,
			Quantity:       line.Quantity,
			UnitCost:       line.UnitCost,
			Cost:           line.Cost,
			Reason:         reason,
			Notes:          notes,
			JournalEntryID: entry.ID,
			CreatedAt:      now,
		}
		switch {
		case finishedGoods && len(txs) > 0:
			rec.InventoryTransactionID = txs[0].ID
		case !line.CostItem && next < len(txs):
			rec.InventoryTransactionID = txs[next].ID
			next++
		}
		records = append(records, rec)
	}
	if err := st.InsertScrapRecords(ctx, records); err != nil {
		return nil, err
	}

	return &ScrapResult{Records: records, JournalEntry: *entry}, nil
}
