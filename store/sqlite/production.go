package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/warp/production-engine/ledger"
	"github.com/warp/production-engine/production"
)

// =============================================================================
// ORDERS (production.Store)
// =============================================================================

type orderRow struct {
	ID                string          `db:"id"`
	Number            string          `db:"number"`
	Product           string          `db:"product_id"`
	BOM               string          `db:"bom_id"`
	Routing           string          `db:"routing_id"`
	Location          string          `db:"location_id"`
	QuantityOrdered   decimal.Decimal `db:"quantity_ordered"`
	QuantityCompleted decimal.Decimal `db:"quantity_completed"`
	QuantityScrapped  decimal.Decimal `db:"quantity_scrapped"`
	Status            string          `db:"status"`
	SalesOrder        string          `db:"sales_order_id"`
	SalesOrderLine    int             `db:"sales_order_line"`
	Customer          string          `db:"customer"`
	Channel           string          `db:"channel"`
	RemakeOf          string          `db:"remake_of"`
	QCPassed          bool            `db:"qc_passed"`
	FGReceived        bool            `db:"fg_received"`
	ActualStart       string          `db:"actual_start"`
	ActualEnd         string          `db:"actual_end"`
	CompletedAt       string          `db:"completed_at"`
	CreatedAt         string          `db:"created_at"`
	UpdatedAt         string          `db:"updated_at"`
}

const orderColumns = `id, number, product_id, bom_id, routing_id, location_id,
	quantity_ordered, quantity_completed, quantity_scrapped, status,
	sales_order_id, sales_order_line, customer, channel, remake_of,
	qc_passed, fg_received, actual_start, actual_end, completed_at, created_at, updated_at`

func (r orderRow) toOrder() production.ProductionOrder {
	return production.ProductionOrder{
		ID:                    production.OrderID(r.ID),
		Number:                r.Number,
		Product:               ledger.ProductID(r.Product),
		BOM:                   production.BOMID(r.BOM),
		Routing:               production.RoutingID(r.Routing),
		Location:              ledger.LocationID(r.Location),
		QuantityOrdered:       r.QuantityOrdered,
		QuantityCompleted:     r.QuantityCompleted,
		QuantityScrapped:      r.QuantityScrapped,
		Status:                production.OrderStatus(r.Status),
		SalesOrder:            production.SalesOrderID(r.SalesOrder),
		SalesOrderLine:        r.SalesOrderLine,
		Customer:              r.Customer,
		Channel:               r.Channel,
		RemakeOf:              production.OrderID(r.RemakeOf),
		QCPassed:              r.QCPassed,
		FinishedGoodsReceived: r.FGReceived,
		ActualStart:           parseTimePtr(r.ActualStart),
		ActualEnd:             parseTimePtr(r.ActualEnd),
		CompletedAt:           parseTimePtr(r.CompletedAt),
		CreatedAt:             parseTime(r.CreatedAt),
		UpdatedAt:             parseTime(r.UpdatedAt),
	}
}

func (q queries) NextOrderSequence(ctx context.Context) (int, error) {
	return q.nextSequence(ctx, "PO")
}

func (q queries) InsertOrder(ctx context.Context, o production.ProductionOrder) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO production_orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.Number, o.Product, o.BOM, o.Routing, o.Location,
		o.QuantityOrdered.String(), o.QuantityCompleted.String(), o.QuantityScrapped.String(), o.Status,
		o.SalesOrder, o.SalesOrderLine, o.Customer, o.Channel, o.RemakeOf,
		o.QCPassed, o.FinishedGoodsReceived,
		formatTimePtr(o.ActualStart), formatTimePtr(o.ActualEnd), formatTimePtr(o.CompletedAt),
		formatTime(o.CreatedAt), formatTime(o.UpdatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("order %s already exists: %w", o.Number, err)
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (q queries) UpdateOrder(ctx context.Context, o production.ProductionOrder) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE production_orders SET
			quantity_completed = ?, quantity_scrapped = ?, status = ?,
			qc_passed = ?, fg_received = ?,
			actual_start = ?, actual_end = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`,
		o.QuantityCompleted.String(), o.QuantityScrapped.String(), o.Status,
		o.QCPassed, o.FinishedGoodsReceived,
		formatTimePtr(o.ActualStart), formatTimePtr(o.ActualEnd), formatTimePtr(o.CompletedAt),
		formatTime(o.UpdatedAt), o.ID)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ledger.NotFoundError{Kind: "order", ID: string(o.ID)}
	}
	return nil
}

func (q queries) GetOrder(ctx context.Context, id production.OrderID) (*production.ProductionOrder, error) {
	var row orderRow
	err := sqlx.GetContext(ctx, q.q, &row, `SELECT `+orderColumns+` FROM production_orders WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.NotFoundError{Kind: "order", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	order := row.toOrder()
	if order.Operations, err = q.loadOperations(ctx, order.ID); err != nil {
		return nil, err
	}
	return &order, nil
}

func (q queries) ListOrdersBySalesOrder(ctx context.Context, id production.SalesOrderID) ([]production.ProductionOrder, error) {
	return q.listOrders(ctx, `WHERE sales_order_id = ? ORDER BY number`, id)
}

func (q queries) ListActiveOrders(ctx context.Context) ([]production.ProductionOrder, error) {
	return q.listOrders(ctx, `WHERE status NOT IN (?, ?, ?) ORDER BY number`,
		production.OrderComplete, production.OrderShort, production.OrderCancelled)
}

func (q queries) listOrders(ctx context.Context, where string, args ...any) ([]production.ProductionOrder, error) {
	var rows []orderRow
	if err := sqlx.SelectContext(ctx, q.q, &rows, `SELECT `+orderColumns+` FROM production_orders `+where, args...); err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	orders := make([]production.ProductionOrder, 0, len(rows))
	for _, r := range rows {
		o := r.toOrder()
		ops, err := q.loadOperations(ctx, o.ID)
		if err != nil {
			return nil, err
		}
		o.Operations = ops
		orders = append(orders, o)
	}
	return orders, nil
}

// =============================================================================
// OPERATIONS AND MATERIALS (production.Store)
// =============================================================================

type operationRow struct {
	ID                  string          `db:"id"`
	Order               string          `db:"order_id"`
	Sequence            int             `db:"sequence"`
	Name                string          `db:"name"`
	Status              string          `db:"status"`
	PlannedSetupMinutes decimal.Decimal `db:"planned_setup_minutes"`
	PlannedRunMinutes   decimal.Decimal `db:"planned_run_minutes"`
	ActualStart         string          `db:"actual_start"`
	ActualEnd           string          `db:"actual_end"`
	QuantityCompleted   decimal.Decimal `db:"quantity_completed"`
	QuantityScrapped    decimal.Decimal `db:"quantity_scrapped"`
	Resource            string          `db:"resource_id"`
	Operator            string          `db:"operator"`
	SkipReason          string          `db:"skip_reason"`
	Version             int             `db:"version"`
}

const operationColumns = `id, order_id, sequence, name, status,
	planned_setup_minutes, planned_run_minutes, actual_start, actual_end,
	quantity_completed, quantity_scrapped, resource_id, operator, skip_reason, version`

func (r operationRow) toOperation() production.Operation {
	return production.Operation{
		ID:                  production.OperationID(r.ID),
		Order:               production.OrderID(r.Order),
		Sequence:            r.Sequence,
		Name:                r.Name,
		Status:              production.OperationStatus(r.Status),
		PlannedSetupMinutes: r.PlannedSetupMinutes,
		PlannedRunMinutes:   r.PlannedRunMinutes,
		ActualStart:         parseTimePtr(r.ActualStart),
		ActualEnd:           parseTimePtr(r.ActualEnd),
		QuantityCompleted:   r.QuantityCompleted,
		QuantityScrapped:    r.QuantityScrapped,
		Resource:            production.ResourceID(r.Resource),
		Operator:            r.Operator,
		SkipReason:          r.SkipReason,
		Version:             r.Version,
	}
}

type materialRow struct {
	ID               string          `db:"id"`
	Operation        string          `db:"operation_id"`
	Component        string          `db:"component_id"`
	QuantityRequired decimal.Decimal `db:"quantity_required"`
	QuantityReserved decimal.Decimal `db:"quantity_reserved"`
	QuantityConsumed decimal.Decimal `db:"quantity_consumed"`
	Lot              string          `db:"lot"`
	Location         string          `db:"location_id"`
	CostItem         bool            `db:"cost_item"`
}

func (q queries) loadOperations(ctx context.Context, order production.OrderID) ([]production.Operation, error) {
	var rows []operationRow
	err := sqlx.SelectContext(ctx, q.q, &rows,
		`SELECT `+operationColumns+` FROM operations WHERE order_id = ? ORDER BY sequence`, order)
	if err != nil {
		return nil, fmt.Errorf("failed to load operations: %w", err)
	}

	var materials []materialRow
	err = sqlx.SelectContext(ctx, q.q, &materials, `
		SELECT m.id, m.operation_id, m.component_id, m.quantity_required,
			m.quantity_reserved, m.quantity_consumed, m.lot, m.location_id, m.cost_item
		FROM operation_materials m
		JOIN operations o ON o.id = m.operation_id
		WHERE o.order_id = ?
		ORDER BY o.sequence, m.position`, order)
	if err != nil {
		return nil, fmt.Errorf("failed to load operation materials: %w", err)
	}

	byOp := make(map[string][]production.OperationMaterial, len(rows))
	for _, m := range materials {
		byOp[m.Operation] = append(byOp[m.Operation], production.OperationMaterial{
			ID:               production.MaterialID(m.ID),
			Operation:        production.OperationID(m.Operation),
			Component:        ledger.ProductID(m.Component),
			QuantityRequired: m.QuantityRequired,
			QuantityReserved: m.QuantityReserved,
			QuantityConsumed: m.QuantityConsumed,
			Lot:              m.Lot,
			Location:         ledger.LocationID(m.Location),
			CostItem:         m.CostItem,
		})
	}

	ops := make([]production.Operation, 0, len(rows))
	for _, r := range rows {
		op := r.toOperation()
		op.Materials = byOp[r.ID]
		ops = append(ops, op)
	}
	return ops, nil
}

func (q queries) InsertOperations(ctx context.Context, ops []production.Operation) error {
	for _, op := range ops {
		_, err := q.q.ExecContext(ctx, `
			INSERT INTO operations (`+operationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			op.ID, op.Order, op.Sequence, op.Name, op.Status,
			op.PlannedSetupMinutes.String(), op.PlannedRunMinutes.String(),
			formatTimePtr(op.ActualStart), formatTimePtr(op.ActualEnd),
			op.QuantityCompleted.String(), op.QuantityScrapped.String(),
			op.Resource, op.Operator, op.SkipReason, op.Version)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("operation sequence %d already exists on order %s: %w", op.Sequence, op.Order, err)
			}
			return fmt.Errorf("failed to insert operation: %w", err)
		}
		for i, m := range op.Materials {
			_, err := q.q.ExecContext(ctx, `
				INSERT INTO operation_materials (
					id, operation_id, position, component_id, quantity_required,
					quantity_reserved, quantity_consumed, lot, location_id, cost_item
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				m.ID, op.ID, i, m.Component, m.QuantityRequired.String(),
				m.QuantityReserved.String(), m.QuantityConsumed.String(), m.Lot, m.Location, m.CostItem)
			if err != nil {
				return fmt.Errorf("failed to insert operation material: %w", err)
			}
		}
	}
	return nil
}

func (q queries) UpdateOperation(ctx context.Context, op *production.Operation) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE operations SET
			status = ?, actual_start = ?, actual_end = ?,
			quantity_completed = ?, quantity_scrapped = ?,
			resource_id = ?, operator = ?, skip_reason = ?,
			version = version + 1
		WHERE id = ? AND version = ?`,
		op.Status, formatTimePtr(op.ActualStart), formatTimePtr(op.ActualEnd),
		op.QuantityCompleted.String(), op.QuantityScrapped.String(),
		op.Resource, op.Operator, op.SkipReason,
		op.ID, op.Version)
	if err != nil {
		return fmt.Errorf("failed to update operation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := sqlx.GetContext(ctx, q.q, &exists, `SELECT COUNT(*) FROM operations WHERE id = ?`, op.ID); err != nil {
			return fmt.Errorf("failed to check operation: %w", err)
		}
		if exists == 0 {
			return &ledger.NotFoundError{Kind: "operation", ID: string(op.ID)}
		}
		return &production.ConflictError{
			Operation: op.ID,
			Message:   fmt.Sprintf("operation %d was modified by another request; reload and retry", op.Sequence),
		}
	}
	op.Version++
	return nil
}

func (q queries) RunningOnResource(ctx context.Context, resource production.ResourceID, exclude production.OperationID) (*production.Operation, error) {
	var row operationRow
	err := sqlx.GetContext(ctx, q.q, &row, `
		SELECT `+operationColumns+` FROM operations
		WHERE resource_id = ? AND status = ? AND id <> ?
		LIMIT 1`, resource, production.OpRunning, exclude)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check resource %s: %w", resource, err)
	}
	op := row.toOperation()
	return &op, nil
}

func (q queries) UpdateMaterial(ctx context.Context, m production.OperationMaterial) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE operation_materials SET
			quantity_reserved = ?, quantity_consumed = ?, lot = ?, location_id = ?
		WHERE id = ?`,
		m.QuantityReserved.String(), m.QuantityConsumed.String(), m.Lot, m.Location, m.ID)
	if err != nil {
		return fmt.Errorf("failed to update operation material: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ledger.NotFoundError{Kind: "operation material", ID: string(m.ID)}
	}
	return nil
}

// =============================================================================
// SCRAP RECORDS (production.Store)
// =============================================================================

type scrapRow struct {
	ID                     string          `db:"id"`
	Order                  string          `db:"order_id"`
	Operation              string          `db:"operation_id"`
	ScrappedAt             string          `db:"scrapped_at_operation_id"`
	Component              string          `db:"component_id"`
	Quantity               decimal.Decimal `db:"quantity"`
	UnitCost               decimal.Decimal `db:"unit_cost"`
	Cost                   decimal.Decimal `db:"cost"`
	Reason                 string          `db:"reason"`
	Notes                  string          `db:"notes"`
	InventoryTransactionID string          `db:"inventory_transaction_id"`
	JournalEntryID         string          `db:"journal_entry_id"`
	CreatedAt              string          `db:"created_at"`
}

func (q queries) InsertScrapRecords(ctx context.Context, records []production.ScrapRecord) error {
	for _, r := range records {
		_, err := q.q.ExecContext(ctx, `
			INSERT INTO scrap_records (
				id, order_id, operation_id, scrapped_at_operation_id, component_id,
				quantity, unit_cost, cost, reason, notes,
				inventory_transaction_id, journal_entry_id, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.Order, r.Operation, r.ScrappedAt, r.Component,
			r.Quantity.String(), r.UnitCost.String(), r.Cost.String(), r.Reason, r.Notes,
			nullString(string(r.InventoryTransactionID)), r.JournalEntryID, formatTime(r.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert scrap record: %w", err)
		}
	}
	return nil
}

func (q queries) ListScrapRecords(ctx context.Context, order production.OrderID) ([]production.ScrapRecord, error) {
	var rows []scrapRow
	err := sqlx.SelectContext(ctx, q.q, &rows, `
		SELECT id, order_id, operation_id, scrapped_at_operation_id, component_id,
			quantity, unit_cost, cost, reason, notes,
			COALESCE(inventory_transaction_id, '') AS inventory_transaction_id,
			journal_entry_id, created_at
		FROM scrap_records WHERE order_id = ? ORDER BY rowid`, order)
	if err != nil {
		return nil, fmt.Errorf("failed to list scrap records: %w", err)
	}
	records := make([]production.ScrapRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, production.ScrapRecord{
			ID:                     production.ScrapRecordID(r.ID),
			Order:                  production.OrderID(r.Order),
			Operation:              production.OperationID(r.Operation),
			ScrappedAt:             production.OperationID(r.ScrappedAt),
			Component:              ledger.ProductID(r.Component),
			Quantity:               r.Quantity,
			UnitCost:               r.UnitCost,
			Cost:                   r.Cost,
			Reason:                 production.ScrapReason(r.Reason),
			Notes:                  r.Notes,
			InventoryTransactionID: ledger.TransactionID(r.InventoryTransactionID),
			JournalEntryID:         ledger.EntryID(r.JournalEntryID),
			CreatedAt:              parseTime(r.CreatedAt),
		})
	}
	return records, nil
}
