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
// PRODUCTS
// =============================================================================

type productRow struct {
	ID            string          `db:"id"`
	SKU           string          `db:"sku"`
	Name          string          `db:"name"`
	UnitOfMeasure string          `db:"unit_of_measure"`
	UnitCost      decimal.Decimal `db:"unit_cost"`
	LotTracked    bool            `db:"lot_tracked"`
}

func (q queries) GetProduct(ctx context.Context, id ledger.ProductID) (*production.Product, error) {
	var row productRow
	err := sqlx.GetContext(ctx, q.q, &row, `
		SELECT id, sku, name, unit_of_measure, unit_cost, lot_tracked
		FROM products WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.NotFoundError{Kind: "product", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load product: %w", err)
	}
	return &production.Product{
		ID:            ledger.ProductID(row.ID),
		SKU:           row.SKU,
		Name:          row.Name,
		UnitOfMeasure: row.UnitOfMeasure,
		UnitCost:      row.UnitCost,
		LotTracked:    row.LotTracked,
	}, nil
}

func (q queries) SaveProduct(ctx context.Context, p production.Product) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO products (id, sku, name, unit_of_measure, unit_cost, lot_tracked)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sku = excluded.sku,
			name = excluded.name,
			unit_of_measure = excluded.unit_of_measure,
			unit_cost = excluded.unit_cost,
			lot_tracked = excluded.lot_tracked`,
		p.ID, p.SKU, p.Name, p.UnitOfMeasure, p.UnitCost.String(), p.LotTracked)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("sku %s is already used by another product: %w", p.SKU, err)
		}
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

// =============================================================================
// BILLS OF MATERIALS
// =============================================================================

type bomLineRow struct {
	Component          string          `db:"component_id"`
	Quantity           decimal.Decimal `db:"quantity"`
	ScrapFactorPercent decimal.Decimal `db:"scrap_factor_percent"`
	OperationSequence  int             `db:"operation_sequence"`
}

func (q queries) GetBOM(ctx context.Context, id production.BOMID) (*production.BOM, error) {
	return q.getBOM(ctx, `WHERE id = ?`, string(id), id)
}

// GetBOMForProduct returns the product's first BOM by id.
func (q queries) GetBOMForProduct(ctx context.Context, product ledger.ProductID) (*production.BOM, error) {
	return q.getBOM(ctx, `WHERE product_id = ? ORDER BY id LIMIT 1`, "for product "+string(product), product)
}

func (q queries) getBOM(ctx context.Context, where, label string, args ...any) (*production.BOM, error) {
	var head struct {
		ID      string `db:"id"`
		Product string `db:"product_id"`
	}
	err := sqlx.GetContext(ctx, q.q, &head, `SELECT id, product_id FROM boms `+where, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.NotFoundError{Kind: "bom", ID: label}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load bom: %w", err)
	}

	var lines []bomLineRow
	err = sqlx.SelectContext(ctx, q.q, &lines, `
		SELECT component_id, quantity, scrap_factor_percent, operation_sequence
		FROM bom_lines WHERE bom_id = ? ORDER BY line_no`, head.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load bom lines: %w", err)
	}

	bom := &production.BOM{ID: production.BOMID(head.ID), Product: ledger.ProductID(head.Product)}
	for _, l := range lines {
		bom.Lines = append(bom.Lines, production.BOMLine{
			Component:          ledger.ProductID(l.Component),
			Quantity:           l.Quantity,
			ScrapFactorPercent: l.ScrapFactorPercent,
			OperationSequence:  l.OperationSequence,
		})
	}
	return bom, nil
}

// SaveBOM replaces the BOM and all of its lines.
func (q queries) SaveBOM(ctx context.Context, bom production.BOM) error {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM bom_lines WHERE bom_id = ?`, bom.ID); err != nil {
		return fmt.Errorf("failed to clear bom lines: %w", err)
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO boms (id, product_id) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET product_id = excluded.product_id`,
		bom.ID, bom.Product)
	if err != nil {
		return fmt.Errorf("failed to save bom: %w", err)
	}
	for i, l := range bom.Lines {
		_, err := q.q.ExecContext(ctx, `
			INSERT INTO bom_lines (bom_id, line_no, component_id, quantity, scrap_factor_percent, operation_sequence)
			VALUES (?, ?, ?, ?, ?, ?)`,
			bom.ID, i+1, l.Component, l.Quantity.String(), l.ScrapFactorPercent.String(), l.OperationSequence)
		if err != nil {
			return fmt.Errorf("failed to save bom line %d: %w", i+1, err)
		}
	}
	return nil
}

// =============================================================================
// ROUTINGS
// =============================================================================

type routingStepRow struct {
	Sequence     int             `db:"sequence"`
	Name         string          `db:"name"`
	SetupMinutes decimal.Decimal `db:"setup_minutes"`
	RunMinutes   decimal.Decimal `db:"run_minutes"`
	Resource     string          `db:"resource_id"`
}

func (q queries) GetRouting(ctx context.Context, id production.RoutingID) (*production.Routing, error) {
	return q.getRouting(ctx, `WHERE id = ?`, string(id), id)
}

func (q queries) GetRoutingForProduct(ctx context.Context, product ledger.ProductID) (*production.Routing, error) {
	return q.getRouting(ctx, `WHERE product_id = ? ORDER BY id LIMIT 1`, "for product "+string(product), product)
}

func (q queries) getRouting(ctx context.Context, where, label string, args ...any) (*production.Routing, error) {
	var head struct {
		ID      string `db:"id"`
		Product string `db:"product_id"`
	}
	err := sqlx.GetContext(ctx, q.q, &head, `SELECT id, product_id FROM routings `+where, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.NotFoundError{Kind: "routing", ID: label}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load routing: %w", err)
	}

	var steps []routingStepRow
	err = sqlx.SelectContext(ctx, q.q, &steps, `
		SELECT sequence, name, setup_minutes, run_minutes, resource_id
		FROM routing_steps WHERE routing_id = ? ORDER BY sequence`, head.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load routing steps: %w", err)
	}

	routing := &production.Routing{ID: production.RoutingID(head.ID), Product: ledger.ProductID(head.Product)}
	for _, s := range steps {
		routing.Steps = append(routing.Steps, production.RoutingStep{
			Sequence:     s.Sequence,
			Name:         s.Name,
			SetupMinutes: s.SetupMinutes,
			RunMinutes:   s.RunMinutes,
			Resource:     production.ResourceID(s.Resource),
		})
	}
	return routing, nil
}

// SaveRouting replaces the routing and all of its steps.
func (q queries) SaveRouting(ctx context.Context, r production.Routing) error {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM routing_steps WHERE routing_id = ?`, r.ID); err != nil {
		return fmt.Errorf("failed to clear routing steps: %w", err)
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO routings (id, product_id) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET product_id = excluded.product_id`,
		r.ID, r.Product)
	if err != nil {
		return fmt.Errorf("failed to save routing: %w", err)
	}
	for _, s := range r.Steps {
		_, err := q.q.ExecContext(ctx, `
			INSERT INTO routing_steps (routing_id, sequence, name, setup_minutes, run_minutes, resource_id)
			VALUES (?, ?, ?, ?, ?, ?)`,
			r.ID, s.Sequence, s.Name, s.SetupMinutes.String(), s.RunMinutes.String(), s.Resource)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("routing %s repeats sequence %d: %w", r.ID, s.Sequence, err)
			}
			return fmt.Errorf("failed to save routing step %d: %w", s.Sequence, err)
		}
	}
	return nil
}

// =============================================================================
// LOT POLICIES AND SALES ORDERS
// =============================================================================

func (q queries) ListLotPolicies(ctx context.Context) ([]production.LotPolicy, error) {
	var rows []struct {
		Product  string `db:"product_id"`
		Customer string `db:"customer"`
		Channel  string `db:"channel"`
	}
	if err := sqlx.SelectContext(ctx, q.q, &rows, `SELECT product_id, customer, channel FROM lot_policies ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list lot policies: %w", err)
	}
	policies := make([]production.LotPolicy, 0, len(rows))
	for _, r := range rows {
		policies = append(policies, production.LotPolicy{
			Product:  ledger.ProductID(r.Product),
			Customer: r.Customer,
			Channel:  r.Channel,
		})
	}
	return policies, nil
}

func (q queries) SaveLotPolicy(ctx context.Context, p production.LotPolicy) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO lot_policies (product_id, customer, channel) VALUES (?, ?, ?)`,
		p.Product, p.Customer, p.Channel)
	if err != nil {
		return fmt.Errorf("failed to save lot policy: %w", err)
	}
	return nil
}

func (q queries) GetSalesOrder(ctx context.Context, id production.SalesOrderID) (*production.SalesOrder, error) {
	var row struct {
		ID        string `db:"id"`
		Customer  string `db:"customer"`
		Channel   string `db:"channel"`
		Status    string `db:"status"`
		UpdatedAt string `db:"updated_at"`
	}
	err := sqlx.GetContext(ctx, q.q, &row,
		`SELECT id, customer, channel, status, updated_at FROM sales_orders WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.NotFoundError{Kind: "sales order", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sales order: %w", err)
	}
	return &production.SalesOrder{
		ID:        production.SalesOrderID(row.ID),
		Customer:  row.Customer,
		Channel:   row.Channel,
		Status:    production.SalesOrderStatus(row.Status),
		UpdatedAt: parseTime(row.UpdatedAt),
	}, nil
}

func (q queries) SaveSalesOrder(ctx context.Context, so production.SalesOrder) error {
	status := so.Status
	if status == "" {
		status = production.SalesOpen
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO sales_orders (id, customer, channel, status, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			customer = excluded.customer,
			channel = excluded.channel,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		so.ID, so.Customer, so.Channel, status, formatTime(so.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save sales order: %w", err)
	}
	return nil
}
