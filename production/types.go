/*
Package production drives manufacturing orders through their routing.

PURPOSE:
  A ProductionOrder builds a quantity of one product. On release it gets an
  ordered list of Operations copied from a routing template, each with the
  OperationMaterials it consumes copied from the bill of materials. This
  package reserves those materials, moves operations through their state
  machine, writes off scrapped work, and derives order status. Every stock
  or accounting effect goes through the ledger package.

KEY CONCEPTS IN THIS FILE (types.go):
  - Product / BOM / Routing: catalog data an order is built from
  - ProductionOrder: one manufacturing job, owns its operations
  - Operation: one routing step with a strict sequence number
  - OperationMaterial: planned consumption of one component at one operation
  - ScrapRecord: per-material trace of a scrap write-off
  - SalesOrder: parent document whose status aggregates its orders

OWNERSHIP:
  An order exclusively owns its operations, kept in sequence order. An
  operation owns its materials. Lookups go through explicit foreign keys
  (OrderID, OperationID), never through back-references.

SEE ALSO:
  - status.go: Status enums, transition table, status derivation
  - operations.go: The operation state machine
  - reservation.go: BOM explosion and reservation
  - scrap.go: Scrap cascade
*/
package production

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/production-engine/ledger"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OrderID string
type OperationID string
type MaterialID string
type BOMID string
type RoutingID string
type ResourceID string
type SalesOrderID string
type ScrapRecordID string

// =============================================================================
// CATALOG
// =============================================================================

// CostItemPrefixes mark SKUs that are job-costing placeholders (machine time,
// labour) rather than physical stock.
var CostItemPrefixes = []string{"MACHINE-", "LABOR-", "COST-"}

type Product struct {
	ID            ledger.ProductID
	SKU           string
	Name          string
	UnitOfMeasure string
	UnitCost      decimal.Decimal // standard cost
	LotTracked    bool
}

// IsCostItem reports whether the product participates in costing only.
func (p Product) IsCostItem() bool {
	sku := strings.ToUpper(p.SKU)
	for _, prefix := range CostItemPrefixes {
		if strings.HasPrefix(sku, prefix) {
			return true
		}
	}
	return false
}

type BOM struct {
	ID      BOMID
	Product ledger.ProductID
	Lines   []BOMLine
}

// BOMLine is the quantity of one component per unit of the parent product.
type BOMLine struct {
	Component          ledger.ProductID
	Quantity           decimal.Decimal
	ScrapFactorPercent decimal.Decimal

	// OperationSequence attaches the line to a routing step; 0 means the first.
	OperationSequence int
}

// RequiredFor returns quantity × orderQty × (1 + scrap%/100).
func (l BOMLine) RequiredFor(orderQty decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Add(l.ScrapFactorPercent.Div(decimal.NewFromInt(100)))
	return l.Quantity.Mul(orderQty).Mul(factor)
}

type Routing struct {
	ID      RoutingID
	Product ledger.ProductID
	Steps   []RoutingStep
}

type RoutingStep struct {
	Sequence     int
	Name         string
	SetupMinutes decimal.Decimal
	RunMinutes   decimal.Decimal // per unit
	Resource     ResourceID
}

// LotPolicy requires lot selection for a component when every non-empty
// key matches the order (product, customer, sales channel).
type LotPolicy struct {
	Product  ledger.ProductID
	Customer string
	Channel  string
}

func (p LotPolicy) Matches(product ledger.ProductID, customer, channel string) bool {
	if p.Product != "" && p.Product != product {
		return false
	}
	if p.Customer != "" && p.Customer != customer {
		return false
	}
	if p.Channel != "" && p.Channel != channel {
		return false
	}
	return true
}

// =============================================================================
// ORDERS AND OPERATIONS
// =============================================================================

type ProductionOrder struct {
	ID                OrderID
	Number            string
	Product           ledger.ProductID
	BOM               BOMID
	Routing           RoutingID
	Location          ledger.LocationID
	QuantityOrdered   decimal.Decimal
	QuantityCompleted decimal.Decimal
	QuantityScrapped  decimal.Decimal
	Status            OrderStatus

	SalesOrder     SalesOrderID
	SalesOrderLine int
	Customer       string
	Channel        string

	// RemakeOf is set on replacement orders created by a scrap event.
	RemakeOf OrderID
	QCPassed bool

	FinishedGoodsReceived bool

	ActualStart *time.Time
	ActualEnd   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Operations in sequence order. Populated by the store on load.
	Operations []Operation
}

// Reference is the ledger back-pointer for postings made for this order.
func (o *ProductionOrder) Reference() ledger.Reference {
	return ledger.Reference{Type: ledger.RefProductionOrder, ID: string(o.ID)}
}

// Operation returns the operation with id, or nil.
func (o *ProductionOrder) Operation(id OperationID) *Operation {
	for i := range o.Operations {
		if o.Operations[i].ID == id {
			return &o.Operations[i]
		}
	}
	return nil
}

// IsLast reports whether op is the final operation of the routing.
func (o *ProductionOrder) IsLast(op *Operation) bool {
	return len(o.Operations) > 0 && o.Operations[len(o.Operations)-1].ID == op.ID
}

type Operation struct {
	ID       OperationID
	Order    OrderID
	Sequence int
	Name     string
	Status   OperationStatus

	PlannedSetupMinutes decimal.Decimal
	PlannedRunMinutes   decimal.Decimal
	ActualStart         *time.Time
	ActualEnd           *time.Time

	// QuantityCompleted is the good output still standing at this step;
	// later scrap of good units moves quantity from here to QuantityScrapped.
	QuantityCompleted decimal.Decimal
	QuantityScrapped  decimal.Decimal

	Resource   ResourceID
	Operator   string
	SkipReason string

	// Version increments on every write; a stale write is a conflict.
	Version int

	Materials []OperationMaterial
}

// Input is the number of units this operation processed.
func (op *Operation) Input() decimal.Decimal {
	return op.QuantityCompleted.Add(op.QuantityScrapped)
}

type OperationMaterial struct {
	ID               MaterialID
	Operation        OperationID
	Component        ledger.ProductID
	QuantityRequired decimal.Decimal // for the full order quantity
	QuantityReserved decimal.Decimal // currently allocated for this order
	QuantityConsumed decimal.Decimal
	Lot              string
	// Location holds the reservation and is issued from; empty means the
	// order's location.
	Location ledger.LocationID
	CostItem bool
}

// Source is where the material is allocated and issued from.
func (m OperationMaterial) Source(order *ProductionOrder) ledger.LocationID {
	if m.Location != "" {
		return m.Location
	}
	return order.Location
}

// Shortfall is what is still neither reserved nor consumed.
func (m OperationMaterial) Shortfall() decimal.Decimal {
	s := m.QuantityRequired.Sub(m.QuantityReserved).Sub(m.QuantityConsumed)
	if s.IsNegative() {
		return decimal.Zero
	}
	return s
}

// =============================================================================
// SCRAP
// =============================================================================

type ScrapReason string

const (
	ScrapDefect   ScrapReason = "defect"
	ScrapDamage   ScrapReason = "damage"
	ScrapSetup    ScrapReason = "setup"
	ScrapMaterial ScrapReason = "material"
	ScrapMachine  ScrapReason = "machine"
	ScrapOperator ScrapReason = "operator"
	ScrapOther    ScrapReason = "other"
)

func (r ScrapReason) Valid() bool {
	switch r {
	case ScrapDefect, ScrapDamage, ScrapSetup, ScrapMaterial, ScrapMachine, ScrapOperator, ScrapOther:
		return true
	}
	return false
}

// ScrapRecord traces the write-off of one component consumed at one operation.
type ScrapRecord struct {
	ID                     ScrapRecordID
	Order                  OrderID
	Operation              OperationID // where the material was consumed
	ScrappedAt             OperationID // where the units were rejected
	Component              ledger.ProductID
	Quantity               decimal.Decimal
	UnitCost               decimal.Decimal
	Cost                   decimal.Decimal
	Reason                 ScrapReason
	Notes                  string
	InventoryTransactionID ledger.TransactionID // empty for cost items
	JournalEntryID         ledger.EntryID
	CreatedAt              time.Time
}

// =============================================================================
// SALES ORDERS
// =============================================================================

type SalesOrder struct {
	ID        SalesOrderID
	Customer  string
	Channel   string
	Status    SalesOrderStatus
	UpdatedAt time.Time
}
