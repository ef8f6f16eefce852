/*
Package ledger provides the inventory-accounting primitive of the production engine.

PURPOSE:
  Every physical stock movement (issue to production, finished-goods receipt,
  scrap write-off, shipment, adjustment) is recorded together with a balanced
  double-entry journal entry, in one atomic unit. Nothing else in the system
  is allowed to change on-hand quantities or create journal entries.

KEY CONCEPTS IN THIS FILE (types.go):
  - Movement: A signed quantity change for (product, location) at a unit cost
  - Inventory: Per (product, location) on-hand and allocated quantities
  - InventoryTransaction: Immutable log record of one movement
  - JournalEntry / JournalLine: Balanced debit/credit record
  - AccountLine: Input form of a journal line (positive = debit)

DESIGN PRINCIPLES:
  1. Immutability: Transactions and entries are never modified, only offset
  2. Precision: Uses decimal.Decimal, never float64, for quantities and money
  3. Type Safety: Distinct ID types prevent mixing products, locations, accounts
  4. Traceability: Every transaction points at its source document and entry

USAGE:
  entry, err := l.Post(ctx, ledger.PostRequest{
      Memo:      "issue materials",
      Reference: ledger.Reference{Type: ledger.RefProductionOrder, ID: "po-1"},
      Lines: []ledger.AccountLine{
          {Account: ledger.AccountWIP, Amount: decimal.NewFromInt(50)},
          {Account: ledger.AccountRawMaterials, Amount: decimal.NewFromInt(-50)},
      },
      Movements: []ledger.Movement{...},
  })

SEE ALSO:
  - ledger.go: The Post primitive
  - wrappers.go: Named business events built on Post
  - store.go: Persistence interfaces
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProductID string
type LocationID string
type AccountCode string
type EntryID string
type TransactionID string

// DefaultLocation is used when a caller does not name a stock location.
const DefaultLocation LocationID = "MAIN"

// =============================================================================
// MONEY
// =============================================================================

// MoneyPlaces is the number of decimal places of the minor currency unit.
const MoneyPlaces = 2

// BalanceTolerance is one minor currency unit. Entries whose debits and
// credits differ by more than this are rejected.
var BalanceTolerance = decimal.New(1, -MoneyPlaces)

// RoundMoney rounds an amount to the minor currency unit.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// MustDecimal parses s or panics. Intended for literals in tests and presets.
func MustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// =============================================================================
// REFERENCES
// =============================================================================

type ReferenceType string

const (
	RefProductionOrder ReferenceType = "production_order"
	RefOperation       ReferenceType = "operation"
	RefShipment        ReferenceType = "shipment"
	RefPurchase        ReferenceType = "purchase"
	RefAdjustment      ReferenceType = "adjustment"
	RefManual          ReferenceType = "manual"
)

// Reference points back at the source document of a movement or entry.
type Reference struct {
	Type ReferenceType
	ID   string
}

func (r Reference) IsZero() bool { return r.Type == "" && r.ID == "" }

// =============================================================================
// INVENTORY
// =============================================================================

// Inventory is the stock position of one product at one location.
// Available may be negative only after an adjustment flagged for approval.
type Inventory struct {
	Product   ProductID
	Location  LocationID
	OnHand    decimal.Decimal
	Allocated decimal.Decimal
	UpdatedAt time.Time
}

func (i Inventory) Available() decimal.Decimal { return i.OnHand.Sub(i.Allocated) }

type TransactionType string

const (
	TxReservation TransactionType = "reservation"
	TxRelease     TransactionType = "release"
	TxConsumption TransactionType = "consumption"
	TxReceipt     TransactionType = "receipt"
	TxScrap       TransactionType = "scrap"
	TxShipment    TransactionType = "shipment"
	TxAdjustment  TransactionType = "adjustment"
)

// Moves reports whether the type changes on-hand stock. Reservation and
// release only touch Allocated and go through AllocateIn/ReleaseIn.
func (t TransactionType) Moves() bool {
	switch t {
	case TxConsumption, TxReceipt, TxScrap, TxShipment, TxAdjustment:
		return true
	}
	return false
}

// Movement is one requested inventory change, input to Post.
type Movement struct {
	Product  ProductID
	Location LocationID
	Quantity decimal.Decimal // signed: negative leaves stock
	UnitCost decimal.Decimal
	Type     TransactionType
	Lot      string

	// ReleaseAllocated reduces the allocated quantity along with on-hand,
	// for consumption of previously reserved stock. Must be non-negative.
	ReleaseAllocated decimal.Decimal

	// LogOnly records the transaction without touching the Inventory row.
	// Used for write-offs of quantities that already left stock into WIP.
	LogOnly bool
}

// InventoryTransaction is the immutable record of one movement.
type InventoryTransaction struct {
	ID             TransactionID
	Product        ProductID
	Location       LocationID
	Type           TransactionType
	Quantity       decimal.Decimal
	UnitCost       decimal.Decimal
	Lot            string
	Reference      Reference
	JournalEntryID EntryID // empty for pure allocations
	CreatedAt      time.Time
}

// Value returns quantity times unit cost, signed.
func (t InventoryTransaction) Value() decimal.Decimal { return t.Quantity.Mul(t.UnitCost) }

// =============================================================================
// JOURNAL
// =============================================================================

type Side string

const (
	Debit  Side = "debit"
	Credit Side = "credit"
)

// AccountLine is the input form of a journal line: positive amounts are
// debits, negative amounts are credits.
type AccountLine struct {
	Account AccountCode
	Amount  decimal.Decimal
	Memo    string
}

type JournalLine struct {
	Account AccountCode
	Side    Side
	Amount  decimal.Decimal // always positive
	Memo    string
}

// JournalEntry is a balanced double-entry record. Never edited after creation.
type JournalEntry struct {
	ID        EntryID
	Number    string // JE-2026-000042
	PostedAt  time.Time
	Memo      string
	Reference Reference
	Lines     []JournalLine
}

func (e JournalEntry) Debits() decimal.Decimal  { return e.total(Debit) }
func (e JournalEntry) Credits() decimal.Decimal { return e.total(Credit) }

func (e JournalEntry) total(side Side) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range e.Lines {
		if l.Side == side {
			sum = sum.Add(l.Amount)
		}
	}
	return sum
}

// IsBalanced reports whether debits equal credits within one minor unit.
func (e JournalEntry) IsBalanced() bool {
	return e.Debits().Sub(e.Credits()).Abs().LessThanOrEqual(BalanceTolerance)
}

// toJournalLines converts signed input lines into debit/credit lines.
func toJournalLines(lines []AccountLine) []JournalLine {
	out := make([]JournalLine, 0, len(lines))
	for _, l := range lines {
		jl := JournalLine{Account: l.Account, Amount: l.Amount.Abs(), Memo: l.Memo}
		if l.Amount.IsNegative() {
			jl.Side = Credit
		} else {
			jl.Side = Debit
		}
		out = append(out, jl)
	}
	return out
}

// FormatEntryNumber renders the year-scoped entry number.
func FormatEntryNumber(year, seq int) string {
	return fmt.Sprintf("JE-%04d-%06d", year, seq)
}
