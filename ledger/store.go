/*
store.go - Persistence interface for inventory and journal data

PURPOSE:
  Defines the boundary between the ledger primitive and the database.
  The ledger never holds state of its own; every read and write goes
  through a Store, and every multi-step mutation runs inside WithTx.

KEY INTERFACES:
  Store:   Inventory rows, journal entries, inventory transactions
  TxStore: Store plus WithTx for all-or-nothing units of work

APPEND-ONLY CONTRACT:
  - Journal entries and inventory transactions have insert methods only
  - Inventory rows are mutated by delta, never overwritten
  - Corrections are new offsetting entries

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite (WAL) via sqlx

SEE ALSO:
  - ledger.go: The only caller of the write methods
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - Inventory + journal persistence
// =============================================================================

type Store interface {
	// GetInventory returns the stock row, or a zero row when none exists yet.
	GetInventory(ctx context.Context, product ProductID, location LocationID) (Inventory, error)

	// ApplyInventoryDelta adds the deltas to the row, creating it if needed.
	ApplyInventoryDelta(ctx context.Context, product ProductID, location LocationID, onHand, allocated decimal.Decimal) error

	// NextEntrySequence reserves the next entry number for the year.
	NextEntrySequence(ctx context.Context, year int) (int, error)

	// InsertJournalEntry persists the entry header and its lines.
	InsertJournalEntry(ctx context.Context, entry JournalEntry) error

	// InsertInventoryTransactions appends transaction log records.
	InsertInventoryTransactions(ctx context.Context, txs []InventoryTransaction) error

	GetJournalEntry(ctx context.Context, id EntryID) (*JournalEntry, error)
	ListJournalEntries(ctx context.Context, ref Reference) ([]JournalEntry, error)

	// ListInventoryTransactions returns matches in insertion order.
	ListInventoryTransactions(ctx context.Context, filter TransactionFilter) ([]InventoryTransaction, error)

	// AccountBalance returns debits minus credits on account across entries
	// carrying ref.
	AccountBalance(ctx context.Context, account AccountCode, ref Reference) (decimal.Decimal, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// TransactionFilter narrows ListInventoryTransactions. Zero fields match all.
type TransactionFilter struct {
	Product        ProductID
	Location       LocationID
	Reference      Reference
	Types          []TransactionType
	JournalEntryID EntryID
}
