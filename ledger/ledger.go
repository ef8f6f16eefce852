/*
ledger.go - The inventory + journal posting primitive

PURPOSE:
  Post is the only legal way to change on-hand inventory or create a
  journal entry. Given balanced account lines and a list of inventory
  movements, it either records all of them or none.

CRITICAL INVARIANTS:
  1. BALANCED: debits equal credits within one minor unit, checked before any write
  2. ATOMIC: inventory rows, journal entry, and inventory transactions commit together
  3. LINKED: every inventory transaction carries the id of its journal entry
  4. NUMBERED: entries get a year-scoped, gap-free number (JE-2026-000042)

POSTING STEPS (inside one store transaction):
  validate ──▶ reserve entry number ──▶ update inventory rows
           ──▶ write entry + lines ──▶ write inventory transactions

  A failure at any step rolls back every earlier step.

NEGATIVE STOCK:
  Each request names its policy. Block (the default) rejects a movement
  that would take on-hand below zero. AllowWithApproval lets an adjustment
  flagged for approval go negative.

EXAMPLE:
  l := ledger.New(store, ledger.NewDefaultChart())
  entry, err := l.Post(ctx, ledger.ReceivePurchase(ref, "steel", ledger.DefaultLocation, qty, cost, ""))
*/
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type NegativeStockPolicy int

const (
	// BlockNegative rejects movements that would make on-hand negative.
	BlockNegative NegativeStockPolicy = iota
	// AllowWithApproval permits it; used for approved adjustments.
	AllowWithApproval
)

// PostRequest is one business event to record.
type PostRequest struct {
	Memo          string
	Reference     Reference
	Lines         []AccountLine
	Movements     []Movement
	NegativeStock NegativeStockPolicy
	PostedAt      time.Time // zero means now
}

// Ledger posts business events against a TxStore.
type Ledger struct {
	Store    TxStore
	Accounts AccountLookup
	Now      func() time.Time
	NewID    func() string
}

func New(store TxStore, accounts AccountLookup) *Ledger {
	return &Ledger{
		Store:    store,
		Accounts: accounts,
		Now:      func() time.Time { return time.Now().UTC() },
		NewID:    uuid.NewString,
	}
}

// Post validates req and records it in its own store transaction.
func (l *Ledger) Post(ctx context.Context, req PostRequest) (*JournalEntry, error) {
	if err := l.Validate(ctx, req); err != nil {
		return nil, err
	}

	var entry *JournalEntry
	err := l.Store.WithTx(ctx, func(s Store) error {
		var err error
		entry, err = l.PostIn(ctx, s, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// PostIn records req inside a transaction the caller already holds.
// The caller must roll back if PostIn returns an error.
func (l *Ledger) PostIn(ctx context.Context, s Store, req PostRequest) (*JournalEntry, error) {
	if err := l.Validate(ctx, req); err != nil {
		return nil, err
	}

	postedAt := req.PostedAt
	if postedAt.IsZero() {
		postedAt = l.Now()
	}

	seq, err := s.NextEntrySequence(ctx, postedAt.Year())
	if err != nil {
		return nil, err
	}

	// Inventory rows first, so a stock shortage aborts before the entry exists.
	for _, m := range req.Movements {
		if m.LogOnly {
			continue
		}
		if err := l.applyMovement(ctx, s, m, req.NegativeStock); err != nil {
			return nil, err
		}
	}

	entry := JournalEntry{
		ID:        EntryID(l.NewID()),
		Number:    FormatEntryNumber(postedAt.Year(), seq),
		PostedAt:  postedAt,
		Memo:      req.Memo,
		Reference: req.Reference,
		Lines:     toJournalLines(req.Lines),
	}
	if err := s.InsertJournalEntry(ctx, entry); err != nil {
		return nil, err
	}

	if len(req.Movements) > 0 {
		txs := make([]InventoryTransaction, 0, len(req.Movements))
		for _, m := range req.Movements {
			txs = append(txs, InventoryTransaction{
				ID:             TransactionID(l.NewID()),
				Product:        m.Product,
				Location:       locationOrDefault(m.Location),
				Type:           m.Type,
				Quantity:       m.Quantity,
				UnitCost:       m.UnitCost,
				Lot:            m.Lot,
				Reference:      req.Reference,
				JournalEntryID: entry.ID,
				CreatedAt:      postedAt,
			})
		}
		if err := s.InsertInventoryTransactions(ctx, txs); err != nil {
			return nil, err
		}
	}

	return &entry, nil
}

func (l *Ledger) applyMovement(ctx context.Context, s Store, m Movement, policy NegativeStockPolicy) error {
	loc := locationOrDefault(m.Location)
	inv, err := s.GetInventory(ctx, m.Product, loc)
	if err != nil {
		return err
	}

	if policy == BlockNegative && inv.OnHand.Add(m.Quantity).IsNegative() {
		return &NegativeStockError{
			Product:   m.Product,
			Location:  loc,
			OnHand:    inv.OnHand,
			Requested: m.Quantity.Neg(),
		}
	}

	release := decimal.Min(m.ReleaseAllocated, inv.Allocated)
	if release.IsNegative() {
		release = decimal.Zero
	}
	return s.ApplyInventoryDelta(ctx, m.Product, loc, m.Quantity, release.Neg())
}

// =============================================================================
// VALIDATION - Runs before any persistence side effect
// =============================================================================

// Validate checks req without touching the store's write path.
func (l *Ledger) Validate(ctx context.Context, req PostRequest) error {
	if len(req.Lines) < 2 {
		return invalid("lines", "a journal entry needs at least one debit and one credit line")
	}

	sum := decimal.Zero
	debits, credits := decimal.Zero, decimal.Zero
	allZero := true
	for i, line := range req.Lines {
		if line.Account == "" {
			return invalid("lines", "line %d has no account", i+1)
		}
		if _, err := l.Accounts.Account(ctx, line.Account); err != nil {
			return err
		}
		sum = sum.Add(line.Amount)
		if !line.Amount.IsZero() {
			allZero = false
		}
		if line.Amount.IsPositive() {
			debits = debits.Add(line.Amount)
		} else {
			credits = credits.Add(line.Amount.Neg())
		}
	}
	if sum.Abs().GreaterThan(BalanceTolerance) {
		return &UnbalancedEntryError{Debits: debits, Credits: credits, Difference: sum.Abs()}
	}
	// Zero-value lines are kept when they pair a stock movement at zero cost.
	if allZero && len(req.Movements) == 0 {
		return invalid("lines", "every line is zero and nothing moves")
	}

	for i, m := range req.Movements {
		if m.Product == "" {
			return invalid("movements", "movement %d has no product", i+1)
		}
		if m.Quantity.IsZero() {
			return invalid("movements", "movement %d for %s has a zero quantity", i+1, m.Product)
		}
		if m.UnitCost.IsNegative() {
			return invalid("movements", "movement %d for %s has a negative unit cost", i+1, m.Product)
		}
		if m.ReleaseAllocated.IsNegative() {
			return invalid("movements", "movement %d for %s releases a negative allocation", i+1, m.Product)
		}
		if m.Type == "" {
			return invalid("movements", "movement %d for %s has no transaction type", i+1, m.Product)
		}
		if !m.Type.Moves() {
			return invalid("movements", "movement %d for %s has type %q; expected consumption, receipt, scrap, shipment or adjustment", i+1, m.Product, m.Type)
		}
	}
	return nil
}

// =============================================================================
// READ SIDE
// =============================================================================

func (l *Ledger) Entry(ctx context.Context, id EntryID) (*JournalEntry, error) {
	return l.Store.GetJournalEntry(ctx, id)
}

func (l *Ledger) Entries(ctx context.Context, ref Reference) ([]JournalEntry, error) {
	return l.Store.ListJournalEntries(ctx, ref)
}

func (l *Ledger) Transactions(ctx context.Context, filter TransactionFilter) ([]InventoryTransaction, error) {
	return l.Store.ListInventoryTransactions(ctx, filter)
}

func (l *Ledger) Inventory(ctx context.Context, product ProductID, location LocationID) (Inventory, error) {
	return l.Store.GetInventory(ctx, product, locationOrDefault(location))
}

func locationOrDefault(loc LocationID) LocationID {
	if loc == "" {
		return DefaultLocation
	}
	return loc
}
