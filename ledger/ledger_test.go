package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/production-engine/ledger"
	"github.com/warp/production-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var postedAt = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

func newLedger(t *testing.T) (*ledger.Ledger, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	l := ledger.New(store, store)
	l.Now = func() time.Time { return postedAt }
	return l, store
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func purchaseRef(id string) ledger.Reference {
	return ledger.Reference{Type: ledger.RefPurchase, ID: id}
}

func receive(t *testing.T, l *ledger.Ledger, product ledger.ProductID, qty, cost string) *ledger.JournalEntry {
	t.Helper()
	entry, err := l.Post(context.Background(),
		ledger.ReceivePurchase(purchaseRef("po-"+string(product)), product, ledger.DefaultLocation, dec(qty), dec(cost), ""))
	require.NoError(t, err)
	return entry
}

func onHand(t *testing.T, l *ledger.Ledger, product ledger.ProductID) decimal.Decimal {
	t.Helper()
	inv, err := l.Inventory(context.Background(), product, ledger.DefaultLocation)
	require.NoError(t, err)
	return inv.OnHand
}

// =============================================================================
// POST
// =============================================================================

func TestPost_BalancedEntry_RecordsEntryStockAndTransactions(t *testing.T) {
	// GIVEN: An empty ledger
	l, _ := newLedger(t)
	ctx := context.Background()

	// WHEN: 100 units of steel are received at 2.50
	entry := receive(t, l, "steel", "100", "2.50")

	// THEN: The entry is balanced and numbered in its year
	assert.Equal(t, "JE-2026-000001", entry.Number)
	assert.True(t, entry.IsBalanced())
	assert.True(t, entry.Debits().Equal(dec("250")))
	require.Len(t, entry.Lines, 2)
	assert.Equal(t, ledger.AccountRawMaterials, entry.Lines[0].Account)
	assert.Equal(t, ledger.Debit, entry.Lines[0].Side)
	assert.Equal(t, ledger.AccountGRNI, entry.Lines[1].Account)
	assert.Equal(t, ledger.Credit, entry.Lines[1].Side)

	// AND: Stock moved and one transaction points at the entry
	assert.True(t, onHand(t, l, "steel").Equal(dec("100")))
	txs, err := l.Transactions(ctx, ledger.TransactionFilter{JournalEntryID: entry.ID})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.TxReceipt, txs[0].Type)
	assert.True(t, txs[0].Value().Equal(dec("250")))

	// AND: The entry reads back identically
	stored, err := l.Entry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, entry.Number, stored.Number)
	assert.Len(t, stored.Lines, 2)
}

func TestPost_EntryNumbers_AreSequential(t *testing.T) {
	// GIVEN: One posted entry
	l, _ := newLedger(t)
	first := receive(t, l, "steel", "1", "1")

	// WHEN: A second entry is posted
	second := receive(t, l, "bolt", "1", "1")

	// THEN: Numbers follow each other
	assert.Equal(t, "JE-2026-000001", first.Number)
	assert.Equal(t, "JE-2026-000002", second.Number)
}

func TestPost_Unbalanced_RejectedWithoutSideEffects(t *testing.T) {
	// GIVEN: An entry whose debits exceed its credits by 10
	l, _ := newLedger(t)
	ctx := context.Background()
	req := ledger.PostRequest{
		Memo:      "bad",
		Reference: purchaseRef("po-1"),
		Lines: []ledger.AccountLine{
			{Account: ledger.AccountRawMaterials, Amount: dec("100")},
			{Account: ledger.AccountGRNI, Amount: dec("-90")},
		},
		Movements: []ledger.Movement{{Product: "steel", Quantity: dec("10"), UnitCost: dec("10"), Type: ledger.TxReceipt}},
	}

	// WHEN: It is posted
	_, err := l.Post(ctx, req)

	// THEN: It is rejected and nothing was written
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrUnbalanced))
	var unbalanced *ledger.UnbalancedEntryError
	require.True(t, errors.As(err, &unbalanced))
	assert.True(t, unbalanced.Difference.Equal(dec("10")))

	entries, err := l.Entries(ctx, purchaseRef("po-1"))
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.True(t, onHand(t, l, "steel").IsZero())
}

func TestPost_UnknownAccount_Rejected(t *testing.T) {
	// GIVEN: A line on an account that is not in the chart
	l, _ := newLedger(t)
	req := ledger.PostRequest{
		Reference: purchaseRef("po-1"),
		Lines: []ledger.AccountLine{
			{Account: "9999", Amount: dec("5")},
			{Account: ledger.AccountGRNI, Amount: dec("-5")},
		},
	}

	// WHEN: It is posted
	_, err := l.Post(context.Background(), req)

	// THEN: The unknown code is named
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrUnknownAccount))
	assert.Contains(t, err.Error(), "9999")
	assert.True(t, ledger.IsClientError(err))
}

func TestPost_SingleLine_Rejected(t *testing.T) {
	// GIVEN: An entry with only a debit
	l, _ := newLedger(t)
	req := ledger.PostRequest{
		Lines: []ledger.AccountLine{{Account: ledger.AccountWIP, Amount: dec("1")}},
	}

	// WHEN/THEN: It fails validation
	_, err := l.Post(context.Background(), req)
	assert.True(t, errors.Is(err, ledger.ErrValidation))
}

func TestPost_AllZeroLines_Rejected(t *testing.T) {
	// GIVEN: A balanced entry of zero lines that moves nothing
	l, _ := newLedger(t)
	req := ledger.PostRequest{
		Lines: []ledger.AccountLine{
			{Account: ledger.AccountWIP, Amount: decimal.Zero},
			{Account: ledger.AccountRawMaterials, Amount: decimal.Zero},
		},
	}

	// WHEN/THEN: It fails validation
	_, err := l.Post(context.Background(), req)
	assert.True(t, errors.Is(err, ledger.ErrValidation))

	// GIVEN: The same lines pairing a zero-cost receipt
	req.Movements = []ledger.Movement{{Product: "FREE", Quantity: dec("3"), Type: ledger.TxReceipt}}

	// THEN: It posts and the stock arrives
	_, err = l.Post(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, onHand(t, l, "FREE").Equal(dec("3")))
}

func TestPost_UnknownMovementType_Rejected(t *testing.T) {
	l, _ := newLedger(t)
	for _, typ := range []ledger.TransactionType{"restock", ledger.TxReservation} {
		req := ledger.ReceivePurchase(purchaseRef("po-"+string(typ)), "A", "", dec("1"), dec("2"), "")
		req.Movements[0].Type = typ

		_, err := l.Post(context.Background(), req)
		assert.True(t, errors.Is(err, ledger.ErrValidation), typ)
		assert.Contains(t, err.Error(), string(typ))
	}
	assert.True(t, onHand(t, l, "A").IsZero())
}

func TestPost_NegativeStock_BlockedByDefault(t *testing.T) {
	// GIVEN: 5 units on hand
	l, _ := newLedger(t)
	ctx := context.Background()
	receive(t, l, "steel", "5", "2")

	// WHEN: 10 units are issued
	_, err := l.Post(ctx, ledger.IssueMaterials(
		ledger.Reference{Type: ledger.RefProductionOrder, ID: "po-1"}, "issue",
		[]ledger.MaterialIssue{{Product: "steel", Quantity: dec("10"), UnitCost: dec("2")}}))

	// THEN: The posting is rejected and stock is unchanged
	require.Error(t, err)
	var negative *ledger.NegativeStockError
	require.True(t, errors.As(err, &negative))
	assert.True(t, negative.OnHand.Equal(dec("5")))
	assert.True(t, negative.Requested.Equal(dec("10")))
	assert.True(t, onHand(t, l, "steel").Equal(dec("5")))
}

func TestAdjust_Approved_MayLeaveStockNegative(t *testing.T) {
	// GIVEN: 5 units on hand
	l, _ := newLedger(t)
	receive(t, l, "steel", "5", "2")
	ref := ledger.Reference{Type: ledger.RefAdjustment, ID: "count-1"}

	// WHEN: An unapproved count correction of -8 is posted
	_, err := l.Post(context.Background(), ledger.Adjust(ref, ledger.AccountRawMaterials, "steel", "", dec("-8"), dec("2"), false))

	// THEN: It is blocked
	assert.True(t, errors.Is(err, ledger.ErrInsufficientStock))

	// WHEN: The same correction is approved
	entry, err := l.Post(context.Background(), ledger.Adjust(ref, ledger.AccountRawMaterials, "steel", "", dec("-8"), dec("2"), true))

	// THEN: Stock goes negative and the entry balances
	require.NoError(t, err)
	assert.True(t, entry.IsBalanced())
	assert.True(t, onHand(t, l, "steel").Equal(dec("-3")))
}

func TestIssueMaterials_CostItems_CreditAppliedOverhead(t *testing.T) {
	// GIVEN: One stocked component and one machine-time cost item
	issues := []ledger.MaterialIssue{
		{Product: "steel", Quantity: dec("4"), UnitCost: dec("2.50")},
		{Product: "machine-hr", Quantity: dec("1.5"), UnitCost: dec("40"), CostItem: true},
	}

	// WHEN: The posting is built
	req := ledger.IssueMaterials(ledger.Reference{Type: ledger.RefProductionOrder, ID: "po-1"}, "issue", issues)

	// THEN: WIP carries both, stock moves only for the component
	require.Len(t, req.Lines, 3)
	assert.Equal(t, ledger.AccountWIP, req.Lines[0].Account)
	assert.True(t, req.Lines[0].Amount.Equal(dec("70")))
	assert.True(t, req.Lines[1].Amount.Equal(dec("-10")))
	assert.Equal(t, ledger.AccountAppliedOverhead, req.Lines[2].Account)
	assert.True(t, req.Lines[2].Amount.Equal(dec("-60")))
	require.Len(t, req.Movements, 1)
	assert.True(t, req.Movements[0].Quantity.Equal(dec("-4")))
}

// =============================================================================
// ATOMICITY
// =============================================================================

// failingStore fails every journal insert made inside a transaction.
type failingStore struct {
	*sqlite.Store
}

func (f failingStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return f.Store.WithTx(ctx, func(s ledger.Store) error {
		return fn(failingTx{s})
	})
}

type failingTx struct {
	ledger.Store
}

func (failingTx) InsertJournalEntry(context.Context, ledger.JournalEntry) error {
	return errors.New("disk full")
}

func TestPost_FailureAfterStockMoved_RollsBackEverything(t *testing.T) {
	// GIVEN: 10 units on hand and a store that fails after stock has moved
	l, store := newLedger(t)
	ctx := context.Background()
	receive(t, l, "steel", "10", "2")
	failing := ledger.New(failingStore{store}, store)

	// WHEN: 4 units are issued
	ref := ledger.Reference{Type: ledger.RefProductionOrder, ID: "po-1"}
	_, err := failing.Post(ctx, ledger.IssueMaterials(ref, "issue",
		[]ledger.MaterialIssue{{Product: "steel", Quantity: dec("4"), UnitCost: dec("2")}}))

	// THEN: The error surfaces and neither stock nor journal changed
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.True(t, onHand(t, l, "steel").Equal(dec("10")))
	entries, err := l.Entries(ctx, ref)
	require.NoError(t, err)
	assert.Empty(t, entries)
	txs, err := l.Transactions(ctx, ledger.TransactionFilter{Reference: ref})
	require.NoError(t, err)
	assert.Empty(t, txs)
}

// =============================================================================
// ALLOCATION
// =============================================================================

func TestAllocate_ThenRelease_MovesOnlyAllocated(t *testing.T) {
	// GIVEN: 10 units on hand
	l, store := newLedger(t)
	ctx := context.Background()
	receive(t, l, "steel", "10", "2")
	req := ledger.AllocationRequest{
		Product:   "steel",
		Quantity:  dec("6"),
		Reference: ledger.Reference{Type: ledger.RefProductionOrder, ID: "po-1"},
	}

	// WHEN: 6 are allocated
	err := store.WithTx(ctx, func(s ledger.Store) error {
		_, err := l.AllocateIn(ctx, s, req)
		return err
	})
	require.NoError(t, err)

	// THEN: Available drops, on-hand does not
	inv, err := l.Inventory(ctx, "steel", "")
	require.NoError(t, err)
	assert.True(t, inv.OnHand.Equal(dec("10")))
	assert.True(t, inv.Allocated.Equal(dec("6")))
	assert.True(t, inv.Available().Equal(dec("4")))

	// WHEN: Another 6 are requested
	err = store.WithTx(ctx, func(s ledger.Store) error {
		_, err := l.AllocateIn(ctx, s, req)
		return err
	})

	// THEN: The allocation is short
	var short *ledger.AllocationShortError
	require.True(t, errors.As(err, &short))
	assert.True(t, short.Available.Equal(dec("4")))

	// WHEN: 20 are released
	req.Quantity = dec("20")
	var released *ledger.InventoryTransaction
	err = store.WithTx(ctx, func(s ledger.Store) error {
		var err error
		released, err = l.ReleaseIn(ctx, s, req)
		return err
	})

	// THEN: Only what was allocated is released
	require.NoError(t, err)
	require.NotNil(t, released)
	assert.True(t, released.Quantity.Equal(dec("6")))
	inv, err = l.Inventory(ctx, "steel", "")
	require.NoError(t, err)
	assert.True(t, inv.Allocated.IsZero())

	txs, err := l.Transactions(ctx, ledger.TransactionFilter{
		Product: "steel",
		Types:   []ledger.TransactionType{ledger.TxReservation, ledger.TxRelease},
	})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, ledger.TxReservation, txs[0].Type)
	assert.Empty(t, txs[0].JournalEntryID)
}
