package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/warp/production-engine/ledger"
)

// =============================================================================
// INVENTORY (ledger.Store)
// =============================================================================

type inventoryRow struct {
	Product   string          `db:"product_id"`
	Location  string          `db:"location_id"`
	OnHand    decimal.Decimal `db:"on_hand"`
	Allocated decimal.Decimal `db:"allocated"`
	UpdatedAt string          `db:"updated_at"`
}

func (q queries) GetInventory(ctx context.Context, product ledger.ProductID, location ledger.LocationID) (ledger.Inventory, error) {
	var row inventoryRow
	err := sqlx.GetContext(ctx, q.q, &row, `
		SELECT product_id, location_id, on_hand, allocated, updated_at
		FROM inventory WHERE product_id = ? AND location_id = ?`, product, location)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Inventory{Product: product, Location: location, OnHand: decimal.Zero, Allocated: decimal.Zero}, nil
	}
	if err != nil {
		return ledger.Inventory{}, fmt.Errorf("failed to load inventory %s@%s: %w", product, location, err)
	}
	return ledger.Inventory{
		Product:   ledger.ProductID(row.Product),
		Location:  ledger.LocationID(row.Location),
		OnHand:    row.OnHand,
		Allocated: row.Allocated,
		UpdatedAt: parseTime(row.UpdatedAt),
	}, nil
}

// ApplyInventoryDelta adds in Go rather than SQL: the columns are decimal TEXT.
func (q queries) ApplyInventoryDelta(ctx context.Context, product ledger.ProductID, location ledger.LocationID, onHand, allocated decimal.Decimal) error {
	inv, err := q.GetInventory(ctx, product, location)
	if err != nil {
		return err
	}
	_, err = q.q.ExecContext(ctx, `
		INSERT INTO inventory (product_id, location_id, on_hand, allocated, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(product_id, location_id) DO UPDATE SET
			on_hand = excluded.on_hand,
			allocated = excluded.allocated,
			updated_at = excluded.updated_at`,
		product, location,
		inv.OnHand.Add(onHand).String(),
		inv.Allocated.Add(allocated).String(),
		formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to update inventory %s@%s: %w", product, location, err)
	}
	return nil
}

// =============================================================================
// JOURNAL (ledger.Store)
// =============================================================================

func (q queries) NextEntrySequence(ctx context.Context, year int) (int, error) {
	return q.nextSequence(ctx, fmt.Sprintf("JE-%04d", year))
}

func (q queries) InsertJournalEntry(ctx context.Context, entry ledger.JournalEntry) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO journal_entries (id, number, posted_at, memo, reference_type, reference_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Number, formatTime(entry.PostedAt), entry.Memo,
		entry.Reference.Type, entry.Reference.ID)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("journal entry %s already exists: %w", entry.Number, err)
		}
		return fmt.Errorf("failed to insert journal entry: %w", err)
	}

	for i, line := range entry.Lines {
		_, err := q.q.ExecContext(ctx, `
			INSERT INTO journal_lines (entry_id, line_no, account_code, side, amount, memo)
			VALUES (?, ?, ?, ?, ?, ?)`,
			entry.ID, i+1, line.Account, line.Side, line.Amount.String(), line.Memo)
		if err != nil {
			return fmt.Errorf("failed to insert journal line %d: %w", i+1, err)
		}
	}
	return nil
}

type entryRow struct {
	ID            string `db:"id"`
	Number        string `db:"number"`
	PostedAt      string `db:"posted_at"`
	Memo          string `db:"memo"`
	ReferenceType string `db:"reference_type"`
	ReferenceID   string `db:"reference_id"`
}

type lineRow struct {
	EntryID string          `db:"entry_id"`
	Account string          `db:"account_code"`
	Side    string          `db:"side"`
	Amount  decimal.Decimal `db:"amount"`
	Memo    string          `db:"memo"`
}

const entryColumns = `id, number, posted_at, memo, reference_type, reference_id`

func (q queries) GetJournalEntry(ctx context.Context, id ledger.EntryID) (*ledger.JournalEntry, error) {
	var row entryRow
	err := sqlx.GetContext(ctx, q.q, &row, `SELECT `+entryColumns+` FROM journal_entries WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.NotFoundError{Kind: "journal entry", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load journal entry: %w", err)
	}
	entries, err := q.attachLines(ctx, []entryRow{row})
	if err != nil {
		return nil, err
	}
	return &entries[0], nil
}

func (q queries) ListJournalEntries(ctx context.Context, ref ledger.Reference) ([]ledger.JournalEntry, error) {
	var rows []entryRow
	err := sqlx.SelectContext(ctx, q.q, &rows, `
		SELECT `+entryColumns+` FROM journal_entries
		WHERE reference_type = ? AND reference_id = ?
		ORDER BY rowid`, ref.Type, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list journal entries: %w", err)
	}
	return q.attachLines(ctx, rows)
}

func (q queries) attachLines(ctx context.Context, rows []entryRow) ([]ledger.JournalEntry, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	query, args, err := sqlx.In(`
		SELECT entry_id, account_code, side, amount, memo FROM journal_lines
		WHERE entry_id IN (?) ORDER BY entry_id, line_no`, ids)
	if err != nil {
		return nil, err
	}
	var lines []lineRow
	if err := sqlx.SelectContext(ctx, q.q, &lines, q.q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to load journal lines: %w", err)
	}

	byEntry := make(map[string][]ledger.JournalLine, len(rows))
	for _, l := range lines {
		byEntry[l.EntryID] = append(byEntry[l.EntryID], ledger.JournalLine{
			Account: ledger.AccountCode(l.Account),
			Side:    ledger.Side(l.Side),
			Amount:  l.Amount,
			Memo:    l.Memo,
		})
	}

	entries := make([]ledger.JournalEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, ledger.JournalEntry{
			ID:        ledger.EntryID(r.ID),
			Number:    r.Number,
			PostedAt:  parseTime(r.PostedAt),
			Memo:      r.Memo,
			Reference: ledger.Reference{Type: ledger.ReferenceType(r.ReferenceType), ID: r.ReferenceID},
			Lines:     byEntry[r.ID],
		})
	}
	return entries, nil
}

func (q queries) AccountBalance(ctx context.Context, account ledger.AccountCode, ref ledger.Reference) (decimal.Decimal, error) {
	var lines []lineRow
	err := sqlx.SelectContext(ctx, q.q, &lines, `
		SELECT l.entry_id, l.account_code, l.side, l.amount, l.memo
		FROM journal_lines l
		JOIN journal_entries e ON e.id = l.entry_id
		WHERE l.account_code = ? AND e.reference_type = ? AND e.reference_id = ?`,
		account, ref.Type, ref.ID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load balance of %s: %w", account, err)
	}
	balance := decimal.Zero
	for _, l := range lines {
		if ledger.Side(l.Side) == ledger.Debit {
			balance = balance.Add(l.Amount)
		} else {
			balance = balance.Sub(l.Amount)
		}
	}
	return balance, nil
}

// =============================================================================
// INVENTORY TRANSACTIONS (ledger.Store)
// =============================================================================

func (q queries) InsertInventoryTransactions(ctx context.Context, txs []ledger.InventoryTransaction) error {
	for _, tx := range txs {
		_, err := q.q.ExecContext(ctx, `
			INSERT INTO inventory_transactions (
				id, product_id, location_id, tx_type, quantity, unit_cost, lot,
				reference_type, reference_id, journal_entry_id, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			tx.ID, tx.Product, tx.Location, tx.Type,
			tx.Quantity.String(), tx.UnitCost.String(), tx.Lot,
			tx.Reference.Type, tx.Reference.ID,
			nullString(string(tx.JournalEntryID)),
			formatTime(tx.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert inventory transaction: %w", err)
		}
	}
	return nil
}

type transactionRow struct {
	ID             string          `db:"id"`
	Product        string          `db:"product_id"`
	Location       string          `db:"location_id"`
	Type           string          `db:"tx_type"`
	Quantity       decimal.Decimal `db:"quantity"`
	UnitCost       decimal.Decimal `db:"unit_cost"`
	Lot            string          `db:"lot"`
	ReferenceType  string          `db:"reference_type"`
	ReferenceID    string          `db:"reference_id"`
	JournalEntryID string          `db:"journal_entry_id"`
	CreatedAt      string          `db:"created_at"`
}

func (q queries) ListInventoryTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]ledger.InventoryTransaction, error) {
	var where []string
	var args []any
	if filter.Product != "" {
		where = append(where, "product_id = ?")
		args = append(args, filter.Product)
	}
	if filter.Location != "" {
		where = append(where, "location_id = ?")
		args = append(args, filter.Location)
	}
	if !filter.Reference.IsZero() {
		where = append(where, "reference_type = ? AND reference_id = ?")
		args = append(args, filter.Reference.Type, filter.Reference.ID)
	}
	if filter.JournalEntryID != "" {
		where = append(where, "journal_entry_id = ?")
		args = append(args, filter.JournalEntryID)
	}
	if len(filter.Types) > 0 {
		where = append(where, "tx_type IN (?)")
		args = append(args, filter.Types)
	}

	query := `
		SELECT id, product_id, location_id, tx_type, quantity, unit_cost, lot,
			reference_type, reference_id, COALESCE(journal_entry_id, '') AS journal_entry_id, created_at
		FROM inventory_transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY rowid"

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, err
	}
	var rows []transactionRow
	if err := sqlx.SelectContext(ctx, q.q, &rows, q.q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list inventory transactions: %w", err)
	}

	txs := make([]ledger.InventoryTransaction, 0, len(rows))
	for _, r := range rows {
		txs = append(txs, ledger.InventoryTransaction{
			ID:             ledger.TransactionID(r.ID),
			Product:        ledger.ProductID(r.Product),
			Location:       ledger.LocationID(r.Location),
			Type:           ledger.TransactionType(r.Type),
			Quantity:       r.Quantity,
			UnitCost:       r.UnitCost,
			Lot:            r.Lot,
			Reference:      ledger.Reference{Type: ledger.ReferenceType(r.ReferenceType), ID: r.ReferenceID},
			JournalEntryID: ledger.EntryID(r.JournalEntryID),
			CreatedAt:      parseTime(r.CreatedAt),
		})
	}
	return txs, nil
}
