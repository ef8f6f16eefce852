/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements ledger.TxStore, production.TxStore and ledger.AccountLookup
  on one SQLite database through sqlx. The same schema ports to PostgreSQL
  with minor dialect changes.

INTERFACES IMPLEMENTED:
  ledger.Store:          Inventory rows, journal entries, inventory transactions
  ledger.AccountLookup:  Chart of accounts from the accounts table
  production.Store:      Orders, operations, materials, scrap, catalog

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE on journal_entries, journal_lines, inventory_transactions
  - inventory rows change only by ApplyInventoryDelta
  - operations carry a version column for compare-and-swap updates

KEY TABLES:
  inventory:              (product, location) on-hand and allocated
  inventory_transactions: Immutable movement log, linked to journal_entries
  journal_entries/lines:  Balanced double-entry records
  production_orders:      One manufacturing job
  operations:             Routing steps of an order, versioned
  operation_materials:    Planned consumption per operation
  scrap_records:          Per-material write-off trace

DECIMALS AND TIME:
  Quantities and money are stored as TEXT and scanned straight into
  decimal.Decimal (it implements sql.Scanner). Timestamps are RFC3339 TEXT.

CONCURRENCY:
  WithTx holds a mutex for the life of the transaction, so units of work are
  serialized. In production with PostgreSQL, row locks and the operations
  version column handle this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/production.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  l := ledger.New(store, store)
  svc := production.NewService(store, l)

MIGRATION:
  Schema is auto-migrated on New() and the default chart of accounts is
  seeded. For production, use a proper migration tool (golang-migrate,
  goose) with versioned migrations.
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/production-engine/ledger"
	"github.com/warp/production-engine/production"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	queries
	db *sqlx.DB
	mu sync.Mutex

	chartMu sync.RWMutex
	chart   map[ledger.AccountCode]ledger.Account
}

var (
	_ production.TxStore   = (*Store)(nil)
	_ ledger.TxStore       = (*Store)(nil)
	_ ledger.AccountLookup = (*Store)(nil)
	_ production.Store     = (*txStore)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{queries: queries{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := store.seedAccounts(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to seed accounts: %w", err)
	}
	if err := store.loadChart(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Chart of accounts
	CREATE TABLE IF NOT EXISTS accounts (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL
	);

	-- Stock positions, mutated only through the ledger
	CREATE TABLE IF NOT EXISTS inventory (
		product_id TEXT NOT NULL,
		location_id TEXT NOT NULL,
		on_hand TEXT NOT NULL,
		allocated TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (product_id, location_id)
	);

	-- Named counters: JE-<year> for journal entries, PO for orders
	CREATE TABLE IF NOT EXISTS sequences (
		name TEXT PRIMARY KEY,
		last_value INTEGER NOT NULL
	);

	-- Journal (append-only)
	CREATE TABLE IF NOT EXISTS journal_entries (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL UNIQUE,
		posted_at TEXT NOT NULL,
		memo TEXT NOT NULL DEFAULT '',
		reference_type TEXT NOT NULL DEFAULT '',
		reference_id TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_journal_entries_reference
		ON journal_entries(reference_type, reference_id);

	CREATE TABLE IF NOT EXISTS journal_lines (
		entry_id TEXT NOT NULL REFERENCES journal_entries(id),
		line_no INTEGER NOT NULL,
		account_code TEXT NOT NULL REFERENCES accounts(code),
		side TEXT NOT NULL CHECK (side IN ('debit', 'credit')),
		amount TEXT NOT NULL,
		memo TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (entry_id, line_no)
	);

	CREATE INDEX IF NOT EXISTS idx_journal_lines_account
		ON journal_lines(account_code);

	-- Inventory movement log (append-only)
	CREATE TABLE IF NOT EXISTS inventory_transactions (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		location_id TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		quantity TEXT NOT NULL,
		unit_cost TEXT NOT NULL,
		lot TEXT NOT NULL DEFAULT '',
		reference_type TEXT NOT NULL DEFAULT '',
		reference_id TEXT NOT NULL DEFAULT '',
		journal_entry_id TEXT REFERENCES journal_entries(id),
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_inventory_transactions_product
		ON inventory_transactions(product_id, location_id);
	CREATE INDEX IF NOT EXISTS idx_inventory_transactions_reference
		ON inventory_transactions(reference_type, reference_id);
	CREATE INDEX IF NOT EXISTS idx_inventory_transactions_entry
		ON inventory_transactions(journal_entry_id);

	-- Catalog
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		sku TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		unit_of_measure TEXT NOT NULL DEFAULT '',
		unit_cost TEXT NOT NULL,
		lot_tracked INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS boms (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL REFERENCES products(id)
	);

	CREATE TABLE IF NOT EXISTS bom_lines (
		bom_id TEXT NOT NULL REFERENCES boms(id),
		line_no INTEGER NOT NULL,
		component_id TEXT NOT NULL REFERENCES products(id),
		quantity TEXT NOT NULL,
		scrap_factor_percent TEXT NOT NULL,
		operation_sequence INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (bom_id, line_no)
	);

	CREATE TABLE IF NOT EXISTS routings (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL REFERENCES products(id)
	);

	CREATE TABLE IF NOT EXISTS routing_steps (
		routing_id TEXT NOT NULL REFERENCES routings(id),
		sequence INTEGER NOT NULL,
		name TEXT NOT NULL,
		setup_minutes TEXT NOT NULL,
		run_minutes TEXT NOT NULL,
		resource_id TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (routing_id, sequence)
	);

	CREATE TABLE IF NOT EXISTS lot_policies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_id TEXT NOT NULL DEFAULT '',
		customer TEXT NOT NULL DEFAULT '',
		channel TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS sales_orders (
		id TEXT PRIMARY KEY,
		customer TEXT NOT NULL DEFAULT '',
		channel TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Production
	CREATE TABLE IF NOT EXISTS production_orders (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL UNIQUE,
		product_id TEXT NOT NULL REFERENCES products(id),
		bom_id TEXT NOT NULL,
		routing_id TEXT NOT NULL DEFAULT '',
		location_id TEXT NOT NULL,
		quantity_ordered TEXT NOT NULL,
		quantity_completed TEXT NOT NULL,
		quantity_scrapped TEXT NOT NULL,
		status TEXT NOT NULL,
		sales_order_id TEXT NOT NULL DEFAULT '',
		sales_order_line INTEGER NOT NULL DEFAULT 0,
		customer TEXT NOT NULL DEFAULT '',
		channel TEXT NOT NULL DEFAULT '',
		remake_of TEXT NOT NULL DEFAULT '',
		qc_passed INTEGER NOT NULL DEFAULT 0,
		fg_received INTEGER NOT NULL DEFAULT 0,
		actual_start TEXT NOT NULL DEFAULT '',
		actual_end TEXT NOT NULL DEFAULT '',
		completed_at TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_production_orders_status
		ON production_orders(status);
	CREATE INDEX IF NOT EXISTS idx_production_orders_sales_order
		ON production_orders(sales_order_id) WHERE sales_order_id <> '';

	CREATE TABLE IF NOT EXISTS operations (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES production_orders(id),
		sequence INTEGER NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		planned_setup_minutes TEXT NOT NULL,
		planned_run_minutes TEXT NOT NULL,
		actual_start TEXT NOT NULL DEFAULT '',
		actual_end TEXT NOT NULL DEFAULT '',
		quantity_completed TEXT NOT NULL,
		quantity_scrapped TEXT NOT NULL,
		resource_id TEXT NOT NULL DEFAULT '',
		operator TEXT NOT NULL DEFAULT '',
		skip_reason TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 0,
		UNIQUE (order_id, sequence)
	);

	-- Resource busy checks
	CREATE INDEX IF NOT EXISTS idx_operations_resource_status
		ON operations(resource_id, status) WHERE resource_id <> '';

	CREATE TABLE IF NOT EXISTS operation_materials (
		id TEXT PRIMARY KEY,
		operation_id TEXT NOT NULL REFERENCES operations(id),
		position INTEGER NOT NULL,
		component_id TEXT NOT NULL,
		quantity_required TEXT NOT NULL,
		quantity_reserved TEXT NOT NULL,
		quantity_consumed TEXT NOT NULL,
		lot TEXT NOT NULL DEFAULT '',
		location_id TEXT NOT NULL DEFAULT '',
		cost_item INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_operation_materials_operation
		ON operation_materials(operation_id);

	CREATE TABLE IF NOT EXISTS scrap_records (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES production_orders(id),
		operation_id TEXT NOT NULL REFERENCES operations(id),
		scrapped_at_operation_id TEXT NOT NULL REFERENCES operations(id),
		component_id TEXT NOT NULL,
		quantity TEXT NOT NULL,
		unit_cost TEXT NOT NULL,
		cost TEXT NOT NULL,
		reason TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		inventory_transaction_id TEXT REFERENCES inventory_transactions(id),
		journal_entry_id TEXT NOT NULL REFERENCES journal_entries(id),
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_scrap_records_order
		ON scrap_records(order_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) seedAccounts(ctx context.Context) error {
	for _, a := range ledger.DefaultAccounts() {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO accounts (code, name, type) VALUES (?, ?, ?)`,
			a.Code, a.Name, a.Type)
		if err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore / production.TxStore)
// =============================================================================

// WithTx executes a function within a database transaction. The store
// handed to fn also satisfies production.Store.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{queries: queries{q: sqlTx}}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore runs every query on one open transaction.
type txStore struct {
	queries
}

// queries holds every statement; it runs against either the pool or a tx.
type queries struct {
	q sqlx.ExtContext
}

// =============================================================================
// ACCOUNTS (ledger.AccountLookup)
// =============================================================================

// Account looks up an account code. The chart is served from memory so
// lookups made while a transaction holds the connection do not block.
func (s *Store) Account(_ context.Context, code ledger.AccountCode) (ledger.Account, error) {
	s.chartMu.RLock()
	defer s.chartMu.RUnlock()
	a, ok := s.chart[code]
	if !ok {
		return ledger.Account{}, &ledger.UnknownAccountError{Code: code}
	}
	return a, nil
}

// SaveAccount adds or renames an account.
func (s *Store) SaveAccount(ctx context.Context, a ledger.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (code, name, type) VALUES (?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET name = excluded.name, type = excluded.type`,
		a.Code, a.Name, a.Type)
	if err != nil {
		return fmt.Errorf("failed to save account %s: %w", a.Code, err)
	}
	s.chartMu.Lock()
	s.chart[a.Code] = a
	s.chartMu.Unlock()
	return nil
}

// ListAccounts returns the chart ordered by code.
func (s *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	var rows []struct {
		Code string `db:"code"`
		Name string `db:"name"`
		Type string `db:"type"`
	}
	if err := sqlx.SelectContext(ctx, s.db, &rows, `SELECT code, name, type FROM accounts ORDER BY code`); err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	accounts := make([]ledger.Account, 0, len(rows))
	for _, r := range rows {
		accounts = append(accounts, ledger.Account{Code: ledger.AccountCode(r.Code), Name: r.Name, Type: ledger.AccountType(r.Type)})
	}
	return accounts, nil
}

func (s *Store) loadChart(ctx context.Context) error {
	accounts, err := s.ListAccounts(ctx)
	if err != nil {
		return err
	}
	s.chartMu.Lock()
	defer s.chartMu.Unlock()
	s.chart = make(map[ledger.AccountCode]ledger.Account, len(accounts))
	for _, a := range accounts {
		s.chart[a.Code] = a
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// nextSequence increments and returns the named counter.
func (q queries) nextSequence(ctx context.Context, name string) (int, error) {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO sequences (name, last_value) VALUES (?, 1)
		ON CONFLICT(name) DO UPDATE SET last_value = last_value + 1`, name)
	if err != nil {
		return 0, fmt.Errorf("failed to advance sequence %s: %w", name, err)
	}
	var value int
	if err := sqlx.GetContext(ctx, q.q, &value, `SELECT last_value FROM sequences WHERE name = ?`, name); err != nil {
		return 0, fmt.Errorf("failed to read sequence %s: %w", name, err)
	}
	return value, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s string) *time.Time {
	if s == "" {
		return nil
	}
	t := parseTime(s)
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
