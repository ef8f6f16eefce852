/*
store.go - Persistence interface for orders, operations and catalog data

PURPOSE:
  The production engine keeps no in-process state. Every transition loads
  the order, checks its guards and writes the result inside one store
  transaction, together with whatever the ledger posts.

KEY INTERFACES:
  Store:   ledger.Store plus orders, operations, materials, scrap, catalog
  TxStore: Store plus WithTx

TRANSACTIONS:
  TxStore.WithTx hands fn a ledger.Store so the same transaction can be
  passed straight to ledger.PostIn. Implementations must hand out a value
  that also satisfies production.Store; inTx asserts this and fails with
  ledger.ErrStoreRequired otherwise.

CONCURRENCY:
  UpdateOperation is a compare-and-swap on Operation.Version. Two requests
  that loaded the same version cannot both write: the loser gets a
  ConflictError and its transaction rolls back.
*/
package production

import (
	"context"

	"github.com/warp/production-engine/ledger"
)

// Store persists production data alongside the ledger tables.
type Store interface {
	ledger.Store

	// Catalog
	GetProduct(ctx context.Context, id ledger.ProductID) (*Product, error)
	SaveProduct(ctx context.Context, p Product) error
	GetBOM(ctx context.Context, id BOMID) (*BOM, error)
	GetBOMForProduct(ctx context.Context, product ledger.ProductID) (*BOM, error)
	SaveBOM(ctx context.Context, bom BOM) error
	GetRouting(ctx context.Context, id RoutingID) (*Routing, error)
	GetRoutingForProduct(ctx context.Context, product ledger.ProductID) (*Routing, error)
	SaveRouting(ctx context.Context, r Routing) error
	ListLotPolicies(ctx context.Context) ([]LotPolicy, error)
	SaveLotPolicy(ctx context.Context, p LotPolicy) error

	// Sales orders
	GetSalesOrder(ctx context.Context, id SalesOrderID) (*SalesOrder, error)
	SaveSalesOrder(ctx context.Context, so SalesOrder) error

	// Orders. GetOrder loads operations (by sequence) and their materials.
	NextOrderSequence(ctx context.Context) (int, error)
	InsertOrder(ctx context.Context, o ProductionOrder) error
	GetOrder(ctx context.Context, id OrderID) (*ProductionOrder, error)
	UpdateOrder(ctx context.Context, o ProductionOrder) error
	ListOrdersBySalesOrder(ctx context.Context, id SalesOrderID) ([]ProductionOrder, error)
	// ListActiveOrders returns orders that are not complete, short or cancelled.
	ListActiveOrders(ctx context.Context) ([]ProductionOrder, error)

	// Operations and materials
	InsertOperations(ctx context.Context, ops []Operation) error
	// UpdateOperation writes op if its stored version still equals op.Version,
	// then increments op.Version. A stale version is a *ConflictError.
	UpdateOperation(ctx context.Context, op *Operation) error
	// RunningOnResource returns the running operation on resource other
	// than exclude, or nil.
	RunningOnResource(ctx context.Context, resource ResourceID, exclude OperationID) (*Operation, error)
	UpdateMaterial(ctx context.Context, m OperationMaterial) error

	// Scrap
	InsertScrapRecords(ctx context.Context, records []ScrapRecord) error
	ListScrapRecords(ctx context.Context, order OrderID) ([]ScrapRecord, error)
}

// TxStore wraps Store with transaction support. It also satisfies
// ledger.TxStore, so one value serves both packages.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(ledger.Store) error) error
}

func inTx(ctx context.Context, store TxStore, fn func(Store) error) error {
	return store.WithTx(ctx, func(ls ledger.Store) error {
		s, ok := ls.(Store)
		if !ok {
			return ledger.ErrStoreRequired
		}
		return fn(s)
	})
}
