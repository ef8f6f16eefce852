package production_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/production-engine/ledger"
	"github.com/warp/production-engine/production"
	"github.com/warp/production-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var testNow = time.Date(2026, time.May, 4, 8, 0, 0, 0, time.UTC)

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *sqlite.Store
	ledger *ledger.Ledger
	svc    *production.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	l := ledger.New(store, store)
	l.Now = func() time.Time { return testNow }
	svc := production.NewService(store, l)
	svc.Now = func() time.Time { return testNow }

	return &fixture{t: t, ctx: context.Background(), store: store, ledger: l, svc: svc}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (f *fixture) product(id, cost string) {
	f.t.Helper()
	require.NoError(f.t, f.store.SaveProduct(f.ctx, production.Product{
		ID:            ledger.ProductID(id),
		SKU:           id,
		Name:          id,
		UnitOfMeasure: "ea",
		UnitCost:      dec(cost),
	}))
}

func (f *fixture) lotTracked(id, cost string) {
	f.t.Helper()
	require.NoError(f.t, f.store.SaveProduct(f.ctx, production.Product{
		ID:         ledger.ProductID(id),
		SKU:        id,
		UnitCost:   dec(cost),
		LotTracked: true,
	}))
}

func line(component, qty string, operation int) production.BOMLine {
	return production.BOMLine{
		Component:         ledger.ProductID(component),
		Quantity:          dec(qty),
		OperationSequence: operation,
	}
}

func step(seq int, name, resource string) production.RoutingStep {
	return production.RoutingStep{
		Sequence:   seq,
		Name:       name,
		RunMinutes: dec("1"),
		Resource:   production.ResourceID(resource),
	}
}

func (f *fixture) bom(product string, lines ...production.BOMLine) {
	f.t.Helper()
	require.NoError(f.t, f.store.SaveBOM(f.ctx, production.BOM{
		ID:      production.BOMID("BOM-" + product),
		Product: ledger.ProductID(product),
		Lines:   lines,
	}))
}

func (f *fixture) routing(product string, steps ...production.RoutingStep) {
	f.t.Helper()
	require.NoError(f.t, f.store.SaveRouting(f.ctx, production.Routing{
		ID:      production.RoutingID("RT-" + product),
		Product: ledger.ProductID(product),
		Steps:   steps,
	}))
}

func (f *fixture) stock(product, qty, cost string) {
	f.t.Helper()
	ref := ledger.Reference{Type: ledger.RefPurchase, ID: "receipt-" + product}
	_, err := f.ledger.Post(f.ctx, ledger.ReceivePurchase(ref, ledger.ProductID(product), ledger.DefaultLocation, dec(qty), dec(cost), ""))
	require.NoError(f.t, err)
}

func (f *fixture) released(product, qty string) *production.ProductionOrder {
	f.t.Helper()
	order, err := f.svc.CreateOrder(f.ctx, production.NewOrder{Product: ledger.ProductID(product), Quantity: dec(qty)})
	require.NoError(f.t, err)
	order, err = f.svc.ReleaseOrder(f.ctx, order.ID, production.ReleaseOptions{})
	require.NoError(f.t, err)
	return order
}

func (f *fixture) reload(id production.OrderID) *production.ProductionOrder {
	f.t.Helper()
	order, err := f.svc.Order(f.ctx, id)
	require.NoError(f.t, err)
	return order
}

func (f *fixture) start(order *production.ProductionOrder, seq int) *production.OperationResult {
	f.t.Helper()
	res, err := f.svc.StartOperation(f.ctx, order.ID, opAt(order, seq).ID, production.StartOptions{})
	require.NoError(f.t, err)
	return res
}

func (f *fixture) complete(order *production.ProductionOrder, seq int, good, scrapped string) *production.OperationResult {
	f.t.Helper()
	res, err := f.svc.CompleteOperation(f.ctx, order.ID, opAt(order, seq).ID, production.CompleteRequest{
		QuantityCompleted: dec(good),
		QuantityScrapped:  dec(scrapped),
		ScrapReason:       production.ScrapDefect,
	})
	require.NoError(f.t, err)
	return res
}

func (f *fixture) run(order *production.ProductionOrder, seq int, good, scrapped string) *production.OperationResult {
	f.t.Helper()
	f.start(order, seq)
	return f.complete(order, seq, good, scrapped)
}

func (f *fixture) inventory(product string) ledger.Inventory {
	f.t.Helper()
	inv, err := f.ledger.Inventory(f.ctx, ledger.ProductID(product), "")
	require.NoError(f.t, err)
	return inv
}

func (f *fixture) entries(order *production.ProductionOrder) []ledger.JournalEntry {
	f.t.Helper()
	entries, err := f.ledger.Entries(f.ctx, order.Reference())
	require.NoError(f.t, err)
	return entries
}

func opAt(order *production.ProductionOrder, seq int) *production.Operation {
	for i := range order.Operations {
		if order.Operations[i].Sequence == seq {
			return &order.Operations[i]
		}
	}
	panic("no operation at sequence")
}

// twoStepWidget sets up WIDGET built in two steps: Machine (10) consumes 5
// of A per unit, Assemble (20) consumes 1 of B per unit. A costs 2.00 and B
// costs 3.00; 100 A and 20 B are in stock.
func twoStepWidget(f *fixture) {
	f.product("WIDGET", "0")
	f.product("A", "2.00")
	f.product("B", "3.00")
	f.bom("WIDGET", line("A", "5", 10), line("B", "1", 20))
	f.routing("WIDGET", step(10, "Machine", "MILL-1"), step(20, "Assemble", ""))
	f.stock("A", "100", "2.00")
	f.stock("B", "20", "3.00")
}
