/*
Package factory loads plant master data from JSON.

PURPOSE:
  Converts a JSON catalog into the production and ledger types and writes
  them to a store. This lets a plant be configured without code changes:
  the chart of accounts, products, bills of materials, routings, lot-trace
  policies, sales orders and opening stock all come from one document.

JSON SCHEMA:
  {
    "accounts": [{"code": "1250", "name": "Packaging", "type": "asset"}],
    "products": [
      {"id": "BRACKET", "sku": "BRK-100", "name": "Bracket", "unit_cost": "12.50"},
      {"id": "STEEL", "sku": "STL-2MM", "unit_cost": "1.20", "lot_tracked": true}
    ],
    "boms": [{
      "id": "BOM-BRACKET", "product": "BRACKET",
      "lines": [{"component": "STEEL", "quantity": "5", "scrap_factor_percent": "2", "operation": 10}]
    }],
    "routings": [{
      "id": "RT-BRACKET", "product": "BRACKET",
      "steps": [{"sequence": 10, "name": "Cut", "run_minutes": "1.5", "resource": "SAW-1"}]
    }],
    "lot_policies": [{"product": "STEEL", "customer": "ACME"}],
    "sales_orders": [{"id": "SO-1", "customer": "ACME", "channel": "direct"}],
    "opening_stock": [{"product": "STEEL", "quantity": "500", "unit_cost": "1.20", "lot": "H-1"}]
  }

  Decimals may be written as JSON strings or numbers. Strings keep exact
  precision and are preferred for money.

OPENING STOCK:
  Posted through the ledger as a purchase receipt (Dr Raw Materials,
  Cr GRNI) referenced "opening-<product>-<location>". Loading the same
  catalog twice does not post it twice.

USAGE:
  cat, err := factory.ParseCatalog(data)
  err = factory.NewLoader(store, ledger).Load(ctx, cat)

SEE ALSO:
  - production/types.go: Catalog types
  - ledger/wrappers.go: ReceivePurchase
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/warp/production-engine/ledger"
	"github.com/warp/production-engine/production"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

type CatalogJSON struct {
	Accounts     []AccountJSON    `json:"accounts,omitempty"`
	Products     []ProductJSON    `json:"products"`
	BOMs         []BOMJSON        `json:"boms,omitempty"`
	Routings     []RoutingJSON    `json:"routings,omitempty"`
	LotPolicies  []LotPolicyJSON  `json:"lot_policies,omitempty"`
	SalesOrders  []SalesOrderJSON `json:"sales_orders,omitempty"`
	OpeningStock []StockJSON      `json:"opening_stock,omitempty"`
}

type AccountJSON struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Type string `json:"type"` // asset, liability, expense, revenue, equity
}

type ProductJSON struct {
	ID            string          `json:"id"`
	SKU           string          `json:"sku"`
	Name          string          `json:"name,omitempty"`
	UnitOfMeasure string          `json:"unit_of_measure,omitempty"` // default "ea"
	UnitCost      decimal.Decimal `json:"unit_cost"`
	LotTracked    bool            `json:"lot_tracked,omitempty"`
}

type BOMJSON struct {
	ID      string        `json:"id"`
	Product string        `json:"product"`
	Lines   []BOMLineJSON `json:"lines"`
}

type BOMLineJSON struct {
	Component          string          `json:"component"`
	Quantity           decimal.Decimal `json:"quantity"`
	ScrapFactorPercent decimal.Decimal `json:"scrap_factor_percent,omitempty"`
	Operation          int             `json:"operation,omitempty"` // routing sequence, 0 = first
}

type RoutingJSON struct {
	ID      string            `json:"id"`
	Product string            `json:"product"`
	Steps   []RoutingStepJSON `json:"steps"`
}

type RoutingStepJSON struct {
	Sequence     int             `json:"sequence"`
	Name         string          `json:"name"`
	SetupMinutes decimal.Decimal `json:"setup_minutes,omitempty"`
	RunMinutes   decimal.Decimal `json:"run_minutes,omitempty"`
	Resource     string          `json:"resource,omitempty"`
}

type LotPolicyJSON struct {
	Product  string `json:"product,omitempty"`
	Customer string `json:"customer,omitempty"`
	Channel  string `json:"channel,omitempty"`
}

type SalesOrderJSON struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Channel  string `json:"channel,omitempty"`
}

type StockJSON struct {
	Product  string          `json:"product"`
	Location string          `json:"location,omitempty"`
	Quantity decimal.Decimal `json:"quantity"`
	UnitCost decimal.Decimal `json:"unit_cost"`
	Lot      string          `json:"lot,omitempty"`
}

// =============================================================================
// CATALOG
// =============================================================================

// Catalog is a parsed and validated CatalogJSON.
type Catalog struct {
	Accounts     []ledger.Account
	Products     []production.Product
	BOMs         []production.BOM
	Routings     []production.Routing
	LotPolicies  []production.LotPolicy
	SalesOrders  []production.SalesOrder
	OpeningStock []OpeningStock
}

type OpeningStock struct {
	Product  ledger.ProductID
	Location ledger.LocationID
	Quantity decimal.Decimal
	UnitCost decimal.Decimal
	Lot      string
}

// ParseCatalog parses and validates a JSON catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var cj CatalogJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return nil, fmt.Errorf("failed to parse catalog JSON: %w", err)
	}
	return FromJSON(cj)
}

// ReadCatalog parses the catalog file at path.
func ReadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// FromJSON converts and validates a CatalogJSON. References between
// sections (a BOM's components, a routing's product) must name products
// defined in the same catalog.
func FromJSON(cj CatalogJSON) (*Catalog, error) {
	cat := &Catalog{}

	for _, aj := range cj.Accounts {
		a, err := parseAccount(aj)
		if err != nil {
			return nil, err
		}
		cat.Accounts = append(cat.Accounts, a)
	}

	products := make(map[ledger.ProductID]bool, len(cj.Products))
	for _, pj := range cj.Products {
		if pj.ID == "" || pj.SKU == "" {
			return nil, fmt.Errorf("product %q: id and sku are required", pj.ID)
		}
		if pj.UnitCost.IsNegative() {
			return nil, fmt.Errorf("product %s: unit_cost cannot be negative", pj.ID)
		}
		id := ledger.ProductID(pj.ID)
		if products[id] {
			return nil, fmt.Errorf("product %s is defined twice", pj.ID)
		}
		products[id] = true

		uom := pj.UnitOfMeasure
		if uom == "" {
			uom = "ea"
		}
		name := pj.Name
		if name == "" {
			name = pj.SKU
		}
		cat.Products = append(cat.Products, production.Product{
			ID:            id,
			SKU:           pj.SKU,
			Name:          name,
			UnitOfMeasure: uom,
			UnitCost:      pj.UnitCost,
			LotTracked:    pj.LotTracked,
		})
	}
	known := func(id string) bool { return products[ledger.ProductID(id)] }

	for _, bj := range cj.BOMs {
		bom, err := parseBOM(bj, known)
		if err != nil {
			return nil, err
		}
		cat.BOMs = append(cat.BOMs, bom)
	}

	for _, rj := range cj.Routings {
		routing, err := parseRouting(rj, known)
		if err != nil {
			return nil, err
		}
		cat.Routings = append(cat.Routings, routing)
	}

	for _, lj := range cj.LotPolicies {
		if lj.Product == "" && lj.Customer == "" && lj.Channel == "" {
			return nil, fmt.Errorf("lot policy needs at least one of product, customer, channel")
		}
		if lj.Product != "" && !known(lj.Product) {
			return nil, fmt.Errorf("lot policy: unknown product %s", lj.Product)
		}
		cat.LotPolicies = append(cat.LotPolicies, production.LotPolicy{
			Product:  ledger.ProductID(lj.Product),
			Customer: lj.Customer,
			Channel:  lj.Channel,
		})
	}

	for _, sj := range cj.SalesOrders {
		if sj.ID == "" {
			return nil, fmt.Errorf("sales order: id is required")
		}
		cat.SalesOrders = append(cat.SalesOrders, production.SalesOrder{
			ID:       production.SalesOrderID(sj.ID),
			Customer: sj.Customer,
			Channel:  sj.Channel,
			Status:   production.SalesOpen,
		})
	}

	for _, stj := range cj.OpeningStock {
		if !known(stj.Product) {
			return nil, fmt.Errorf("opening stock: unknown product %s", stj.Product)
		}
		if !stj.Quantity.IsPositive() {
			return nil, fmt.Errorf("opening stock of %s: quantity must be positive", stj.Product)
		}
		loc := ledger.LocationID(stj.Location)
		if loc == "" {
			loc = ledger.DefaultLocation
		}
		cat.OpeningStock = append(cat.OpeningStock, OpeningStock{
			Product:  ledger.ProductID(stj.Product),
			Location: loc,
			Quantity: stj.Quantity,
			UnitCost: stj.UnitCost,
			Lot:      stj.Lot,
		})
	}

	return cat, nil
}

func parseAccount(aj AccountJSON) (ledger.Account, error) {
	if aj.Code == "" {
		return ledger.Account{}, fmt.Errorf("account: code is required")
	}
	t := ledger.AccountType(aj.Type)
	switch t {
	case ledger.AccountAsset, ledger.AccountLiability, ledger.AccountExpense, ledger.AccountRevenue, ledger.AccountEquity:
	default:
		return ledger.Account{}, fmt.Errorf("account %s: unknown type %q", aj.Code, aj.Type)
	}
	return ledger.Account{Code: ledger.AccountCode(aj.Code), Name: aj.Name, Type: t}, nil
}

func parseBOM(bj BOMJSON, known func(string) bool) (production.BOM, error) {
	if bj.ID == "" {
		return production.BOM{}, fmt.Errorf("bom: id is required")
	}
	if !known(bj.Product) {
		return production.BOM{}, fmt.Errorf("bom %s: unknown product %s", bj.ID, bj.Product)
	}
	bom := production.BOM{ID: production.BOMID(bj.ID), Product: ledger.ProductID(bj.Product)}
	for i, lj := range bj.Lines {
		if !known(lj.Component) {
			return production.BOM{}, fmt.Errorf("bom %s line %d: unknown component %s", bj.ID, i+1, lj.Component)
		}
		if lj.Component == bj.Product {
			return production.BOM{}, fmt.Errorf("bom %s line %d: product cannot consume itself", bj.ID, i+1)
		}
		if !lj.Quantity.IsPositive() {
			return production.BOM{}, fmt.Errorf("bom %s line %d: quantity must be positive", bj.ID, i+1)
		}
		if lj.ScrapFactorPercent.IsNegative() {
			return production.BOM{}, fmt.Errorf("bom %s line %d: scrap factor cannot be negative", bj.ID, i+1)
		}
		bom.Lines = append(bom.Lines, production.BOMLine{
			Component:          ledger.ProductID(lj.Component),
			Quantity:           lj.Quantity,
			ScrapFactorPercent: lj.ScrapFactorPercent,
			OperationSequence:  lj.Operation,
		})
	}
	return bom, nil
}

func parseRouting(rj RoutingJSON, known func(string) bool) (production.Routing, error) {
	if rj.ID == "" {
		return production.Routing{}, fmt.Errorf("routing: id is required")
	}
	if !known(rj.Product) {
		return production.Routing{}, fmt.Errorf("routing %s: unknown product %s", rj.ID, rj.Product)
	}
	routing := production.Routing{ID: production.RoutingID(rj.ID), Product: ledger.ProductID(rj.Product)}
	seen := make(map[int]bool, len(rj.Steps))
	for _, sj := range rj.Steps {
		if sj.Sequence <= 0 {
			return production.Routing{}, fmt.Errorf("routing %s: sequence must be positive", rj.ID)
		}
		if seen[sj.Sequence] {
			return production.Routing{}, fmt.Errorf("routing %s: sequence %d is repeated", rj.ID, sj.Sequence)
		}
		seen[sj.Sequence] = true
		routing.Steps = append(routing.Steps, production.RoutingStep{
			Sequence:     sj.Sequence,
			Name:         sj.Name,
			SetupMinutes: sj.SetupMinutes,
			RunMinutes:   sj.RunMinutes,
			Resource:     production.ResourceID(sj.Resource),
		})
	}
	return routing, nil
}

// =============================================================================
// LOADER
// =============================================================================

// Target is where a catalog is written.
type Target interface {
	SaveAccount(ctx context.Context, a ledger.Account) error
	SaveProduct(ctx context.Context, p production.Product) error
	SaveBOM(ctx context.Context, bom production.BOM) error
	SaveRouting(ctx context.Context, r production.Routing) error
	SaveLotPolicy(ctx context.Context, p production.LotPolicy) error
	SaveSalesOrder(ctx context.Context, so production.SalesOrder) error
}

type Loader struct {
	Target Target
	Ledger *ledger.Ledger
}

func NewLoader(target Target, l *ledger.Ledger) *Loader {
	return &Loader{Target: target, Ledger: l}
}

// Load writes the catalog and posts its opening stock. Master data is
// upserted; lot policies are appended.
func (l *Loader) Load(ctx context.Context, cat *Catalog) error {
	for _, a := range cat.Accounts {
		if err := l.Target.SaveAccount(ctx, a); err != nil {
			return err
		}
	}
	for _, p := range cat.Products {
		if err := l.Target.SaveProduct(ctx, p); err != nil {
			return err
		}
	}
	for _, b := range cat.BOMs {
		if err := l.Target.SaveBOM(ctx, b); err != nil {
			return err
		}
	}
	for _, r := range cat.Routings {
		if err := l.Target.SaveRouting(ctx, r); err != nil {
			return err
		}
	}
	for _, p := range cat.LotPolicies {
		if err := l.Target.SaveLotPolicy(ctx, p); err != nil {
			return err
		}
	}
	for _, so := range cat.SalesOrders {
		if err := l.Target.SaveSalesOrder(ctx, so); err != nil {
			return err
		}
	}
	for _, s := range cat.OpeningStock {
		if err := l.postOpeningStock(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) postOpeningStock(ctx context.Context, s OpeningStock) error {
	if l.Ledger == nil {
		return fmt.Errorf("opening stock of %s needs a ledger", s.Product)
	}
	ref := OpeningStockReference(s.Product, s.Location)
	posted, err := l.Ledger.Entries(ctx, ref)
	if err != nil {
		return err
	}
	if len(posted) > 0 {
		return nil
	}
	req := ledger.ReceivePurchase(ref, s.Product, s.Location, s.Quantity, s.UnitCost, s.Lot)
	req.Memo = "opening stock"
	if _, err := l.Ledger.Post(ctx, req); err != nil {
		return fmt.Errorf("failed to post opening stock of %s: %w", s.Product, err)
	}
	return nil
}

func OpeningStockReference(product ledger.ProductID, location ledger.LocationID) ledger.Reference {
	return ledger.Reference{Type: ledger.RefPurchase, ID: fmt.Sprintf("opening-%s-%s", product, location)}
}
