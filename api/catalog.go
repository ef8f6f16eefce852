/*
catalog.go - Catalog loading over HTTP

PURPOSE:
  Lets a planner push master data (accounts, products, BOMs, routings,
  lot policies, sales orders) and opening stock into a running server
  without a restart. The body is the same JSON document the -seed flag
  reads from disk.

HOW LOADING WORKS:
 1. Decode and validate the whole document (nothing is written on error)
 2. Upsert master data through the catalog target
 3. Post opening stock once per product/location

USAGE VIA API:

	POST /api/catalog
	{"products": [...], "boms": [...], "routings": [...], "opening_stock": [...]}

NOTE:
  The route only exists when the handler has a catalog target.

SEE ALSO:
  - factory/catalog.go: Document format and loader
  - cmd/server/main.go: -seed flag
*/
package api

import (
	"net/http"

	"github.com/warp/production-engine/factory"
)

// CatalogLoadedDTO counts what a catalog load wrote.
type CatalogLoadedDTO struct {
	Accounts     int `json:"accounts"`
	Products     int `json:"products"`
	BOMs         int `json:"boms"`
	Routings     int `json:"routings"`
	LotPolicies  int `json:"lot_policies"`
	SalesOrders  int `json:"sales_orders"`
	OpeningStock int `json:"opening_stock"`
}

// LoadCatalog validates and loads a catalog document.
// POST /api/catalog
func (h *Handler) LoadCatalog(w http.ResponseWriter, r *http.Request) {
	var req factory.CatalogJSON
	if !decode(w, r, &req) {
		return
	}

	cat, err := factory.FromJSON(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid catalog", err)
		return
	}

	if err := factory.NewLoader(h.Catalog, h.Ledger).Load(r.Context(), cat); err != nil {
		writeDomainError(w, "Failed to load catalog", err)
		return
	}

	writeJSON(w, http.StatusCreated, CatalogLoadedDTO{
		Accounts:     len(cat.Accounts),
		Products:     len(cat.Products),
		BOMs:         len(cat.BOMs),
		Routings:     len(cat.Routings),
		LotPolicies:  len(cat.LotPolicies),
		SalesOrders:  len(cat.SalesOrders),
		OpeningStock: len(cat.OpeningStock),
	})
}
