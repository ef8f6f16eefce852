/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for shop-floor terminals

ROUTE GROUPS:
  /api/orders/*     Production orders and their operations
  /api/ledger/*     Journal entries and inventory transactions
  /api/items/*      Stock position and demand per product
  /api/catalog      Master data and opening stock load
  /health           Liveness

SECURITY NOTE:
  No authentication middleware. All endpoints are public; put the service
  behind a gateway that authenticates.

SEE ALSO:
  - handlers.go: Handler implementations
  - catalog.go: Catalog load endpoint
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins ...string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetOrder)
				r.Post("/release", h.ReleaseOrder)
				r.Post("/reserve", h.ReserveMaterials)
				r.Post("/cancel", h.CancelOrder)
				r.Post("/qc", h.MarkQCPassed)
				r.Get("/operations", h.GetOperations)
				r.Get("/blocking-issues", h.GetBlockingIssues)
				r.Get("/scrap-records", h.GetScrapRecords)
				r.Get("/entries", h.GetOrderEntries)

				r.Route("/operations/{opID}", func(r chi.Router) {
					r.Post("/schedule", h.ScheduleOperation)
					r.Post("/start", h.StartOperation)
					r.Post("/complete", h.CompleteOperation)
					r.Post("/skip", h.SkipOperation)
					r.Post("/scrap", h.ScrapOperation)
				})
			})
		})

		r.Route("/ledger", func(r chi.Router) {
			r.Post("/entries", h.PostEntry)
			r.Get("/entries/{id}", h.GetEntry)
			r.Get("/transactions", h.ListTransactions)
		})

		r.Route("/items/{id}", func(r chi.Router) {
			r.Get("/inventory", h.GetInventory)
			r.Get("/demand", h.GetDemand)
		})

		if h.Catalog != nil {
			r.Post("/catalog", h.LoadCatalog)
		}
	})

	return r
}
