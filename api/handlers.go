/*
handlers.go - HTTP API handlers for the production engine

PURPOSE:
  Exposes production workflows and the ledger over a thin REST API. Handles
  HTTP request/response and JSON serialization, and delegates everything
  else to the production and ledger packages.

ENDPOINTS:
  Orders:
    POST   /api/orders                          Create a draft order
    GET    /api/orders/{id}                     Order with operations
    POST   /api/orders/{id}/release             Explode BOM and routing
    POST   /api/orders/{id}/reserve             Reserve outstanding materials
    POST   /api/orders/{id}/cancel              Cancel a draft or released order
    POST   /api/orders/{id}/qc                  Mark quality check passed
    GET    /api/orders/{id}/operations          Operations with materials
    GET    /api/orders/{id}/blocking-issues     Why waiting operations cannot start
    GET    /api/orders/{id}/scrap-records       Scrap trace
    GET    /api/orders/{id}/entries             Journal entries for the order

  Operations:
    POST   /api/orders/{id}/operations/{opID}/schedule|start|complete|skip|scrap

  Ledger:
    POST   /api/ledger/entries                  Post a business event
    GET    /api/ledger/entries/{id}             One journal entry
    GET    /api/ledger/transactions             Inventory transactions (filtered)

  Items:
    GET    /api/items/{id}/inventory            Stock position
    GET    /api/items/{id}/demand               Supply and demand summary

EVENTS:
  Mutating handlers publish domain events after the unit of work commits.
  A publish failure is logged; the response still reports success.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed body, validation errors
  - 404: Order, operation, product or entry not found
  - 409: Resource busy, stale version
  - 422: Rule violations (invalid transition, quantity exceeded,
         insufficient stock, unbalanced entry, unknown account)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/warp/production-engine/events"
	"github.com/warp/production-engine/factory"
	"github.com/warp/production-engine/ledger"
	"github.com/warp/production-engine/production"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *production.Service
	Ledger  *ledger.Ledger
	Events  events.Publisher

	// Catalog receives POST /api/catalog loads. Nil disables the route.
	Catalog factory.Target
}

func NewHandler(service *production.Service, publisher events.Publisher) *Handler {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Handler{
		Service: service,
		Ledger:  service.Ledger,
		Events:  publisher,
	}
}

func (h *Handler) publish(ctx context.Context, evs ...events.Event) {
	if err := h.Events.Publish(ctx, evs...); err != nil {
		log.Printf("failed to publish %d events: %v", len(evs), err)
	}
}

// =============================================================================
// ORDER ENDPOINTS
// =============================================================================

// CreateOrder creates a draft production order.
// POST /api/orders
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !decode(w, r, &req) {
		return
	}

	order, err := h.Service.CreateOrder(r.Context(), production.NewOrder{
		Product:        ledger.ProductID(req.Product),
		Quantity:       req.Quantity,
		Location:       ledger.LocationID(req.Location),
		BOM:            production.BOMID(req.BOM),
		Routing:        production.RoutingID(req.Routing),
		SalesOrder:     production.SalesOrderID(req.SalesOrder),
		SalesOrderLine: req.SalesOrderLine,
		Customer:       req.Customer,
		Channel:        req.Channel,
	})
	if err != nil {
		writeDomainError(w, "Failed to create order", err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderDTO(order))
}

// GetOrder returns one order with its operations.
// GET /api/orders/{id}
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.Service.Order(r.Context(), orderID(r))
	if err != nil {
		writeDomainError(w, "Failed to get order", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(order))
}

// ReleaseOrder explodes the order into operations and materials.
// POST /api/orders/{id}/release
func (h *Handler) ReleaseOrder(w http.ResponseWriter, r *http.Request) {
	var req ReleaseOrderRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	ctx := r.Context()
	order, err := h.Service.ReleaseOrder(ctx, orderID(r), production.ReleaseOptions{Queued: req.Queued})
	if err != nil {
		writeDomainError(w, "Failed to release order", err)
		return
	}
	h.publish(ctx, events.New(events.OrderStatusChanged, string(order.ID), events.StatusPayload{
		Order: order.ID, From: production.OrderDraft, To: order.Status,
	}))
	writeJSON(w, http.StatusOK, toOrderDTO(order))
}

// ReserveMaterials reserves what the order still needs. Shortages are
// reported in the body, not as an error, unless strict mode is on.
// POST /api/orders/{id}/reserve
func (h *Handler) ReserveMaterials(w http.ResponseWriter, r *http.Request) {
	var req ReserveRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	opts := production.ReserveOptions{
		Location: ledger.LocationID(req.Location),
		Strict:   req.Strict,
	}
	if len(req.Lots) > 0 {
		opts.Lots = make(map[ledger.ProductID]string, len(req.Lots))
		for component, lot := range req.Lots {
			opts.Lots[ledger.ProductID(component)] = lot
		}
	}

	result, err := h.Service.ReserveMaterials(r.Context(), orderID(r), opts)
	if err != nil {
		writeDomainError(w, "Failed to reserve materials", err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(result))
}

// CancelOrder cancels an order that has not started.
// POST /api/orders/{id}/cancel
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	ctx := r.Context()
	id := orderID(r)
	before, err := h.Service.Order(ctx, id)
	if err != nil {
		writeDomainError(w, "Failed to cancel order", err)
		return
	}
	order, err := h.Service.CancelOrder(ctx, id, req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to cancel order", err)
		return
	}
	h.publish(ctx, events.New(events.OrderStatusChanged, string(order.ID), events.StatusPayload{
		Order: order.ID, From: before.Status, To: order.Status,
	}))
	writeJSON(w, http.StatusOK, toOrderDTO(order))
}

// MarkQCPassed records a passed quality check on a closed order.
// POST /api/orders/{id}/qc
func (h *Handler) MarkQCPassed(w http.ResponseWriter, r *http.Request) {
	order, err := h.Service.MarkQCPassed(r.Context(), orderID(r))
	if err != nil {
		writeDomainError(w, "Failed to record quality check", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(order))
}

// GetOperations returns the order's operations in sequence.
// GET /api/orders/{id}/operations
func (h *Handler) GetOperations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, err := h.Service.Order(ctx, orderID(r))
	if err != nil {
		writeDomainError(w, "Failed to get operations", err)
		return
	}
	ops, err := h.Service.OrderOperations(ctx, order.ID)
	if err != nil {
		writeDomainError(w, "Failed to get operations", err)
		return
	}
	order.Operations = ops

	dtos := make([]OperationDTO, 0, len(ops))
	for i := range order.Operations {
		dtos = append(dtos, toOperationDTO(order, &order.Operations[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetBlockingIssues explains why waiting operations cannot start.
// GET /api/orders/{id}/blocking-issues
func (h *Handler) GetBlockingIssues(w http.ResponseWriter, r *http.Request) {
	issues, err := h.Service.BlockingIssues(r.Context(), orderID(r))
	if err != nil {
		writeDomainError(w, "Failed to get blocking issues", err)
		return
	}
	writeJSON(w, http.StatusOK, toBlockingIssueDTOs(issues))
}

// GetScrapRecords returns the scrap trace of an order.
// GET /api/orders/{id}/scrap-records
func (h *Handler) GetScrapRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.Service.ScrapRecords(r.Context(), orderID(r))
	if err != nil {
		writeDomainError(w, "Failed to get scrap records", err)
		return
	}
	writeJSON(w, http.StatusOK, toScrapRecordDTOs(records))
}

// GetOrderEntries returns every journal entry posted for the order.
// GET /api/orders/{id}/entries
func (h *Handler) GetOrderEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, err := h.Service.Order(ctx, orderID(r))
	if err != nil {
		writeDomainError(w, "Failed to get entries", err)
		return
	}
	entries, err := h.Ledger.Entries(ctx, order.Reference())
	if err != nil {
		writeDomainError(w, "Failed to get entries", err)
		return
	}
	dtos := make([]JournalEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toJournalEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// OPERATION ENDPOINTS
// =============================================================================

// ScheduleOperation moves a pending operation to queued.
// POST /api/orders/{id}/operations/{opID}/schedule
func (h *Handler) ScheduleOperation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	op, err := h.Service.ScheduleOperation(ctx, orderID(r), operationID(r))
	if err != nil {
		writeDomainError(w, "Failed to schedule operation", err)
		return
	}
	order, err := h.Service.Order(ctx, op.Order)
	if err != nil {
		writeDomainError(w, "Failed to schedule operation", err)
		return
	}
	writeJSON(w, http.StatusOK, toOperationDTO(order, op))
}

// StartOperation moves an operation to running.
// POST /api/orders/{id}/operations/{opID}/start
func (h *Handler) StartOperation(w http.ResponseWriter, r *http.Request) {
	var req StartOperationRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	ctx := r.Context()
	result, err := h.Service.StartOperation(ctx, orderID(r), operationID(r), production.StartOptions{
		Resource: production.ResourceID(req.Resource),
		Operator: req.Operator,
	})
	if err != nil {
		writeDomainError(w, "Failed to start operation", err)
		return
	}
	h.publish(ctx, events.ForOperation(events.OperationStarted, result)...)
	writeJSON(w, http.StatusOK, toOperationResultDTO(result))
}

// CompleteOperation records good and scrapped output of a running operation.
// POST /api/orders/{id}/operations/{opID}/complete
func (h *Handler) CompleteOperation(w http.ResponseWriter, r *http.Request) {
	var req CompleteOperationRequest
	if !decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	result, err := h.Service.CompleteOperation(ctx, orderID(r), operationID(r), production.CompleteRequest{
		QuantityCompleted: req.QuantityCompleted,
		QuantityScrapped:  req.QuantityScrapped,
		ScrapReason:       production.ScrapReason(req.ScrapReason),
		Notes:             req.Notes,
	})
	if err != nil {
		writeDomainError(w, "Failed to complete operation", err)
		return
	}
	h.publish(ctx, events.ForOperation(events.OperationCompleted, result)...)
	writeJSON(w, http.StatusOK, toOperationResultDTO(result))
}

// SkipOperation skips a waiting operation.
// POST /api/orders/{id}/operations/{opID}/skip
func (h *Handler) SkipOperation(w http.ResponseWriter, r *http.Request) {
	var req SkipOperationRequest
	if !decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	result, err := h.Service.SkipOperation(ctx, orderID(r), operationID(r), req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to skip operation", err)
		return
	}
	h.publish(ctx, events.ForOperation(events.OperationSkipped, result)...)
	writeJSON(w, http.StatusOK, toOperationResultDTO(result))
}

// ScrapOperation rejects good units of a completed operation.
// POST /api/orders/{id}/operations/{opID}/scrap
func (h *Handler) ScrapOperation(w http.ResponseWriter, r *http.Request) {
	var req ScrapRequest
	if !decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	result, err := h.Service.ProcessScrap(ctx, orderID(r), operationID(r), production.ScrapRequest{
		Quantity:          req.Quantity,
		Reason:            production.ScrapReason(req.Reason),
		Notes:             req.Notes,
		CreateReplacement: req.CreateReplacement,
	})
	if err != nil {
		writeDomainError(w, "Failed to process scrap", err)
		return
	}
	h.publish(ctx, events.ForScrap(result)...)
	writeJSON(w, http.StatusOK, toScrapResultDTO(result))
}

// =============================================================================
// LEDGER ENDPOINTS
// =============================================================================

// PostEntry posts a business event: journal lines plus stock movements.
// POST /api/ledger/entries
func (h *Handler) PostEntry(w http.ResponseWriter, r *http.Request) {
	var req PostEntryRequest
	if !decode(w, r, &req) {
		return
	}

	post := ledger.PostRequest{
		Memo:      req.Memo,
		Reference: ledger.Reference{Type: ledger.ReferenceType(req.ReferenceType), ID: req.ReferenceID},
	}
	if post.Reference.Type == "" {
		post.Reference.Type = ledger.RefManual
	}
	if req.AllowNegative {
		post.NegativeStock = ledger.AllowWithApproval
	}
	for _, l := range req.Lines {
		post.Lines = append(post.Lines, ledger.AccountLine{
			Account: ledger.AccountCode(l.Account),
			Amount:  l.Amount,
			Memo:    l.Memo,
		})
	}
	for _, m := range req.Movements {
		post.Movements = append(post.Movements, ledger.Movement{
			Product:  ledger.ProductID(m.Product),
			Location: ledger.LocationID(m.Location),
			Quantity: m.Quantity,
			UnitCost: m.UnitCost,
			Type:     ledger.TransactionType(m.Type),
			Lot:      m.Lot,
		})
	}

	ctx := r.Context()
	entry, err := h.Ledger.Post(ctx, post)
	if err != nil {
		writeDomainError(w, "Failed to post entry", err)
		return
	}
	h.publish(ctx, events.ForEntry(*entry))
	writeJSON(w, http.StatusCreated, toJournalEntryDTO(*entry))
}

// GetEntry returns one journal entry.
// GET /api/ledger/entries/{id}
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.Ledger.Entry(r.Context(), ledger.EntryID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to get entry", err)
		return
	}
	writeJSON(w, http.StatusOK, toJournalEntryDTO(*entry))
}

// ListTransactions returns inventory transactions matching the query.
// GET /api/ledger/transactions?product=&location=&reference_type=&reference_id=&type=
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.TransactionFilter{
		Product:        ledger.ProductID(q.Get("product")),
		Location:       ledger.LocationID(q.Get("location")),
		JournalEntryID: ledger.EntryID(q.Get("journal_entry_id")),
	}
	if refType := q.Get("reference_type"); refType != "" {
		filter.Reference = ledger.Reference{Type: ledger.ReferenceType(refType), ID: q.Get("reference_id")}
	}
	for _, t := range q["type"] {
		filter.Types = append(filter.Types, ledger.TransactionType(t))
	}

	txs, err := h.Ledger.Transactions(r.Context(), filter)
	if err != nil {
		writeDomainError(w, "Failed to list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// =============================================================================
// ITEM ENDPOINTS
// =============================================================================

// GetInventory returns the stock position of a product.
// GET /api/items/{id}/inventory?location=
func (h *Handler) GetInventory(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Ledger.Inventory(r.Context(), ledger.ProductID(chi.URLParam(r, "id")),
		ledger.LocationID(r.URL.Query().Get("location")))
	if err != nil {
		writeDomainError(w, "Failed to get inventory", err)
		return
	}
	writeJSON(w, http.StatusOK, toInventoryDTO(inv))
}

// GetDemand returns the supply and demand summary of a product.
// GET /api/items/{id}/demand?location=
func (h *Handler) GetDemand(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Service.ItemDemandSummary(r.Context(), ledger.ProductID(chi.URLParam(r, "id")),
		ledger.LocationID(r.URL.Query().Get("location")))
	if err != nil {
		writeDomainError(w, "Failed to get demand", err)
		return
	}
	writeJSON(w, http.StatusOK, toDemandSummaryDTO(summary))
}

// =============================================================================
// HELPERS
// =============================================================================

func orderID(r *http.Request) production.OrderID {
	return production.OrderID(chi.URLParam(r, "id"))
}

func operationID(r *http.Request) production.OperationID {
	return production.OperationID(chi.URLParam(r, "opID"))
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	return decode(w, r, dst)
}

// writeDomainError maps domain errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	var validation *ledger.ValidationError
	switch {
	case production.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case production.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, message, err)
	case production.IsClientError(err):
		writeError(w, http.StatusUnprocessableEntity, message, err)
	default:
		log.Printf("%s: %v", message, err)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
