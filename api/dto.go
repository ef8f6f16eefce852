/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the production and ledger models from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DECIMALS:
  Quantities and money are shopspring decimals. They are written as JSON
  strings ("12.50") and accepted as strings or numbers.

VALIDATION:
  Validation is done by the domain packages, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/production-engine/ledger"
	"github.com/warp/production-engine/production"
)

// =============================================================================
// ORDERS
// =============================================================================

type CreateOrderRequest struct {
	Product        string          `json:"product"`
	Quantity       decimal.Decimal `json:"quantity"`
	Location       string          `json:"location,omitempty"`
	BOM            string          `json:"bom,omitempty"`
	Routing        string          `json:"routing,omitempty"`
	SalesOrder     string          `json:"sales_order,omitempty"`
	SalesOrderLine int             `json:"sales_order_line,omitempty"`
	Customer       string          `json:"customer,omitempty"`
	Channel        string          `json:"channel,omitempty"`
}

type ReleaseOrderRequest struct {
	Queued bool `json:"queued,omitempty"`
}

type CancelOrderRequest struct {
	Reason string `json:"reason"`
}

type OrderDTO struct {
	ID                string                 `json:"id"`
	Number            string                 `json:"number"`
	Product           string                 `json:"product"`
	BOM               string                 `json:"bom,omitempty"`
	Routing           string                 `json:"routing,omitempty"`
	Location          string                 `json:"location"`
	Status            production.OrderStatus `json:"status"`
	QuantityOrdered   decimal.Decimal        `json:"quantity_ordered"`
	QuantityCompleted decimal.Decimal        `json:"quantity_completed"`
	QuantityScrapped  decimal.Decimal        `json:"quantity_scrapped"`
	SalesOrder        string                 `json:"sales_order,omitempty"`
	RemakeOf          string                 `json:"remake_of,omitempty"`
	QCPassed          bool                   `json:"qc_passed"`
	ActualStart       *time.Time             `json:"actual_start,omitempty"`
	ActualEnd         *time.Time             `json:"actual_end,omitempty"`
	CompletedAt       *time.Time             `json:"completed_at,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	Operations        []OperationDTO         `json:"operations,omitempty"`
}

type OperationDTO struct {
	ID                string                     `json:"id"`
	Sequence          int                        `json:"sequence"`
	Name              string                     `json:"name"`
	Status            production.OperationStatus `json:"status"`
	QuantityCompleted decimal.Decimal            `json:"quantity_completed"`
	QuantityScrapped  decimal.Decimal            `json:"quantity_scrapped"`
	MaxAllowed        decimal.Decimal            `json:"max_allowed"`
	Resource          string                     `json:"resource,omitempty"`
	Operator          string                     `json:"operator,omitempty"`
	SkipReason        string                     `json:"skip_reason,omitempty"`
	ActualStart       *time.Time                 `json:"actual_start,omitempty"`
	ActualEnd         *time.Time                 `json:"actual_end,omitempty"`
	Version           int                        `json:"version"`
	Materials         []MaterialDTO              `json:"materials"`
}

type MaterialDTO struct {
	ID               string          `json:"id"`
	Component        string          `json:"component"`
	QuantityRequired decimal.Decimal `json:"quantity_required"`
	QuantityReserved decimal.Decimal `json:"quantity_reserved"`
	QuantityConsumed decimal.Decimal `json:"quantity_consumed"`
	Lot              string          `json:"lot,omitempty"`
	CostItem         bool            `json:"cost_item,omitempty"`
}

// =============================================================================
// RESERVATION
// =============================================================================

type ReserveRequest struct {
	Location string            `json:"location,omitempty"`
	Lots     map[string]string `json:"lots,omitempty"` // component -> lot
	Strict   bool              `json:"strict,omitempty"`
}

type ReservationDTO struct {
	Reserved     []ReservedDTO       `json:"reserved"`
	Insufficient []ShortageDTO       `json:"insufficient"`
	LotRequired  []LotRequirementDTO `json:"lot_required"`
}

type ReservedDTO struct {
	Operation   string          `json:"operation_id"`
	Component   string          `json:"component"`
	Quantity    decimal.Decimal `json:"quantity"`
	Lot         string          `json:"lot,omitempty"`
	Transaction string          `json:"transaction_id"`
}

type ShortageDTO struct {
	Operation string          `json:"operation_id"`
	Component string          `json:"component"`
	Required  decimal.Decimal `json:"required"`
	Available decimal.Decimal `json:"available"`
	Shortfall decimal.Decimal `json:"shortfall"`
}

type LotRequirementDTO struct {
	Operation string          `json:"operation_id"`
	Component string          `json:"component"`
	Required  decimal.Decimal `json:"required"`
}

// =============================================================================
// OPERATIONS
// =============================================================================

type StartOperationRequest struct {
	Resource string `json:"resource,omitempty"`
	Operator string `json:"operator,omitempty"`
}

type CompleteOperationRequest struct {
	QuantityCompleted decimal.Decimal `json:"quantity_completed"`
	QuantityScrapped  decimal.Decimal `json:"quantity_scrapped"`
	ScrapReason       string          `json:"scrap_reason,omitempty"`
	Notes             string          `json:"notes,omitempty"`
}

type SkipOperationRequest struct {
	Reason string `json:"reason"`
}

type ScrapRequest struct {
	Quantity          decimal.Decimal `json:"quantity"`
	Reason            string          `json:"reason"`
	Notes             string          `json:"notes,omitempty"`
	CreateReplacement bool            `json:"create_replacement,omitempty"`
}

type OperationResultDTO struct {
	Operation    OperationDTO      `json:"operation"`
	Order        OrderDTO          `json:"order"`
	Entries      []JournalEntryDTO `json:"entries,omitempty"`
	Skipped      []string          `json:"skipped,omitempty"`
	Scrap        *ScrapResultDTO   `json:"scrap,omitempty"`
	StatusChange *StatusChangeDTO  `json:"status_change,omitempty"`
}

type ScrapResultDTO struct {
	JournalEntry JournalEntryDTO  `json:"journal_entry"`
	Records      []ScrapRecordDTO `json:"records"`
	Replacement  *OrderDTO        `json:"replacement,omitempty"`
	Skipped      []string         `json:"skipped,omitempty"`
	StatusChange *StatusChangeDTO `json:"status_change,omitempty"`
}

type ScrapRecordDTO struct {
	ID                     string          `json:"id"`
	Operation              string          `json:"operation_id"`
	ScrappedAt             string          `json:"scrapped_at_operation_id"`
	Component              string          `json:"component"`
	Quantity               decimal.Decimal `json:"quantity"`
	UnitCost               decimal.Decimal `json:"unit_cost"`
	Cost                   decimal.Decimal `json:"cost"`
	Reason                 string          `json:"reason"`
	Notes                  string          `json:"notes,omitempty"`
	InventoryTransactionID string          `json:"inventory_transaction_id,omitempty"`
	JournalEntryID         string          `json:"journal_entry_id"`
	CreatedAt              time.Time       `json:"created_at"`
}

type StatusChangeDTO struct {
	From production.OrderStatus `json:"from"`
	To   production.OrderStatus `json:"to"`
}

type BlockingIssueDTO struct {
	Operation string               `json:"operation_id"`
	Sequence  int                  `json:"sequence"`
	Kind      production.IssueKind `json:"kind"`
	Component string               `json:"component,omitempty"`
	Shortfall *decimal.Decimal     `json:"shortfall,omitempty"`
	Message   string               `json:"message"`
}

// =============================================================================
// LEDGER
// =============================================================================

type PostEntryRequest struct {
	Memo          string            `json:"memo"`
	ReferenceType string            `json:"reference_type"`
	ReferenceID   string            `json:"reference_id"`
	Lines         []EntryLineInput  `json:"lines"`
	Movements     []MovementRequest `json:"movements,omitempty"`
	// AllowNegative marks an approved adjustment that may leave stock negative.
	AllowNegative bool `json:"allow_negative,omitempty"`
}

// EntryLineInput carries a signed amount: positive debits, negative credits.
type EntryLineInput struct {
	Account string          `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
	Memo    string          `json:"memo,omitempty"`
}

type MovementRequest struct {
	Product  string          `json:"product"`
	Location string          `json:"location,omitempty"`
	Quantity decimal.Decimal `json:"quantity"`
	UnitCost decimal.Decimal `json:"unit_cost"`
	Type     string          `json:"type"`
	Lot      string          `json:"lot,omitempty"`
}

type JournalEntryDTO struct {
	ID            string           `json:"id"`
	Number        string           `json:"number"`
	PostedAt      time.Time        `json:"posted_at"`
	Memo          string           `json:"memo"`
	ReferenceType string           `json:"reference_type"`
	ReferenceID   string           `json:"reference_id"`
	Total         decimal.Decimal  `json:"total"`
	Lines         []JournalLineDTO `json:"lines"`
}

type JournalLineDTO struct {
	Account string          `json:"account"`
	Side    ledger.Side     `json:"side"`
	Amount  decimal.Decimal `json:"amount"`
	Memo    string          `json:"memo,omitempty"`
}

type TransactionDTO struct {
	ID             string          `json:"id"`
	Product        string          `json:"product"`
	Location       string          `json:"location"`
	Type           string          `json:"type"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	Lot            string          `json:"lot,omitempty"`
	ReferenceType  string          `json:"reference_type"`
	ReferenceID    string          `json:"reference_id"`
	JournalEntryID string          `json:"journal_entry_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// =============================================================================
// ITEMS
// =============================================================================

type InventoryDTO struct {
	Product   string          `json:"product"`
	Location  string          `json:"location"`
	OnHand    decimal.Decimal `json:"on_hand"`
	Allocated decimal.Decimal `json:"allocated"`
	Available decimal.Decimal `json:"available"`
}

type DemandSummaryDTO struct {
	InventoryDTO
	ComponentDemand decimal.Decimal `json:"component_demand"`
	IncomingSupply  decimal.Decimal `json:"incoming_supply"`
	Projected       decimal.Decimal `json:"projected"`
	Demand          []DemandLineDTO `json:"demand"`
	Supply          []SupplyLineDTO `json:"supply"`
}

type DemandLineDTO struct {
	Order     string          `json:"order_id"`
	Number    string          `json:"number"`
	Operation string          `json:"operation_id"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type SupplyLineDTO struct {
	Order    string                 `json:"order_id"`
	Number   string                 `json:"number"`
	Status   production.OrderStatus `json:"status"`
	Quantity decimal.Decimal        `json:"quantity"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toOrderDTO(o *production.ProductionOrder) OrderDTO {
	dto := OrderDTO{
		ID:                string(o.ID),
		Number:            o.Number,
		Product:           string(o.Product),
		BOM:               string(o.BOM),
		Routing:           string(o.Routing),
		Location:          string(o.Location),
		Status:            o.Status,
		QuantityOrdered:   o.QuantityOrdered,
		QuantityCompleted: o.QuantityCompleted,
		QuantityScrapped:  o.QuantityScrapped,
		SalesOrder:        string(o.SalesOrder),
		RemakeOf:          string(o.RemakeOf),
		QCPassed:          o.QCPassed,
		ActualStart:       o.ActualStart,
		ActualEnd:         o.ActualEnd,
		CompletedAt:       o.CompletedAt,
		CreatedAt:         o.CreatedAt,
	}
	for i := range o.Operations {
		dto.Operations = append(dto.Operations, toOperationDTO(o, &o.Operations[i]))
	}
	return dto
}

func toOperationDTO(o *production.ProductionOrder, op *production.Operation) OperationDTO {
	dto := OperationDTO{
		ID:                string(op.ID),
		Sequence:          op.Sequence,
		Name:              op.Name,
		Status:            op.Status,
		QuantityCompleted: op.QuantityCompleted,
		QuantityScrapped:  op.QuantityScrapped,
		MaxAllowed:        o.MaxAllowed(op),
		Resource:          string(op.Resource),
		Operator:          op.Operator,
		SkipReason:        op.SkipReason,
		ActualStart:       op.ActualStart,
		ActualEnd:         op.ActualEnd,
		Version:           op.Version,
		Materials:         []MaterialDTO{},
	}
	for _, m := range op.Materials {
		dto.Materials = append(dto.Materials, MaterialDTO{
			ID:               string(m.ID),
			Component:        string(m.Component),
			QuantityRequired: m.QuantityRequired,
			QuantityReserved: m.QuantityReserved,
			QuantityConsumed: m.QuantityConsumed,
			Lot:              m.Lot,
			CostItem:         m.CostItem,
		})
	}
	return dto
}

func toReservationDTO(r *production.ReservationResult) ReservationDTO {
	dto := ReservationDTO{
		Reserved:     []ReservedDTO{},
		Insufficient: []ShortageDTO{},
		LotRequired:  []LotRequirementDTO{},
	}
	for _, res := range r.Reserved {
		dto.Reserved = append(dto.Reserved, ReservedDTO{
			Operation:   string(res.Operation),
			Component:   string(res.Component),
			Quantity:    res.Quantity,
			Lot:         res.Lot,
			Transaction: string(res.Transaction),
		})
	}
	for _, s := range r.Insufficient {
		dto.Insufficient = append(dto.Insufficient, ShortageDTO{
			Operation: string(s.Operation),
			Component: string(s.Component),
			Required:  s.Required,
			Available: s.Available,
			Shortfall: s.Shortfall,
		})
	}
	for _, l := range r.LotRequired {
		dto.LotRequired = append(dto.LotRequired, LotRequirementDTO{
			Operation: string(l.Operation),
			Component: string(l.Component),
			Required:  l.Required,
		})
	}
	return dto
}

func toOperationResultDTO(r *production.OperationResult) OperationResultDTO {
	dto := OperationResultDTO{
		Operation:    toOperationDTO(r.Order, r.Operation),
		Order:        toOrderDTO(r.Order),
		Skipped:      idStrings(r.Skipped),
		StatusChange: toStatusChangeDTO(r.StatusChange),
	}
	for _, e := range r.Entries {
		dto.Entries = append(dto.Entries, toJournalEntryDTO(e))
	}
	if r.Scrap != nil {
		s := toScrapResultDTO(r.Scrap)
		dto.Scrap = &s
	}
	return dto
}

func toScrapResultDTO(r *production.ScrapResult) ScrapResultDTO {
	dto := ScrapResultDTO{
		JournalEntry: toJournalEntryDTO(r.JournalEntry),
		Records:      toScrapRecordDTOs(r.Records),
		Skipped:      idStrings(r.Skipped),
		StatusChange: toStatusChangeDTO(r.StatusChange),
	}
	if r.Replacement != nil {
		o := toOrderDTO(r.Replacement)
		dto.Replacement = &o
	}
	return dto
}

func toScrapRecordDTOs(records []production.ScrapRecord) []ScrapRecordDTO {
	dtos := make([]ScrapRecordDTO, 0, len(records))
	for _, r := range records {
		dtos = append(dtos, ScrapRecordDTO{
			ID:                     string(r.ID),
			Operation:              string(r.Operation),
			ScrappedAt:             string(r.ScrappedAt),
			Component:              string(r.Component),
			Quantity:               r.Quantity,
			UnitCost:               r.UnitCost,
			Cost:                   r.Cost,
			Reason:                 string(r.Reason),
			Notes:                  r.Notes,
			InventoryTransactionID: string(r.InventoryTransactionID),
			JournalEntryID:         string(r.JournalEntryID),
			CreatedAt:              r.CreatedAt,
		})
	}
	return dtos
}

func toStatusChangeDTO(c *production.StatusChange) *StatusChangeDTO {
	if c == nil {
		return nil
	}
	return &StatusChangeDTO{From: c.From, To: c.To}
}

func toJournalEntryDTO(e ledger.JournalEntry) JournalEntryDTO {
	dto := JournalEntryDTO{
		ID:            string(e.ID),
		Number:        e.Number,
		PostedAt:      e.PostedAt,
		Memo:          e.Memo,
		ReferenceType: string(e.Reference.Type),
		ReferenceID:   e.Reference.ID,
		Total:         e.Debits(),
		Lines:         make([]JournalLineDTO, 0, len(e.Lines)),
	}
	for _, l := range e.Lines {
		dto.Lines = append(dto.Lines, JournalLineDTO{
			Account: string(l.Account),
			Side:    l.Side,
			Amount:  l.Amount,
			Memo:    l.Memo,
		})
	}
	return dto
}

func toTransactionDTOs(txs []ledger.InventoryTransaction) []TransactionDTO {
	dtos := make([]TransactionDTO, 0, len(txs))
	for _, tx := range txs {
		dtos = append(dtos, TransactionDTO{
			ID:             string(tx.ID),
			Product:        string(tx.Product),
			Location:       string(tx.Location),
			Type:           string(tx.Type),
			Quantity:       tx.Quantity,
			UnitCost:       tx.UnitCost,
			Lot:            tx.Lot,
			ReferenceType:  string(tx.Reference.Type),
			ReferenceID:    tx.Reference.ID,
			JournalEntryID: string(tx.JournalEntryID),
			CreatedAt:      tx.CreatedAt,
		})
	}
	return dtos
}

func toInventoryDTO(inv ledger.Inventory) InventoryDTO {
	return InventoryDTO{
		Product:   string(inv.Product),
		Location:  string(inv.Location),
		OnHand:    inv.OnHand,
		Allocated: inv.Allocated,
		Available: inv.Available(),
	}
}

func toDemandSummaryDTO(s *production.ItemDemandSummary) DemandSummaryDTO {
	dto := DemandSummaryDTO{
		InventoryDTO: InventoryDTO{
			Product:   string(s.Product),
			Location:  string(s.Location),
			OnHand:    s.OnHand,
			Allocated: s.Allocated,
			Available: s.Available,
		},
		ComponentDemand: s.ComponentDemand,
		IncomingSupply:  s.IncomingSupply,
		Projected:       s.Projected,
		Demand:          []DemandLineDTO{},
		Supply:          []SupplyLineDTO{},
	}
	for _, d := range s.Demand {
		dto.Demand = append(dto.Demand, DemandLineDTO{
			Order:     string(d.Order),
			Number:    d.Number,
			Operation: string(d.Operation),
			Quantity:  d.Quantity,
		})
	}
	for _, sl := range s.Supply {
		dto.Supply = append(dto.Supply, SupplyLineDTO{
			Order:    string(sl.Order),
			Number:   sl.Number,
			Status:   sl.Status,
			Quantity: sl.Quantity,
		})
	}
	return dto
}

func toBlockingIssueDTOs(issues []production.BlockingIssue) []BlockingIssueDTO {
	dtos := make([]BlockingIssueDTO, 0, len(issues))
	for _, is := range issues {
		dto := BlockingIssueDTO{
			Operation: string(is.Operation),
			Sequence:  is.Sequence,
			Kind:      is.Kind,
			Component: string(is.Component),
			Message:   is.Message,
		}
		if is.Kind == production.IssueShortage {
			shortfall := is.Shortfall
			dto.Shortfall = &shortfall
		}
		dtos = append(dtos, dto)
	}
	return dtos
}

func idStrings(ids []production.OperationID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	return out
}
