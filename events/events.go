/*
Package events publishes domain events after a unit of work commits.

PURPOSE:
  Downstream systems (dashboards, shipping, costing) follow what the
  engine did without reading its tables. Events are published only after
  the store transaction has committed; a failed publish is logged and
  never undoes committed work.

EVENT TYPES:
  ledger.entry_posted     one per journal entry
  operation.started       an operation entered running
  operation.completed     an operation completed (carries quantities)
  operation.skipped       an operation was skipped, directly or by cascade
  scrap.processed         a scrap write-off with its records
  order.status_changed    derived order status moved

PUBLISHERS:
  KafkaPublisher: segmentio/kafka-go writer, keyed by order id
  LogPublisher:   writes one log line per event
  Recorder:       keeps events in memory (tests)
  Nop:            discards
*/
package events

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/production-engine/ledger"
	"github.com/warp/production-engine/production"
)

type Type string

const (
	EntryPosted        Type = "ledger.entry_posted"
	OperationStarted   Type = "operation.started"
	OperationCompleted Type = "operation.completed"
	OperationSkipped   Type = "operation.skipped"
	ScrapProcessed     Type = "scrap.processed"
	OrderStatusChanged Type = "order.status_changed"
)

// Event is one published fact. Key groups events of one aggregate
// (the order id, or the entry id for standalone postings).
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	Key        string    `json:"key"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

func New(typ Type, key string, payload any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		Key:        key,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

// =============================================================================
// SIMPLE PUBLISHERS
// =============================================================================

type Nop struct{}

func (Nop) Publish(context.Context, ...Event) error { return nil }
func (Nop) Close() error                          { return nil }

type LogPublisher struct {
	Logger *log.Logger
}

func (p LogPublisher) Publish(_ context.Context, events ...Event) error {
	logger := p.Logger
	if logger == nil {
		logger = log.Default()
	}
	for _, e := range events {
		logger.Printf("event %s key=%s id=%s", e.Type, e.Key, e.ID)
	}
	return nil
}

func (LogPublisher) Close() error { return nil }

// Recorder keeps every published event.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, events ...Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []Type {
	var types []Type
	for _, e := range r.Events() {
		types = append(types, e.Type)
	}
	return types
}

// =============================================================================
// BUILDERS - Turn service results into events
// =============================================================================

type OperationPayload struct {
	Order             production.OrderID         `json:"order_id"`
	Operation         production.OperationID     `json:"operation_id"`
	Sequence          int                        `json:"sequence"`
	Status            production.OperationStatus `json:"status"`
	QuantityCompleted string                     `json:"quantity_completed"`
	QuantityScrapped  string                     `json:"quantity_scrapped"`
	Resource          production.ResourceID      `json:"resource_id,omitempty"`
	SkipReason        string                     `json:"skip_reason,omitempty"`
}

type EntryPayload struct {
	Entry     ledger.EntryID       `json:"entry_id"`
	Number    string               `json:"number"`
	Reference ledger.Reference     `json:"reference"`
	Debits    string               `json:"debits"`
	Lines     []ledger.JournalLine `json:"lines"`
}

type StatusPayload struct {
	Order production.OrderID     `json:"order_id"`
	From  production.OrderStatus `json:"from"`
	To    production.OrderStatus `json:"to"`
}

type ScrapPayload struct {
	Order       production.OrderID       `json:"order_id"`
	Operation   production.OperationID   `json:"operation_id"`
	Entry       ledger.EntryID           `json:"entry_id"`
	Amount      string                   `json:"amount"`
	Records     int                      `json:"records"`
	Replacement production.OrderID       `json:"replacement_order_id,omitempty"`
	Skipped     []production.OperationID `json:"skipped,omitempty"`
}

func operationPayload(op *production.Operation) OperationPayload {
	return OperationPayload{
		Order:             op.Order,
		Operation:         op.ID,
		Sequence:          op.Sequence,
		Status:            op.Status,
		QuantityCompleted: op.QuantityCompleted.String(),
		QuantityScrapped:  op.QuantityScrapped.String(),
		Resource:          op.Resource,
		SkipReason:        op.SkipReason,
	}
}

// ForEntry builds the event of one journal entry.
func ForEntry(entry ledger.JournalEntry) Event {
	key := entry.Reference.ID
	if key == "" {
		key = string(entry.ID)
	}
	return New(EntryPosted, key, EntryPayload{
		Entry:     entry.ID,
		Number:    entry.Number,
		Reference: entry.Reference,
		Debits:    entry.Debits().String(),
		Lines:     entry.Lines,
	})
}

// ForOperation builds the events of a transition: the transition itself,
// every entry it posted, cascaded skips, scrap, and any status change.
func ForOperation(typ Type, res *production.OperationResult) []Event {
	key := string(res.Order.ID)
	out := []Event{New(typ, key, operationPayload(res.Operation))}
	for _, e := range res.Entries {
		out = append(out, ForEntry(e))
	}
	for _, id := range res.Skipped {
		if op := res.Order.Operation(id); op != nil {
			out = append(out, New(OperationSkipped, key, operationPayload(op)))
		}
	}
	if res.Scrap != nil {
		out = append(out, New(ScrapProcessed, key, scrapPayload(res.Order.ID, res.Operation.ID, res.Scrap)))
	}
	return append(out, forStatus(res.StatusChange)...)
}

// ForScrap builds the events of ProcessScrap.
func ForScrap(res *production.ScrapResult) []Event {
	key := string(res.Order.ID)
	out := []Event{
		ForEntry(res.JournalEntry),
		New(ScrapProcessed, key, scrapPayload(res.Order.ID, res.Operation.ID, res)),
	}
	for _, id := range res.Skipped {
		if op := res.Order.Operation(id); op != nil {
			out = append(out, New(OperationSkipped, key, operationPayload(op)))
		}
	}
	return append(out, forStatus(res.StatusChange)...)
}

func scrapPayload(order production.OrderID, op production.OperationID, res *production.ScrapResult) ScrapPayload {
	p := ScrapPayload{
		Order:     order,
		Operation: op,
		Entry:     res.JournalEntry.ID,
		Amount:    res.JournalEntry.Debits().String(),
		Records:   len(res.Records),
		Skipped:   res.Skipped,
	}
	if res.Replacement != nil {
		p.Replacement = res.Replacement.ID
	}
	return p
}

func forStatus(change *production.StatusChange) []Event {
	if change == nil {
		return nil
	}
	return []Event{New(OrderStatusChanged, string(change.Order), StatusPayload{
		Order: change.Order,
		From:  change.From,
		To:    change.To,
	})}
}
