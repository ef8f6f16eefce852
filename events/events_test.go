package events_test

import (
	"bytes"
	"context"
	"log"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/production-engine/events"
	"github.com/warp/production-engine/ledger"
	"github.com/warp/production-engine/production"
)

func entry(id, orderID string, amount int64) ledger.JournalEntry {
	return ledger.JournalEntry{
		ID:        ledger.EntryID(id),
		Number:    "JE-2026-000001",
		Reference: ledger.Reference{Type: ledger.RefProductionOrder, ID: orderID},
		Lines: []ledger.JournalLine{
			{Account: ledger.AccountScrapExpense, Side: ledger.Debit, Amount: decimal.NewFromInt(amount)},
			{Account: ledger.AccountWIP, Side: ledger.Credit, Amount: decimal.NewFromInt(amount)},
		},
	}
}

func order() *production.ProductionOrder {
	return &production.ProductionOrder{
		ID: "order-1",
		Operations: []production.Operation{
			{ID: "op10", Order: "order-1", Sequence: 10, Status: production.OpComplete, QuantityScrapped: decimal.NewFromInt(10)},
			{ID: "op20", Order: "order-1", Sequence: 20, Status: production.OpSkipped, SkipReason: "no good units"},
		},
	}
}

func TestForOperation_EmitsEveryEffectInOrder(t *testing.T) {
	// GIVEN: a completion that issued, scrapped, skipped and closed the order
	o := order()
	res := &production.OperationResult{
		Operation: &o.Operations[0],
		Order:     o,
		Entries:   []ledger.JournalEntry{entry("je-1", "order-1", 100), entry("je-2", "order-1", 100)},
		Skipped:   []production.OperationID{"op20"},
		Scrap: &production.ScrapResult{
			JournalEntry: entry("je-2", "order-1", 100),
			Records:      make([]production.ScrapRecord, 1),
		},
		StatusChange: &production.StatusChange{Order: "order-1", From: production.OrderInProgress, To: production.OrderShort},
	}

	// WHEN
	out := events.ForOperation(events.OperationCompleted, res)

	// THEN
	types := make([]events.Type, 0, len(out))
	for _, e := range out {
		types = append(types, e.Type)
		assert.Equal(t, "order-1", e.Key)
		assert.NotEmpty(t, e.ID)
	}
	assert.Equal(t, []events.Type{
		events.OperationCompleted,
		events.EntryPosted,
		events.EntryPosted,
		events.OperationSkipped,
		events.ScrapProcessed,
		events.OrderStatusChanged,
	}, types)

	skipped := out[3].Payload.(events.OperationPayload)
	assert.Equal(t, production.OperationID("op20"), skipped.Operation)
	assert.Equal(t, "no good units", skipped.SkipReason)

	scrap := out[4].Payload.(events.ScrapPayload)
	assert.Equal(t, "100", scrap.Amount)
	assert.Equal(t, 1, scrap.Records)

	status := out[5].Payload.(events.StatusPayload)
	assert.Equal(t, production.OrderShort, status.To)
}

func TestForOperation_StartOnly(t *testing.T) {
	o := order()
	out := events.ForOperation(events.OperationStarted, &production.OperationResult{Operation: &o.Operations[0], Order: o})

	require.Len(t, out, 1)
	assert.Equal(t, events.OperationStarted, out[0].Type)
}

func TestForScrap_IncludesReplacement(t *testing.T) {
	o := order()
	res := &production.ScrapResult{
		Operation:    &o.Operations[0],
		Order:        o,
		JournalEntry: entry("je-3", "order-1", 26),
		Records:      make([]production.ScrapRecord, 2),
		Replacement:  &production.ProductionOrder{ID: "order-2"},
	}

	out := events.ForScrap(res)

	require.Len(t, out, 2)
	assert.Equal(t, events.EntryPosted, out[0].Type)
	payload := out[1].Payload.(events.ScrapPayload)
	assert.Equal(t, production.OrderID("order-2"), payload.Replacement)
	assert.Equal(t, "26", payload.Amount)
}

func TestForEntry_ManualEntryKeyedByID(t *testing.T) {
	e := entry("je-9", "", 5)
	e.Reference = ledger.Reference{}

	out := events.ForEntry(e)

	assert.Equal(t, "je-9", out.Key)
	assert.Equal(t, "5", out.Payload.(events.EntryPayload).Debits)
}

func TestRecorder_And_LogPublisher(t *testing.T) {
	ctx := context.Background()
	rec := &events.Recorder{}
	require.NoError(t, rec.Publish(ctx, events.New(events.OperationStarted, "a", nil)))
	require.NoError(t, rec.Publish(ctx, events.New(events.OperationCompleted, "a", nil)))
	assert.Equal(t, []events.Type{events.OperationStarted, events.OperationCompleted}, rec.Types())

	var buf bytes.Buffer
	pub := events.LogPublisher{Logger: log.New(&buf, "", 0)}
	require.NoError(t, pub.Publish(ctx, rec.Events()...))
	assert.Contains(t, buf.String(), "event operation.started key=a")

	assert.NoError(t, events.Nop{}.Publish(ctx, rec.Events()...))
}
