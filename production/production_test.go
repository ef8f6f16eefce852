package production_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/production-engine/ledger"
	"github.com/warp/production-engine/production"
)

// =============================================================================
// SINGLE OPERATION FLOW
// =============================================================================

func TestCompleteOperation_SingleStep_ConsumesMaterialsAndReceivesGoods(t *testing.T) {
	// GIVEN: WIDGET needs 5 A (2.00) and 1 B (3.00) per unit, no routing
	f := newFixture(t)
	f.product("WIDGET", "0")
	f.product("A", "2.00")
	f.product("B", "3.00")
	f.bom("WIDGET", line("A", "5", 0), line("B", "1", 0))
	f.stock("A", "100", "2.00")
	f.stock("B", "20", "3.00")
	order := f.released("WIDGET", "10")
	require.Len(t, order.Operations, 1)
	assert.Equal(t, "Build", order.Operations[0].Name)

	// WHEN: the only operation runs all 10 units
	f.start(order, 10)
	res := f.complete(order, 10, "10", "0")

	// THEN: exactly the BOM quantities left stock
	assert.True(t, f.inventory("A").OnHand.Equal(dec("50")))
	assert.True(t, f.inventory("B").OnHand.Equal(dec("10")))

	// AND: one issue entry of 130 and one finished goods receipt
	require.Len(t, res.Entries, 2)
	issue := res.Entries[0]
	assert.True(t, issue.Debits().Equal(dec("130")), "issue debits: %s", issue.Debits())
	assert.True(t, issue.IsBalanced())
	for _, l := range issue.Lines {
		switch l.Account {
		case ledger.AccountWIP:
			assert.Equal(t, ledger.Debit, l.Side)
		case ledger.AccountRawMaterials:
			assert.Equal(t, ledger.Credit, l.Side)
			assert.True(t, l.Amount.Equal(dec("130")))
		default:
			t.Fatalf("unexpected account %s on issue entry", l.Account)
		}
	}
	assert.True(t, f.inventory("WIDGET").OnHand.Equal(dec("10")))

	// AND: the order is complete
	require.NotNil(t, res.StatusChange)
	assert.Equal(t, production.OrderComplete, res.StatusChange.To)
	reloaded := f.reload(order.ID)
	assert.Equal(t, production.OrderComplete, reloaded.Status)
	assert.True(t, reloaded.QuantityCompleted.Equal(dec("10")))
	assert.NotNil(t, reloaded.CompletedAt)
	assert.Len(t, f.entries(order), 2)
}

func TestCompleteOperation_Twice_Rejected(t *testing.T) {
	// GIVEN: a completed single-step order
	f := newFixture(t)
	f.product("WIDGET", "0")
	f.product("A", "2.00")
	f.bom("WIDGET", line("A", "1", 0))
	f.stock("A", "100", "2.00")
	order := f.released("WIDGET", "10")
	f.run(order, 10, "10", "0")

	// WHEN: it is completed again
	_, err := f.svc.CompleteOperation(f.ctx, order.ID, opAt(order, 10).ID, production.CompleteRequest{
		QuantityCompleted: dec("1"),
	})

	// THEN: the transition table refuses and no stock moves
	assert.ErrorIs(t, err, production.ErrInvalidTransition)
	assert.True(t, f.inventory("A").OnHand.Equal(dec("90")))
	assert.Len(t, f.entries(order), 2)
}

// =============================================================================
// MULTI-STEP ROUTING
// =============================================================================

func TestCompleteOperation_ScrapAtLastStep_WritesOffEveryUpstreamMaterial(t *testing.T) {
	// GIVEN: a two-step order for 10 whose first step finished all units
	f := newFixture(t)
	twoStepWidget(f)
	order := f.released("WIDGET", "10")
	f.run(order, 10, "10", "0")

	// WHEN: the second step passes 6 and rejects 4
	f.start(order, 20)
	res := f.complete(order, 20, "6", "4")

	// THEN: one scrap entry covers A (20 × 2.00) and B (4 × 3.00)
	require.NotNil(t, res.Scrap)
	scrap := res.Scrap.JournalEntry
	assert.True(t, scrap.Debits().Equal(dec("52")), "scrap total: %s", scrap.Debits())
	for _, l := range scrap.Lines {
		switch l.Account {
		case ledger.AccountScrapExpense:
			assert.Equal(t, ledger.Debit, l.Side)
		case ledger.AccountWIP:
			assert.Equal(t, ledger.Credit, l.Side)
		default:
			t.Fatalf("unexpected account %s on scrap entry", l.Account)
		}
	}

	// AND: one record per (operation, material), all on that entry
	records, err := f.svc.ScrapRecords(f.ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	total := decimal.Zero
	ops := map[production.OperationID]bool{}
	for _, r := range records {
		assert.Equal(t, scrap.ID, r.JournalEntryID)
		assert.Equal(t, opAt(order, 20).ID, r.ScrappedAt)
		assert.Equal(t, production.ScrapDefect, r.Reason)
		assert.NotEmpty(t, r.InventoryTransactionID)
		ops[r.Operation] = true
		total = total.Add(r.Cost)
	}
	assert.True(t, total.Equal(scrap.Debits()))
	assert.Len(t, ops, 2)

	// AND: finished goods absorb what is left in WIP (130 - 52)
	last := res.Entries[len(res.Entries)-1]
	assert.True(t, last.Debits().Equal(dec("78")), "receipt value: %s", last.Debits())
	assert.True(t, f.inventory("WIDGET").OnHand.Equal(dec("6")))

	// AND: the order finished short
	reloaded := f.reload(order.ID)
	assert.Equal(t, production.OrderShort, reloaded.Status)
	assert.True(t, reloaded.QuantityCompleted.Equal(dec("6")))
	assert.True(t, reloaded.QuantityScrapped.Equal(dec("4")))
}

func TestCompleteOperation_MoreThanUpstreamDelivered_RejectedWithoutChanges(t *testing.T) {
	// GIVEN: the first step of 10 delivered only 8
	f := newFixture(t)
	twoStepWidget(f)
	order := f.released("WIDGET", "10")
	f.run(order, 10, "8", "0")
	f.start(order, 20)
	before := len(f.entries(order))

	// WHEN: the second step reports 7 good and 2 scrapped
	_, err := f.svc.CompleteOperation(f.ctx, order.ID, opAt(order, 20).ID, production.CompleteRequest{
		QuantityCompleted: dec("7"),
		QuantityScrapped:  dec("2"),
		ScrapReason:       production.ScrapDefect,
	})

	// THEN: the completion fails naming both quantities
	var exceeded *production.QuantityExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.True(t, exceeded.Requested.Equal(dec("9")))
	assert.True(t, exceeded.Allowed.Equal(dec("8")))
	assert.Contains(t, err.Error(), "only 8 units reached it")

	// AND: nothing moved
	reloaded := f.reload(order.ID)
	assert.Equal(t, production.OpRunning, opAt(reloaded, 20).Status)
	assert.True(t, f.inventory("B").OnHand.Equal(dec("20")))
	assert.Len(t, f.entries(order), before)
}

func TestStartOperation_PredecessorRunning_Rejected(t *testing.T) {
	// GIVEN: the first step is running
	f := newFixture(t)
	twoStepWidget(f)
	order := f.released("WIDGET", "10")
	f.start(order, 10)

	// WHEN: the second step is started
	_, err := f.svc.StartOperation(f.ctx, order.ID, opAt(order, 20).ID, production.StartOptions{})

	// THEN
	var invalid *production.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Reason, "operation 10")
	assert.Equal(t, production.OpPending, opAt(f.reload(order.ID), 20).Status)
}

func TestStartOperation_FirstStep_MovesOrderInProgress(t *testing.T) {
	f := newFixture(t)
	twoStepWidget(f)
	order := f.released("WIDGET", "10")

	res := f.start(order, 10)

	require.NotNil(t, res.StatusChange)
	assert.Equal(t, production.OrderReleased, res.StatusChange.From)
	assert.Equal(t, production.OrderInProgress, res.StatusChange.To)
	assert.Equal(t, production.ResourceID("MILL-1"), res.Operation.Resource)
	assert.NotNil(t, f.reload(order.ID).ActualStart)
}

func TestStartOperation_ResourceBusy_Conflict(t *testing.T) {
	// GIVEN: MILL-1 is running an operation of another order
	f := newFixture(t)
	twoStepWidget(f)
	first := f.released("WIDGET", "5")
	second := f.released("WIDGET", "5")
	f.start(first, 10)

	// WHEN: the second order starts on the same resource
	_, err := f.svc.StartOperation(f.ctx, second.ID, opAt(second, 10).ID, production.StartOptions{})

	// THEN
	assert.True(t, production.IsConflict(err), "got %v", err)
	assert.Contains(t, err.Error(), "MILL-1")

	// AND: another resource is free
	_, err = f.svc.StartOperation(f.ctx, second.ID, opAt(second, 10).ID, production.StartOptions{Resource: "MILL-2"})
	assert.NoError(t, err)
}

func TestStartOperation_MaterialShort_Rejected(t *testing.T) {
	// GIVEN: 30 widgets need 150 A but only 100 are on hand
	f := newFixture(t)
	twoStepWidget(f)
	order := f.released("WIDGET", "30")

	// WHEN
	_, err := f.svc.StartOperation(f.ctx, order.ID, opAt(order, 10).ID, production.StartOptions{})

	// THEN
	assert.ErrorIs(t, err, production.ErrInvalidTransition)
	assert.Contains(t, err.Error(), "material A is short by 50")
}

func TestCompleteOperation_NoGoodUnits_SkipsRemainingSteps(t *testing.T) {
	// GIVEN: a running first step
	f := newFixture(t)
	twoStepWidget(f)
	order := f.released("WIDGET", "10")
	f.start(order, 10)

	// WHEN: every unit is scrapped there
	res := f.complete(order, 10, "0", "10")

	// THEN: the second step is skipped and the order is short
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, opAt(order, 20).ID, res.Skipped[0])
	require.NotNil(t, res.StatusChange)
	assert.Equal(t, production.OrderShort, res.StatusChange.To)

	reloaded := f.reload(order.ID)
	assert.Equal(t, production.OpSkipped, opAt(reloaded, 20).Status)
	assert.NotEmpty(t, opAt(reloaded, 20).SkipReason)

	// AND: only the first step's material was written off, B never moved
	assert.True(t, res.Scrap.JournalEntry.Debits().Equal(dec("100")))
	assert.True(t, f.inventory("B").OnHand.Equal(dec("20")))
}

// =============================================================================
// SKIP
// =============================================================================

func TestSkipOperation_WithoutReason_Rejected(t *testing.T) {
	f := newFixture(t)
	twoStepWidget(f)
	order := f.released("WIDGET", "10")

	_, err := f.svc.SkipOperation(f.ctx, order.ID, opAt(order, 10).ID, "")

	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestSkipOperation_LastStep_LeavesInventoryUntouched(t *testing.T) {
	// GIVEN: the first step delivered 10 and absorbed 100 into WIP
	f := newFixture(t)
	twoStepWidget(f)
	order := f.released("WIDGET", "10")
	f.run(order, 10, "10", "0")
	_, err := f.svc.ReserveMaterials(f.ctx, order.ID, production.ReserveOptions{})
	require.NoError(t, err)
	before := len(f.entries(order))

	// WHEN: the final step is skipped
	res, err := f.svc.SkipOperation(f.ctx, order.ID, opAt(order, 20).ID, "assembled by customer")
	require.NoError(t, err)

	// THEN: nothing is posted and no stock moves
	assert.Empty(t, res.Entries)
	assert.Len(t, f.entries(order), before)
	assert.True(t, f.inventory("WIDGET").OnHand.IsZero())
	assert.True(t, f.inventory("B").OnHand.Equal(dec("20")))

	// AND: the skipped step gives back its reservation
	assert.True(t, f.inventory("B").Allocated.IsZero())

	// AND: no goods were received, so the order is short
	assert.Equal(t, production.OrderShort, f.reload(order.ID).Status)
}

func TestScheduleOperation_QueuesPendingStep(t *testing.T) {
	f := newFixture(t)
	twoStepWidget(f)
	order := f.released("WIDGET", "10")

	op, err := f.svc.ScheduleOperation(f.ctx, order.ID, opAt(order, 10).ID)
	require.NoError(t, err)
	assert.Equal(t, production.OpQueued, op.Status)

	// A queued step can still start; the order stays released until it does.
	assert.Equal(t, production.OrderReleased, f.reload(order.ID).Status)
	f.start(order, 10)

	_, err = f.svc.ScheduleOperation(f.ctx, order.ID, opAt(order, 10).ID)
	assert.ErrorIs(t, err, production.ErrInvalidTransition)
}

// =============================================================================
// PROCESS SCRAP
// =============================================================================

func TestProcessScrap_MoreThanAvailable_Rejected(t *testing.T) {
	f := newFixture(t)
	f.product("WIDGET", "0")
	f.product("A", "2.00")
	f.bom("WIDGET", line("A", "1", 0))
	f.stock("A", "100", "2.00")
	order := f.released("WIDGET", "10")
	f.run(order, 10, "10", "0")

	_, err := f.svc.ProcessScrap(f.ctx, order.ID, opAt(order, 10).ID, production.ScrapRequest{
		Quantity: dec("11"),
		Reason:   production.ScrapDamage,
	})

	assert.ErrorIs(t, err, production.ErrQuantityExceeded)
	assert.EqualError(t, err, "Cannot scrap 11 units: only 10 available to scrap")
}

func TestProcessScrap_UnknownReason_Rejected(t *testing.T) {
	f := newFixture(t)
	twoStepWidget(f)
	order := f.released("WIDGET", "10")
	f.run(order, 10, "10", "0")

	_, err := f.svc.ProcessScrap(f.ctx, order.ID, opAt(order, 10).ID, production.ScrapRequest{
		Quantity: dec("1"),
		Reason:   "gremlins",
	})

	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestProcessScrap_FinishedGoods_WritesOffStockAndOpensRemake(t *testing.T) {
	// GIVEN: 10 widgets received into finished goods at 13.00 each
	f := newFixture(t)
	f.product("WIDGET", "0")
	f.product("A", "2.00")
	f.product("B", "3.00")
	f.bom("WIDGET", line("A", "5", 0), line("B", "1", 0))
	f.stock("A", "100", "2.00")
	f.stock("B", "20", "3.00")
	order := f.released("WIDGET", "10")
	f.run(order, 10, "10", "0")

	// WHEN: 2 finished units are scrapped with a replacement
	res, err := f.svc.ProcessScrap(f.ctx, order.ID, opAt(order, 10).ID, production.ScrapRequest{
		Quantity:          dec("2"),
		Reason:            production.ScrapDamage,
		Notes:             "dropped by forklift",
		CreateReplacement: true,
	})
	require.NoError(t, err)

	// THEN: finished goods are written off at 26.00 and leave stock
	assert.True(t, res.JournalEntry.Debits().Equal(dec("26")))
	for _, l := range res.JournalEntry.Lines {
		if l.Side == ledger.Credit {
			assert.Equal(t, ledger.AccountFinishedGoods, l.Account)
		}
	}
	assert.True(t, f.inventory("WIDGET").OnHand.Equal(dec("8")))

	// AND: the order drops to short
	require.NotNil(t, res.StatusChange)
	assert.Equal(t, production.OrderShort, res.StatusChange.To)
	reloaded := f.reload(order.ID)
	assert.True(t, reloaded.QuantityCompleted.Equal(dec("8")))
	assert.True(t, reloaded.QuantityScrapped.Equal(dec("2")))

	// AND: a draft remake for the scrapped quantity exists
	require.NotNil(t, res.Replacement)
	assert.Equal(t, production.OrderDraft, res.Replacement.Status)
	assert.Equal(t, order.ID, res.Replacement.RemakeOf)
	assert.True(t, res.Replacement.QuantityOrdered.Equal(dec("2")))
	assert.Equal(t, "PO-000002", res.Replacement.Number)
}

func TestProcessScrap_MidRoute_LimitsNextStep(t *testing.T) {
	// GIVEN: the first step delivered 10
	f := newFixture(t)
	twoStepWidget(f)
	order := f.released("WIDGET", "10")
	f.run(order, 10, "10", "0")

	// WHEN: 3 of those are found damaged
	res, err := f.svc.ProcessScrap(f.ctx, order.ID, opAt(order, 10).ID, production.ScrapRequest{
		Quantity: dec("3"),
		Reason:   production.ScrapDamage,
	})
	require.NoError(t, err)

	// THEN: only A was written off, from WIP
	assert.True(t, res.JournalEntry.Debits().Equal(dec("30")))
	require.Len(t, res.Records, 1)
	assert.Equal(t, ledger.ProductID("A"), res.Records[0].Component)
	assert.True(t, res.Records[0].Quantity.Equal(dec("15")))

	// AND: the next step may only process 7
	reloaded := f.reload(order.ID)
	assert.True(t, reloaded.MaxAllowed(opAt(reloaded, 20)).Equal(dec("7")))
	f.start(reloaded, 20)
	_, err = f.svc.CompleteOperation(f.ctx, order.ID, opAt(order, 20).ID, production.CompleteRequest{
		QuantityCompleted: dec("8"),
	})
	assert.ErrorIs(t, err, production.ErrQuantityExceeded)
}

func TestProcessScrap_AfterNextStepConsumed_OnlyRemainderAvailable(t *testing.T) {
	// GIVEN: step 10 made 10, step 20 then took in 6
	f := newFixture(t)
	f.product("WIDGET", "0")
	f.product("A", "2.00")
	f.bom("WIDGET", line("A", "1", 10))
	f.routing("WIDGET", step(10, "Cut", ""), step(20, "Weld", ""), step(30, "Pack", ""))
	f.stock("A", "100", "2.00")
	order := f.released("WIDGET", "10")
	f.run(order, 10, "10", "0")
	f.run(order, 20, "6", "0")

	// WHEN / THEN: only the 4 units step 20 never took can be scrapped at 10
	_, err := f.svc.ProcessScrap(f.ctx, order.ID, opAt(order, 10).ID, production.ScrapRequest{
		Quantity: dec("5"),
		Reason:   production.ScrapOther,
	})
	assert.EqualError(t, err, "Cannot scrap 5 units: only 4 available to scrap")

	_, err = f.svc.ProcessScrap(f.ctx, order.ID, opAt(order, 10).ID, production.ScrapRequest{
		Quantity: dec("4"),
		Reason:   production.ScrapOther,
	})
	assert.NoError(t, err)
}

// =============================================================================
// RESERVATION
// =============================================================================

func TestReserveMaterials_Shortage_ReportedNotReserved(t *testing.T) {
	// GIVEN: 8 gadgets need 8 C but only 5 are on hand
	f := newFixture(t)
	f.product("GADGET", "0")
	f.product("C", "1.00")
	f.bom("GADGET", line("C", "1", 0))
	f.stock("C", "5", "1.00")
	order := f.released("GADGET", "8")

	// WHEN
	res, err := f.svc.ReserveMaterials(f.ctx, order.ID, production.ReserveOptions{})

	// THEN: the shortfall is reported and nothing is allocated
	require.NoError(t, err)
	assert.Empty(t, res.Reserved)
	assert.Empty(t, res.LotRequired)
	require.Len(t, res.Insufficient, 1)
	assert.True(t, res.Insufficient[0].Shortfall.Equal(dec("3")))
	assert.True(t, res.Insufficient[0].Available.Equal(dec("5")))
	assert.True(t, f.inventory("C").Allocated.IsZero())

	// AND: strict mode turns the shortage into an error
	_, err = f.svc.ReserveMaterials(f.ctx, order.ID, production.ReserveOptions{Strict: true})
	var insufficient *production.InsufficientMaterialError
	require.ErrorAs(t, err, &insufficient)
	require.Len(t, insufficient.Shortages, 1)
	assert.Equal(t, ledger.ProductID("C"), insufficient.Shortages[0].Component)
}

func TestReserveMaterials_StrictShortage_RollsBackOtherReservations(t *testing.T) {
	// GIVEN: A is plentiful, C is short
	f := newFixture(t)
	f.product("GADGET", "0")
	f.product("A", "2.00")
	f.product("C", "1.00")
	f.bom("GADGET", line("A", "1", 0), line("C", "1", 0))
	f.stock("A", "100", "2.00")
	f.stock("C", "5", "1.00")
	order := f.released("GADGET", "8")
	f.svc.StrictReservation = true

	// WHEN
	_, err := f.svc.ReserveMaterials(f.ctx, order.ID, production.ReserveOptions{})

	// THEN: A was not left allocated
	assert.ErrorIs(t, err, production.ErrInsufficientMaterial)
	assert.True(t, f.inventory("A").Allocated.IsZero())
}

func TestReserveMaterials_ThenComplete_ConsumesReservation(t *testing.T) {
	// GIVEN: every material reserved
	f := newFixture(t)
	f.product("WIDGET", "0")
	f.product("A", "2.00")
	f.product("B", "3.00")
	f.product("MACHINE-CNC", "15.00")
	f.bom("WIDGET", line("A", "5", 0), line("B", "1", 0), line("MACHINE-CNC", "0.5", 0))
	f.stock("A", "100", "2.00")
	f.stock("B", "20", "3.00")
	order := f.released("WIDGET", "10")

	res, err := f.svc.ReserveMaterials(f.ctx, order.ID, production.ReserveOptions{})
	require.NoError(t, err)
	require.Len(t, res.Reserved, 2, "cost items are not reserved")
	assert.True(t, f.inventory("A").Allocated.Equal(dec("50")))
	assert.True(t, f.inventory("A").OnHand.Equal(dec("100")))

	// WHEN: the order is built
	run := f.run(order, 10, "10", "0")

	// THEN: the reservation is used up and stock left once
	a := f.inventory("A")
	assert.True(t, a.Allocated.IsZero())
	assert.True(t, a.OnHand.Equal(dec("50")))
	assert.True(t, f.inventory("B").Allocated.IsZero())

	// AND: machine time went to WIP against applied overhead
	issue := run.Entries[0]
	assert.True(t, issue.Debits().Equal(dec("205")), "130 material + 75 machine: %s", issue.Debits())
	var overhead bool
	for _, l := range issue.Lines {
		if l.Account == ledger.AccountAppliedOverhead {
			overhead = true
			assert.True(t, l.Amount.Equal(dec("75")))
		}
	}
	assert.True(t, overhead)
}

func TestReserveMaterials_LotTracked_NeedsLot(t *testing.T) {
	// GIVEN: component L is lot traced
	f := newFixture(t)
	f.product("WIDGET", "0")
	f.lotTracked("L", "4.00")
	f.bom("WIDGET", line("L", "2", 0))
	f.stock("L", "50", "4.00")
	order := f.released("WIDGET", "10")

	// WHEN: reserved without a lot
	res, err := f.svc.ReserveMaterials(f.ctx, order.ID, production.ReserveOptions{})

	// THEN: nothing is reserved and the lot requirement is listed
	require.NoError(t, err)
	assert.Empty(t, res.Reserved)
	require.Len(t, res.LotRequired, 1)
	assert.True(t, res.LotRequired[0].Required.Equal(dec("20")))

	issues, err := f.svc.BlockingIssues(f.ctx, order.ID)
	require.NoError(t, err)
	assert.Contains(t, issueKinds(issues), production.IssueLotSelection)

	// WHEN: reserved with a lot
	res, err = f.svc.ReserveMaterials(f.ctx, order.ID, production.ReserveOptions{
		Lots: map[ledger.ProductID]string{"L": "LOT-7"},
	})

	// THEN
	require.NoError(t, err)
	require.Len(t, res.Reserved, 1)
	assert.Equal(t, "LOT-7", res.Reserved[0].Lot)
	ops, err := f.svc.OrderOperations(f.ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "LOT-7", ops[0].Materials[0].Lot)
}

func TestReserveMaterials_LotPolicy_MatchesCustomer(t *testing.T) {
	f := newFixture(t)
	f.product("WIDGET", "0")
	f.product("A", "2.00")
	f.bom("WIDGET", line("A", "1", 0))
	f.stock("A", "50", "2.00")
	require.NoError(t, f.store.SaveLotPolicy(f.ctx, production.LotPolicy{Customer: "aerospace"}))

	regulated, err := f.svc.CreateOrder(f.ctx, production.NewOrder{Product: "WIDGET", Quantity: dec("5"), Customer: "aerospace"})
	require.NoError(t, err)
	_, err = f.svc.ReleaseOrder(f.ctx, regulated.ID, production.ReleaseOptions{})
	require.NoError(t, err)
	plain := f.released("WIDGET", "5")

	res, err := f.svc.ReserveMaterials(f.ctx, regulated.ID, production.ReserveOptions{})
	require.NoError(t, err)
	assert.Len(t, res.LotRequired, 1)

	res, err = f.svc.ReserveMaterials(f.ctx, plain.ID, production.ReserveOptions{})
	require.NoError(t, err)
	assert.Len(t, res.Reserved, 1)
}

func TestReserveMaterials_OtherLocation_ConsumedAndReleasedThere(t *testing.T) {
	// GIVEN: A is stocked at MAIN and at BIN-2
	f := newFixture(t)
	f.product("WIDGET", "0")
	f.product("A", "2.00")
	f.bom("WIDGET", line("A", "2", 0))
	f.stock("A", "100", "2.00")
	_, err := f.ledger.Post(f.ctx, ledger.ReceivePurchase(ledger.Reference{Type: ledger.RefPurchase, ID: "bin-2"},
		"A", "BIN-2", dec("50"), dec("2.00"), ""))
	require.NoError(t, err)
	bin := func() ledger.Inventory {
		inv, err := f.ledger.Inventory(f.ctx, "A", "BIN-2")
		require.NoError(t, err)
		return inv
	}

	// WHEN: one order reserves from BIN-2 and is built
	built := f.released("WIDGET", "5")
	res, err := f.svc.ReserveMaterials(f.ctx, built.ID, production.ReserveOptions{Location: "BIN-2"})
	require.NoError(t, err)
	require.Len(t, res.Reserved, 1)
	assert.True(t, bin().Allocated.Equal(dec("10")))
	f.run(built, 10, "5", "0")

	// THEN: the stock left BIN-2 and the reservation went with it
	assert.True(t, bin().OnHand.Equal(dec("40")))
	assert.True(t, bin().Allocated.IsZero())
	assert.True(t, f.inventory("A").OnHand.Equal(dec("100")))
	assert.True(t, f.inventory("A").Allocated.IsZero())
	assert.Equal(t, production.OrderComplete, f.reload(built.ID).Status)

	// WHEN: another order reserves from BIN-2 and is cancelled
	dropped := f.released("WIDGET", "5")
	_, err = f.svc.ReserveMaterials(f.ctx, dropped.ID, production.ReserveOptions{Location: "BIN-2"})
	require.NoError(t, err)
	_, err = f.svc.CancelOrder(f.ctx, dropped.ID, "customer withdrew")
	require.NoError(t, err)

	// THEN: BIN-2 is free again
	assert.True(t, bin().Allocated.IsZero())
	assert.True(t, bin().OnHand.Equal(dec("40")))
}

func TestStartOperation_LotTrackedWithoutLot_Rejected(t *testing.T) {
	// GIVEN: lot-traced L is in stock but no lot is selected
	f := newFixture(t)
	f.product("WIDGET", "0")
	f.lotTracked("L", "4.00")
	f.bom("WIDGET", line("L", "2", 0))
	f.stock("L", "50", "4.00")
	order := f.released("WIDGET", "5")

	// WHEN
	_, err := f.svc.StartOperation(f.ctx, order.ID, opAt(order, 10).ID, production.StartOptions{})

	// THEN: start fails on the same guard blocking issues report
	require.Error(t, err)
	assert.ErrorIs(t, err, production.ErrInvalidTransition)
	assert.Contains(t, err.Error(), "L needs a lot selected")
	assert.Equal(t, production.OpPending, opAt(f.reload(order.ID), 10).Status)

	// WHEN: a lot is reserved, the step runs
	_, err = f.svc.ReserveMaterials(f.ctx, order.ID, production.ReserveOptions{
		Lots: map[ledger.ProductID]string{"L": "LOT-7"},
	})
	require.NoError(t, err)
	f.run(order, 10, "5", "0")

	// THEN: consumption is traced to the lot
	txs, err := f.ledger.Transactions(f.ctx, ledger.TransactionFilter{
		Product: "L",
		Types:   []ledger.TransactionType{ledger.TxConsumption},
	})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "LOT-7", txs[0].Lot)
	assert.True(t, txs[0].Quantity.Equal(dec("-10")))
}

func TestCancelOrder_ReleasesReservations(t *testing.T) {
	// GIVEN: a released order holding a reservation
	f := newFixture(t)
	twoStepWidget(f)
	order := f.released("WIDGET", "10")
	_, err := f.svc.ReserveMaterials(f.ctx, order.ID, production.ReserveOptions{})
	require.NoError(t, err)
	require.True(t, f.inventory("A").Allocated.Equal(dec("50")))

	// WHEN
	cancelled, err := f.svc.CancelOrder(f.ctx, order.ID, "customer withdrew")
	require.NoError(t, err)

	// THEN
	assert.Equal(t, production.OrderCancelled, cancelled.Status)
	assert.True(t, f.inventory("A").Allocated.IsZero())
	assert.True(t, f.inventory("B").Allocated.IsZero())
	for _, op := range f.reload(order.ID).Operations {
		assert.Equal(t, production.OpSkipped, op.Status)
	}

	// AND: a started order cannot be cancelled
	other := f.released("WIDGET", "1")
	f.start(other, 10)
	_, err = f.svc.CancelOrder(f.ctx, other.ID, "")
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

// =============================================================================
// ORDERS
// =============================================================================

func TestCreateOrder_Validation(t *testing.T) {
	f := newFixture(t)
	f.product("WIDGET", "0")

	_, err := f.svc.CreateOrder(f.ctx, production.NewOrder{Product: "WIDGET", Quantity: dec("0")})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = f.svc.CreateOrder(f.ctx, production.NewOrder{Product: "NOPE", Quantity: dec("1")})
	assert.True(t, production.IsNotFound(err), "got %v", err)

	// No bill of materials yet.
	_, err = f.svc.CreateOrder(f.ctx, production.NewOrder{Product: "WIDGET", Quantity: dec("1")})
	assert.True(t, production.IsNotFound(err), "got %v", err)
}

func TestReleaseOrder_AttachesMaterialsToSteps(t *testing.T) {
	f := newFixture(t)
	twoStepWidget(f)
	order, err := f.svc.CreateOrder(f.ctx, production.NewOrder{Product: "WIDGET", Quantity: dec("4")})
	require.NoError(t, err)
	assert.Equal(t, production.OrderDraft, order.Status)
	assert.Equal(t, "PO-000001", order.Number)

	released, err := f.svc.ReleaseOrder(f.ctx, order.ID, production.ReleaseOptions{Queued: true})
	require.NoError(t, err)

	require.Len(t, released.Operations, 2)
	first, second := released.Operations[0], released.Operations[1]
	assert.Equal(t, production.OpQueued, first.Status)
	require.Len(t, first.Materials, 1)
	assert.Equal(t, ledger.ProductID("A"), first.Materials[0].Component)
	assert.True(t, first.Materials[0].QuantityRequired.Equal(dec("20")))
	require.Len(t, second.Materials, 1)
	assert.Equal(t, ledger.ProductID("B"), second.Materials[0].Component)

	_, err = f.svc.ReleaseOrder(f.ctx, order.ID, production.ReleaseOptions{})
	assert.ErrorIs(t, err, ledger.ErrValidation, "already released")
}

func TestReleaseOrder_BOMLineOnMissingStep_Rejected(t *testing.T) {
	// GIVEN: B is planned on operation 30 but the routing stops at 20
	f := newFixture(t)
	twoStepWidget(f)
	f.bom("WIDGET", line("A", "5", 10), line("B", "1", 30))
	order, err := f.svc.CreateOrder(f.ctx, production.NewOrder{Product: "WIDGET", Quantity: dec("4")})
	require.NoError(t, err)

	// WHEN
	_, err = f.svc.ReleaseOrder(f.ctx, order.ID, production.ReleaseOptions{})

	// THEN: release fails and the order stays a draft
	assert.ErrorIs(t, err, ledger.ErrValidation)
	assert.Contains(t, err.Error(), "operation 30")
	assert.Equal(t, production.OrderDraft, f.reload(order.ID).Status)
}

func TestReleaseOrder_ScrapFactorInflatesRequirement(t *testing.T) {
	f := newFixture(t)
	f.product("WIDGET", "0")
	f.product("A", "2.00")
	require.NoError(t, f.store.SaveBOM(f.ctx, production.BOM{
		ID:      "BOM-WIDGET",
		Product: "WIDGET",
		Lines:   []production.BOMLine{{Component: "A", Quantity: dec("2"), ScrapFactorPercent: dec("10")}},
	}))

	order := f.released("WIDGET", "10")

	assert.True(t, order.Operations[0].Materials[0].QuantityRequired.Equal(dec("22")))
}

func TestSalesOrder_FollowsItsProductionOrders(t *testing.T) {
	// GIVEN: a sales order with one production order
	f := newFixture(t)
	f.product("WIDGET", "0")
	f.product("A", "2.00")
	f.bom("WIDGET", line("A", "1", 0))
	f.stock("A", "100", "2.00")
	require.NoError(t, f.store.SaveSalesOrder(f.ctx, production.SalesOrder{ID: "SO-1", Customer: "acme", Channel: "web"}))

	order, err := f.svc.CreateOrder(f.ctx, production.NewOrder{Product: "WIDGET", Quantity: dec("5"), SalesOrder: "SO-1"})
	require.NoError(t, err)
	assert.Equal(t, "acme", order.Customer)
	_, err = f.svc.ReleaseOrder(f.ctx, order.ID, production.ReleaseOptions{})
	require.NoError(t, err)

	salesStatus := func() production.SalesOrderStatus {
		so, err := f.store.GetSalesOrder(f.ctx, "SO-1")
		require.NoError(t, err)
		return so.Status
	}
	assert.Equal(t, production.SalesOpen, salesStatus())

	// WHEN / THEN: starting moves it into production
	f.start(order, 10)
	assert.Equal(t, production.SalesInProduction, salesStatus())

	// AND: finishing alone is not enough, QC must pass
	f.complete(order, 10, "5", "0")
	assert.Equal(t, production.SalesInProduction, salesStatus())

	_, err = f.svc.MarkQCPassed(f.ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, production.SalesReadyToShip, salesStatus())
}

func TestMarkQCPassed_OpenOrder_Rejected(t *testing.T) {
	f := newFixture(t)
	twoStepWidget(f)
	order := f.released("WIDGET", "1")

	_, err := f.svc.MarkQCPassed(f.ctx, order.ID)

	assert.ErrorIs(t, err, ledger.ErrValidation)
}

// =============================================================================
// READ QUERIES
// =============================================================================

func TestItemDemandSummary_CountsOpenDemandAndSupply(t *testing.T) {
	// GIVEN: one released order for 10 widgets, nothing reserved yet
	f := newFixture(t)
	twoStepWidget(f)
	f.released("WIDGET", "10")

	// WHEN
	a, err := f.svc.ItemDemandSummary(f.ctx, "A", "")
	require.NoError(t, err)
	w, err := f.svc.ItemDemandSummary(f.ctx, "WIDGET", "")
	require.NoError(t, err)

	// THEN: A is demanded, the widget is incoming
	assert.True(t, a.Available.Equal(dec("100")))
	assert.True(t, a.ComponentDemand.Equal(dec("50")))
	assert.True(t, a.Projected.Equal(dec("50")))
	require.Len(t, a.Demand, 1)
	assert.True(t, w.IncomingSupply.Equal(dec("10")))
	assert.True(t, w.Projected.Equal(dec("10")))

	_, err = f.svc.ItemDemandSummary(f.ctx, "NOPE", "")
	assert.True(t, production.IsNotFound(err))
}

func TestBlockingIssues_ListsEveryFailingGuard(t *testing.T) {
	// GIVEN: no B on hand and MILL-1 busy with another order
	f := newFixture(t)
	f.product("WIDGET", "0")
	f.product("A", "2.00")
	f.product("B", "3.00")
	f.bom("WIDGET", line("A", "5", 10), line("B", "1", 20))
	f.routing("WIDGET", step(10, "Machine", "MILL-1"), step(20, "Assemble", ""))
	f.stock("A", "100", "2.00")
	busy := f.released("WIDGET", "2")
	f.start(busy, 10)
	order := f.released("WIDGET", "10")

	// WHEN
	issues, err := f.svc.BlockingIssues(f.ctx, order.ID)
	require.NoError(t, err)

	// THEN
	bySeq := map[int][]production.IssueKind{}
	for _, is := range issues {
		bySeq[is.Sequence] = append(bySeq[is.Sequence], is.Kind)
	}
	assert.Equal(t, []production.IssueKind{production.IssueResourceBusy}, bySeq[10])
	assert.ElementsMatch(t, []production.IssueKind{production.IssuePredecessor, production.IssueShortage}, bySeq[20])
	for _, is := range issues {
		if is.Kind == production.IssueShortage {
			assert.Equal(t, ledger.ProductID("B"), is.Component)
			assert.True(t, is.Shortfall.Equal(dec("10")))
		}
	}
}

func issueKinds(issues []production.BlockingIssue) []production.IssueKind {
	kinds := make([]production.IssueKind, 0, len(issues))
	for _, is := range issues {
		kinds = append(kinds, is.Kind)
	}
	return kinds
}

// =============================================================================
// CONSUMPTION FAILURE
// =============================================================================

func TestCompleteOperation_StockGoneNegative_RollsBackCompletion(t *testing.T) {
	// GIVEN: the operation started, then A was adjusted away
	f := newFixture(t)
	f.product("WIDGET", "0")
	f.product("A", "2.00")
	f.bom("WIDGET", line("A", "1", 0))
	f.stock("A", "10", "2.00")
	order := f.released("WIDGET", "10")
	f.start(order, 10)
	adj := ledger.Reference{Type: ledger.RefAdjustment, ID: "count-1"}
	_, err := f.ledger.Post(f.ctx, ledger.Adjust(adj, ledger.AccountRawMaterials, "A", ledger.DefaultLocation, dec("-5"), dec("2.00"), false))
	require.NoError(t, err)

	// WHEN
	_, err = f.svc.CompleteOperation(f.ctx, order.ID, opAt(order, 10).ID, production.CompleteRequest{
		QuantityCompleted: dec("10"),
	})

	// THEN: nothing of the completion survives
	var negative *ledger.NegativeStockError
	require.True(t, errors.As(err, &negative), "got %v", err)
	reloaded := f.reload(order.ID)
	assert.Equal(t, production.OpRunning, opAt(reloaded, 10).Status)
	assert.True(t, opAt(reloaded, 10).Materials[0].QuantityConsumed.IsZero())
	assert.True(t, f.inventory("A").OnHand.Equal(dec("5")))
	assert.Empty(t, f.entries(order))
}
