/*
wrappers.go - Named business events built on Post

Each wrapper assembles the account lines and movements for one kind of
physical event. They only build a PostRequest; the caller posts it, either
standalone with Post or inside a larger unit of work with PostIn.

  event                  debit            credit             stock
  ─────────────────────  ───────────────  ─────────────────  ─────────────────
  IssueMaterials         WIP              Raw Materials      components out
                                          Applied Overhead   (cost items: none)
  ReceiveFinishedGoods   Finished Goods   WIP                product in
  ScrapWIP               Scrap Expense    WIP                log-only
  ScrapFinishedGoods     Scrap Expense    Finished Goods     product out
  Ship                   COGS             Finished Goods     product out
  ReceivePurchase        Raw Materials    GRNI               component in
  Adjust (+/-)           inventory acct   Inventory Adjust   either direction
*/
package ledger

import "github.com/shopspring/decimal"

// MaterialIssue is one component going into production.
type MaterialIssue struct {
	Product  ProductID
	Location LocationID
	Quantity decimal.Decimal // positive
	UnitCost decimal.Decimal
	Lot      string

	// ReleaseAllocated is the part of Quantity that was reserved earlier.
	ReleaseAllocated decimal.Decimal

	// CostItem components (machine time, labour) are costed into WIP
	// against Applied Overhead and never touch stock.
	CostItem bool
}

// IssueMaterials moves components from raw materials into WIP.
func IssueMaterials(ref Reference, memo string, issues []MaterialIssue) PostRequest {
	materials, overhead := decimal.Zero, decimal.Zero
	hasOverhead := false
	var movements []Movement
	for _, is := range issues {
		value := is.Quantity.Mul(is.UnitCost)
		if is.CostItem {
			overhead = overhead.Add(value)
			hasOverhead = true
			continue
		}
		materials = materials.Add(value)
		movements = append(movements, Movement{
			Product:          is.Product,
			Location:         is.Location,
			Quantity:         is.Quantity.Neg(),
			UnitCost:         is.UnitCost,
			Type:             TxConsumption,
			Lot:              is.Lot,
			ReleaseAllocated: is.ReleaseAllocated,
		})
	}

	materials, overhead = RoundMoney(materials), RoundMoney(overhead)
	lines := []AccountLine{{Account: AccountWIP, Amount: materials.Add(overhead), Memo: memo}}
	if len(movements) > 0 {
		lines = append(lines, AccountLine{Account: AccountRawMaterials, Amount: materials.Neg(), Memo: memo})
	}
	if hasOverhead {
		lines = append(lines, AccountLine{Account: AccountAppliedOverhead, Amount: overhead.Neg(), Memo: memo})
	}

	return PostRequest{Memo: memo, Reference: ref, Lines: lines, Movements: movements}
}

// ReceiveFinishedGoods moves completed units out of WIP into finished goods,
// valued at value (the WIP cost absorbed by those units).
func ReceiveFinishedGoods(ref Reference, product ProductID, location LocationID, qty, value decimal.Decimal) PostRequest {
	value = RoundMoney(value)
	unitCost := decimal.Zero
	if qty.IsPositive() {
		unitCost = value.Div(qty)
	}
	return PostRequest{
		Memo:      "receive finished goods",
		Reference: ref,
		Lines: []AccountLine{
			{Account: AccountFinishedGoods, Amount: value},
			{Account: AccountWIP, Amount: value.Neg()},
		},
		Movements: []Movement{{
			Product:  product,
			Location: location,
			Quantity: qty,
			UnitCost: unitCost,
			Type:     TxReceipt,
		}},
	}
}

// ScrapWIP writes off WIP value. The write-off movements are log-only:
// the quantities already left stock when they were issued.
func ScrapWIP(ref Reference, memo string, amount decimal.Decimal, writeOffs []Movement) PostRequest {
	amount = RoundMoney(amount)
	movements := make([]Movement, 0, len(writeOffs))
	for _, m := range writeOffs {
		m.Type = TxScrap
		m.LogOnly = true
		if m.Quantity.IsPositive() {
			m.Quantity = m.Quantity.Neg()
		}
		movements = append(movements, m)
	}
	return PostRequest{
		Memo:      memo,
		Reference: ref,
		Lines: []AccountLine{
			{Account: AccountScrapExpense, Amount: amount, Memo: memo},
			{Account: AccountWIP, Amount: amount.Neg(), Memo: memo},
		},
		Movements: movements,
	}
}

// ScrapFinishedGoods writes off qty units already received into finished
// goods, at a total value.
func ScrapFinishedGoods(ref Reference, memo string, product ProductID, location LocationID, qty, value decimal.Decimal) PostRequest {
	value = RoundMoney(value)
	unitCost := decimal.Zero
	if qty.IsPositive() {
		unitCost = value.Div(qty)
	}
	return PostRequest{
		Memo:      memo,
		Reference: ref,
		Lines: []AccountLine{
			{Account: AccountScrapExpense, Amount: value, Memo: memo},
			{Account: AccountFinishedGoods, Amount: value.Neg(), Memo: memo},
		},
		Movements: []Movement{{
			Product:  product,
			Location: location,
			Quantity: qty.Neg(),
			UnitCost: unitCost,
			Type:     TxScrap,
		}},
	}
}

// Ship relieves finished goods into cost of goods sold.
func Ship(ref Reference, product ProductID, location LocationID, qty, unitCost decimal.Decimal) PostRequest {
	value := RoundMoney(qty.Mul(unitCost))
	return PostRequest{
		Memo:      "shipment",
		Reference: ref,
		Lines: []AccountLine{
			{Account: AccountCOGS, Amount: value},
			{Account: AccountFinishedGoods, Amount: value.Neg()},
		},
		Movements: []Movement{{
			Product:  product,
			Location: location,
			Quantity: qty.Neg(),
			UnitCost: unitCost,
			Type:     TxShipment,
		}},
	}
}

// ReceivePurchase books purchased components into raw materials.
func ReceivePurchase(ref Reference, product ProductID, location LocationID, qty, unitCost decimal.Decimal, lot string) PostRequest {
	value := RoundMoney(qty.Mul(unitCost))
	return PostRequest{
		Memo:      "purchase receipt",
		Reference: ref,
		Lines: []AccountLine{
			{Account: AccountRawMaterials, Amount: value},
			{Account: AccountGRNI, Amount: value.Neg()},
		},
		Movements: []Movement{{
			Product:  product,
			Location: location,
			Quantity: qty,
			UnitCost: unitCost,
			Type:     TxReceipt,
			Lot:      lot,
		}},
	}
}

// Adjust corrects stock by a signed quantity against inventoryAccount.
// An approved adjustment may leave on-hand negative.
func Adjust(ref Reference, inventoryAccount AccountCode, product ProductID, location LocationID, qty, unitCost decimal.Decimal, approved bool) PostRequest {
	value := RoundMoney(qty.Mul(unitCost))
	policy := BlockNegative
	if approved {
		policy = AllowWithApproval
	}
	return PostRequest{
		Memo:      "inventory adjustment",
		Reference: ref,
		Lines: []AccountLine{
			{Account: inventoryAccount, Amount: value},
			{Account: AccountInventoryAdjust, Amount: value.Neg()},
		},
		Movements: []Movement{{
			Product:  product,
			Location: location,
			Quantity: qty,
			UnitCost: unitCost,
			Type:     TxAdjustment,
		}},
		NegativeStock: policy,
	}
}
