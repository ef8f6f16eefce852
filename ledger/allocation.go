package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ALLOCATION - Soft holds that move Allocated but never OnHand
// =============================================================================

// AllocationRequest reserves or releases quantity of a product at a location.
type AllocationRequest struct {
	Product   ProductID
	Location  LocationID
	Quantity  decimal.Decimal // positive
	Lot       string
	Reference Reference
}

// AllocationShortError is returned when the available quantity cannot cover a hold.
type AllocationShortError struct {
	Product   ProductID
	Location  LocationID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *AllocationShortError) Error() string {
	return fmt.Sprintf("cannot allocate %s of %s at %s: only %s available",
		e.Requested, e.Product, e.Location, e.Available)
}

func (e *AllocationShortError) Unwrap() error { return ErrInsufficientStock }

// AllocateIn raises Allocated by req.Quantity and logs a reservation
// transaction with negative quantity. No journal entry is created: nothing
// moves physically. Runs inside the caller's store transaction.
func (l *Ledger) AllocateIn(ctx context.Context, s Store, req AllocationRequest) (*InventoryTransaction, error) {
	if err := validateAllocation(req); err != nil {
		return nil, err
	}
	loc := locationOrDefault(req.Location)

	inv, err := s.GetInventory(ctx, req.Product, loc)
	if err != nil {
		return nil, err
	}
	if inv.Available().LessThan(req.Quantity) {
		return nil, &AllocationShortError{
			Product:   req.Product,
			Location:  loc,
			Available: inv.Available(),
			Requested: req.Quantity,
		}
	}

	if err := s.ApplyInventoryDelta(ctx, req.Product, loc, decimal.Zero, req.Quantity); err != nil {
		return nil, err
	}
	return l.logAllocation(ctx, s, req, loc, TxReservation, req.Quantity.Neg())
}

// ReleaseIn lowers Allocated by up to req.Quantity and logs a release
// transaction. Releasing more than is allocated releases what is there.
func (l *Ledger) ReleaseIn(ctx context.Context, s Store, req AllocationRequest) (*InventoryTransaction, error) {
	if err := validateAllocation(req); err != nil {
		return nil, err
	}
	loc := locationOrDefault(req.Location)

	inv, err := s.GetInventory(ctx, req.Product, loc)
	if err != nil {
		return nil, err
	}
	qty := decimal.Min(req.Quantity, inv.Allocated)
	if !qty.IsPositive() {
		return nil, nil
	}

	if err := s.ApplyInventoryDelta(ctx, req.Product, loc, decimal.Zero, qty.Neg()); err != nil {
		return nil, err
	}
	return l.logAllocation(ctx, s, req, loc, TxRelease, qty)
}

func (l *Ledger) logAllocation(ctx context.Context, s Store, req AllocationRequest, loc LocationID, typ TransactionType, qty decimal.Decimal) (*InventoryTransaction, error) {
	tx := InventoryTransaction{
		ID:        TransactionID(l.NewID()),
		Product:   req.Product,
		Location:  loc,
		Type:      typ,
		Quantity:  qty,
		UnitCost:  decimal.Zero,
		Lot:       req.Lot,
		Reference: req.Reference,
		CreatedAt: l.Now(),
	}
	if err := s.InsertInventoryTransactions(ctx, []InventoryTransaction{tx}); err != nil {
		return nil, err
	}
	return &tx, nil
}

func validateAllocation(req AllocationRequest) error {
	if req.Product == "" {
		return invalid("product", "allocation has no product")
	}
	if !req.Quantity.IsPositive() {
		return invalid("quantity", "allocation quantity for %s must be positive, got %s", req.Product, req.Quantity)
	}
	return nil
}
