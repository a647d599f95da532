package lifecycle

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"dmlifecycle/internal/domain"
)

// PlaceholderDUNS is a known-free staging value for swaps. The server
// enforces DUNS uniqueness, so a direct swap always fails its second step;
// every swap stages one side through this value first.
const PlaceholderDUNS = "0000000002"

// SupplierDirectory is the slice of the Data API the swap uses.
type SupplierDirectory interface {
	GetSupplier(ctx context.Context, id int) (*domain.Supplier, error)
	SupplierWithDUNS(ctx context.Context, duns string) (*domain.Supplier, error)
	UpdateSupplier(ctx context.Context, id int, patch domain.SupplierPatch, actor string) error
}

// SwapState reports how far a swap got, so a failed run tells the operator
// exactly which supplier is parked on the placeholder.
type SwapState struct {
	FirstParked  bool
	SecondMoved  bool
	SwapComplete bool
}

// SwapDUNS exchanges the DUNS numbers of two suppliers through three
// sequential mutations: b to the placeholder, a to b's number, b to a's
// number. On a mid-swap failure the returned state, plus the error, tells
// the operator where to resume; the placeholder row is the recovery point.
func SwapDUNS(ctx context.Context, dir SupplierDirectory, log *zap.Logger, aID, bID int, actor string, dryRun bool) (SwapState, error) {
	var state SwapState
	if aID == bID {
		return state, fmt.Errorf("cannot swap a supplier with itself")
	}
	a, err := dir.GetSupplier(ctx, aID)
	if err != nil {
		return state, err
	}
	b, err := dir.GetSupplier(ctx, bID)
	if err != nil {
		return state, err
	}
	if a.DUNSNumber == "" || b.DUNSNumber == "" {
		return state, fmt.Errorf("both suppliers must hold a DUNS number (supplier %d: %q, supplier %d: %q)",
			aID, a.DUNSNumber, bID, b.DUNSNumber)
	}
	holder, err := dir.SupplierWithDUNS(ctx, PlaceholderDUNS)
	if err != nil {
		return state, fmt.Errorf("check placeholder availability: %w", err)
	}
	if holder != nil {
		return state, fmt.Errorf("placeholder DUNS %s is held by supplier %d; resolve that first", PlaceholderDUNS, holder.ID)
	}
	if dryRun {
		log.Info("would swap DUNS numbers",
			zap.Int("supplier_a", aID), zap.String("duns_a", a.DUNSNumber),
			zap.Int("supplier_b", bID), zap.String("duns_b", b.DUNSNumber))
		return SwapState{FirstParked: true, SecondMoved: true, SwapComplete: true}, nil
	}

	// Capture both numbers before the first write: a directory serving
	// shared records would otherwise show us the placeholder mid-swap.
	aNumber, bNumber := a.DUNSNumber, b.DUNSNumber

	placeholder := PlaceholderDUNS
	if err := dir.UpdateSupplier(ctx, bID, domain.SupplierPatch{DUNSNumber: &placeholder}, actor); err != nil {
		return state, fmt.Errorf("park supplier %d on placeholder: %w", bID, err)
	}
	state.FirstParked = true

	if err := dir.UpdateSupplier(ctx, aID, domain.SupplierPatch{DUNSNumber: &bNumber}, actor); err != nil {
		return state, fmt.Errorf("supplier %d is parked on placeholder %s; move supplier %d failed: %w",
			bID, PlaceholderDUNS, aID, err)
	}
	state.SecondMoved = true

	if err := dir.UpdateSupplier(ctx, bID, domain.SupplierPatch{DUNSNumber: &aNumber}, actor); err != nil {
		return state, fmt.Errorf("supplier %d is parked on placeholder %s; final move failed: %w",
			bID, PlaceholderDUNS, err)
	}
	state.SwapComplete = true
	log.Info("swapped DUNS numbers",
		zap.Int("supplier_a", aID), zap.Int("supplier_b", bID))
	return state, nil
}
