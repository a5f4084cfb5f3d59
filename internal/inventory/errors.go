package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tally-pos/tally-pos/internal/recipe"
	"github.com/tally-pos/tally-pos/internal/shared"
)

var (
	// ErrInvalidInput rejects a request before any transaction opens.
	ErrInvalidInput = recipe.ErrInvalidInput
	// ErrInsufficientStock is matched by every *InsufficientStockError.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrTransientStore marks connection and statement failures of the store.
	ErrTransientStore = errors.New("inventory: store failure")
	// ErrLotInvariant indicates the store returned a lot that cannot be consumed.
	ErrLotInvariant = errors.New("inventory: lot invariant violated")
)

// StockSource names the gate that detected a shortage.
type StockSource string

const (
	SourceLedger  StockSource = "stock ledger"
	SourceJournal StockSource = "lot journal"
)

// InsufficientStockError identifies the material that ran out.
type InsufficientStockError struct {
	MaterialID int64
	Source     StockSource
	Requested  decimal.Decimal
	// Remaining is the part of Requested still unmet when the journal ran dry.
	Remaining decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for material %d in %s", e.MaterialID, e.Source)
}

// Is reports whether target is ErrInsufficientStock.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// DeductionError carries the last state a failed deduction reached before it
// was rolled back.
type DeductionError struct {
	Stage Stage
	Err   error
}

func (e *DeductionError) Error() string { return e.Err.Error() }

func (e *DeductionError) Unwrap() error { return e.Err }

type storeError struct {
	err error
}

func (e *storeError) Error() string { return fmt.Sprintf("inventory: store failure: %v", e.err) }

func (e *storeError) Unwrap() []error { return []error{ErrTransientStore, e.err} }

// classify leaves domain errors untouched and marks everything else as a
// transient store failure.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrTransientStore),
		errors.Is(err, recipe.ErrInvalidRecipe),
		errors.Is(err, ErrLotInvariant),
		errors.Is(err, shared.ErrIdempotencyConflict),
		errors.Is(err, context.Canceled):
		return err
	default:
		return &storeError{err: err}
	}
}
