package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LotCursor pulls one material's lots in FIFO order, one locked row per Next.
// Lots are fetched lazily so a deduction never loads more of the journal than
// it drains.
type LotCursor struct {
	tx         TxRepository
	materialID int64
	lot        Lot
	err        error
}

// NewLotCursor opens a cursor over materialID's positive lots.
func NewLotCursor(tx TxRepository, materialID int64) *LotCursor {
	return &LotCursor{tx: tx, materialID: materialID}
}

// Next advances to the earliest-expiring lot that still holds stock. It
// returns false when none is left or a lookup fails; check Err afterwards.
func (c *LotCursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	lot, ok, err := c.tx.NextLot(ctx, c.materialID)
	if err != nil {
		c.err = err
		return false
	}
	if !ok {
		return false
	}
	if !lot.Quantity.IsPositive() {
		c.err = fmt.Errorf("%w: lot %d has quantity %s", ErrLotInvariant, lot.ID, lot.Quantity)
		return false
	}
	c.lot = lot
	return true
}

// Lot returns the lot selected by the last successful Next.
func (c *LotCursor) Lot() Lot { return c.lot }

// Err returns the error that stopped the cursor, if any.
func (c *LotCursor) Err() error { return c.err }

// Consume drains qty of materialID from the journal in FIFO order. Every lot
// touched gets a matching negative record carrying the lot's unit cost. The
// loop ends exactly when the remaining quantity reaches zero; running out of
// lots first is an *InsufficientStockError.
func Consume(ctx context.Context, tx TxRepository, materialID int64, qty decimal.Decimal, userID int64, ref uuid.UUID) ([]ConsumptionRecord, error) {
	remaining := qty
	cursor := NewLotCursor(tx, materialID)
	var records []ConsumptionRecord
	for remaining.IsPositive() {
		if !cursor.Next(ctx) {
			if err := cursor.Err(); err != nil {
				return nil, err
			}
			return nil, &InsufficientStockError{MaterialID: materialID, Source: SourceJournal, Requested: qty, Remaining: remaining}
		}
		lot := cursor.Lot()
		deduct := decimal.Min(remaining, lot.Quantity)

		ok, err := tx.ConsumeLot(ctx, lot.ID, deduct)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &InsufficientStockError{MaterialID: materialID, Source: SourceJournal, Requested: qty, Remaining: remaining}
		}

		rec := ConsumptionRecord{
			LotID:          lot.ID,
			MaterialID:     materialID,
			Quantity:       deduct.Neg(),
			Unit:           lot.Unit,
			ExpirationDate: lot.ExpirationDate,
			UnitCost:       lot.UnitCost,
			TotalCost:      deduct.Mul(lot.UnitCost),
			Reason:         ConsumptionReason,
			UserID:         userID,
			ReferenceID:    ref,
		}
		id, err := tx.InsertConsumption(ctx, rec)
		if err != nil {
			return nil, err
		}
		rec.ID = id
		records = append(records, rec)
		remaining = remaining.Sub(deduct)
	}
	return records, nil
}
