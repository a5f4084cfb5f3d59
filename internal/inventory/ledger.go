package inventory

import (
	"context"

	"github.com/shopspring/decimal"
)

// guardStock is the fast aggregate check. Passing it says nothing about
// individual lots; Consume re-validates at lot granularity.
func guardStock(ctx context.Context, tx TxRepository, materialID int64, qty decimal.Decimal) error {
	ok, err := tx.DecrementStock(ctx, materialID, qty)
	if err != nil {
		return err
	}
	if !ok {
		return &InsufficientStockError{MaterialID: materialID, Source: SourceLedger, Requested: qty, Remaining: qty}
	}
	return nil
}
