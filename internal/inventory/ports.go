package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tally-pos/tally-pos/internal/recipe"
	"github.com/tally-pos/tally-pos/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListMovements(ctx context.Context, materialID int64, limit int) ([]Movement, error)
	EarliestLotCosts(ctx context.Context, materialIDs []int64, asOf time.Time) (map[int64]decimal.Decimal, error)
	StockDrift(ctx context.Context, materialID int64) ([]Drift, error)
}

// RequirementResolver turns an order into material requirements.
type RequirementResolver interface {
	Resolve(ctx context.Context, menuID int64, quantity decimal.Decimal, addonIDs []int64) (recipe.Requirements, error)
	Lines(ctx context.Context, menuID int64, addonIDs []int64) ([]recipe.Line, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// DriftHandler receives suspected ledger/journal drift for reconciliation.
type DriftHandler interface {
	HandleDriftSuspected(ctx context.Context, evt DriftSuspectedEvent) error
}
