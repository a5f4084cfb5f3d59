package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tally-pos/tally-pos/internal/inventory"
	"github.com/tally-pos/tally-pos/internal/observability"
	"github.com/tally-pos/tally-pos/internal/recipe"
	"github.com/tally-pos/tally-pos/internal/shared"
)

// InventoryDeps carries the infrastructure the inventory module runs on.
// Redis, Metrics and Drift are optional.
type InventoryDeps struct {
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Config  *Config
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Drift   inventory.DriftHandler
}

// NewInventoryService assembles the deduction service: recipe source (cached
// when Redis is available), repository and audit store.
func NewInventoryService(deps InventoryDeps) *inventory.Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var source recipe.Source = recipe.NewRepository(deps.Pool)
	if deps.Redis != nil && deps.Config != nil && deps.Config.RecipeCacheTTL > 0 {
		source = recipe.NewCachedSource(source, deps.Redis, deps.Config.RecipeCacheTTL, logger)
	}
	var metrics *inventory.Metrics
	if deps.Metrics != nil {
		metrics = inventory.NewMetrics(deps.Metrics.Registerer())
	}
	return inventory.NewService(
		inventory.NewRepository(deps.Pool),
		recipe.NewResolver(source),
		shared.NewAuditLogger(deps.Pool),
		inventory.ServiceConfig{
			Logger:       logger,
			Metrics:      metrics,
			DriftHandler: deps.Drift,
		},
	)
}
