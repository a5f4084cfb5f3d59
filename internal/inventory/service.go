package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tally-pos/tally-pos/internal/recipe"
	"github.com/tally-pos/tally-pos/internal/shared"
)

const (
	idempotencyModule = "inventory"
	successMessage    = "Inventory deducted from stock ledger and lot journal"
)

// Service coordinates inventory operations.
type Service struct {
	repo        RepositoryPort
	resolver    RequirementResolver
	audit    AuditPort
	drift    DriftHandler
	metrics  *Metrics
	tracer   trace.Tracer
	logger   *slog.Logger
	now      func() time.Time
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Logger       *slog.Logger
	Metrics      *Metrics
	Tracer       trace.Tracer
	DriftHandler DriftHandler
	Now          func() time.Time
}

// NewService builds Service. audit may be nil.
func NewService(repo RepositoryPort, resolver RequirementResolver, audit AuditPort, cfg ServiceConfig) *Service {
	s := &Service{
		repo:     repo,
		resolver: resolver,
		audit:    audit,
		drift:    cfg.DriftHandler,
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("github.com/tally-pos/tally-pos/internal/inventory")
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// DeductForOrder consumes the raw materials of a sold order line from the
// stock ledger and, FIFO, from the lot journal. Either every material is
// deducted and the transaction commits, or nothing is. Failures come back as
// *DeductionError naming the last stage reached.
func (s *Service) DeductForOrder(ctx context.Context, in DeductInput) (Report, error) {
	start := s.now()
	ref := uuid.New()
	ctx, span := s.tracer.Start(ctx, "inventory.DeductForOrder", trace.WithAttributes(
		attribute.Int64("menu.id", in.MenuID),
		attribute.String("order.quantity", in.Quantity.String()),
		attribute.Int("addon.count", len(in.AddonIDs)),
		attribute.String("deduction.reference", ref.String()),
	))
	defer span.End()

	stage := StageBegin
	reqs, err := s.resolver.Resolve(ctx, in.MenuID, in.Quantity, in.AddonIDs)
	if err != nil {
		return Report{}, s.fail(ctx, span, start, stage, ref, in, err)
	}
	reqs, err = roundRequirements(reqs)
	if err != nil {
		return Report{}, s.fail(ctx, span, start, stage, ref, in, err)
	}
	stage = StageRequirementsGathered
	span.AddEvent(string(stage), trace.WithAttributes(attribute.Int("materials", len(reqs))))

	ids := reqs.MaterialIDs()
	var records []ConsumptionRecord
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		records = nil
		stage = StageRequirementsGathered
		// the key commits with the deduction, so a rollback frees it for retries
		if in.IdempotencyKey != "" {
			if err := tx.ClaimKey(ctx, "deduct:"+in.IdempotencyKey, idempotencyModule); err != nil {
				return err
			}
		}
		for _, id := range ids {
			qty := reqs[id]
			if !qty.IsPositive() {
				continue
			}
			if err := guardStock(ctx, tx, id, qty); err != nil {
				return err
			}
		}
		stage = StageStockGuarded
		span.AddEvent(string(stage))

		for _, id := range ids {
			qty := reqs[id]
			if !qty.IsPositive() {
				continue
			}
			recs, err := Consume(ctx, tx, id, qty, in.UserID, ref)
			if err != nil {
				return err
			}
			records = append(records, recs...)
		}
		stage = StageLotsConsumed
		span.AddEvent(string(stage), trace.WithAttributes(attribute.Int("records", len(records))))
		return nil
	})
	if err != nil {
		return Report{}, s.fail(ctx, span, start, stage, ref, in, err)
	}

	report := Report{
		ReferenceID: ref,
		Message:     successMessage,
		Deductions:  reqs,
		Records:     records,
		TotalCost:   totalCost(records),
	}
	span.AddEvent(string(StageCommitted))
	span.SetStatus(codes.Ok, "")
	s.metrics.observeSuccess(s.now().Sub(start), len(records))
	s.logger.Info("inventory deducted",
		slog.String("reference", ref.String()),
		slog.Int64("menu_id", in.MenuID),
		slog.String("quantity", in.Quantity.String()),
		slog.Int("materials", len(reqs)),
		slog.Int("records", len(records)),
		slog.String("total_cost", report.TotalCost.String()),
	)

	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  in.UserID,
			Action:   "inventory:deduct",
			Entity:   "menu_order",
			EntityID: ref.String(),
			Meta: map[string]any{
				"menu_id":    in.MenuID,
				"quantity":   in.Quantity.String(),
				"addon_ids":  in.AddonIDs,
				"deductions": reqs.Float64s(),
				"total_cost": report.TotalCost.String(),
			},
		}); err != nil {
			s.logger.Warn("audit inventory deduction", slog.String("reference", ref.String()), slog.Any("error", err))
		}
	}
	return report, nil
}

func (s *Service) fail(ctx context.Context, span trace.Span, start time.Time, stage Stage, ref uuid.UUID, in DeductInput, err error) error {
	err = classify(err)
	outcome := "error"
	switch {
	case errors.Is(err, ErrInvalidInput):
		outcome = "invalid"
	case errors.Is(err, ErrInsufficientStock):
		outcome = "insufficient_stock"
	case errors.Is(err, shared.ErrIdempotencyConflict):
		outcome = "duplicate"
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, outcome)
	span.AddEvent(string(StageRolledBack), trace.WithAttributes(attribute.String("stage", string(stage))))
	s.metrics.observeFailure(s.now().Sub(start), stage, outcome)

	level := slog.LevelWarn
	if errors.Is(err, ErrTransientStore) {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "inventory deduction rolled back",
		slog.String("reference", ref.String()),
		slog.String("stage", string(stage)),
		slog.Int64("menu_id", in.MenuID),
		slog.Any("error", err),
	)

	var stockErr *InsufficientStockError
	if errors.As(err, &stockErr) && stockErr.Source == SourceJournal && s.drift != nil {
		evt := DriftSuspectedEvent{
			MaterialID:  stockErr.MaterialID,
			ReferenceID: ref,
			Requested:   stockErr.Requested,
			Unmet:       stockErr.Remaining,
			DetectedAt:  s.now(),
		}
		if derr := s.drift.HandleDriftSuspected(context.WithoutCancel(ctx), evt); derr != nil {
			s.logger.Warn("report stock drift", slog.Int64("material_id", evt.MaterialID), slog.Any("error", derr))
		}
	}
	return &DeductionError{Stage: stage, Err: err}
}

// Reconcile compares the stock ledger with open lots and logs every material
// that drifted. materialID zero checks all materials.
func (s *Service) Reconcile(ctx context.Context, materialID int64) ([]Drift, error) {
	drifts, err := s.repo.StockDrift(ctx, materialID)
	if err != nil {
		return nil, fmt.Errorf("inventory: stock drift: %w", classify(err))
	}
	if materialID == 0 {
		s.metrics.setDrift(len(drifts))
	}
	for _, d := range drifts {
		s.logger.Warn("inventory drift",
			slog.Int64("material_id", d.MaterialID),
			slog.String("material", d.Name),
			slog.String("ledger", d.Ledger.String()),
			slog.String("journal", d.Journal.String()),
			slog.String("difference", d.Difference().String()),
		)
	}
	return drifts, nil
}

// roundRequirements rounds half away from zero to the store's scale, the same
// rounding numeric columns apply. A positive requirement too small to store is
// rejected rather than silently skipped.
func roundRequirements(reqs recipe.Requirements) (recipe.Requirements, error) {
	out := make(recipe.Requirements, len(reqs))
	for id, qty := range reqs {
		rounded := qty.Round(QuantityScale)
		if qty.IsPositive() && rounded.IsZero() {
			return nil, fmt.Errorf("%w: material %d requirement %s is below the smallest storable quantity", ErrInvalidInput, id, qty)
		}
		out[id] = rounded
	}
	return out, nil
}

func totalCost(records []ConsumptionRecord) decimal.Decimal {
	total := decimal.Zero
	for _, rec := range records {
		total = total.Add(rec.TotalCost)
	}
	return total
}
