package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tally-pos/tally-pos/internal/inventory"
	jobmetrics "github.com/tally-pos/tally-pos/internal/jobs"
)

// Reconciler reports ledger/journal drift.
type Reconciler interface {
	Reconcile(ctx context.Context, materialID int64) ([]inventory.Drift, error)
}

// ReconcileJob handles TaskInventoryReconcile.
type ReconcileJob struct {
	Reconciler Reconciler
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	clock      func() time.Time
}

// NewReconcileJob initialises the reconcile handler.
func NewReconcileJob(reconciler Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{
		Reconciler: reconciler,
		Logger:     logger,
		Metrics:    metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle runs one reconcile pass.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Reconciler == nil {
		return errors.New("inventory reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.MaterialID < 0 {
		return asynq.SkipRetry
	}
	if payload.Trigger == "" {
		payload.Trigger = TriggerSchedule
	}

	start := j.clock()
	tracker := j.Metrics.Track(TaskInventoryReconcile)
	logger := j.logger().With(
		slog.Int64("material_id", payload.MaterialID),
		slog.String("trigger", payload.Trigger),
	)

	drifts, err := j.Reconciler.Reconcile(ctx, payload.MaterialID)
	if err != nil {
		logger.Error("inventory reconcile failed", slog.Any("error", err))
		return tracker.End(err)
	}
	j.Metrics.AddDrift(payload.Trigger, len(drifts))
	logger.Info("inventory reconcile completed",
		slog.Int("drifted", len(drifts)),
		slog.Duration("duration", j.clock().Sub(start)),
	)
	return tracker.End(nil)
}

func (j *ReconcileJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
