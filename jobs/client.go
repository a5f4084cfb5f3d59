package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tally-pos/tally-pos/internal/inventory"
)

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client submits jobs to the queue.
type Client struct {
	client enqueuer
	logger *slog.Logger
	now    func() time.Time
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	client := asynq.NewClient(redisOpts)
	return &Client{client: client, logger: slog.Default(), now: time.Now}, nil
}

// EnqueueReconcile enqueues an inventory reconcile task. Deduction-triggered
// reconciles are unique per material for one minute.
func (c *Client) EnqueueReconcile(ctx context.Context, payload ReconcilePayload) (*asynq.TaskInfo, error) {
	var opts []asynq.Option
	if payload.Trigger == TriggerDeduction {
		// asynq dedupes on the payload bytes, which must not vary per order
		payload.RequestedAt = time.Time{}
		opts = append(opts, asynq.Unique(time.Minute))
	} else if payload.RequestedAt.IsZero() {
		payload.RequestedAt = c.now().UTC()
	}
	task, err := NewReconcileTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, opts...)
}

// HandleDriftSuspected satisfies inventory.DriftHandler by scheduling a
// reconcile of the material the lot journal could not cover.
func (c *Client) HandleDriftSuspected(ctx context.Context, evt inventory.DriftSuspectedEvent) error {
	_, err := c.EnqueueReconcile(ctx, ReconcilePayload{
		MaterialID: evt.MaterialID,
		Trigger:    TriggerDeduction,
	})
	logger := c.log().With(
		slog.Int64("material_id", evt.MaterialID),
		slog.String("reference", evt.ReferenceID.String()),
	)
	switch {
	case errors.Is(err, asynq.ErrDuplicateTask):
		logger.Debug("reconcile already pending")
		return nil
	case err != nil:
		return err
	}
	logger.Info("reconcile requested", slog.String("unmet", evt.Unmet.String()))
	return nil
}

func (c *Client) log() *slog.Logger {
	if c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
