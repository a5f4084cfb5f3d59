package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tally-pos/tally-pos/jobs"
)

type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type queueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	Close() error
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    taskEnqueuer
	inspector queueInspector
	now       func() time.Time
}

// NewJobsCLI initialises the CLI helpers against the queue's Redis server.
func NewJobsCLI(redisOpts asynq.RedisClientOpt) (*JobsCLI, error) {
	client := asynq.NewClient(redisOpts)
	inspector := asynq.NewInspector(redisOpts)
	return &JobsCLI{client: client, inspector: inspector, now: time.Now}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// Trigger enqueues a supported job by name. materialID scopes reconcile runs;
// zero reconciles every material.
func (c *JobsCLI) Trigger(ctx context.Context, name string, materialID int64) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	var task *asynq.Task
	var err error
	switch name {
	case jobs.TaskInventoryReconcile:
		if materialID < 0 {
			return nil, fmt.Errorf("jobs cli: invalid material id %d", materialID)
		}
		task, err = jobs.NewReconcileTask(jobs.ReconcilePayload{
			MaterialID:  materialID,
			Trigger:     "manual",
			RequestedAt: c.now().UTC(),
		})
	case jobs.TaskIdempotencyCleanup:
		task, err = jobs.NewIdempotencyCleanupTask(jobs.DefaultIdempotencyRetention)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
}

// InspectQueue reports the queue metrics for queue.
func (c *JobsCLI) InspectQueue(ctx context.Context, queue string) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	if queue == "" {
		queue = jobs.QueueDefault
	}
	info, err := c.inspector.GetQueueInfo(queue)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: queue}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}

// ListScheduled returns scheduled task infos for observability.
func (c *JobsCLI) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}
