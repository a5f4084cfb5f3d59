package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries reconcile requests raised by failed deductions.
	QueueCritical = "critical"

	// TaskInventoryReconcile compares the stock ledger with open lots.
	TaskInventoryReconcile = "inventory:reconcile"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// Reconcile triggers.
const (
	TriggerSchedule  = "schedule"
	TriggerDeduction = "deduction"
)

// ReconcilePayload selects the materials to reconcile. MaterialID zero means all.
// Deduction-triggered payloads leave RequestedAt zero so equal requests dedupe.
type ReconcilePayload struct {
	MaterialID  int64     `json:"material_id"`
	Trigger     string    `json:"trigger"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewReconcileTask constructs an inventory reconcile task.
func NewReconcileTask(payload ReconcilePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	queue := QueueDefault
	if payload.Trigger == TriggerDeduction {
		queue = QueueCritical
	}
	return asynq.NewTask(TaskInventoryReconcile, body, asynq.Queue(queue), asynq.MaxRetry(3)), nil
}

// IdempotencyCleanupPayload holds the retention window.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask builds the key pruning task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}
