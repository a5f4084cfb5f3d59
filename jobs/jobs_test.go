package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tally-pos/tally-pos/internal/inventory"
	jobmetrics "github.com/tally-pos/tally-pos/internal/jobs"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (e *recordingEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	e.tasks = append(e.tasks, task)
	e.opts = append(e.opts, opts)
	if e.err != nil {
		return nil, e.err
	}
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func (e *recordingEnqueuer) Close() error { return nil }

type stubReconciler struct {
	calls  []int64
	drifts []inventory.Drift
	err    error
}

func (s *stubReconciler) Reconcile(ctx context.Context, materialID int64) ([]inventory.Drift, error) {
	s.calls = append(s.calls, materialID)
	return s.drifts, s.err
}

type stubPruner struct {
	retention time.Duration
	err       error
}

func (s *stubPruner) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.retention = olderThan
	return 4, s.err
}

func TestDriftSuspectedEnqueuesReconcile(t *testing.T) {
	enq := &recordingEnqueuer{}
	client := &Client{client: enq, now: time.Now}
	ref := uuid.New()
	detected := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	err := client.HandleDriftSuspected(context.Background(), inventory.DriftSuspectedEvent{
		MaterialID:  3,
		ReferenceID: ref,
		Requested:   decimal.NewFromInt(5),
		Unmet:       decimal.NewFromInt(2),
		DetectedAt:  detected,
	})
	require.NoError(t, err)
	require.Len(t, enq.tasks, 1)
	require.Equal(t, TaskInventoryReconcile, enq.tasks[0].Type())
	require.Len(t, enq.opts[0], 1)

	var payload ReconcilePayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.EqualValues(t, 3, payload.MaterialID)
	require.Equal(t, TriggerDeduction, payload.Trigger)
	require.True(t, payload.RequestedAt.IsZero())
}

func TestDriftSuspectedKeepsOneReconcilePerMaterial(t *testing.T) {
	srv := miniredis.RunT(t)
	opts := asynq.RedisClientOpt{Addr: srv.Addr()}
	client, err := NewClient(opts)
	require.NoError(t, err)
	defer client.Close()
	client.logger = discardLogger()

	detected := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, client.HandleDriftSuspected(context.Background(), inventory.DriftSuspectedEvent{
			MaterialID:  7,
			ReferenceID: uuid.New(),
			Unmet:       decimal.NewFromInt(1),
			DetectedAt:  detected.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, client.HandleDriftSuspected(context.Background(), inventory.DriftSuspectedEvent{
		MaterialID:  8,
		ReferenceID: uuid.New(),
		DetectedAt:  detected,
	}))

	inspector := asynq.NewInspector(opts)
	defer inspector.Close()
	info, err := inspector.GetQueueInfo(QueueCritical)
	require.NoError(t, err)
	require.Equal(t, 2, info.Pending)
}

func TestDriftSuspectedIgnoresDuplicates(t *testing.T) {
	client := &Client{client: &recordingEnqueuer{err: asynq.ErrDuplicateTask}, now: time.Now}
	require.NoError(t, client.HandleDriftSuspected(context.Background(), inventory.DriftSuspectedEvent{MaterialID: 1}))

	boom := errors.New("redis down")
	client = &Client{client: &recordingEnqueuer{err: boom}, now: time.Now}
	require.ErrorIs(t, client.HandleDriftSuspected(context.Background(), inventory.DriftSuspectedEvent{MaterialID: 1}), boom)
}

func TestScheduledReconcileIsNotUnique(t *testing.T) {
	enq := &recordingEnqueuer{}
	client := &Client{client: enq, now: func() time.Time { return time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC) }}
	_, err := client.EnqueueReconcile(context.Background(), ReconcilePayload{Trigger: TriggerSchedule})
	require.NoError(t, err)
	require.Empty(t, enq.opts[0])

	var payload ReconcilePayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.Equal(t, 2024, payload.RequestedAt.Year())
}

func TestReconcileJobHandle(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := &stubReconciler{drifts: []inventory.Drift{{MaterialID: 3, Ledger: decimal.NewFromInt(5), Journal: decimal.NewFromInt(3)}}}
	job := NewReconcileJob(rec, discardLogger(), jobmetrics.NewMetrics(reg))

	task, err := NewReconcileTask(ReconcilePayload{MaterialID: 3, Trigger: TriggerDeduction})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []int64{3}, rec.calls)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	require.True(t, names["tally_inventory_drift_detected_total"])
	require.True(t, names["tally_jobs_total"])
}

func TestReconcileJobRejectsBadPayload(t *testing.T) {
	job := NewReconcileJob(&stubReconciler{}, discardLogger(), nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskInventoryReconcile, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), asynq.NewTask(TaskInventoryReconcile, []byte(`{"material_id":-1}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestReconcileJobReturnsStoreErrors(t *testing.T) {
	boom := errors.New("connection refused")
	job := NewReconcileJob(&stubReconciler{err: boom}, discardLogger(), nil)
	task, err := NewReconcileTask(ReconcilePayload{})
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), task), boom)

	var nilJob *ReconcileJob
	require.Error(t, nilJob.Handle(context.Background(), task))
}

func TestIdempotencyCleanupJob(t *testing.T) {
	pruner := &stubPruner{}
	job := NewIdempotencyCleanupJob(pruner, discardLogger(), nil)

	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, DefaultIdempotencyRetention, pruner.retention)

	task, err = NewIdempotencyCleanupTask(time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, time.Hour, pruner.retention)

	require.ErrorIs(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, []byte("x"))), asynq.SkipRetry)
}

type stubInspector struct {
	info map[string]*asynq.QueueInfo
	err  error
}

func (s *stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	info, ok := s.info[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func TestJobsHealth(t *testing.T) {
	inspector := &stubInspector{info: map[string]*asynq.QueueInfo{
		QueueDefault: {Queue: QueueDefault, Pending: 2, Active: 1},
	}}
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(inspector, discardLogger()).MountRoutes)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Queues []queueHealth `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, []queueHealth{
		{Queue: QueueCritical},
		{Queue: QueueDefault, Pending: 2, Active: 1},
	}, body.Queues)

	inspector.err = errors.New("redis down")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestLogTasksPassesThroughResult(t *testing.T) {
	boom := errors.New("boom")
	var seen []string
	handler := logTasks(discardLogger())(asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
		seen = append(seen, task.Type())
		if task.Type() == TaskIdempotencyCleanup {
			return boom
		}
		return nil
	}))

	require.NoError(t, handler.ProcessTask(context.Background(), asynq.NewTask(TaskInventoryReconcile, nil)))
	require.ErrorIs(t, handler.ProcessTask(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)), boom)
	require.Equal(t, []string{TaskInventoryReconcile, TaskIdempotencyCleanup}, seen)
}

func TestNewWorkerRejectsBadCron(t *testing.T) {
	task, err := NewReconcileTask(ReconcilePayload{Trigger: TriggerSchedule})
	require.NoError(t, err)

	_, err = NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"},
		Logger:    discardLogger(),
		Cron:      []CronRegistration{{Spec: "not a cron", Task: task}},
	})
	require.Error(t, err)
}

func TestNilWorkerRun(t *testing.T) {
	var w *Worker
	require.Error(t, w.Run(context.Background()))
}
