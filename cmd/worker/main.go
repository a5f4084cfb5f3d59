package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tally-pos/tally-pos/internal/app"
	jobmetrics "github.com/tally-pos/tally-pos/internal/jobs"
	"github.com/tally-pos/tally-pos/internal/observability"
	"github.com/tally-pos/tally-pos/internal/orderevents"
	"github.com/tally-pos/tally-pos/internal/platform/cache"
	"github.com/tally-pos/tally-pos/internal/platform/db"
	"github.com/tally-pos/tally-pos/internal/shared"
	"github.com/tally-pos/tally-pos/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		ServiceName: "tally-worker",
		Environment: cfg.AppEnv,
		Endpoint:    cfg.OtelEndpoint,
		Insecure:    cfg.OtelInsecure,
		SampleRatio: cfg.OtelSampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{
		MaxConns:        cfg.PGMaxConns,
		MinConns:        cfg.PGMinConns,
		MaxConnLifetime: cfg.PGConnMaxLife,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := cfg.Asynq()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		return err
	}
	defer jobClient.Close()

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())
	inventoryService := app.NewInventoryService(app.InventoryDeps{
		Pool:    pool,
		Redis:   redisClient,
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics,
		Drift:   jobClient,
	})

	reconcileJob := jobs.NewReconcileJob(inventoryService, logger, jobMetrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(shared.NewIdempotencyStore(pool), logger, jobMetrics)

	reconcileTask, err := jobs.NewReconcileTask(jobs.ReconcilePayload{Trigger: jobs.TriggerSchedule})
	if err != nil {
		return err
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		return err
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskInventoryReconcile, Handler: reconcileJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReconcileCron, Task: reconcileTask},
			{Spec: "30 4 * * *", Task: cleanupTask},
		},
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(ctx) })

	if cfg.WorkerMetricsAddr != "" {
		metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	if cfg.KafkaEnabled() {
		kafkaCfg := orderevents.KafkaConfig{
			Brokers:     orderevents.ParseBrokers(cfg.KafkaBrokers),
			OrderTopic:  cfg.KafkaOrderTopic,
			ResultTopic: cfg.KafkaResultTopic,
			GroupID:     cfg.KafkaGroupID,
		}
		reader := orderevents.NewReader(kafkaCfg)
		writer := orderevents.NewWriter(kafkaCfg)
		defer func() {
			if err := reader.Close(); err != nil {
				logger.Warn("kafka reader close", slog.Any("error", err))
			}
			if err := writer.Close(); err != nil {
				logger.Warn("kafka writer close", slog.Any("error", err))
			}
		}()
		handler := orderevents.NewHandler(inventoryService, writer, metrics, logger, orderevents.RetryPolicy{})
		consumer := orderevents.NewConsumer(reader, handler, logger)
		g.Go(func() error { return consumer.Run(ctx) })
		logger.Info("order event consumer enabled",
			slog.String("topic", cfg.KafkaOrderTopic),
			slog.String("group", cfg.KafkaGroupID),
		)
	}

	return g.Wait()
}
