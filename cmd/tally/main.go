package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/tally-pos/tally-pos/cmd/tally/cli"
	"github.com/tally-pos/tally-pos/internal/app"
	"github.com/tally-pos/tally-pos/internal/inventory"
	"github.com/tally-pos/tally-pos/internal/observability"
	"github.com/tally-pos/tally-pos/internal/platform/cache"
	"github.com/tally-pos/tally-pos/internal/platform/db"
	"github.com/tally-pos/tally-pos/jobs"
	"github.com/tally-pos/tally-pos/migrations"
)

const usage = `usage: tally [command]

commands:
  serve                          run the HTTP API (default)
  migrate [up|status]            apply or list schema migrations
  jobs trigger <task> [-material N]
                                 enqueue inventory:reconcile or idempotency:cleanup
  jobs stats [queue]             show queue depth
  jobs scheduled [-n N]          list scheduled tasks`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "migrate":
		err = migrate(ctx, cfg, args)
	case "jobs":
		err = jobsCommand(ctx, cfg, args)
	case "help", "-h", "--help":
		fmt.Println(usage)
		return
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(cmd+" failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		ServiceName: "tally-api",
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
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown", slog.Any("error", err))
		}
	}()

	if cfg.DBAutoMigrate {
		if err := db.Migrate(ctx, cfg.PGDSN, migrations.FS); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{
		MaxConns:        cfg.PGMaxConns,
		MinConns:        cfg.PGMinConns,
		MaxConnLifetime: cfg.PGConnMaxLife,
	})
	if err != nil {
		return err
	}
	defer dbpool.Close()

	readiness := map[string]app.Pinger{"postgres": dbpool.Ping}

	var redisClient *redis.Client
	if client, err := cache.New(ctx, cfg.Redis()); err != nil {
		logger.Warn("redis unavailable, recipe cache and drift jobs disabled", slog.Any("error", err))
	} else {
		redisClient = client
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		readiness["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	var (
		drift      inventory.DriftHandler
		jobHandler *jobs.Handler
	)
	if redisClient != nil {
		redisOpts := cfg.Asynq()
		jobClient, err := jobs.NewClient(redisOpts)
		if err != nil {
			return err
		}
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		drift = jobClient

		inspector := asynq.NewInspector(redisOpts)
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	metrics := observability.NewMetrics()
	inventoryService := app.NewInventoryService(app.InventoryDeps{
		Pool:    dbpool,
		Redis:   redisClient,
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics,
		Drift:   drift,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		InventoryHandler: inventory.NewHandler(logger, inventoryService),
		JobHandler:       jobHandler,
		Metrics:          metrics,
		Readiness:        readiness,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func migrate(ctx context.Context, cfg *app.Config, args []string) error {
	action := "up"
	if len(args) > 0 {
		action = args[0]
	}
	switch action {
	case "up":
		return db.Migrate(ctx, cfg.PGDSN, migrations.FS)
	case "status":
		return db.MigrationStatus(ctx, cfg.PGDSN, migrations.FS)
	default:
		return fmt.Errorf("unknown migrate action %q", action)
	}
}

func jobsCommand(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	jobsCLI, err := cli.NewJobsCLI(cfg.Asynq())
	if err != nil {
		return err
	}
	defer jobsCLI.Close()

	switch args[0] {
	case "trigger":
		fs := flag.NewFlagSet("jobs trigger", flag.ContinueOnError)
		material := fs.Int64("material", 0, "material id to reconcile, 0 for all")
		if len(args) < 2 {
			return errors.New("jobs trigger: task name required")
		}
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		info, err := jobsCLI.Trigger(ctx, args[1], *material)
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return nil
	case "stats":
		queue := ""
		if len(args) > 1 {
			queue = args[1]
		}
		stats, err := jobsCLI.InspectQueue(ctx, queue)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		return nil
	case "scheduled":
		fs := flag.NewFlagSet("jobs scheduled", flag.ContinueOnError)
		size := fs.Int("n", 10, "page size")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		tasks, err := jobsCLI.ListScheduled(ctx, *size)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			fmt.Printf("%s id=%s next=%s\n", t.Type, t.ID, t.NextProcessAt.Format(time.RFC3339))
		}
		return nil
	default:
		return fmt.Errorf("unknown jobs action %q", args[0])
	}
}
