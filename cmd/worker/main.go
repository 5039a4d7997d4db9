package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/replenish/internal/app"
	"github.com/odyssey-erp/replenish/internal/notify"
	"github.com/odyssey-erp/replenish/internal/observability"
	"github.com/odyssey-erp/replenish/internal/platform/cache"
	"github.com/odyssey-erp/replenish/internal/platform/db"
	"github.com/odyssey-erp/replenish/jobs"
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

	logger := app.NewLogger(cfg).With(slog.String("component", "worker"))

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	go func() {
		srv := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server", slog.Any("error", err))
		}
	}()

	services, err := app.BuildServices(cfg, pool, redisClient, jobClient.Enqueuer(), metrics.Jobs(), logger)
	if err != nil {
		logger.Error("init services", slog.Any("error", err))
		os.Exit(1)
	}

	recalculate := jobs.NewRecalculateJob(services.Replenishment, logger, metrics.Jobs())
	cleanup := jobs.NewIdempotencyCleanupJob(services.Idempotency, logger, metrics.Jobs())
	deliverer := notify.NewDeliverer(notify.NewWebhook(cfg.EventsWebhookURL), notify.NewWebhook(cfg.ChatWebhookURL), logger)

	recalculateTask, err := jobs.NewRecalculateTask(jobs.RecalculatePayload{})
	if err != nil {
		logger.Error("build recalculate task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyMaxAge)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskRecalculate, Handler: recalculate.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanup.Handle},
			{Type: notify.TaskDeliverEvent, Handler: deliverer.HandleEvent},
			{Type: notify.TaskDeliverAlert, Handler: deliverer.HandleAlert},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.RecalculateCron, Task: recalculateTask},
			{Spec: "30 3 * * *", Task: cleanupTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
