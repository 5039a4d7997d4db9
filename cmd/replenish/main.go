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
	"github.com/odyssey-erp/replenish/internal/crossdock"
	"github.com/odyssey-erp/replenish/internal/inventory"
	"github.com/odyssey-erp/replenish/internal/observability"
	"github.com/odyssey-erp/replenish/internal/platform/cache"
	"github.com/odyssey-erp/replenish/internal/platform/db"
	"github.com/odyssey-erp/replenish/internal/procurement"
	"github.com/odyssey-erp/replenish/internal/replenishment"
	"github.com/odyssey-erp/replenish/internal/sales"
	"github.com/odyssey-erp/replenish/jobs"
)

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

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	services, err := app.BuildServices(cfg, dbpool, redisClient, jobClient.Enqueuer(), metrics.Jobs(), logger)
	if err != nil {
		logger.Error("init services", slog.Any("error", err))
		os.Exit(1)
	}

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:               logger,
		Config:               cfg,
		InventoryHandler:     inventory.NewHandler(logger, services.Inventory),
		ProcurementHandler:   procurement.NewHandler(logger, services.Procurement),
		SalesHandler:         sales.NewHandler(logger, services.Sales),
		CrossdockHandler:     crossdock.NewHandler(logger, services.Coordinator),
		ReplenishmentHandler: replenishment.NewHandler(logger, services.Replenishment, jobClient, services.AlertQueue),
		JobHandler:           jobs.NewHandler(inspector, logger),
		Metrics:              metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
