package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/replenish/internal/crossdock"
	"github.com/odyssey-erp/replenish/internal/demand"
	"github.com/odyssey-erp/replenish/internal/inventory"
	jobmetrics "github.com/odyssey-erp/replenish/internal/jobs"
	"github.com/odyssey-erp/replenish/internal/notify"
	"github.com/odyssey-erp/replenish/internal/platform/cache"
	"github.com/odyssey-erp/replenish/internal/procurement"
	"github.com/odyssey-erp/replenish/internal/replenishment"
	"github.com/odyssey-erp/replenish/internal/sales"
	"github.com/odyssey-erp/replenish/internal/shared"
	"github.com/odyssey-erp/replenish/jobs"
)

// Services holds the domain services shared by the server and the worker.
type Services struct {
	Idempotency   *shared.IdempotencyStore
	AlertQueue    *shared.AlertQueue
	Inventory     *inventory.Service
	Procurement   *procurement.Service
	Sales         *sales.Service
	Coordinator   *crossdock.Coordinator
	Replenishment *replenishment.Service
}

// BuildServices wires repositories, notification channels and services.
// enqueuer carries webhook deliveries; metrics may be nil.
func BuildServices(cfg *Config, pool *pgxpool.Pool, redisClient *redis.Client, enqueuer notify.Enqueuer, metrics *jobmetrics.Metrics, logger *slog.Logger) (*Services, error) {
	idempotency := shared.NewIdempotencyStore(pool)
	alertQueue := shared.NewAlertQueue(pool)
	publisher := notify.NewQueuePublisher(enqueuer, jobs.QueueNotify, logger)
	operator := notify.NewOperatorChannel(alertQueue, enqueuer, jobs.QueueNotify, logger)

	inventoryRepo := inventory.NewRepository(pool)
	procurementService := procurement.NewService(procurement.NewRepository(pool), logger)
	forecasts := replenishment.NewRepository(pool)

	coordinator := crossdock.NewCoordinator(crossdock.NewUnitOfWork(pool), crossdock.Options{
		Idempotency: idempotency,
		Publisher:   publisher,
		Alerts:      operator,
		Suggestions: forecasts,
		Logger:      logger,
	})

	var observer replenishment.RunObserver
	if metrics != nil {
		observer = metrics
	}
	service, err := replenishment.NewService(replenishment.Deps{
		Products:   inventoryRepo,
		Statistics: demand.NewService(demand.NewRepository(pool)),
		Forecasts:  forecasts,
		Cache:      replenishment.NewForecastCache(redisClient, cfg.ForecastCacheTTL),
		Locker:     cache.NewLocker(redisClient),
		Purchases:  procurementService,
		Publisher:  publisher,
		Alerts:     operator,
		Observer:   observer,
		Logger:     logger,
	}, cfg.Replenishment())
	if err != nil {
		return nil, err
	}

	return &Services{
		Idempotency:   idempotency,
		AlertQueue:    alertQueue,
		Inventory:     inventory.NewService(inventoryRepo, idempotency, logger),
		Procurement:   procurementService,
		Sales:         sales.NewService(sales.NewRepository(pool)),
		Coordinator:   coordinator,
		Replenishment: service,
	}, nil
}
