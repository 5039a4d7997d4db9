package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/replenish/internal/shared"
)

// AlertStore persists operator alerts.
type AlertStore interface {
	Record(ctx context.Context, alert shared.OperatorAlert) error
}

// OperatorChannel records alerts and pushes them to the chat webhook.
type OperatorChannel struct {
	store    AlertStore
	enqueuer Enqueuer
	queue    string
	logger   *slog.Logger
}

// NewOperatorChannel builds an OperatorChannel. enqueuer may be nil.
func NewOperatorChannel(store AlertStore, enqueuer Enqueuer, queue string, logger *slog.Logger) *OperatorChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &OperatorChannel{store: store, enqueuer: enqueuer, queue: queue, logger: logger}
}

// Alert stores alert and schedules its chat delivery.
func (c *OperatorChannel) Alert(ctx context.Context, alert shared.OperatorAlert) error {
	c.logger.Warn("operator alert",
		slog.String("kind", string(alert.Kind)),
		slog.String("product_code", alert.ProductCode),
		slog.Int64("order_id", alert.OrderID),
		slog.String("message", alert.Message),
	)
	if c.store != nil {
		if err := c.store.Record(ctx, alert); err != nil {
			return fmt.Errorf("notify: record alert: %w", err)
		}
	}
	if c.enqueuer == nil {
		return nil
	}
	body, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	if _, err := c.enqueuer.EnqueueContext(ctx, asynq.NewTask(TaskDeliverAlert, body), asynq.Queue(c.queue), asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("notify: enqueue alert: %w", err)
	}
	return nil
}
