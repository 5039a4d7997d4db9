package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/replenish/internal/shared"
)

// Deliverer handles the delivery tasks inside the worker.
type Deliverer struct {
	events *Webhook
	chat   *Webhook
	logger *slog.Logger
}

// NewDeliverer builds a Deliverer.
func NewDeliverer(events, chat *Webhook, logger *slog.Logger) *Deliverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deliverer{events: events, chat: chat, logger: logger}
}

// HandleEvent posts an Event payload to the events webhook.
func (d *Deliverer) HandleEvent(ctx context.Context, t *asynq.Task) error {
	var ev Event
	if err := json.Unmarshal(t.Payload(), &ev); err != nil {
		return fmt.Errorf("notify: decode event: %v: %w", err, asynq.SkipRetry)
	}
	if !d.events.Enabled() {
		d.logger.Debug("events webhook disabled", slog.String("event_type", string(ev.EventType)))
		return nil
	}
	if err := d.events.Post(ctx, ev); err != nil {
		d.logger.Warn("deliver event", slog.String("event_type", string(ev.EventType)), slog.Any("error", err))
		return err
	}
	return nil
}

type chatMessage struct {
	Text string `json:"text"`
}

// HandleAlert posts an operator alert to the chat webhook.
func (d *Deliverer) HandleAlert(ctx context.Context, t *asynq.Task) error {
	var alert shared.OperatorAlert
	if err := json.Unmarshal(t.Payload(), &alert); err != nil {
		return fmt.Errorf("notify: decode alert: %v: %w", err, asynq.SkipRetry)
	}
	if !d.chat.Enabled() {
		return nil
	}
	text := fmt.Sprintf("[%s] %s", alert.Kind, alert.Message)
	if alert.ProductCode != "" {
		text = fmt.Sprintf("[%s] %s: %s", alert.Kind, alert.ProductCode, alert.Message)
	}
	return d.chat.Post(ctx, chatMessage{Text: text})
}
