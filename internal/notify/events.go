// Package notify publishes replenishment events and operator alerts to the
// outside world through asynq tasks delivered by the worker.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// EventType names an outbound notification.
type EventType string

const (
	EventROPTrigger  EventType = "rop_trigger"
	EventPOGenerated EventType = "po_generated"
)

const (
	// TaskDeliverEvent posts an Event to the events webhook.
	TaskDeliverEvent = "notify:deliver"
	// TaskDeliverAlert posts an operator alert to the chat webhook.
	TaskDeliverAlert = "notify:alert"
)

// Event is the payload sent to the events webhook.
type Event struct {
	EventType       EventType `json:"event_type"`
	ProductCode     string    `json:"product_code"`
	Quantity        int64     `json:"quantity"`
	Priority        string    `json:"priority,omitempty"`
	PurchaseOrderID int64     `json:"purchase_order_id,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// Publisher emits events after the state they describe has been committed.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// NewDeliverTask constructs the asynq task for ev.
func NewDeliverTask(ev Event) (*asynq.Task, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDeliverEvent, body, asynq.MaxRetry(10)), nil
}

// QueuePublisher enqueues one delivery task per event.
type QueuePublisher struct {
	enqueuer Enqueuer
	queue    string
	logger   *slog.Logger
}

// NewQueuePublisher builds a QueuePublisher.
func NewQueuePublisher(enqueuer Enqueuer, queue string, logger *slog.Logger) *QueuePublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueuePublisher{enqueuer: enqueuer, queue: queue, logger: logger}
}

// Publish enqueues events. Every event is attempted and the first error returned.
func (p *QueuePublisher) Publish(ctx context.Context, events ...Event) error {
	var firstErr error
	for _, ev := range events {
		if ev.OccurredAt.IsZero() {
			ev.OccurredAt = time.Now().UTC()
		}
		task, err := NewDeliverTask(ev)
		if err == nil {
			_, err = p.enqueuer.EnqueueContext(ctx, task, asynq.Queue(p.queue))
		}
		if err != nil {
			p.logger.Error("enqueue notification", slog.String("event_type", string(ev.EventType)), slog.String("product_code", ev.ProductCode), slog.Any("error", err))
			if firstErr == nil {
				firstErr = fmt.Errorf("notify: enqueue %s: %w", ev.EventType, err)
			}
		}
	}
	return firstErr
}

// LogPublisher only logs events. Used when no queue is configured.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(ctx context.Context, events ...Event) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, ev := range events {
		logger.Info("notification",
			slog.String("event_type", string(ev.EventType)),
			slog.String("product_code", ev.ProductCode),
			slog.Int64("quantity", ev.Quantity),
			slog.String("priority", ev.Priority),
		)
	}
	return nil
}
