package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueNotify carries outbound webhook deliveries.
	QueueNotify = "notify"

	// TaskRecalculate recomputes reorder points and forecasts.
	TaskRecalculate = "replenishment:recalculate"
	// TaskIdempotencyCleanup prunes old idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// RecalculatePayload narrows a scheduled run to some products.
type RecalculatePayload struct {
	ProductCodes []string  `json:"product_codes,omitempty"`
	RequestedAt  time.Time `json:"requested_at"`
}

// NewRecalculateTask constructs the recalculation task.
func NewRecalculateTask(payload RecalculatePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRecalculate, body,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Minute),
	), nil
}

// IdempotencyCleanupPayload sets how long keys are kept.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: int(retention.Hours())})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}
