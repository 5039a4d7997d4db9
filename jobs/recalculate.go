package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/replenish/internal/jobs"
	"github.com/odyssey-erp/replenish/internal/replenishment"
)

// Recalculator runs a replenishment recalculation.
type Recalculator interface {
	Recalculate(ctx context.Context, in replenishment.RunInput) (replenishment.RunResult, error)
}

// RecalculateJob handles TaskRecalculate.
type RecalculateJob struct {
	Service Recalculator
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewRecalculateJob wires the recalculation handler.
func NewRecalculateJob(service Recalculator, logger *slog.Logger, metrics *jobmetrics.Metrics) *RecalculateJob {
	return &RecalculateJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle runs one recalculation. Per-product failures are part of the result
// and do not fail the task; only a run that could not start is retried.
func (j *RecalculateJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("recalculate: handler not configured")
	}
	var payload RecalculatePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.Metrics.Track(TaskRecalculate)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int("requested_products", len(payload.ProductCodes)))
	logger.Info("starting replenishment recalculation")
	start := time.Now()

	result, err := j.Service.Recalculate(ctx, replenishment.RunInput{ProductCodes: payload.ProductCodes})
	if err != nil {
		resultErr = err
		logger.Error("recalculation failed", slog.Any("error", err))
		return resultErr
	}
	for _, e := range result.Errors {
		logger.Warn("product skipped",
			slog.String("product_code", e.ProductCode),
			slog.String("kind", string(e.Kind)),
			slog.String("message", e.Message),
		)
	}
	logger.Info("completed replenishment recalculation",
		slog.Int("products_updated", result.ProductsUpdated),
		slog.Int("alerts", len(result.Alerts)),
		slog.Int("errors", len(result.Errors)),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *RecalculateJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskRecalculate))
	}
	return slog.Default().With(slog.String("job", TaskRecalculate))
}
