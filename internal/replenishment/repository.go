package replenishment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/replenish/internal/shared"
)

// ErrForecastNotFound indicates no forecast row exists for the product.
var ErrForecastNotFound = fmt.Errorf("replenishment: forecast %w", shared.ErrNotFound)

// Repository persists inventory forecasts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const forecastColumns = `product_code, forecast_date, current_stock, predicted_demand, days_until_stockout, reorder_alert,
suggested_reorder_qty, confidence_level, reorder_point, safety_stock, ads, mds, horizon_days, created_at`

// UpsertForecast writes the row for (product, date), replacing an earlier run
// of the same day.
func (r *Repository) UpsertForecast(ctx context.Context, f Forecast) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO inventory_forecasts (`+forecastColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
ON CONFLICT (product_code, forecast_date) DO UPDATE SET
	current_stock = EXCLUDED.current_stock,
	predicted_demand = EXCLUDED.predicted_demand,
	days_until_stockout = EXCLUDED.days_until_stockout,
	reorder_alert = EXCLUDED.reorder_alert,
	suggested_reorder_qty = EXCLUDED.suggested_reorder_qty,
	confidence_level = EXCLUDED.confidence_level,
	reorder_point = EXCLUDED.reorder_point,
	safety_stock = EXCLUDED.safety_stock,
	ads = EXCLUDED.ads,
	mds = EXCLUDED.mds,
	horizon_days = EXCLUDED.horizon_days,
	updated_at = NOW()`,
		f.ProductCode, f.ForecastDate, f.CurrentStock, f.PredictedDemand, f.DaysUntilStockout, f.ReorderAlert,
		f.SuggestedReorderQty, string(f.ConfidenceLevel), f.ReorderPoint, f.SafetyStock, f.ADS, f.MDS, f.HorizonDays)
	return err
}

// History returns forecasts of a product dated on or after from, newest first.
func (r *Repository) History(ctx context.Context, code string, from time.Time) ([]Forecast, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+forecastColumns+` FROM inventory_forecasts
WHERE product_code = $1 AND forecast_date >= $2 ORDER BY forecast_date DESC`, code, forecastDay(from))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Forecast, error) {
		return scanForecast(row)
	})
}

// SuggestedQty returns the suggested reorder quantity of the latest forecast.
func (r *Repository) SuggestedQty(ctx context.Context, code string) (int64, error) {
	var qty int64
	err := r.pool.QueryRow(ctx, `SELECT suggested_reorder_qty FROM inventory_forecasts
WHERE product_code = $1 ORDER BY forecast_date DESC LIMIT 1`, code).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrForecastNotFound
	}
	return qty, err
}

func scanForecast(row pgx.Row) (Forecast, error) {
	var f Forecast
	var confidence string
	err := row.Scan(&f.ProductCode, &f.ForecastDate, &f.CurrentStock, &f.PredictedDemand, &f.DaysUntilStockout, &f.ReorderAlert,
		&f.SuggestedReorderQty, &confidence, &f.ReorderPoint, &f.SafetyStock, &f.ADS, &f.MDS, &f.HorizonDays, &f.CreatedAt)
	f.ConfidenceLevel = Confidence(confidence)
	return f, err
}
