package replenishment

import (
	"fmt"
	"math"
	"time"

	"github.com/odyssey-erp/replenish/internal/demand"
	"github.com/odyssey-erp/replenish/internal/shared"
)

const (
	MinHorizonDays        = 7
	MaxHorizonDays        = 30
	DefaultHorizonDays    = 30
	DefaultTargetMultiple = 2.0

	stockoutEpsilon = 1e-9
)

// Confidence grades how much history backs a forecast.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ConfidenceFor maps the share of days with sales to a confidence level.
func ConfidenceFor(salesDayRatio float64) Confidence {
	switch {
	case salesDayRatio >= 0.6:
		return ConfidenceHigh
	case salesDayRatio >= 0.2:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Forecast is one row of inventory_forecasts.
type Forecast struct {
	ProductCode         string     `json:"product_code"`
	ForecastDate        time.Time  `json:"forecast_date"`
	CurrentStock        int64      `json:"current_stock"`
	PredictedDemand     float64    `json:"predicted_demand"`
	DaysUntilStockout   *float64   `json:"days_until_stockout"`
	ReorderAlert        bool       `json:"reorder_alert"`
	SuggestedReorderQty int64      `json:"suggested_reorder_qty"`
	ConfidenceLevel     Confidence `json:"confidence_level"`
	ReorderPoint        int64      `json:"reorder_point"`
	SafetyStock         float64    `json:"safety_stock"`
	ADS                 float64    `json:"ads"`
	MDS                 int64      `json:"mds"`
	HorizonDays         int        `json:"horizon_days"`
	CreatedAt           time.Time  `json:"created_at"`
}

// ForecastParams shapes the projection.
type ForecastParams struct {
	HorizonDays    int
	TargetMultiple float64
}

// ErrInvalidHorizon is returned for a horizon outside the supported range.
var ErrInvalidHorizon = fmt.Errorf("replenishment: horizon must be between %d and %d days: %w", MinHorizonDays, MaxHorizonDays, shared.ErrValidation)

// Validate checks the horizon range and the target multiple.
func (p ForecastParams) Validate() error {
	if p.HorizonDays < MinHorizonDays || p.HorizonDays > MaxHorizonDays {
		return ErrInvalidHorizon
	}
	if p.TargetMultiple <= 0 {
		return fmt.Errorf("replenishment: target multiple must be positive: %w", shared.ErrValidation)
	}
	return nil
}

// BuildForecast projects stock over the horizon using the same statistics
// and reorder point the run persisted. A product without demand gets a nil
// DaysUntilStockout, meaning it never runs out.
func BuildForecast(code string, stock int64, stats demand.Statistics, rop ReorderPoint, params ForecastParams, day time.Time) Forecast {
	f := Forecast{
		ProductCode:     code,
		ForecastDate:    forecastDay(day),
		CurrentStock:    stock,
		PredictedDemand: stats.ADS * float64(params.HorizonDays),
		ReorderAlert:    NeedsReorder(stock, rop, stats.ADS),
		ConfidenceLevel: ConfidenceFor(stats.SalesDayRatio()),
		ReorderPoint:    rop.Value,
		SafetyStock:     rop.SafetyStock,
		ADS:             stats.ADS,
		MDS:             stats.MDS,
		HorizonDays:     params.HorizonDays,
	}
	if stats.ADS > 0 {
		days := float64(stock) / math.Max(stats.ADS, stockoutEpsilon)
		f.DaysUntilStockout = &days
	}
	target := params.TargetMultiple * float64(rop.Value)
	if gap := math.Ceil(target - float64(stock)); gap > 0 {
		f.SuggestedReorderQty = int64(gap)
	}
	return f
}

func forecastDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
