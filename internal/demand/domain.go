// Package demand reduces sales history to daily demand statistics.
package demand

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/replenish/internal/shared"
)

// DefaultWindowDays is the lookback used when none is configured.
const DefaultWindowDays = 90

// DailySale is the quantity of one product sold on one calendar day.
type DailySale struct {
	Day      time.Time
	Quantity int64
}

// LeadTime is the validated supplier lead time.
type LeadTime struct {
	NormalDays int `json:"normal_days"`
	MaxDays    int `json:"max_days"`
}

// Statistics summarises demand over a lookback window.
type Statistics struct {
	ProductCode string   `json:"product_code"`
	WindowDays  int      `json:"window_days"`
	TotalSold   int64    `json:"total_sold"`
	SalesDays   int      `json:"sales_days"`
	ADS         float64  `json:"ads"`
	MDS         int64    `json:"mds"`
	LeadTime    LeadTime `json:"lead_time"`
}

// SalesDayRatio is the share of days in the window with any demand.
func (s Statistics) SalesDayRatio() float64 {
	if s.WindowDays <= 0 {
		return 0
	}
	return float64(s.SalesDays) / float64(s.WindowDays)
}

// WarningCode identifies a non-fatal data problem.
type WarningCode string

const (
	WarningLeadTimeCoerced WarningCode = "lead_time_max_below_normal"
	WarningMDSBelowADS     WarningCode = "mds_below_ads"
)

// Warning is a non-fatal data-quality finding raised while computing statistics.
type Warning struct {
	Code    WarningCode `json:"code"`
	Message string      `json:"message"`
}

var (
	// ErrMissingLeadTime is returned for products whose supplier has no lead time configured.
	ErrMissingLeadTime = fmt.Errorf("demand: supplier lead time missing: %w", shared.ErrDataQuality)
	// ErrInvalidWindow indicates a non-positive lookback window.
	ErrInvalidWindow = fmt.Errorf("demand: window must be positive: %w", shared.ErrValidation)
)
