package demand

import (
	"context"
	"fmt"
	"time"
)

// HistoryPort abstracts the sales history source.
type HistoryPort interface {
	DailySales(ctx context.Context, productCode string, from, to time.Time) ([]DailySale, error)
}

// Input selects one product and window.
type Input struct {
	ProductCode        string
	AsOf               time.Time
	WindowDays         int
	LeadTimeNormalDays *int
	LeadTimeMaxDays    *int
}

// Service computes demand statistics from stored sales.
type Service struct {
	history HistoryPort
}

// NewService builds Service.
func NewService(history HistoryPort) *Service {
	return &Service{history: history}
}

// Statistics aggregates the window ending on input.AsOf and derives ADS, MDS
// and the validated lead time. Lead time is checked first so products without
// supplier data never hit the database.
func (s *Service) Statistics(ctx context.Context, input Input) (Statistics, []Warning, error) {
	if input.WindowDays == 0 {
		input.WindowDays = DefaultWindowDays
	}
	if input.WindowDays < 0 {
		return Statistics{}, nil, ErrInvalidWindow
	}
	lt, warnings, err := ResolveLeadTime(input.LeadTimeNormalDays, input.LeadTimeMaxDays)
	if err != nil {
		return Statistics{}, nil, fmt.Errorf("%s: %w", input.ProductCode, err)
	}
	from := WindowStart(input.AsOf, input.WindowDays)
	to := from.AddDate(0, 0, input.WindowDays)
	rows, err := s.history.DailySales(ctx, input.ProductCode, from, to)
	if err != nil {
		return Statistics{}, nil, fmt.Errorf("demand: load history %s: %w", input.ProductCode, err)
	}
	stats, more := Calculate(BuildDailySeries(rows, from, input.WindowDays), lt)
	stats.ProductCode = input.ProductCode
	return stats, append(warnings, more...), nil
}
