package demand

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/replenish/internal/shared"
)

func intPtr(v int) *int { return &v }

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestBuildDailySeriesFillsGaps(t *testing.T) {
	from := day("2024-03-01")
	rows := []DailySale{
		{Day: day("2024-03-01"), Quantity: 3},
		{Day: day("2024-03-03").Add(15 * time.Hour), Quantity: 2},
		{Day: day("2024-03-03"), Quantity: 1},
		{Day: day("2024-02-28"), Quantity: 50},
		{Day: day("2024-03-05"), Quantity: 50},
	}
	series := BuildDailySeries(rows, from, 4)
	assert.Equal(t, []int64{3, 0, 3, 0}, series)
}

func TestCalculateAveragesOverWholeWindow(t *testing.T) {
	stats, warnings := Calculate([]int64{10, 0, 0, 2, 8}, LeadTime{NormalDays: 10, MaxDays: 12})
	assert.Empty(t, warnings)
	assert.Equal(t, int64(20), stats.TotalSold)
	assert.InDelta(t, 4.0, stats.ADS, 1e-9)
	assert.Equal(t, int64(10), stats.MDS)
	assert.Equal(t, 3, stats.SalesDays)
	assert.InDelta(t, 0.6, stats.SalesDayRatio(), 1e-9)
}

func TestCalculateZeroSales(t *testing.T) {
	stats, warnings := Calculate(make([]int64, 90), LeadTime{NormalDays: 5, MaxDays: 7})
	assert.Empty(t, warnings)
	assert.Zero(t, stats.ADS)
	assert.Zero(t, stats.MDS)
	assert.Zero(t, stats.SalesDays)
}

func TestResolveLeadTimeCoercesMax(t *testing.T) {
	lt, warnings, err := ResolveLeadTime(intPtr(10), intPtr(7))
	require.NoError(t, err)
	assert.Equal(t, LeadTime{NormalDays: 10, MaxDays: 10}, lt)
	require.Len(t, warnings, 1)
	assert.Equal(t, WarningLeadTimeCoerced, warnings[0].Code)
}

func TestResolveLeadTimeMissing(t *testing.T) {
	_, _, err := ResolveLeadTime(nil, intPtr(7))
	require.ErrorIs(t, err, ErrMissingLeadTime)
	assert.Equal(t, shared.KindDataQuality, shared.KindOf(err))
}

type stubHistory struct {
	rows     []DailySale
	from, to time.Time
	calls    int
}

func (s *stubHistory) DailySales(ctx context.Context, productCode string, from, to time.Time) ([]DailySale, error) {
	s.calls++
	s.from, s.to = from, to
	return s.rows, nil
}

func TestServiceStatisticsWindow(t *testing.T) {
	asOf := day("2024-06-30").Add(18 * time.Hour)
	history := &stubHistory{rows: []DailySale{
		{Day: day("2024-06-30"), Quantity: 30},
		{Day: day("2024-06-01"), Quantity: 6},
	}}
	svc := NewService(history)

	stats, warnings, err := svc.Statistics(context.Background(), Input{
		ProductCode:        "SKU-1",
		AsOf:               asOf,
		WindowDays:         30,
		LeadTimeNormalDays: intPtr(3),
		LeadTimeMaxDays:    intPtr(5),
	})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, day("2024-06-01"), history.from)
	assert.Equal(t, day("2024-07-01"), history.to)
	assert.Equal(t, "SKU-1", stats.ProductCode)
	assert.InDelta(t, 1.2, stats.ADS, 1e-9)
	assert.Equal(t, int64(30), stats.MDS)
	assert.Equal(t, 2, stats.SalesDays)
}

func TestServiceSkipsHistoryWithoutLeadTime(t *testing.T) {
	history := &stubHistory{}
	svc := NewService(history)
	_, _, err := svc.Statistics(context.Background(), Input{ProductCode: "SKU-9", AsOf: time.Now()})
	require.ErrorIs(t, err, ErrMissingLeadTime)
	assert.Zero(t, history.calls)
}
