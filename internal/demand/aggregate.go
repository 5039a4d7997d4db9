package demand

import "time"

// WindowStart returns the first day of a window of days ending on asOf (inclusive).
func WindowStart(asOf time.Time, days int) time.Time {
	return truncateDay(asOf).AddDate(0, 0, -(days - 1))
}

// BuildDailySeries buckets sales into one slot per UTC calendar day starting at
// from. Days without sales stay 0 and rows outside the window are ignored.
func BuildDailySeries(rows []DailySale, from time.Time, days int) []int64 {
	if days <= 0 {
		return nil
	}
	series := make([]int64, days)
	start := truncateDay(from)
	for _, row := range rows {
		if row.Quantity <= 0 {
			continue
		}
		idx := int(truncateDay(row.Day).Sub(start).Hours() / 24)
		if idx < 0 || idx >= days {
			continue
		}
		series[idx] += row.Quantity
	}
	return series
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
