package demand

import "fmt"

// ResolveLeadTime validates supplier lead times. A max below normal is coerced
// up to normal and reported as a warning.
func ResolveLeadTime(normalDays, maxDays *int) (LeadTime, []Warning, error) {
	if normalDays == nil || maxDays == nil || *normalDays < 0 || *maxDays < 0 {
		return LeadTime{}, nil, ErrMissingLeadTime
	}
	lt := LeadTime{NormalDays: *normalDays, MaxDays: *maxDays}
	var warnings []Warning
	if lt.MaxDays < lt.NormalDays {
		warnings = append(warnings, Warning{
			Code:    WarningLeadTimeCoerced,
			Message: fmt.Sprintf("max lead time %d below normal %d, using %d", lt.MaxDays, lt.NormalDays, lt.NormalDays),
		})
		lt.MaxDays = lt.NormalDays
	}
	return lt, warnings, nil
}

// Calculate derives ADS and MDS from a daily series. ADS divides by the full
// window length, so days without sales pull the average down.
func Calculate(series []int64, lt LeadTime) (Statistics, []Warning) {
	stats := Statistics{WindowDays: len(series), LeadTime: lt}
	for _, qty := range series {
		stats.TotalSold += qty
		if qty > 0 {
			stats.SalesDays++
		}
		if qty > stats.MDS {
			stats.MDS = qty
		}
	}
	if stats.WindowDays > 0 {
		stats.ADS = float64(stats.TotalSold) / float64(stats.WindowDays)
	}
	var warnings []Warning
	if float64(stats.MDS) < stats.ADS {
		warnings = append(warnings, Warning{
			Code:    WarningMDSBelowADS,
			Message: fmt.Sprintf("max daily sales %d below average %.2f", stats.MDS, stats.ADS),
		})
	}
	return stats, warnings
}
