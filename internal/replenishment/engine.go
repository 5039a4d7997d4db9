// Package replenishment turns demand statistics into reorder points and
// stock forecasts and runs the periodic recalculation.
package replenishment

import (
	"math"

	"github.com/odyssey-erp/replenish/internal/demand"
)

// ReorderPoint is the threshold at which a product should be reordered.
type ReorderPoint struct {
	DemandDuringLeadTime float64 `json:"demand_during_lead_time"`
	SafetyStock          float64 `json:"safety_stock"`
	Value                int64   `json:"reorder_point"`
}

// ComputeReorderPoint applies the max-min safety stock formula:
//
//	safety = max(0, MDS*LTmax - ADS*LTnormal)
//	rop    = round(ADS*LTnormal + safety)
func ComputeReorderPoint(stats demand.Statistics) ReorderPoint {
	lead := stats.ADS * float64(stats.LeadTime.NormalDays)
	safety := math.Max(0, float64(stats.MDS)*float64(stats.LeadTime.MaxDays)-lead)
	return ReorderPoint{
		DemandDuringLeadTime: lead,
		SafetyStock:          safety,
		Value:                int64(math.Round(lead + safety)),
	}
}

// NeedsReorder reports whether stock sits at or below the reorder point. A
// product nobody buys never needs a reorder, even at zero stock.
func NeedsReorder(stock int64, rop ReorderPoint, ads float64) bool {
	if ads <= 0 {
		return false
	}
	return stock <= rop.Value
}
