package inventory

import "time"

// MovementReason explains why stock moved.
type MovementReason string

const (
	// MovementSaleAllocation reserves on-hand stock for a sales order line.
	MovementSaleAllocation MovementReason = "SALE_ALLOCATION"
	// MovementSaleRelease returns allocated stock when an order is cancelled.
	MovementSaleRelease MovementReason = "SALE_RELEASE"
	// MovementPOReceipt books goods received against a purchase order.
	MovementPOReceipt MovementReason = "PO_RECEIPT"
	// MovementAdjustment indicates manual adjustments.
	MovementAdjustment MovementReason = "ADJUSTMENT"
)

// Movement is a signed stock change applied inside a transaction.
type Movement struct {
	ProductCode string
	Delta       int64
	Reason      MovementReason
	RefModule   string
	RefID       int64
	Note        string
}

// MovementEntry describes a stock ledger row for reports.
type MovementEntry struct {
	ID          int64          `json:"id"`
	ProductCode string         `json:"product_code"`
	Delta       int64          `json:"delta"`
	Balance     int64          `json:"balance"`
	Reason      MovementReason `json:"reason"`
	RefModule   string         `json:"ref_module,omitempty"`
	RefID       int64          `json:"ref_id,omitempty"`
	Note        string         `json:"note,omitempty"`
	PostedAt    time.Time      `json:"posted_at"`
}
