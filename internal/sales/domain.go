package sales

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/replenish/internal/shared"
)

// ============================================================================
// STATUSES
// ============================================================================

type FulfillmentStatus string

const (
	FulfillmentUnfulfilled  FulfillmentStatus = "UNFULFILLED"
	FulfillmentWaitingStock FulfillmentStatus = "WAITING_STOCK"
	FulfillmentPicking      FulfillmentStatus = "PICKING"
	FulfillmentPacked       FulfillmentStatus = "PACKED"
	FulfillmentShipped      FulfillmentStatus = "SHIPPED"
	FulfillmentDelivered    FulfillmentStatus = "DELIVERED"
	FulfillmentPartial      FulfillmentStatus = "PARTIAL"
	FulfillmentCancelled    FulfillmentStatus = "CANCELLED"
)

// IsTerminal reports whether the order can no longer move.
func (s FulfillmentStatus) IsTerminal() bool {
	return s == FulfillmentDelivered || s == FulfillmentCancelled
}

// HasShipped reports whether goods already left the warehouse.
func (s FulfillmentStatus) HasShipped() bool {
	return s == FulfillmentShipped || s == FulfillmentDelivered
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentPaid      PaymentStatus = "PAID"
	PaymentPartial   PaymentStatus = "PARTIAL"
	PaymentRefunded  PaymentStatus = "REFUNDED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

// HoldReason explains why a backordered item has no purchase order.
type HoldReason string

const (
	HoldNone         HoldReason = ""
	HoldNoSupplier   HoldReason = "NO_SUPPLIER"
	HoldDiscontinued HoldReason = "DISCONTINUED"
)

var fulfillmentTransitions = map[FulfillmentStatus][]FulfillmentStatus{
	FulfillmentUnfulfilled:  {FulfillmentWaitingStock, FulfillmentPicking, FulfillmentCancelled},
	FulfillmentWaitingStock: {FulfillmentUnfulfilled, FulfillmentCancelled},
	FulfillmentPicking:      {FulfillmentPacked, FulfillmentPartial, FulfillmentCancelled},
	FulfillmentPacked:       {FulfillmentShipped, FulfillmentPartial, FulfillmentCancelled},
	FulfillmentPartial:      {FulfillmentShipped, FulfillmentCancelled},
	FulfillmentShipped:      {FulfillmentDelivered, FulfillmentCancelled},
}

// CanAdvance reports whether from -> to is an allowed fulfillment move.
func CanAdvance(from, to FulfillmentStatus) bool {
	for _, allowed := range fulfillmentTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ============================================================================
// SALES ORDER
// ============================================================================

type CustomerInfo struct {
	Name            string `json:"name" validate:"required,max=200"`
	Email           string `json:"email,omitempty" validate:"omitempty,email"`
	Phone           string `json:"phone,omitempty" validate:"omitempty,max=50"`
	ShippingAddress string `json:"shipping_address,omitempty" validate:"omitempty,max=500"`
}

type SalesOrder struct {
	ID                int64             `json:"id"`
	Number            string            `json:"number"`
	RequestKey        string            `json:"request_key,omitempty"`
	Customer          CustomerInfo      `json:"customer"`
	OrderedAt         time.Time         `json:"ordered_at"`
	PaymentStatus     PaymentStatus     `json:"payment_status"`
	FulfillmentStatus FulfillmentStatus `json:"fulfillment_status"`
	Items             []Item            `json:"items"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Item is one order line. AllocatedQty + BackorderQty always equals Quantity.
type Item struct {
	ID                    int64           `json:"id"`
	OrderID               int64           `json:"order_id"`
	ProductCode           string          `json:"product_code"`
	Quantity              int64           `json:"quantity"`
	UnitPrice             decimal.Decimal `json:"unit_price"`
	AllocatedQty          int64           `json:"allocated_qty"`
	BackorderQty          int64           `json:"backorder_qty"`
	IsBackorder           bool            `json:"is_backorder"`
	LinkedPurchaseOrderID *int64          `json:"linked_purchase_order_id,omitempty"`
	HoldReason            HoldReason      `json:"hold_reason,omitempty"`
	AllocatedAt           *time.Time      `json:"allocated_at,omitempty"`
}

// LineTotal is quantity times unit price.
func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(i.Quantity))
}

// Cover books qty more units as allocated and clears the backorder when the
// shortfall is gone. The purchase order link stays as the record of who
// filled the line.
func (i *Item) Cover(qty int64, at time.Time) {
	if qty > i.BackorderQty {
		qty = i.BackorderQty
	}
	i.AllocatedQty += qty
	i.BackorderQty -= qty
	if i.BackorderQty == 0 {
		i.IsBackorder = false
		i.HoldReason = HoldNone
		i.AllocatedAt = &at
	}
}

// Total sums the line totals.
func (o SalesOrder) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// HasBackorders reports whether any item still waits for stock.
func (o SalesOrder) HasBackorders() bool {
	for _, item := range o.Items {
		if item.IsBackorder {
			return true
		}
	}
	return false
}

// Item returns the item with id.
func (o *SalesOrder) Item(id int64) (*Item, bool) {
	for i := range o.Items {
		if o.Items[i].ID == id {
			return &o.Items[i], true
		}
	}
	return nil, false
}

// ============================================================================
// LIST & FILTER REQUESTS
// ============================================================================

type ListFilter struct {
	Status      FulfillmentStatus
	ProductCode string
	Limit       int
}

// ============================================================================
// ERRORS
// ============================================================================

var (
	ErrNotFound     = fmt.Errorf("sales: order %w", shared.ErrNotFound)
	ErrInvalidState = fmt.Errorf("sales: invalid fulfillment transition: %w", shared.ErrConsistency)
	ErrValidation   = fmt.Errorf("sales: invalid input: %w", shared.ErrValidation)
	// ErrBackorderPending blocks picking while stock is still missing.
	ErrBackorderPending = fmt.Errorf("sales: order has backordered items: %w", shared.ErrConsistency)
)
