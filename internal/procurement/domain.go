package procurement

import (
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/replenish/internal/shared"
)

// Purchase order lifecycle statuses.
type POStatus string

const (
	POStatusDraft          POStatus = "DRAFT"
	POStatusSent           POStatus = "SENT"
	POStatusPartialReceipt POStatus = "PARTIAL_RECEIPT"
	POStatusClosed         POStatus = "CLOSED"
	POStatusCancelled      POStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is possible.
func (s POStatus) IsTerminal() bool {
	return s == POStatusClosed || s == POStatusCancelled
}

// IsOpen reports whether new demand may still be attached to the order.
func (s POStatus) IsOpen() bool {
	return s == POStatusDraft || s == POStatusSent
}

// OrderType tells who raised the purchase order.
type OrderType string

const (
	OrderTypeManual    OrderType = "MANUAL"
	OrderTypeAutomatic OrderType = "AUTOMATIC"
)

// Purpose records why an automatic order exists.
type Purpose string

const (
	PurposeStandard             Purpose = "STANDARD"
	PurposeBackorderFulfillment Purpose = "BACKORDER_FULFILLMENT"
	PurposeReorderPoint         Purpose = "REORDER_POINT"
)

// Priority of a purchase order.
type Priority string

const (
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// PurchaseOrder domain model.
type PurchaseOrder struct {
	ID                 int64     `json:"id"`
	Number             string    `json:"number"`
	SupplierID         int64     `json:"supplier_id"`
	OrderType          OrderType `json:"order_type"`
	Purpose            Purpose   `json:"purpose"`
	Status             POStatus  `json:"status"`
	Priority           Priority  `json:"priority"`
	LinkedSalesOrderID *int64    `json:"linked_sales_order_id,omitempty"`
	CloseReason        string    `json:"close_reason,omitempty"`
	Note               string    `json:"note,omitempty"`
	Lines              []POLine  `json:"lines"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// POLine represents PO lines. ReceivedQty is cumulative. ReservedQty is the
// part of OrderedQty promised to backordered sales lines and SyncedReceivedQty
// is the ReceivedQty last handed to those lines.
type POLine struct {
	ID                int64  `json:"id"`
	POID              int64  `json:"po_id"`
	ProductCode       string `json:"product_code"`
	OrderedQty        int64  `json:"ordered_qty"`
	ReceivedQty       int64  `json:"received_qty"`
	ReservedQty       int64  `json:"reserved_qty"`
	SyncedReceivedQty int64  `json:"synced_received_qty"`
}

// Spare is the ordered quantity not yet promised to any backorder.
func (l POLine) Spare() int64 {
	if spare := l.OrderedQty - l.ReservedQty; spare > 0 {
		return spare
	}
	return 0
}

// Line returns the line for productCode.
func (po *PurchaseOrder) Line(productCode string) (*POLine, bool) {
	for i := range po.Lines {
		if po.Lines[i].ProductCode == productCode {
			return &po.Lines[i], true
		}
	}
	return nil, false
}

// Totals sums ordered and received quantity across lines.
func (po PurchaseOrder) Totals() (ordered, received int64) {
	for _, l := range po.Lines {
		ordered += l.OrderedQty
		received += l.ReceivedQty
	}
	return ordered, received
}

// FullyReceived reports whether every line received its ordered quantity.
func (po PurchaseOrder) FullyReceived() bool {
	for _, l := range po.Lines {
		if l.ReceivedQty < l.OrderedQty {
			return false
		}
	}
	return len(po.Lines) > 0
}

// ListFilter narrows purchase order listings.
type ListFilter struct {
	Status      POStatus
	ProductCode string
	Limit       int
}

var transitions = map[POStatus][]POStatus{
	POStatusDraft:          {POStatusSent, POStatusCancelled},
	POStatusSent:           {POStatusPartialReceipt, POStatusClosed, POStatusCancelled},
	POStatusPartialReceipt: {POStatusPartialReceipt, POStatusClosed},
}

// CanTransition reports whether from -> to is part of the lifecycle.
func CanTransition(from, to POStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

var (
	// ErrInvalidState occurs when action violates status workflow.
	ErrInvalidState = fmt.Errorf("procurement: invalid state transition: %w", shared.ErrConsistency)
	// ErrNotFound indicates record missing.
	ErrNotFound = fmt.Errorf("procurement: %w", shared.ErrNotFound)
	// ErrValidation indicates invalid input.
	ErrValidation = fmt.Errorf("procurement: invalid input: %w", shared.ErrValidation)
	// ErrReceiptRegression indicates a cumulative receipt lower than what was already booked.
	ErrReceiptRegression = fmt.Errorf("procurement: received quantity cannot decrease: %w", shared.ErrConsistency)
	// ErrOverReceipt indicates more goods received than ordered.
	ErrOverReceipt = fmt.Errorf("procurement: received quantity exceeds ordered: %w", shared.ErrConsistency)
)

// ClosingGuardError explains why a purchase order could not be closed.
type ClosingGuardError struct {
	Received int64
	Ordered  int64
}

func (e *ClosingGuardError) Error() string {
	return fmt.Sprintf("cannot close: %d of %d units received", e.Received, e.Ordered)
}

// Unwrap classifies the guard as a consistency violation.
func (e *ClosingGuardError) Unwrap() error {
	return shared.ErrConsistency
}

// TransitionError names the rejected edge.
type TransitionError struct {
	From POStatus
	To   POStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("procurement: cannot move purchase order from %s to %s", e.From, e.To)
}

// Unwrap matches ErrInvalidState.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidState
}

// IsGuardFailure reports whether err was raised by a lifecycle guard.
func IsGuardFailure(err error) bool {
	var ce *ClosingGuardError
	var te *TransitionError
	return errors.As(err, &ce) || errors.As(err, &te)
}
