package procurement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/replenish/internal/inventory"
	"github.com/odyssey-erp/replenish/internal/shared"
)

// StockPort books received goods.
type StockPort interface {
	ApplyMovement(ctx context.Context, m inventory.Movement) (int64, error)
}

// LineInput describes one line of a new purchase order.
type LineInput struct {
	ProductCode string `json:"product_code" validate:"required,max=64"`
	Quantity    int64  `json:"quantity" validate:"gt=0"`
	Reserved    int64  `json:"-"`
}

// NewOrder describes a purchase order to create.
type NewOrder struct {
	Number             string
	SupplierID         int64
	OrderType          OrderType
	Purpose            Purpose
	Priority           Priority
	LinkedSalesOrderID *int64
	Note               string
	Lines              []LineInput
	Automated          bool
}

// CreateOrder inserts a DRAFT purchase order with its lines inside tx.
func CreateOrder(ctx context.Context, tx TxRepository, in NewOrder, now time.Time) (PurchaseOrder, error) {
	if in.SupplierID == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: supplier required", ErrValidation)
	}
	if len(in.Lines) == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: minimal 1 line", ErrValidation)
	}
	if in.Number == "" {
		in.Number = generateNumber("PO", now)
	}
	if in.OrderType == "" {
		in.OrderType = OrderTypeManual
	}
	if in.Purpose == "" {
		in.Purpose = PurposeStandard
	}
	if in.Priority == "" {
		in.Priority = PriorityNormal
	}
	po := PurchaseOrder{
		Number:             in.Number,
		SupplierID:         in.SupplierID,
		OrderType:          in.OrderType,
		Purpose:            in.Purpose,
		Status:             POStatusDraft,
		Priority:           in.Priority,
		LinkedSalesOrderID: in.LinkedSalesOrderID,
		Note:               in.Note,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	id, err := tx.CreatePO(ctx, po)
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.ID = id
	seen := map[string]bool{}
	for _, l := range in.Lines {
		if l.ProductCode == "" || l.Quantity <= 0 || l.Reserved < 0 || l.Reserved > l.Quantity {
			return PurchaseOrder{}, fmt.Errorf("%w: line %q", ErrValidation, l.ProductCode)
		}
		if seen[l.ProductCode] {
			return PurchaseOrder{}, fmt.Errorf("%w: duplicate line %q", ErrValidation, l.ProductCode)
		}
		seen[l.ProductCode] = true
		line := POLine{POID: id, ProductCode: l.ProductCode, OrderedQty: l.Quantity, ReservedQty: l.Reserved}
		lineID, err := tx.InsertPOLine(ctx, line)
		if err != nil {
			return PurchaseOrder{}, err
		}
		line.ID = lineID
		po.Lines = append(po.Lines, line)
	}
	note := "created"
	if in.Note != "" {
		note = in.Note
	}
	if err := tx.AppendStateLog(ctx, shared.StateLogEntry{
		OrderKind: shared.OrderKindPurchase,
		OrderID:   id,
		ToState:   string(POStatusDraft),
		ChangedAt: now,
		Automated: in.Automated,
		Note:      note,
	}); err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

// Receipt carries the cumulative quantity received for one product.
type Receipt struct {
	ProductCode string `json:"product_code" validate:"required"`
	ReceivedQty int64  `json:"received_qty" validate:"gte=0"`
}

// TransitionCommand requests a lifecycle move. ReceivedQuantity is shorthand
// for a single-line order; Receipts addresses lines by product.
type TransitionCommand struct {
	POID             int64
	To               POStatus
	ReceivedQuantity *int64
	Receipts         []Receipt
	OverrideReason   string
	Automated        bool
	Note             string
}

// TransitionOutcome reports what ApplyTransition did.
type TransitionOutcome struct {
	PO       PurchaseOrder
	From     POStatus
	Changed  bool
	Received int64
}

// ApplyTransition moves a purchase order through its lifecycle inside tx.
// Receipts are cumulative, so stock grows only by the difference to what was
// already booked and a redelivered event changes nothing.
func ApplyTransition(ctx context.Context, tx TxRepository, stock StockPort, cmd TransitionCommand, now time.Time) (TransitionOutcome, error) {
	po, err := tx.GetPOForUpdate(ctx, cmd.POID)
	if err != nil {
		return TransitionOutcome{}, err
	}
	out := TransitionOutcome{PO: po, From: po.Status}

	receipts, err := normalizeReceipts(po, cmd)
	if err != nil {
		return out, err
	}
	if len(receipts) > 0 && cmd.To != POStatusPartialReceipt && cmd.To != POStatusClosed {
		return out, fmt.Errorf("%w: receipts only apply to %s or %s", ErrValidation, POStatusPartialReceipt, POStatusClosed)
	}

	deltas := make(map[string]int64, len(receipts))
	var total int64
	for _, r := range receipts {
		line, _ := po.Line(r.ProductCode)
		switch {
		case r.ReceivedQty < line.ReceivedQty:
			return out, fmt.Errorf("%w: %s at %d, got %d", ErrReceiptRegression, r.ProductCode, line.ReceivedQty, r.ReceivedQty)
		case r.ReceivedQty > line.OrderedQty:
			return out, fmt.Errorf("%w: %s ordered %d, got %d", ErrOverReceipt, r.ProductCode, line.OrderedQty, r.ReceivedQty)
		}
		if d := r.ReceivedQty - line.ReceivedQty; d > 0 {
			deltas[r.ProductCode] = d
			total += d
		}
	}

	if po.Status == cmd.To && total == 0 && (po.Status.IsTerminal() || po.Status == POStatusPartialReceipt) {
		return out, nil
	}
	// A partial receipt that completed the order closed it; the same receipt
	// delivered again must not fail.
	if po.Status == POStatusClosed && cmd.To == POStatusPartialReceipt && total == 0 && len(receipts) > 0 {
		return out, nil
	}
	if !CanTransition(po.Status, cmd.To) {
		return out, &TransitionError{From: po.Status, To: cmd.To}
	}
	if cmd.To == POStatusPartialReceipt && total == 0 {
		return out, fmt.Errorf("%w: partial receipt without received goods", ErrValidation)
	}

	projected := clonePurchaseOrder(po)
	for i := range projected.Lines {
		projected.Lines[i].ReceivedQty += deltas[projected.Lines[i].ProductCode]
	}
	target := cmd.To
	if target == POStatusPartialReceipt && projected.FullyReceived() {
		target = POStatusClosed
	}
	if target == POStatusClosed && !projected.FullyReceived() {
		if strings.TrimSpace(cmd.OverrideReason) == "" {
			ordered, received := projected.Totals()
			return out, &ClosingGuardError{Received: received, Ordered: ordered}
		}
		po.CloseReason = strings.TrimSpace(cmd.OverrideReason)
	}

	for i := range po.Lines {
		line := &po.Lines[i]
		d := deltas[line.ProductCode]
		if d == 0 {
			continue
		}
		if _, err := stock.ApplyMovement(ctx, inventory.Movement{
			ProductCode: line.ProductCode,
			Delta:       d,
			Reason:      inventory.MovementPOReceipt,
			RefModule:   "procurement",
			RefID:       po.ID,
			Note:        fmt.Sprintf("PO %s", po.Number),
		}); err != nil {
			return out, err
		}
		line.ReceivedQty += d
		if err := tx.UpdateLine(ctx, *line); err != nil {
			return out, err
		}
	}

	if err := tx.UpdatePOStatus(ctx, po.ID, target, po.CloseReason); err != nil {
		return out, err
	}
	note := cmd.Note
	if total > 0 && note == "" {
		note = fmt.Sprintf("received %d units", total)
	}
	if po.CloseReason != "" && target == POStatusClosed {
		note = strings.TrimSpace(note + " override: " + po.CloseReason)
	}
	if err := tx.AppendStateLog(ctx, shared.StateLogEntry{
		OrderKind: shared.OrderKindPurchase,
		OrderID:   po.ID,
		FromState: string(out.From),
		ToState:   string(target),
		ChangedAt: now,
		Automated: cmd.Automated,
		Note:      note,
	}); err != nil {
		return out, err
	}
	po.Status = target
	po.UpdatedAt = now
	out.PO = po
	out.Changed = true
	out.Received = total
	return out, nil
}

func clonePurchaseOrder(po PurchaseOrder) PurchaseOrder {
	po.Lines = append([]POLine(nil), po.Lines...)
	return po
}

func normalizeReceipts(po PurchaseOrder, cmd TransitionCommand) ([]Receipt, error) {
	receipts := cmd.Receipts
	if cmd.ReceivedQuantity != nil {
		if len(receipts) > 0 {
			return nil, fmt.Errorf("%w: use either received_quantity or receipts", ErrValidation)
		}
		if len(po.Lines) != 1 {
			return nil, fmt.Errorf("%w: received_quantity needs a single-line order, got %d lines", ErrValidation, len(po.Lines))
		}
		receipts = []Receipt{{ProductCode: po.Lines[0].ProductCode, ReceivedQty: *cmd.ReceivedQuantity}}
	}
	seen := map[string]bool{}
	for _, r := range receipts {
		if _, ok := po.Line(r.ProductCode); !ok {
			return nil, fmt.Errorf("%w: %s not on order %s", ErrValidation, r.ProductCode, po.Number)
		}
		if seen[r.ProductCode] {
			return nil, fmt.Errorf("%w: duplicate receipt for %s", ErrValidation, r.ProductCode)
		}
		seen[r.ProductCode] = true
	}
	return receipts, nil
}

func generateNumber(prefix string, now time.Time) string {
	return fmt.Sprintf("%s-%s-%s", prefix, now.Format("20060102"), strings.ToUpper(uuid.NewString()[:8]))
}

// Reserve promises qty of productCode on po to backordered sales lines. When
// the spare quantity is not enough the ordered quantity is raised to cover it.
func Reserve(ctx context.Context, tx TxRepository, po *PurchaseOrder, productCode string, qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("%w: reserve quantity must be positive", ErrValidation)
	}
	if !po.Status.IsOpen() {
		return &TransitionError{From: po.Status, To: po.Status}
	}
	line, ok := po.Line(productCode)
	if !ok {
		return fmt.Errorf("%w: %s not on order %s", ErrValidation, productCode, po.Number)
	}
	if spare := line.Spare(); qty > spare {
		line.OrderedQty += qty - spare
	}
	line.ReservedQty += qty
	return tx.UpdateLine(ctx, *line)
}

// Release gives back up to qty of a reservation and returns what was released.
func Release(ctx context.Context, tx TxRepository, po *PurchaseOrder, productCode string, qty int64) (int64, error) {
	line, ok := po.Line(productCode)
	if !ok || qty <= 0 {
		return 0, nil
	}
	if qty > line.ReservedQty {
		qty = line.ReservedQty
	}
	if qty == 0 {
		return 0, nil
	}
	line.ReservedQty -= qty
	return qty, tx.UpdateLine(ctx, *line)
}
