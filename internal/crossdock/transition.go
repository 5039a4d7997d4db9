package crossdock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/replenish/internal/inventory"
	"github.com/odyssey-erp/replenish/internal/procurement"
	"github.com/odyssey-erp/replenish/internal/sales"
	"github.com/odyssey-erp/replenish/internal/shared"
)

// TransitionInput is an inbound purchase order state change.
type TransitionInput struct {
	POID             int64                 `json:"-"`
	NewStatus        procurement.POStatus  `json:"new_status" validate:"required,oneof=SENT PARTIAL_RECEIPT CLOSED CANCELLED"`
	ReceivedQuantity *int64                `json:"received_quantity,omitempty" validate:"omitempty,gte=0"`
	Receipts         []procurement.Receipt `json:"receipts,omitempty" validate:"omitempty,dive"`
	OverrideReason   string                `json:"override_reason,omitempty" validate:"max=255"`
	EventID          string                `json:"event_id,omitempty" validate:"omitempty,max=128"`
	Note             string                `json:"note,omitempty" validate:"max=255"`
	Automated        bool                  `json:"-"`
}

// TransitionResult reports the purchase order after the transition and the
// sales orders whose fulfillment status changed because of it.
type TransitionResult struct {
	PurchaseOrder procurement.PurchaseOrder   `json:"purchase_order"`
	ChangedOrders []sales.SalesOrder          `json:"changed_orders"`
	CreatedPOs    []procurement.PurchaseOrder `json:"created_purchase_orders,omitempty"`
	Duplicate     bool                        `json:"duplicate,omitempty"`
}

// TransitionPurchaseOrder applies a lifecycle move and re-syncs the linked
// backorders in the same unit of work. Receipts hand stock to waiting items
// oldest first; a cancelled order releases its items and routes them again.
func (c *Coordinator) TransitionPurchaseOrder(ctx context.Context, in TransitionInput) (TransitionResult, error) {
	if in.POID <= 0 || in.NewStatus == "" {
		return TransitionResult{}, fmt.Errorf("%w: purchase order and target status required", procurement.ErrValidation)
	}
	key := ""
	if in.EventID != "" && c.idempotency != nil {
		key = fmt.Sprintf("PO_EVENT:%d:%s", in.POID, in.EventID)
		if err := c.idempotency.CheckAndInsert(ctx, key, "crossdock"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return c.current(ctx, in.POID)
			}
			return TransitionResult{}, err
		}
	}

	var (
		result TransitionResult
		fx     *effects
	)
	err := c.run(ctx, func(ctx context.Context, tx Tx) error {
		fx = newEffects()
		result = TransitionResult{ChangedOrders: []sales.SalesOrder{}}
		out, err := procurement.ApplyTransition(ctx, tx.PurchaseOrders(), tx.Products(), procurement.TransitionCommand{
			POID:             in.POID,
			To:               in.NewStatus,
			ReceivedQuantity: in.ReceivedQuantity,
			Receipts:         in.Receipts,
			OverrideReason:   in.OverrideReason,
			Automated:        in.Automated,
			Note:             in.Note,
		}, c.now())
		if err != nil {
			return err
		}
		po := out.PO
		note := fmt.Sprintf("purchase order %s %s", po.Number, po.Status)
		switch po.Status {
		case procurement.POStatusPartialReceipt, procurement.POStatusClosed:
			if err := c.resync(ctx, tx, &po, fx); err != nil {
				return err
			}
			if po.Status == procurement.POStatusClosed {
				if err := c.releaseLinked(ctx, tx, &po, fx); err != nil {
					return err
				}
			}
		case procurement.POStatusCancelled:
			if out.Changed {
				if err := c.releaseLinked(ctx, tx, &po, fx); err != nil {
					return err
				}
			}
		}
		changed, err := c.promote(ctx, tx, fx, note)
		if err != nil {
			return err
		}
		result.PurchaseOrder = po
		result.ChangedOrders = append(result.ChangedOrders, changed...)
		result.CreatedPOs = fx.created
		return nil
	})
	if err != nil {
		if key != "" {
			_ = c.idempotency.Delete(ctx, key)
		}
		if procurement.IsGuardFailure(err) {
			c.logger.Warn("purchase order transition refused", slog.Int64("po_id", in.POID), slog.String("to", string(in.NewStatus)), slog.Any("error", err))
		}
		return TransitionResult{}, err
	}
	c.flush(ctx, fx)
	c.logger.Info("purchase order transitioned",
		slog.String("number", result.PurchaseOrder.Number),
		slog.String("status", string(result.PurchaseOrder.Status)),
		slog.Int("changed_orders", len(result.ChangedOrders)),
	)
	return result, nil
}

func (c *Coordinator) current(ctx context.Context, poID int64) (TransitionResult, error) {
	result := TransitionResult{ChangedOrders: []sales.SalesOrder{}, Duplicate: true}
	err := c.uow.Do(ctx, func(ctx context.Context, tx Tx) error {
		po, err := tx.PurchaseOrders().GetPOForUpdate(ctx, poID)
		result.PurchaseOrder = po
		return err
	})
	return result, err
}

// resync hands newly received goods to the backorders waiting on po. A line
// whose received quantity was already handed out is skipped, so replaying a
// receipt changes nothing.
func (c *Coordinator) resync(ctx context.Context, tx Tx, po *procurement.PurchaseOrder, fx *effects) error {
	pending := false
	for _, l := range po.Lines {
		if l.ReceivedQty != l.SyncedReceivedQty {
			pending = true
		}
	}
	if !pending {
		return nil
	}
	items, err := tx.SalesOrders().ListBackordersByPO(ctx, po.ID)
	if err != nil {
		return err
	}
	now := c.now()
	for i := range po.Lines {
		line := &po.Lines[i]
		if line.ReceivedQty == line.SyncedReceivedQty {
			continue
		}
		for j := range items {
			item := &items[j]
			if item.ProductCode != line.ProductCode || !item.IsBackorder {
				continue
			}
			alloc, err := inventory.Allocate(ctx, tx.Products(), inventory.Movement{
				ProductCode: item.ProductCode,
				Reason:      inventory.MovementSaleAllocation,
				RefModule:   "sales",
				RefID:       item.OrderID,
				Note:        fmt.Sprintf("cross-dock %s", po.Number),
			}, item.BackorderQty)
			if err != nil {
				return err
			}
			if alloc.Taken == 0 {
				break
			}
			item.Cover(alloc.Taken, now)
			if _, err := procurement.Release(ctx, tx.PurchaseOrders(), po, line.ProductCode, alloc.Taken); err != nil {
				return err
			}
			if err := tx.SalesOrders().UpdateItem(ctx, *item); err != nil {
				return err
			}
			fx.touched[item.OrderID] = true
			if alloc.Shortage > 0 {
				break
			}
		}
		line.SyncedReceivedQty = line.ReceivedQty
		if err := tx.PurchaseOrders().UpdateLine(ctx, *line); err != nil {
			return err
		}
	}
	return nil
}

// releaseLinked unlinks the items still waiting on a purchase order that will
// deliver nothing more, then tries stock and routing again for each of them.
func (c *Coordinator) releaseLinked(ctx context.Context, tx Tx, po *procurement.PurchaseOrder, fx *effects) error {
	items, err := tx.SalesOrders().ListBackordersByPO(ctx, po.ID)
	if err != nil {
		return err
	}
	for i := range items {
		item := &items[i]
		if _, err := procurement.Release(ctx, tx.PurchaseOrders(), po, item.ProductCode, item.BackorderQty); err != nil {
			return err
		}
		item.LinkedPurchaseOrderID = nil
		if err := c.reassign(ctx, tx, item, fx); err != nil {
			return err
		}
	}
	return nil
}

// reassign allocates what stock is available to item and routes the rest.
func (c *Coordinator) reassign(ctx context.Context, tx Tx, item *sales.Item, fx *effects) error {
	alloc, err := inventory.Allocate(ctx, tx.Products(), inventory.Movement{
		ProductCode: item.ProductCode,
		Reason:      inventory.MovementSaleAllocation,
		RefModule:   "sales",
		RefID:       item.OrderID,
		Note:        "backorder re-evaluated",
	}, item.BackorderQty)
	if err != nil {
		return err
	}
	if alloc.Taken > 0 {
		item.Cover(alloc.Taken, c.now())
	}
	if item.IsBackorder {
		product, err := tx.Products().GetProduct(ctx, item.ProductCode)
		if err != nil {
			return err
		}
		if err := c.route(ctx, tx, item, product, alloc.Seen, fx); err != nil {
			return err
		}
	}
	fx.touched[item.OrderID] = true
	return tx.SalesOrders().UpdateItem(ctx, *item)
}

// RetryBackorders re-evaluates the items of productCode that wait without a
// purchase order, typically after stock was adjusted or a supplier was fixed.
func (c *Coordinator) RetryBackorders(ctx context.Context, productCode string) ([]sales.SalesOrder, error) {
	if productCode == "" {
		return nil, fmt.Errorf("%w: product code required", sales.ErrValidation)
	}
	var (
		changed []sales.SalesOrder
		fx      *effects
	)
	err := c.run(ctx, func(ctx context.Context, tx Tx) error {
		fx = newEffects()
		items, err := tx.SalesOrders().ListUnlinkedBackorders(ctx, productCode)
		if err != nil {
			return err
		}
		for i := range items {
			if err := c.reassign(ctx, tx, &items[i], fx); err != nil {
				return err
			}
		}
		changed, err = c.promote(ctx, tx, fx, "backorder retried")
		return err
	})
	if err != nil {
		return nil, err
	}
	c.flush(ctx, fx)
	return changed, nil
}
