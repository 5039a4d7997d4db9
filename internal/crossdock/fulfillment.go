package crossdock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/replenish/internal/inventory"
	"github.com/odyssey-erp/replenish/internal/procurement"
	"github.com/odyssey-erp/replenish/internal/sales"
)

// AdvanceInput is a manual fulfillment step.
type AdvanceInput struct {
	OrderID int64                   `json:"-"`
	To      sales.FulfillmentStatus `json:"status" validate:"required"`
	Note    string                  `json:"note" validate:"max=255"`
}

// AdvanceFulfillment moves a sales order forward. Cancelling an order that has
// not shipped returns its allocated stock and drops its purchase order
// reservations.
func (c *Coordinator) AdvanceFulfillment(ctx context.Context, in AdvanceInput) (sales.SalesOrder, error) {
	if in.OrderID <= 0 || in.To == "" {
		return sales.SalesOrder{}, fmt.Errorf("%w: order and target status required", sales.ErrValidation)
	}
	var (
		order sales.SalesOrder
		from  sales.FulfillmentStatus
	)
	err := c.run(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		order, err = tx.SalesOrders().GetOrderForUpdate(ctx, in.OrderID)
		if err != nil {
			return err
		}
		from = order.FulfillmentStatus
		if from == in.To {
			return nil
		}
		if !sales.CanAdvance(from, in.To) {
			return fmt.Errorf("%w: %s to %s", sales.ErrInvalidState, from, in.To)
		}
		if in.To == sales.FulfillmentPicking && order.HasBackorders() {
			return sales.ErrBackorderPending
		}
		if in.To == sales.FulfillmentCancelled {
			if err := c.cancelItems(ctx, tx, &order); err != nil {
				return err
			}
		}
		return c.setStatus(ctx, tx, &order, in.To, false, in.Note)
	})
	if err != nil {
		return sales.SalesOrder{}, err
	}
	if from != in.To {
		c.logger.Info("fulfillment advanced",
			slog.String("number", order.Number),
			slog.String("from", string(from)),
			slog.String("to", string(in.To)),
		)
	}
	return order, nil
}

func (c *Coordinator) cancelItems(ctx context.Context, tx Tx, order *sales.SalesOrder) error {
	shipped := order.FulfillmentStatus.HasShipped()
	for i := range order.Items {
		item := &order.Items[i]
		if item.LinkedPurchaseOrderID != nil && item.BackorderQty > 0 {
			po, err := tx.PurchaseOrders().GetPOForUpdate(ctx, *item.LinkedPurchaseOrderID)
			if err != nil && !errors.Is(err, procurement.ErrNotFound) {
				return err
			}
			if err == nil {
				if _, err := procurement.Release(ctx, tx.PurchaseOrders(), &po, item.ProductCode, item.BackorderQty); err != nil {
					return err
				}
			}
			item.LinkedPurchaseOrderID = nil
		}
		if !shipped && item.AllocatedQty > 0 {
			if _, err := tx.Products().ApplyMovement(ctx, inventory.Movement{
				ProductCode: item.ProductCode,
				Delta:       item.AllocatedQty,
				Reason:      inventory.MovementSaleRelease,
				RefModule:   "sales",
				RefID:       order.ID,
				Note:        order.Number + " cancelled",
			}); err != nil {
				return err
			}
		}
		if err := tx.SalesOrders().UpdateItem(ctx, *item); err != nil {
			return err
		}
	}
	return nil
}
