package crossdock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/replenish/internal/inventory"
	"github.com/odyssey-erp/replenish/internal/procurement"
	"github.com/odyssey-erp/replenish/internal/sales"
	"github.com/odyssey-erp/replenish/internal/shared"
)

// ItemInput is one requested order line.
type ItemInput struct {
	ProductCode string          `json:"product_code" validate:"required,max=64"`
	Quantity    int64           `json:"quantity" validate:"gt=0"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// AcceptOrderInput is a new sales order as received from the storefront.
type AcceptOrderInput struct {
	RequestKey    string              `json:"request_key" validate:"omitempty,max=128"`
	Customer      sales.CustomerInfo  `json:"customer"`
	OrderedAt     time.Time           `json:"ordered_at"`
	PaymentStatus sales.PaymentStatus `json:"payment_status" validate:"omitempty,oneof=PENDING PAID PARTIAL"`
	Items         []ItemInput         `json:"items" validate:"required,min=1,max=200,dive"`
}

// AcceptOrderResult reports the stored order.
type AcceptOrderResult struct {
	Order      sales.SalesOrder            `json:"order"`
	Replayed   bool                        `json:"replayed,omitempty"`
	CreatedPOs []procurement.PurchaseOrder `json:"created_purchase_orders,omitempty"`
}

// AcceptOrder stores a sales order and allocates stock item by item. Items the
// stock cannot cover become backorders linked to an automatic purchase order.
// A repeated RequestKey returns the order created the first time.
func (c *Coordinator) AcceptOrder(ctx context.Context, in AcceptOrderInput) (AcceptOrderResult, error) {
	if err := validateOrder(in); err != nil {
		return AcceptOrderResult{}, err
	}
	in.RequestKey = strings.TrimSpace(in.RequestKey)
	if in.OrderedAt.IsZero() {
		in.OrderedAt = c.now()
	}
	if in.PaymentStatus == "" {
		in.PaymentStatus = sales.PaymentPending
	}

	var (
		result AcceptOrderResult
		fx     *effects
	)
	err := c.run(ctx, func(ctx context.Context, tx Tx) error {
		fx = newEffects()
		result = AcceptOrderResult{}
		if in.RequestKey != "" {
			existing, err := tx.SalesOrders().FindByRequestKey(ctx, in.RequestKey)
			switch {
			case err == nil:
				result.Order, result.Replayed = existing, true
				return nil
			case !errors.Is(err, sales.ErrNotFound):
				return err
			}
		}
		order, err := c.acceptInTx(ctx, tx, in, fx)
		if err != nil {
			return err
		}
		result.Order = order
		result.CreatedPOs = fx.created
		return nil
	})
	if err != nil && in.RequestKey != "" && shared.IsUniqueViolation(err) {
		// a concurrent request with the same key won the insert
		return c.replay(ctx, in.RequestKey)
	}
	if err != nil {
		return AcceptOrderResult{}, err
	}
	if result.Replayed {
		return result, nil
	}
	c.flush(ctx, fx)
	c.logger.Info("sales order accepted",
		slog.String("number", result.Order.Number),
		slog.String("fulfillment_status", string(result.Order.FulfillmentStatus)),
		slog.Int("items", len(result.Order.Items)),
		slog.Int("purchase_orders_created", len(result.CreatedPOs)),
	)
	return result, nil
}

func (c *Coordinator) replay(ctx context.Context, key string) (AcceptOrderResult, error) {
	var result AcceptOrderResult
	err := c.uow.Do(ctx, func(ctx context.Context, tx Tx) error {
		order, err := tx.SalesOrders().FindByRequestKey(ctx, key)
		result = AcceptOrderResult{Order: order, Replayed: true}
		return err
	})
	return result, err
}

func (c *Coordinator) acceptInTx(ctx context.Context, tx Tx, in AcceptOrderInput, fx *effects) (sales.SalesOrder, error) {
	now := c.now()
	order := sales.SalesOrder{
		Number:            generateNumber("SO", now),
		RequestKey:        in.RequestKey,
		Customer:          in.Customer,
		OrderedAt:         in.OrderedAt,
		PaymentStatus:     in.PaymentStatus,
		FulfillmentStatus: sales.FulfillmentUnfulfilled,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	id, err := tx.SalesOrders().CreateOrder(ctx, order)
	if err != nil {
		return sales.SalesOrder{}, err
	}
	order.ID = id

	for _, line := range in.Items {
		item := sales.Item{
			OrderID:     id,
			ProductCode: line.ProductCode,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
		}
		alloc, err := inventory.Allocate(ctx, tx.Products(), inventory.Movement{
			ProductCode: line.ProductCode,
			Reason:      inventory.MovementSaleAllocation,
			RefModule:   "sales",
			RefID:       id,
			Note:        order.Number,
		}, line.Quantity)
		if errors.Is(err, inventory.ErrProductNotFound) {
			return sales.SalesOrder{}, fmt.Errorf("%w: unknown product %s", sales.ErrValidation, line.ProductCode)
		}
		if err != nil {
			return sales.SalesOrder{}, err
		}
		item.AllocatedQty = alloc.Taken
		item.BackorderQty = alloc.Shortage
		item.IsBackorder = alloc.Shortage > 0
		if item.IsBackorder {
			product, err := tx.Products().GetProduct(ctx, line.ProductCode)
			if err != nil {
				return sales.SalesOrder{}, err
			}
			if err := c.route(ctx, tx, &item, product, alloc.Seen, fx); err != nil {
				return sales.SalesOrder{}, err
			}
		} else {
			item.AllocatedAt = &now
		}
		if item.ID, err = tx.SalesOrders().InsertItem(ctx, item); err != nil {
			return sales.SalesOrder{}, err
		}
		order.Items = append(order.Items, item)
	}

	if order.HasBackorders() {
		order.FulfillmentStatus = sales.FulfillmentWaitingStock
		if err := tx.SalesOrders().UpdateFulfillmentStatus(ctx, id, order.FulfillmentStatus); err != nil {
			return sales.SalesOrder{}, err
		}
	}
	if err := tx.SalesOrders().AppendStateLog(ctx, shared.StateLogEntry{
		OrderKind: shared.OrderKindSales,
		OrderID:   id,
		ToState:   string(order.FulfillmentStatus),
		ChangedAt: now,
		Automated: true,
		Note:      "order accepted",
	}); err != nil {
		return sales.SalesOrder{}, err
	}
	return order, nil
}

func validateOrder(in AcceptOrderInput) error {
	if len(in.Items) == 0 {
		return fmt.Errorf("%w: order needs at least one item", sales.ErrValidation)
	}
	if strings.TrimSpace(in.Customer.Name) == "" {
		return fmt.Errorf("%w: customer name required", sales.ErrValidation)
	}
	for i, item := range in.Items {
		if strings.TrimSpace(item.ProductCode) == "" || item.Quantity <= 0 {
			return fmt.Errorf("%w: item %d needs a product and a positive quantity", sales.ErrValidation, i)
		}
		if item.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: item %d has a negative price", sales.ErrValidation, i)
		}
	}
	return nil
}

func generateNumber(prefix string, now time.Time) string {
	return fmt.Sprintf("%s-%s-%s", prefix, now.Format("20060102"), strings.ToUpper(uuid.NewString()[:8]))
}
