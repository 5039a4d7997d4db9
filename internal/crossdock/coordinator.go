// Package crossdock links backordered sales items to purchase orders and keeps
// both lifecycles in step.
package crossdock

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/odyssey-erp/replenish/internal/inventory"
	"github.com/odyssey-erp/replenish/internal/notify"
	"github.com/odyssey-erp/replenish/internal/procurement"
	"github.com/odyssey-erp/replenish/internal/sales"
	"github.com/odyssey-erp/replenish/internal/shared"
)

// IdempotencyPort remembers processed request keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// AlertSink receives data-quality problems for operators.
type AlertSink interface {
	Alert(ctx context.Context, alert shared.OperatorAlert) error
}

// SuggestionSource returns the latest suggested reorder quantity of a product.
type SuggestionSource interface {
	SuggestedQty(ctx context.Context, productCode string) (int64, error)
}

// Options carries the optional collaborators of Coordinator.
type Options struct {
	Idempotency IdempotencyPort
	Publisher   notify.Publisher
	Alerts      AlertSink
	Suggestions SuggestionSource
	Logger      *slog.Logger
	Clock       func() time.Time
	MaxAttempts int
}

// Coordinator is the cross-docking fulfillment coordinator.
type Coordinator struct {
	uow         UnitOfWork
	idempotency IdempotencyPort
	publisher   notify.Publisher
	alerts      AlertSink
	suggestions SuggestionSource
	logger      *slog.Logger
	now         func() time.Time
	attempts    int
}

// NewCoordinator builds a Coordinator.
func NewCoordinator(uow UnitOfWork, opts Options) *Coordinator {
	c := &Coordinator{
		uow:         uow,
		idempotency: opts.Idempotency,
		publisher:   opts.Publisher,
		alerts:      opts.Alerts,
		suggestions: opts.Suggestions,
		logger:      opts.Logger,
		now:         opts.Clock,
		attempts:    opts.MaxAttempts,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.publisher == nil {
		c.publisher = notify.LogPublisher{Logger: c.logger}
	}
	if c.now == nil {
		c.now = func() time.Time { return time.Now().UTC() }
	}
	if c.attempts <= 0 {
		c.attempts = 3
	}
	return c
}

// effects collects what a unit of work wants to tell the world once it commits.
type effects struct {
	events  []notify.Event
	alerts  []shared.OperatorAlert
	created []procurement.PurchaseOrder
	touched map[int64]bool
}

func newEffects() *effects {
	return &effects{touched: map[int64]bool{}}
}

func (fx *effects) alert(kind shared.AlertKind, productCode string, orderID int64, format string, args ...any) {
	fx.alerts = append(fx.alerts, shared.OperatorAlert{
		Kind:        kind,
		ProductCode: productCode,
		OrderID:     orderID,
		Message:     fmt.Sprintf(format, args...),
	})
}

// run executes fn in a unit of work, retrying deadlocks and serialization
// failures. fn must rebuild its effects on every attempt.
func (c *Coordinator) run(ctx context.Context, fn func(context.Context, Tx) error) error {
	var err error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		err = c.uow.Do(ctx, fn)
		if err == nil || shared.KindOf(err) != shared.KindRetryable {
			return err
		}
		c.logger.Warn("crossdock unit of work retry", slog.Int("attempt", attempt), slog.Any("error", err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt*25) * time.Millisecond):
		}
	}
	return err
}

// flush publishes events and alerts after commit. Failures are logged only:
// the state change already happened and delivery is at-least-once downstream.
func (c *Coordinator) flush(ctx context.Context, fx *effects) {
	if len(fx.events) > 0 {
		if err := c.publisher.Publish(ctx, fx.events...); err != nil {
			c.logger.Error("publish notifications", slog.Any("error", err))
		}
	}
	for _, a := range fx.alerts {
		if c.alerts == nil {
			c.logger.Warn("operator alert", slog.String("kind", string(a.Kind)), slog.String("product_code", a.ProductCode), slog.String("message", a.Message))
			continue
		}
		if err := c.alerts.Alert(ctx, a); err != nil {
			c.logger.Error("record operator alert", slog.String("kind", string(a.Kind)), slog.Any("error", err))
		}
	}
}

func (c *Coordinator) suggested(ctx context.Context, productCode string) int64 {
	if c.suggestions == nil {
		return 0
	}
	qty, err := c.suggestions.SuggestedQty(ctx, productCode)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			c.logger.Warn("load suggested reorder quantity", slog.String("product_code", productCode), slog.Any("error", err))
		}
		return 0
	}
	return qty
}

// route finds a purchase order for the unallocated part of item. The item is
// linked to an open automatic order when one exists, otherwise a new
// BACKORDER_FULFILLMENT order is raised. Items that cannot be sourced are put
// on hold and reported.
func (c *Coordinator) route(ctx context.Context, tx Tx, item *sales.Item, product inventory.Product, seen int64, fx *effects) error {
	shortfall := item.BackorderQty
	if shortfall <= 0 {
		return nil
	}
	switch {
	case product.IsDiscontinued:
		item.HoldReason = sales.HoldDiscontinued
		fx.alert(shared.AlertDiscontinuedBackorder, product.Code, item.OrderID,
			"discontinued product backordered: %d units on sales order %d cannot be sourced", shortfall, item.OrderID)
		return nil
	case !product.HasActiveSupplier():
		item.HoldReason = sales.HoldNoSupplier
		fx.alert(shared.AlertNoSupplier, product.Code, item.OrderID,
			"no active supplier: %d units on sales order %d wait without a purchase order", shortfall, item.OrderID)
		return nil
	}
	item.HoldReason = sales.HoldNone

	pos := tx.PurchaseOrders()
	po, err := pos.FindOpenAutomaticPO(ctx, product.Code)
	switch {
	case err == nil:
		if err := procurement.Reserve(ctx, pos, &po, product.Code, shortfall); err != nil {
			return err
		}
		item.LinkedPurchaseOrderID = &po.ID
		return nil
	case !errors.Is(err, procurement.ErrNotFound):
		return err
	}

	qty := max(shortfall, c.suggested(ctx, product.Code))
	priority := procurement.PriorityHigh
	if seen <= 0 {
		priority = procurement.PriorityUrgent
	}
	orderID := item.OrderID
	po, err = procurement.CreateOrder(ctx, pos, procurement.NewOrder{
		SupplierID:         *product.SupplierID,
		OrderType:          procurement.OrderTypeAutomatic,
		Purpose:            procurement.PurposeBackorderFulfillment,
		Priority:           priority,
		LinkedSalesOrderID: &orderID,
		Note:               fmt.Sprintf("backorder for sales order %d", orderID),
		Lines:              []procurement.LineInput{{ProductCode: product.Code, Quantity: qty, Reserved: shortfall}},
		Automated:          true,
	}, c.now())
	if err != nil {
		return err
	}
	item.LinkedPurchaseOrderID = &po.ID
	fx.created = append(fx.created, po)
	fx.events = append(fx.events, notify.Event{
		EventType:       notify.EventPOGenerated,
		ProductCode:     product.Code,
		Quantity:        qty,
		Priority:        string(priority),
		PurchaseOrderID: po.ID,
		OccurredAt:      c.now(),
	})
	return nil
}

// promote moves orders whose items are all covered out of WAITING_STOCK.
func (c *Coordinator) promote(ctx context.Context, tx Tx, fx *effects, note string) ([]sales.SalesOrder, error) {
	var changed []sales.SalesOrder
	for orderID := range fx.touched {
		order, err := tx.SalesOrders().GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if order.FulfillmentStatus != sales.FulfillmentWaitingStock || order.HasBackorders() {
			continue
		}
		if err := c.setStatus(ctx, tx, &order, sales.FulfillmentUnfulfilled, true, note); err != nil {
			return nil, err
		}
		changed = append(changed, order)
	}
	sortOrders(changed)
	return changed, nil
}

func (c *Coordinator) setStatus(ctx context.Context, tx Tx, order *sales.SalesOrder, to sales.FulfillmentStatus, automated bool, note string) error {
	from := order.FulfillmentStatus
	if err := tx.SalesOrders().UpdateFulfillmentStatus(ctx, order.ID, to); err != nil {
		return err
	}
	if err := tx.SalesOrders().AppendStateLog(ctx, shared.StateLogEntry{
		OrderKind: shared.OrderKindSales,
		OrderID:   order.ID,
		FromState: string(from),
		ToState:   string(to),
		ChangedAt: c.now(),
		Automated: automated,
		Note:      note,
	}); err != nil {
		return err
	}
	order.FulfillmentStatus = to
	order.UpdatedAt = c.now()
	return nil
}

func sortOrders(orders []sales.SalesOrder) {
	slices.SortFunc(orders, func(a, b sales.SalesOrder) int { return cmp.Compare(a.ID, b.ID) })
}
