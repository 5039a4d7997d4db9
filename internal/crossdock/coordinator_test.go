package crossdock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/replenish/internal/inventory"
	"github.com/odyssey-erp/replenish/internal/notify"
	"github.com/odyssey-erp/replenish/internal/procurement"
	"github.com/odyssey-erp/replenish/internal/sales"
	"github.com/odyssey-erp/replenish/internal/shared"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, events ...notify.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

type recordingAlerts struct {
	mu     sync.Mutex
	alerts []shared.OperatorAlert
}

func (a *recordingAlerts) Alert(ctx context.Context, alert shared.OperatorAlert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
	return nil
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = map[string]bool{}
	}
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

type fixedSuggestion int64

func (f fixedSuggestion) SuggestedQty(ctx context.Context, productCode string) (int64, error) {
	return int64(f), nil
}

// flakyUnitOfWork fails the first n units of work with a deadlock.
type flakyUnitOfWork struct {
	UnitOfWork
	failures int
	calls    int
}

func (f *flakyUnitOfWork) Do(ctx context.Context, fn func(context.Context, Tx) error) error {
	f.calls++
	if f.calls <= f.failures {
		return fmt.Errorf("allocate: %w", &pgconn.PgError{Code: "40P01", Message: "deadlock detected"})
	}
	return f.UnitOfWork.Do(ctx, fn)
}

type harness struct {
	store     *memoryStore
	coord     *Coordinator
	published *recordingPublisher
	alerts    *recordingAlerts
}

var testNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, opts Options, products ...inventory.Product) *harness {
	t.Helper()
	h := &harness{
		store:     newMemoryStore(products...),
		published: &recordingPublisher{},
		alerts:    &recordingAlerts{},
	}
	opts.Publisher = h.published
	opts.Alerts = h.alerts
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	opts.Clock = func() time.Time { return testNow }
	h.coord = NewCoordinator(h.store, opts)
	return h
}

func supplied(code string, stock int64) inventory.Product {
	supplierID := int64(7)
	return inventory.Product{
		Code:       code,
		Name:       code,
		Stock:      stock,
		SupplierID: &supplierID,
		Supplier:   &inventory.Supplier{ID: supplierID, Name: "Acme", IsActive: true},
	}
}

func orderFor(code string, qty int64) AcceptOrderInput {
	return AcceptOrderInput{
		Customer: sales.CustomerInfo{Name: "Ana"},
		Items:    []ItemInput{{ProductCode: code, Quantity: qty, UnitPrice: decimal.NewFromInt(5)}},
	}
}

func (h *harness) send(t *testing.T, poID int64) {
	t.Helper()
	_, err := h.coord.TransitionPurchaseOrder(context.Background(), TransitionInput{POID: poID, NewStatus: procurement.POStatusSent})
	require.NoError(t, err)
}

func TestAcceptOrderBackordersShortfall(t *testing.T) {
	h := newHarness(t, Options{}, supplied("SKU-A", 4))

	res, err := h.coord.AcceptOrder(context.Background(), orderFor("SKU-A", 10))
	require.NoError(t, err)

	order := res.Order
	require.Equal(t, sales.FulfillmentWaitingStock, order.FulfillmentStatus)
	require.Len(t, order.Items, 1)
	item := order.Items[0]
	require.EqualValues(t, 4, item.AllocatedQty)
	require.EqualValues(t, 6, item.BackorderQty)
	require.True(t, item.IsBackorder)
	require.NotNil(t, item.LinkedPurchaseOrderID)
	require.EqualValues(t, 0, h.store.stock("SKU-A"))

	require.Len(t, res.CreatedPOs, 1)
	po := h.store.po(*item.LinkedPurchaseOrderID)
	require.Equal(t, procurement.OrderTypeAutomatic, po.OrderType)
	require.Equal(t, procurement.PurposeBackorderFulfillment, po.Purpose)
	require.Equal(t, procurement.PriorityHigh, po.Priority)
	require.Equal(t, procurement.POStatusDraft, po.Status)
	require.Equal(t, order.ID, *po.LinkedSalesOrderID)
	require.EqualValues(t, 6, po.Lines[0].OrderedQty)
	require.EqualValues(t, 6, po.Lines[0].ReservedQty)

	require.Len(t, h.published.events, 1)
	require.Equal(t, notify.EventPOGenerated, h.published.events[0].EventType)
	require.Equal(t, po.ID, h.published.events[0].PurchaseOrderID)

	log := h.store.orderLog(shared.OrderKindSales, order.ID)
	require.Len(t, log, 1)
	require.Equal(t, string(sales.FulfillmentWaitingStock), log[0].ToState)
}

func TestAcceptOrderFromStock(t *testing.T) {
	h := newHarness(t, Options{}, supplied("SKU-A", 12))

	res, err := h.coord.AcceptOrder(context.Background(), orderFor("SKU-A", 10))
	require.NoError(t, err)
	require.Equal(t, sales.FulfillmentUnfulfilled, res.Order.FulfillmentStatus)
	require.False(t, res.Order.Items[0].IsBackorder)
	require.NotNil(t, res.Order.Items[0].AllocatedAt)
	require.Empty(t, res.CreatedPOs)
	require.Empty(t, h.store.purchaseOrders())
	require.EqualValues(t, 2, h.store.stock("SKU-A"))
}

func TestAcceptOrderEmptyStockIsUrgent(t *testing.T) {
	h := newHarness(t, Options{Suggestions: fixedSuggestion(20)}, supplied("SKU-A", 0))

	res, err := h.coord.AcceptOrder(context.Background(), orderFor("SKU-A", 5))
	require.NoError(t, err)
	require.Len(t, res.CreatedPOs, 1)

	po := res.CreatedPOs[0]
	require.Equal(t, procurement.PriorityUrgent, po.Priority)
	require.EqualValues(t, 20, po.Lines[0].OrderedQty)
	require.EqualValues(t, 5, po.Lines[0].ReservedQty)
}

func TestAcceptOrderReusesOpenAutomaticPO(t *testing.T) {
	h := newHarness(t, Options{Suggestions: fixedSuggestion(6)}, supplied("SKU-A", 0))
	ctx := context.Background()

	first, err := h.coord.AcceptOrder(ctx, orderFor("SKU-A", 5))
	require.NoError(t, err)
	second, err := h.coord.AcceptOrder(ctx, orderFor("SKU-A", 3))
	require.NoError(t, err)

	require.Empty(t, second.CreatedPOs)
	pos := h.store.purchaseOrders()
	require.Len(t, pos, 1)
	require.Equal(t, pos[0].ID, *first.Order.Items[0].LinkedPurchaseOrderID)
	require.Equal(t, pos[0].ID, *second.Order.Items[0].LinkedPurchaseOrderID)
	require.EqualValues(t, 8, pos[0].Lines[0].OrderedQty)
	require.EqualValues(t, 8, pos[0].Lines[0].ReservedQty)
}

func TestAcceptOrderRaisesNewPOWhenOpenOneIsFullyPromised(t *testing.T) {
	h := newHarness(t, Options{}, supplied("SKU-A", 0))
	ctx := context.Background()

	first, err := h.coord.AcceptOrder(ctx, orderFor("SKU-A", 5))
	require.NoError(t, err)
	firstPO := h.store.po(*first.Order.Items[0].LinkedPurchaseOrderID)
	require.Zero(t, firstPO.Lines[0].Spare())

	second, err := h.coord.AcceptOrder(ctx, orderFor("SKU-A", 3))
	require.NoError(t, err)
	require.Len(t, second.CreatedPOs, 1)
	require.NotEqual(t, firstPO.ID, *second.Order.Items[0].LinkedPurchaseOrderID)
	require.Len(t, h.store.purchaseOrders(), 2)
	require.EqualValues(t, 5, h.store.po(firstPO.ID).Lines[0].OrderedQty)
	require.EqualValues(t, 3, h.store.po(second.CreatedPOs[0].ID).Lines[0].ReservedQty)
}

func TestAcceptOrderReplaysRequestKey(t *testing.T) {
	h := newHarness(t, Options{}, supplied("SKU-A", 4))
	ctx := context.Background()
	in := orderFor("SKU-A", 10)
	in.RequestKey = "checkout-81"

	first, err := h.coord.AcceptOrder(ctx, in)
	require.NoError(t, err)
	again, err := h.coord.AcceptOrder(ctx, in)
	require.NoError(t, err)

	require.True(t, again.Replayed)
	require.Equal(t, first.Order.ID, again.Order.ID)
	require.Len(t, h.store.purchaseOrders(), 1)
	require.EqualValues(t, 0, h.store.stock("SKU-A"))
	require.Len(t, h.published.events, 1)
}

func TestAcceptOrderUnknownProductRollsBack(t *testing.T) {
	h := newHarness(t, Options{}, supplied("SKU-A", 10))

	in := orderFor("SKU-A", 2)
	in.Items = append(in.Items, ItemInput{ProductCode: "SKU-404", Quantity: 1})
	_, err := h.coord.AcceptOrder(context.Background(), in)
	require.ErrorIs(t, err, sales.ErrValidation)
	require.Equal(t, shared.KindInvalid, shared.KindOf(err))

	require.EqualValues(t, 10, h.store.stock("SKU-A"))
	require.Empty(t, h.store.orders)
}

func TestAcceptOrderValidation(t *testing.T) {
	h := newHarness(t, Options{}, supplied("SKU-A", 10))
	ctx := context.Background()

	_, err := h.coord.AcceptOrder(ctx, AcceptOrderInput{Customer: sales.CustomerInfo{Name: "Ana"}})
	require.ErrorIs(t, err, sales.ErrValidation)

	in := orderFor("SKU-A", 0)
	_, err = h.coord.AcceptOrder(ctx, in)
	require.ErrorIs(t, err, sales.ErrValidation)

	in = orderFor("SKU-A", 1)
	in.Customer.Name = " "
	_, err = h.coord.AcceptOrder(ctx, in)
	require.ErrorIs(t, err, sales.ErrValidation)
}

func TestAcceptOrderHoldsUnsourceableItems(t *testing.T) {
	discontinued := supplied("SKU-OLD", 0)
	discontinued.IsDiscontinued = true
	orphan := inventory.Product{Code: "SKU-ORPHAN", Stock: 1}
	h := newHarness(t, Options{}, discontinued, orphan)

	in := orderFor("SKU-OLD", 2)
	in.Items = append(in.Items, ItemInput{ProductCode: "SKU-ORPHAN", Quantity: 3})
	res, err := h.coord.AcceptOrder(context.Background(), in)
	require.NoError(t, err)

	require.Equal(t, sales.FulfillmentWaitingStock, res.Order.FulfillmentStatus)
	require.Equal(t, sales.HoldDiscontinued, res.Order.Items[0].HoldReason)
	require.Nil(t, res.Order.Items[0].LinkedPurchaseOrderID)
	require.Equal(t, sales.HoldNoSupplier, res.Order.Items[1].HoldReason)
	require.EqualValues(t, 1, res.Order.Items[1].AllocatedQty)
	require.EqualValues(t, 2, res.Order.Items[1].BackorderQty)
	require.Empty(t, h.store.purchaseOrders())

	require.Len(t, h.alerts.alerts, 2)
	require.Equal(t, shared.AlertDiscontinuedBackorder, h.alerts.alerts[0].Kind)
	require.Equal(t, shared.AlertNoSupplier, h.alerts.alerts[1].Kind)
	require.Equal(t, res.Order.ID, h.alerts.alerts[1].OrderID)
}

func TestRetryBackordersAfterRestock(t *testing.T) {
	orphan := inventory.Product{Code: "SKU-ORPHAN", Stock: 0}
	h := newHarness(t, Options{}, orphan)
	ctx := context.Background()

	res, err := h.coord.AcceptOrder(ctx, orderFor("SKU-ORPHAN", 3))
	require.NoError(t, err)
	require.Equal(t, sales.HoldNoSupplier, res.Order.Items[0].HoldReason)

	h.store.mu.Lock()
	p := h.store.products["SKU-ORPHAN"]
	p.Stock = 5
	h.store.products["SKU-ORPHAN"] = p
	h.store.mu.Unlock()

	changed, err := h.coord.RetryBackorders(ctx, "SKU-ORPHAN")
	require.NoError(t, err)
	require.Len(t, changed, 1)
	require.Equal(t, sales.FulfillmentUnfulfilled, changed[0].FulfillmentStatus)

	item := h.store.order(res.Order.ID).Items[0]
	require.False(t, item.IsBackorder)
	require.Equal(t, sales.HoldNone, item.HoldReason)
	require.EqualValues(t, 3, item.AllocatedQty)
	require.EqualValues(t, 2, h.store.stock("SKU-ORPHAN"))
}

func TestRetryBackordersRoutesOnceSupplierExists(t *testing.T) {
	h := newHarness(t, Options{}, inventory.Product{Code: "SKU-A"})
	ctx := context.Background()

	res, err := h.coord.AcceptOrder(ctx, orderFor("SKU-A", 4))
	require.NoError(t, err)

	h.store.mu.Lock()
	h.store.products["SKU-A"] = supplied("SKU-A", 0)
	h.store.mu.Unlock()

	changed, err := h.coord.RetryBackorders(ctx, "SKU-A")
	require.NoError(t, err)
	require.Empty(t, changed)

	item := h.store.order(res.Order.ID).Items[0]
	require.True(t, item.IsBackorder)
	require.Equal(t, sales.HoldNone, item.HoldReason)
	require.NotNil(t, item.LinkedPurchaseOrderID)
	require.Len(t, h.store.purchaseOrders(), 1)
}

func TestReceiptCoversBackordersAndPromotesOrder(t *testing.T) {
	h := newHarness(t, Options{Idempotency: &memoryIdempotency{}}, supplied("SKU-A", 4))
	ctx := context.Background()

	res, err := h.coord.AcceptOrder(ctx, orderFor("SKU-A", 10))
	require.NoError(t, err)
	poID := *res.Order.Items[0].LinkedPurchaseOrderID
	h.send(t, poID)

	received := int64(6)
	out, err := h.coord.TransitionPurchaseOrder(ctx, TransitionInput{
		POID:             poID,
		NewStatus:        procurement.POStatusPartialReceipt,
		ReceivedQuantity: &received,
		EventID:          "evt-1",
		Automated:        true,
	})
	require.NoError(t, err)
	require.Equal(t, procurement.POStatusClosed, out.PurchaseOrder.Status)
	require.Len(t, out.ChangedOrders, 1)
	require.Equal(t, sales.FulfillmentUnfulfilled, out.ChangedOrders[0].FulfillmentStatus)

	order := h.store.order(res.Order.ID)
	require.Equal(t, sales.FulfillmentUnfulfilled, order.FulfillmentStatus)
	item := order.Items[0]
	require.False(t, item.IsBackorder)
	require.EqualValues(t, 10, item.AllocatedQty)
	require.NotNil(t, item.LinkedPurchaseOrderID)
	require.Equal(t, poID, *item.LinkedPurchaseOrderID)
	require.EqualValues(t, 0, h.store.stock("SKU-A"))

	po := h.store.po(poID)
	require.EqualValues(t, 0, po.Lines[0].ReservedQty)
	require.EqualValues(t, 6, po.Lines[0].SyncedReceivedQty)

	log := h.store.orderLog(shared.OrderKindSales, order.ID)
	require.Len(t, log, 2)
	require.Equal(t, string(sales.FulfillmentWaitingStock), log[1].FromState)
	require.Equal(t, string(sales.FulfillmentUnfulfilled), log[1].ToState)
	require.True(t, log[1].Automated)

	dup, err := h.coord.TransitionPurchaseOrder(ctx, TransitionInput{
		POID:             poID,
		NewStatus:        procurement.POStatusPartialReceipt,
		ReceivedQuantity: &received,
		EventID:          "evt-1",
	})
	require.NoError(t, err)
	require.True(t, dup.Duplicate)
	require.Empty(t, dup.ChangedOrders)
	require.EqualValues(t, 0, h.store.stock("SKU-A"))
	require.Len(t, h.store.orderLog(shared.OrderKindSales, order.ID), 2)

	again, err := h.coord.TransitionPurchaseOrder(ctx, TransitionInput{
		POID:             poID,
		NewStatus:        procurement.POStatusClosed,
		ReceivedQuantity: &received,
	})
	require.NoError(t, err)
	require.Empty(t, again.ChangedOrders)
	require.EqualValues(t, 0, h.store.stock("SKU-A"))
}

func TestRedeliveredReceiptWithoutEventIDIsNoop(t *testing.T) {
	h := newHarness(t, Options{}, supplied("SKU-A", 4))
	ctx := context.Background()

	res, err := h.coord.AcceptOrder(ctx, orderFor("SKU-A", 10))
	require.NoError(t, err)
	poID := *res.Order.Items[0].LinkedPurchaseOrderID
	h.send(t, poID)

	received := int64(6)
	in := TransitionInput{POID: poID, NewStatus: procurement.POStatusPartialReceipt, ReceivedQuantity: &received}
	first, err := h.coord.TransitionPurchaseOrder(ctx, in)
	require.NoError(t, err)
	require.Equal(t, procurement.POStatusClosed, first.PurchaseOrder.Status)
	poLog := len(h.store.orderLog(shared.OrderKindPurchase, poID))

	again, err := h.coord.TransitionPurchaseOrder(ctx, in)
	require.NoError(t, err)
	require.Equal(t, procurement.POStatusClosed, again.PurchaseOrder.Status)
	require.Empty(t, again.ChangedOrders)
	require.Empty(t, again.CreatedPOs)
	require.EqualValues(t, 0, h.store.stock("SKU-A"))
	require.EqualValues(t, 6, h.store.po(poID).Lines[0].ReceivedQty)
	require.Len(t, h.store.orderLog(shared.OrderKindPurchase, poID), poLog)

	item := h.store.order(res.Order.ID).Items[0]
	require.False(t, item.IsBackorder)
	require.Equal(t, poID, *item.LinkedPurchaseOrderID)
}

func TestPartialReceiptServesOldestOrderFirst(t *testing.T) {
	h := newHarness(t, Options{Suggestions: fixedSuggestion(8)}, supplied("SKU-A", 0))
	ctx := context.Background()

	first, err := h.coord.AcceptOrder(ctx, orderFor("SKU-A", 5))
	require.NoError(t, err)
	second, err := h.coord.AcceptOrder(ctx, orderFor("SKU-A", 3))
	require.NoError(t, err)
	poID := *first.Order.Items[0].LinkedPurchaseOrderID
	h.send(t, poID)

	received := int64(5)
	out, err := h.coord.TransitionPurchaseOrder(ctx, TransitionInput{
		POID:             poID,
		NewStatus:        procurement.POStatusPartialReceipt,
		ReceivedQuantity: &received,
	})
	require.NoError(t, err)
	require.Equal(t, procurement.POStatusPartialReceipt, out.PurchaseOrder.Status)
	require.Len(t, out.ChangedOrders, 1)
	require.Equal(t, first.Order.ID, out.ChangedOrders[0].ID)

	waiting := h.store.order(second.Order.ID)
	require.Equal(t, sales.FulfillmentWaitingStock, waiting.FulfillmentStatus)
	require.EqualValues(t, 3, waiting.Items[0].BackorderQty)
	require.Equal(t, poID, *waiting.Items[0].LinkedPurchaseOrderID)

	po := h.store.po(poID)
	require.EqualValues(t, 3, po.Lines[0].ReservedQty)
	require.EqualValues(t, 5, po.Lines[0].SyncedReceivedQty)

	received = 8
	out, err = h.coord.TransitionPurchaseOrder(ctx, TransitionInput{
		POID:             poID,
		NewStatus:        procurement.POStatusPartialReceipt,
		ReceivedQuantity: &received,
	})
	require.NoError(t, err)
	require.Equal(t, procurement.POStatusClosed, out.PurchaseOrder.Status)
	require.Len(t, out.ChangedOrders, 1)
	require.Equal(t, second.Order.ID, out.ChangedOrders[0].ID)
	require.EqualValues(t, 0, h.store.stock("SKU-A"))
}

func TestCancelledPurchaseOrderReroutesBackorders(t *testing.T) {
	h := newHarness(t, Options{}, supplied("SKU-A", 0))
	ctx := context.Background()

	res, err := h.coord.AcceptOrder(ctx, orderFor("SKU-A", 5))
	require.NoError(t, err)
	oldPO := *res.Order.Items[0].LinkedPurchaseOrderID

	out, err := h.coord.TransitionPurchaseOrder(ctx, TransitionInput{POID: oldPO, NewStatus: procurement.POStatusCancelled})
	require.NoError(t, err)
	require.Equal(t, procurement.POStatusCancelled, out.PurchaseOrder.Status)
	require.Len(t, out.CreatedPOs, 1)

	item := h.store.order(res.Order.ID).Items[0]
	require.True(t, item.IsBackorder)
	require.NotNil(t, item.LinkedPurchaseOrderID)
	require.NotEqual(t, oldPO, *item.LinkedPurchaseOrderID)
	require.Equal(t, out.CreatedPOs[0].ID, *item.LinkedPurchaseOrderID)
	require.EqualValues(t, 0, h.store.po(oldPO).Lines[0].ReservedQty)
	require.EqualValues(t, 5, h.store.po(*item.LinkedPurchaseOrderID).Lines[0].ReservedQty)
	require.Equal(t, sales.FulfillmentWaitingStock, h.store.order(res.Order.ID).FulfillmentStatus)
}

func TestClosingGuardRejectsShortReceipt(t *testing.T) {
	h := newHarness(t, Options{Idempotency: &memoryIdempotency{}}, supplied("SKU-A", 0))
	ctx := context.Background()

	res, err := h.coord.AcceptOrder(ctx, orderFor("SKU-A", 6))
	require.NoError(t, err)
	poID := *res.Order.Items[0].LinkedPurchaseOrderID
	h.send(t, poID)

	received := int64(2)
	in := TransitionInput{POID: poID, NewStatus: procurement.POStatusClosed, ReceivedQuantity: &received, EventID: "evt-close"}
	_, err = h.coord.TransitionPurchaseOrder(ctx, in)
	var guard *procurement.ClosingGuardError
	require.ErrorAs(t, err, &guard)
	require.EqualError(t, err, "cannot close: 2 of 6 units received")
	require.Equal(t, shared.KindFatal, shared.KindOf(err))
	require.EqualValues(t, 0, h.store.stock("SKU-A"))
	require.Equal(t, procurement.POStatusSent, h.store.po(poID).Status)

	// the failed event may be delivered again once the override is supplied
	in.OverrideReason = "supplier short shipped"
	out, err := h.coord.TransitionPurchaseOrder(ctx, in)
	require.NoError(t, err)
	require.False(t, out.Duplicate)
	require.Equal(t, procurement.POStatusClosed, out.PurchaseOrder.Status)
	require.Equal(t, "supplier short shipped", out.PurchaseOrder.CloseReason)

	item := h.store.order(res.Order.ID).Items[0]
	require.EqualValues(t, 2, item.AllocatedQty)
	require.EqualValues(t, 4, item.BackorderQty)
	require.NotNil(t, item.LinkedPurchaseOrderID)
	require.NotEqual(t, poID, *item.LinkedPurchaseOrderID)
	require.Len(t, out.CreatedPOs, 1)
}

func TestTransitionRejectsIllegalMove(t *testing.T) {
	h := newHarness(t, Options{}, supplied("SKU-A", 0))
	ctx := context.Background()

	res, err := h.coord.AcceptOrder(ctx, orderFor("SKU-A", 2))
	require.NoError(t, err)
	poID := *res.Order.Items[0].LinkedPurchaseOrderID

	received := int64(1)
	_, err = h.coord.TransitionPurchaseOrder(ctx, TransitionInput{POID: poID, NewStatus: procurement.POStatusPartialReceipt, ReceivedQuantity: &received})
	require.True(t, procurement.IsGuardFailure(err))
	require.ErrorIs(t, err, procurement.ErrInvalidState)
	require.EqualValues(t, 0, h.store.stock("SKU-A"))

	_, err = h.coord.TransitionPurchaseOrder(ctx, TransitionInput{POID: 999, NewStatus: procurement.POStatusSent})
	require.ErrorIs(t, err, procurement.ErrNotFound)
}

func TestConcurrentOrdersNeverOversell(t *testing.T) {
	const (
		orders = 12
		stock  = 5
	)
	h := newHarness(t, Options{Suggestions: fixedSuggestion(orders)}, supplied("SKU-A", stock))
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, orders)
	for i := 0; i < orders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.coord.AcceptOrder(ctx, orderFor("SKU-A", 1))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var allocated, backordered int64
	h.store.mu.Lock()
	for _, o := range h.store.orders {
		for _, it := range o.Items {
			allocated += it.AllocatedQty
			backordered += it.BackorderQty
		}
	}
	h.store.mu.Unlock()

	require.EqualValues(t, stock, allocated)
	require.EqualValues(t, orders-stock, backordered)
	require.EqualValues(t, 0, h.store.stock("SKU-A"))

	pos := h.store.purchaseOrders()
	require.Len(t, pos, 1)
	require.EqualValues(t, orders-stock, pos[0].Lines[0].ReservedQty)
}

func TestCoordinatorRetriesDeadlocks(t *testing.T) {
	store := newMemoryStore(supplied("SKU-A", 3))
	flaky := &flakyUnitOfWork{UnitOfWork: store, failures: 2}
	coord := NewCoordinator(flaky, Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	res, err := coord.AcceptOrder(context.Background(), orderFor("SKU-A", 2))
	require.NoError(t, err)
	require.Equal(t, 3, flaky.calls)
	require.EqualValues(t, 2, res.Order.Items[0].AllocatedQty)
	require.EqualValues(t, 1, store.stock("SKU-A"))

	flaky = &flakyUnitOfWork{UnitOfWork: store, failures: 5}
	coord = NewCoordinator(flaky, Options{MaxAttempts: 2, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	_, err = coord.AcceptOrder(context.Background(), orderFor("SKU-A", 1))
	require.Equal(t, shared.KindRetryable, shared.KindOf(err))
	require.Equal(t, 2, flaky.calls)
	require.EqualValues(t, 1, store.stock("SKU-A"))
}

func TestAdvanceFulfillmentRefusesPickingWhileWaiting(t *testing.T) {
	h := newHarness(t, Options{}, supplied("SKU-A", 1))
	ctx := context.Background()

	res, err := h.coord.AcceptOrder(ctx, orderFor("SKU-A", 3))
	require.NoError(t, err)

	_, err = h.coord.AdvanceFulfillment(ctx, AdvanceInput{OrderID: res.Order.ID, To: sales.FulfillmentPicking})
	require.ErrorIs(t, err, sales.ErrInvalidState)

	// a status flipped by hand still cannot pick missing goods
	h.store.mu.Lock()
	o := h.store.orders[res.Order.ID]
	o.FulfillmentStatus = sales.FulfillmentUnfulfilled
	h.store.orders[o.ID] = o
	h.store.mu.Unlock()

	_, err = h.coord.AdvanceFulfillment(ctx, AdvanceInput{OrderID: res.Order.ID, To: sales.FulfillmentPicking})
	require.True(t, errors.Is(err, sales.ErrBackorderPending))
}

func TestAdvanceFulfillmentHappyPath(t *testing.T) {
	h := newHarness(t, Options{}, supplied("SKU-A", 10))
	ctx := context.Background()

	res, err := h.coord.AcceptOrder(ctx, orderFor("SKU-A", 3))
	require.NoError(t, err)

	for _, to := range []sales.FulfillmentStatus{sales.FulfillmentPicking, sales.FulfillmentPacked, sales.FulfillmentShipped, sales.FulfillmentDelivered} {
		order, err := h.coord.AdvanceFulfillment(ctx, AdvanceInput{OrderID: res.Order.ID, To: to})
		require.NoError(t, err)
		require.Equal(t, to, order.FulfillmentStatus)
	}
	log := h.store.orderLog(shared.OrderKindSales, res.Order.ID)
	require.Len(t, log, 5)
	require.False(t, log[4].Automated)

	_, err = h.coord.AdvanceFulfillment(ctx, AdvanceInput{OrderID: res.Order.ID, To: sales.FulfillmentCancelled})
	require.ErrorIs(t, err, sales.ErrInvalidState)
}

func TestCancelOrderReturnsStockAndReservation(t *testing.T) {
	h := newHarness(t, Options{}, supplied("SKU-A", 4))
	ctx := context.Background()

	res, err := h.coord.AcceptOrder(ctx, orderFor("SKU-A", 10))
	require.NoError(t, err)
	poID := *res.Order.Items[0].LinkedPurchaseOrderID

	order, err := h.coord.AdvanceFulfillment(ctx, AdvanceInput{OrderID: res.Order.ID, To: sales.FulfillmentCancelled, Note: "customer changed mind"})
	require.NoError(t, err)
	require.Equal(t, sales.FulfillmentCancelled, order.FulfillmentStatus)

	require.EqualValues(t, 4, h.store.stock("SKU-A"))
	po := h.store.po(poID)
	require.EqualValues(t, 0, po.Lines[0].ReservedQty)
	require.EqualValues(t, 6, po.Lines[0].Spare())
	require.Nil(t, h.store.order(res.Order.ID).Items[0].LinkedPurchaseOrderID)

	// the spare quantity serves the next shortage
	next, err := h.coord.AcceptOrder(ctx, orderFor("SKU-A", 6))
	require.NoError(t, err)
	require.Empty(t, next.CreatedPOs)
	require.EqualValues(t, 2, next.Order.Items[0].BackorderQty)
	require.EqualValues(t, 6, h.store.po(poID).Lines[0].OrderedQty)
}
