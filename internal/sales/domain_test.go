package sales

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFulfillmentTransitions(t *testing.T) {
	tests := []struct {
		from, to FulfillmentStatus
		ok       bool
	}{
		{FulfillmentUnfulfilled, FulfillmentPicking, true},
		{FulfillmentUnfulfilled, FulfillmentWaitingStock, true},
		{FulfillmentWaitingStock, FulfillmentUnfulfilled, true},
		{FulfillmentWaitingStock, FulfillmentPicking, false},
		{FulfillmentPicking, FulfillmentPacked, true},
		{FulfillmentPacked, FulfillmentPicking, false},
		{FulfillmentPacked, FulfillmentShipped, true},
		{FulfillmentShipped, FulfillmentDelivered, true},
		{FulfillmentShipped, FulfillmentCancelled, true},
		{FulfillmentDelivered, FulfillmentCancelled, false},
		{FulfillmentCancelled, FulfillmentUnfulfilled, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, CanAdvance(tt.from, tt.to))
		})
	}
}

func TestItemCoverClearsBackorder(t *testing.T) {
	po := int64(3)
	item := Item{Quantity: 10, AllocatedQty: 4, BackorderQty: 6, IsBackorder: true, LinkedPurchaseOrderID: &po}
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	item.Cover(2, now)
	require.True(t, item.IsBackorder)
	require.Equal(t, int64(4), item.BackorderQty)
	require.Nil(t, item.AllocatedAt)

	item.Cover(10, now)
	require.False(t, item.IsBackorder)
	require.Equal(t, int64(10), item.AllocatedQty)
	require.Zero(t, item.BackorderQty)
	require.Equal(t, &po, item.LinkedPurchaseOrderID)
	require.Equal(t, now, *item.AllocatedAt)
}

func TestOrderTotal(t *testing.T) {
	order := SalesOrder{Items: []Item{
		{Quantity: 3, UnitPrice: decimal.RequireFromString("19.99")},
		{Quantity: 1, UnitPrice: decimal.RequireFromString("0.03")},
	}}
	require.Equal(t, "60", order.Total().String())
}
