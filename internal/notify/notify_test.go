package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/replenish/internal/shared"
)

type recordingEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (r *recordingEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

type memoryAlerts struct {
	alerts []shared.OperatorAlert
}

func (m *memoryAlerts) Record(ctx context.Context, alert shared.OperatorAlert) error {
	m.alerts = append(m.alerts, alert)
	return nil
}

func TestQueuePublisherEnqueuesEachEvent(t *testing.T) {
	enq := &recordingEnqueuer{}
	pub := NewQueuePublisher(enq, "default", nil)

	err := pub.Publish(context.Background(),
		Event{EventType: EventROPTrigger, ProductCode: "SKU-1", Quantity: 40},
		Event{EventType: EventPOGenerated, ProductCode: "SKU-1", Quantity: 40, Priority: "HIGH", PurchaseOrderID: 9},
	)
	require.NoError(t, err)
	require.Len(t, enq.tasks, 2)
	require.Equal(t, TaskDeliverEvent, enq.tasks[1].Type())

	var ev Event
	require.NoError(t, json.Unmarshal(enq.tasks[1].Payload(), &ev))
	require.Equal(t, EventPOGenerated, ev.EventType)
	require.Equal(t, int64(9), ev.PurchaseOrderID)
	require.False(t, ev.OccurredAt.IsZero())
}

func TestQueuePublisherReportsFailure(t *testing.T) {
	pub := NewQueuePublisher(&recordingEnqueuer{err: errors.New("redis down")}, "default", nil)
	err := pub.Publish(context.Background(), Event{EventType: EventROPTrigger, ProductCode: "SKU-1"})
	require.ErrorContains(t, err, "redis down")
}

func TestDelivererPostsEvent(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	task, err := NewDeliverTask(Event{EventType: EventROPTrigger, ProductCode: "SKU-7", Quantity: 12})
	require.NoError(t, err)
	d := NewDeliverer(NewWebhook(srv.URL), NewWebhook(""), nil)
	require.NoError(t, d.HandleEvent(context.Background(), task))
	require.Equal(t, "SKU-7", got.ProductCode)
	require.Equal(t, int64(12), got.Quantity)
}

func TestDelivererRetriesOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	task, _ := NewDeliverTask(Event{EventType: EventROPTrigger, ProductCode: "SKU-7"})
	d := NewDeliverer(NewWebhook(srv.URL), nil, nil)
	err := d.HandleEvent(context.Background(), task)
	require.Error(t, err)
	require.False(t, errors.Is(err, asynq.SkipRetry))

	err = d.HandleEvent(context.Background(), asynq.NewTask(TaskDeliverEvent, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestOperatorChannelStoresAndEnqueues(t *testing.T) {
	store := &memoryAlerts{}
	enq := &recordingEnqueuer{}
	ch := NewOperatorChannel(store, enq, "default", nil)

	err := ch.Alert(context.Background(), shared.OperatorAlert{Kind: shared.AlertNoSupplier, ProductCode: "SKU-3", Message: "no active supplier"})
	require.NoError(t, err)
	require.Len(t, store.alerts, 1)
	require.Len(t, enq.tasks, 1)
	require.Equal(t, TaskDeliverAlert, enq.tasks[0].Type())
}
