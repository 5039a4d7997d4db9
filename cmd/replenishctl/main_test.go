package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	jobscli "github.com/odyssey-erp/replenish/cmd/replenishctl/cli"
)

type fakeOperator struct {
	addr      string
	codes     []string
	retention time.Duration
	size      int
	closed    bool
}

func (f *fakeOperator) TriggerRecalculate(ctx context.Context, codes []string) (*asynq.TaskInfo, error) {
	f.codes = codes
	return &asynq.TaskInfo{ID: "task-1", Queue: "default"}, nil
}

func (f *fakeOperator) TriggerCleanup(ctx context.Context, retention time.Duration) (*asynq.TaskInfo, error) {
	f.retention = retention
	return &asynq.TaskInfo{ID: "task-2", Queue: "default"}, nil
}

func (f *fakeOperator) InspectQueues(ctx context.Context) ([]jobscli.QueueStats, error) {
	return []jobscli.QueueStats{{Queue: "default", Pending: 3}, {Queue: "notify", Retry: 1}}, nil
}

func (f *fakeOperator) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	f.size = size
	return []*asynq.TaskInfo{{
		ID:            "task-3",
		Type:          "replenishment:recalculate",
		NextProcessAt: time.Date(2025, 3, 11, 2, 0, 0, 0, time.UTC),
	}}, nil
}

func (f *fakeOperator) Close() error {
	f.closed = true
	return nil
}

func runCLI(t *testing.T, args ...string) (*fakeOperator, string, error) {
	t.Helper()
	for _, key := range []string{"REDIS_ADDR", "IDEMPOTENCY_RETENTION"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	fake := &fakeOperator{}
	var out bytes.Buffer
	app := newApp(&out, func(addr string) (operator, error) {
		fake.addr = addr
		return fake, nil
	})
	err := app.Run(append([]string{"replenishctl"}, args...))
	return fake, out.String(), err
}

func TestRecalculatePassesProductCodes(t *testing.T) {
	fake, out, err := runCLI(t, "--redis-addr", "redis:6380", "recalculate", "SKU-1", "SKU-2")
	require.NoError(t, err)
	require.Equal(t, "redis:6380", fake.addr)
	require.Equal(t, []string{"SKU-1", "SKU-2"}, fake.codes)
	require.Equal(t, "queued task-1 (default)\n", out)
	require.True(t, fake.closed)
}

func TestCleanupRetentionFlag(t *testing.T) {
	fake, _, err := runCLI(t, "cleanup")
	require.NoError(t, err)
	require.Equal(t, 168*time.Hour, fake.retention)
	require.Equal(t, "127.0.0.1:6379", fake.addr)

	fake, out, err := runCLI(t, "cleanup", "--retention", "48h")
	require.NoError(t, err)
	require.Equal(t, 48*time.Hour, fake.retention)
	require.Contains(t, out, "task-2")
}

func TestQueuesPrintsTable(t *testing.T) {
	_, out, err := runCLI(t, "queues")
	require.NoError(t, err)
	require.Contains(t, out, "QUEUE")
	require.Contains(t, out, "default")
	require.Contains(t, out, "notify")
}

func TestScheduledPageSize(t *testing.T) {
	fake, out, err := runCLI(t, "scheduled", "-n", "25")
	require.NoError(t, err)
	require.Equal(t, 25, fake.size)
	require.Contains(t, out, "task-3\treplenishment:recalculate\t2025-03-11T02:00:00Z")

	fake, _, err = runCLI(t, "scheduled")
	require.NoError(t, err)
	require.Equal(t, 10, fake.size)
}

func TestDialFailureStopsCommand(t *testing.T) {
	var out bytes.Buffer
	app := newApp(&out, func(addr string) (operator, error) {
		return nil, errors.New("redis unreachable")
	})
	err := app.Run([]string{"replenishctl", "queues"})
	require.ErrorContains(t, err, "redis unreachable")
	require.NotContains(t, out.String(), "QUEUE")
}

func TestDialRedisRequiresAddress(t *testing.T) {
	ops, err := dialRedis("")
	require.Error(t, err)
	require.Nil(t, ops)
}
