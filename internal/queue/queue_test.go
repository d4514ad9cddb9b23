//go:build integration

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"os"

	"github.com/ai-agentic-browser/lob-core/internal/config"
	"github.com/ai-agentic-browser/lob-core/internal/domain"
	"github.com/ai-agentic-browser/lob-core/pkg/database"
	"github.com/ai-agentic-browser/lob-core/pkg/observability"
)

func openTestQueue(t *testing.T) *Queue {
	t.Helper()
	url := os.Getenv("QUEUE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("QUEUE_TEST_REDIS_URL not set")
	}
	logger := observability.NewLogger(config.ObservabilityConfig{ServiceName: "queue_test", LogLevel: "error", LogFormat: "json"})
	client, err := database.NewRedisClient(config.RedisConfig{URL: url, PoolSize: 5}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return New(client, "queue_test:"+uuid.New().String())
}

func TestPushPopPreservesOrder(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	first := domain.Job{Kind: domain.JobCancel, OrderID: uuid.New()}
	second := domain.Job{Kind: domain.JobSubmit, Order: &domain.Order{
		OrderID:  uuid.New(),
		Quantity: decimal.RequireFromString("1"),
	}}

	require.NoError(t, q.Push(ctx, first))
	require.NoError(t, q.Push(ctx, second))

	got1, ok, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.JobCancel, got1.Kind)
	require.Equal(t, first.OrderID, got1.OrderID)

	got2, ok, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.JobSubmit, got2.Kind)
	require.Equal(t, second.Order.OrderID, got2.Order.OrderID)
}

func TestPopTimesOutOnEmptyQueue(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	_, ok, err := q.Pop(ctx, 500*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLenReflectsDepth(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	n, err := q.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), n)

	require.NoError(t, q.Push(ctx, domain.Job{Kind: domain.JobCancel, OrderID: uuid.New()}))
	n, err = q.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}
