//go:build integration

package idempotency

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ai-agentic-browser/lob-core/internal/config"
	"github.com/ai-agentic-browser/lob-core/pkg/database"
	"github.com/ai-agentic-browser/lob-core/pkg/observability"
)

func openTestGate(t *testing.T) *Gate {
	t.Helper()
	url := os.Getenv("IDEMPOTENCY_TEST_REDIS_URL")
	if url == "" {
		t.Skip("IDEMPOTENCY_TEST_REDIS_URL not set")
	}
	logger := observability.NewLogger(config.ObservabilityConfig{ServiceName: "idempotency_test", LogLevel: "error", LogFormat: "json"})
	client, err := database.NewRedisClient(config.RedisConfig{URL: url, PoolSize: 5}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return New(client, 2*time.Second)
}

func TestClaimFirstCallIsNew(t *testing.T) {
	g := openTestGate(t)
	ctx := context.Background()
	key := uuid.New().String()

	res, err := g.Claim(ctx, key, uuid.New())
	require.NoError(t, err)
	require.True(t, res.New)
}

func TestClaimRetryReturnsWinner(t *testing.T) {
	g := openTestGate(t)
	ctx := context.Background()
	key := uuid.New().String()
	winner := uuid.New()

	res, err := g.Claim(ctx, key, winner)
	require.NoError(t, err)
	require.True(t, res.New)

	res2, err := g.Claim(ctx, key, uuid.New())
	require.NoError(t, err)
	require.False(t, res2.New)
	require.Equal(t, winner, res2.OrderID)
}

func TestClaimExpiresAfterTTL(t *testing.T) {
	g := openTestGate(t)
	ctx := context.Background()
	key := uuid.New().String()

	_, err := g.Claim(ctx, key, uuid.New())
	require.NoError(t, err)

	time.Sleep(g.ttl + 500*time.Millisecond)

	res, err := g.Claim(ctx, key, uuid.New())
	require.NoError(t, err)
	require.True(t, res.New, "claim should be reclaimable once the TTL has elapsed")
}
