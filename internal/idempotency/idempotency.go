// Package idempotency implements the submission-side dedupe gate
// (spec.md §4.3, component C3): a client-supplied key is claimed
// exactly once within a TTL window, and any retry of the same key
// observes the order id produced by the original claim instead of
// submitting a second time.
package idempotency

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ai-agentic-browser/lob-core/internal/coreerr"
	"github.com/ai-agentic-browser/lob-core/pkg/database"
)

// Gate wraps the Redis claim primitive with the matching core's
// fail-closed policy: if Redis is unreachable, Claim returns a Cache
// error rather than silently letting a duplicate submission through
// (spec.md §4.3 edge case: gate outage rejects, never double-admits).
type Gate struct {
	redis *database.RedisClient
	ttl   time.Duration
}

func New(redis *database.RedisClient, ttl time.Duration) *Gate {
	return &Gate{redis: redis, ttl: ttl}
}

// Result is the outcome of a Claim call.
type Result struct {
	// New is true if this call was the first to claim the key.
	New bool
	// OrderID is the order id associated with the key, set only when
	// New is false and the caller is expected to look it up from the
	// value recorded at claim time.
	OrderID uuid.UUID
}

// Claim attempts to atomically reserve key for orderID. On the first
// call for a given key it returns Result{New: true}. On a retry within
// the TTL window it returns Result{New: false} with the winning
// order id decoded from whatever value the original claim stored.
func (g *Gate) Claim(ctx context.Context, key string, orderID uuid.UUID) (Result, error) {
	created, err := g.redis.ClaimNX(ctx, claimKey(key), orderID.String(), g.ttl)
	if err != nil {
		return Result{}, coreerr.Wrap(coreerr.Cache, "idempotency claim", err)
	}
	if created {
		return Result{New: true}, nil
	}

	existing, err := g.redis.Get(ctx, claimKey(key)).Result()
	if err != nil {
		return Result{}, coreerr.Wrap(coreerr.Cache, "idempotency claim lookup after miss", err)
	}
	winnerID, err := uuid.Parse(existing)
	if err != nil {
		return Result{}, coreerr.Wrap(coreerr.Invariant, "idempotency claim value not a uuid", err)
	}
	return Result{New: false, OrderID: winnerID}, nil
}

func claimKey(key string) string {
	return "idempotency:" + key
}
