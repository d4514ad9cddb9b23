// Package queue is the durable FIFO transport between intake and
// matching (spec.md §4.6, supplementing the distilled spec's direct
// function-call handoff with the durability a crash-safe matching
// engine needs): submissions and cancellations are pushed as JSON-framed
// jobs onto a Redis list and consumed in order by the single matching
// loop.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ai-agentic-browser/lob-core/internal/coreerr"
	"github.com/ai-agentic-browser/lob-core/internal/domain"
	"github.com/ai-agentic-browser/lob-core/pkg/database"
)

// Queue pushes and pops domain.Job values against a single Redis list
// key. One Queue instance serves one instrument; spec.md's single
// matching process per instrument means one consumer per key.
type Queue struct {
	redis *database.RedisClient
	key   string
}

func New(redis *database.RedisClient, key string) *Queue {
	return &Queue{redis: redis, key: key}
}

// Push appends a job to the tail of the queue.
func (q *Queue) Push(ctx context.Context, job domain.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return coreerr.Wrap(coreerr.Invariant, "marshal job", err)
	}
	if err := q.redis.RPush(ctx, q.key, payload).Err(); err != nil {
		return coreerr.Wrap(coreerr.Queue, "push job", err)
	}
	return nil
}

// Pop blocks up to timeout for a job at the head of the queue. A zero
// timeout blocks indefinitely, matching redis.Client.BLPop semantics.
// ok is false on a timeout, not an error: an idle queue is expected.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (job domain.Job, ok bool, err error) {
	result, err := q.redis.BLPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Job{}, false, nil
	}
	if err != nil {
		return domain.Job{}, false, coreerr.Wrap(coreerr.Queue, "pop job", err)
	}
	// BLPOP replies with [key, value]; result[0] is always q.key here.
	if len(result) != 2 {
		return domain.Job{}, false, coreerr.New(coreerr.Invariant, "unexpected blpop reply shape")
	}
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return domain.Job{}, false, coreerr.Wrap(coreerr.Invariant, "unmarshal job", err)
	}
	return job, true, nil
}

// TryPop removes and returns the head of the queue without blocking.
// ok is false if the queue was empty. Used to give cancellations
// priority over the submit backlog without stalling on an empty
// cancel queue.
func (q *Queue) TryPop(ctx context.Context) (job domain.Job, ok bool, err error) {
	result, err := q.redis.LPop(ctx, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Job{}, false, nil
	}
	if err != nil {
		return domain.Job{}, false, coreerr.Wrap(coreerr.Queue, "try-pop job", err)
	}
	if err := json.Unmarshal([]byte(result), &job); err != nil {
		return domain.Job{}, false, coreerr.Wrap(coreerr.Invariant, "unmarshal job", err)
	}
	return job, true, nil
}

// Len reports the current queue depth, used for operator visibility
// into matching backlog.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.redis.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, coreerr.Wrap(coreerr.Queue, "queue length", err)
	}
	return n, nil
}
