package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ai-agentic-browser/lob-core/internal/config"
	"github.com/ai-agentic-browser/lob-core/pkg/observability"
	"github.com/redis/go-redis/v9"
)

// RedisClient wraps redis.Client with the metrics/health-check discipline
// the ledger's Postgres wrapper also uses. It backs two independent core
// concerns that share the same fast compare-and-set primitive: the
// idempotency gate (internal/idempotency) and the durable job queue
// (internal/queue).
type RedisClient struct {
	*redis.Client
	logger  *observability.Logger
	metrics *RedisMetrics
}

// RedisMetrics tracks Redis operation counts and latency.
type RedisMetrics struct {
	HitCount    int64
	MissCount   int64
	SetCount    int64
	DeleteCount int64
	AvgLatency  time.Duration
	mu          sync.RWMutex
}

// NewRedisClient creates a new Redis client.
func NewRedisClient(cfg config.RedisConfig, logger *observability.Logger) (*RedisClient, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if cfg.Password != "" {
		opt.Password = cfg.Password
	}
	opt.DB = cfg.DB
	opt.PoolSize = cfg.PoolSize
	opt.MinIdleConns = cfg.MinIdleConns
	opt.PoolTimeout = cfg.PoolTimeout
	opt.MaxRetries = cfg.MaxRetries
	opt.MinRetryBackoff = cfg.MinRetryBackoff
	opt.MaxRetryBackoff = cfg.MaxRetryBackoff

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	redisClient := &RedisClient{
		Client:  client,
		logger:  logger,
		metrics: &RedisMetrics{},
	}

	logger.Info(ctx, "redis client initialized", map[string]interface{}{
		"pool_size": opt.PoolSize,
	})

	return redisClient, nil
}

// ClaimNX atomically creates key with value if absent, setting ttl in the
// same operation, and reports whether this call was the one that created
// it. This is the primitive the idempotency gate's compare-and-set claim
// is built on (spec.md §4.3).
func (r *RedisClient) ClaimNX(ctx context.Context, key, value string, ttl time.Duration) (created bool, err error) {
	start := time.Now()
	created, err = r.SetNX(ctx, key, value, ttl).Result()
	r.updateMetrics("claim", time.Since(start), err == nil)
	if err == nil {
		r.metrics.mu.Lock()
		r.metrics.SetCount++
		if created {
			r.metrics.MissCount++
		} else {
			r.metrics.HitCount++
		}
		r.metrics.mu.Unlock()
	}
	return created, err
}

// Health checks Redis reachability and warns on high latency.
func (r *RedisClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	if err := r.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	if latency := time.Since(start); latency > 100*time.Millisecond {
		r.logger.Warn(ctx, "high redis latency detected", map[string]interface{}{
			"latency": latency.String(),
		})
	}
	return nil
}

func (r *RedisClient) updateMetrics(operation string, duration time.Duration, success bool) {
	r.metrics.mu.Lock()
	defer r.metrics.mu.Unlock()

	if r.metrics.AvgLatency == 0 {
		r.metrics.AvgLatency = duration
	} else {
		const alpha = 0.1
		r.metrics.AvgLatency = time.Duration(float64(r.metrics.AvgLatency)*(1-alpha) + float64(duration)*alpha)
	}
}

// Metrics returns current Redis metrics.
func (r *RedisClient) Metrics() map[string]interface{} {
	r.metrics.mu.RLock()
	defer r.metrics.mu.RUnlock()

	return map[string]interface{}{
		"hit_count":    r.metrics.HitCount,
		"miss_count":   r.metrics.MissCount,
		"set_count":    r.metrics.SetCount,
		"delete_count": r.metrics.DeleteCount,
		"avg_latency":  r.metrics.AvgLatency,
	}
}

// Close closes the Redis connection.
func (r *RedisClient) Close() error {
	r.logger.Info(context.Background(), "closing redis connection")
	return r.Client.Close()
}
