package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ai-agentic-browser/lob-core/internal/config"
	"github.com/ai-agentic-browser/lob-core/pkg/observability"
	_ "github.com/lib/pq"
)

// DB wraps sql.DB with connection pooling and health monitoring suited to
// a ledger of record: every read goes straight to the primary, no
// query-result caching, since a resting order's status must always be
// read consistent with the latest write.
type DB struct {
	*sql.DB
	logger   *observability.Logger
	metrics  *DatabaseMetrics
	connPool *ConnectionPool
	mu       sync.RWMutex
}

// DatabaseMetrics tracks database performance metrics.
type DatabaseMetrics struct {
	QueryCount     int64
	SlowQueryCount int64
	AvgQueryTime   time.Duration
	mu             sync.RWMutex
}

// ConnectionPool tracks pool configuration and live stats.
type ConnectionPool struct {
	config  *PoolConfig
	metrics *PoolMetrics
	mu      sync.RWMutex
}

// PoolConfig contains connection pool configuration.
type PoolConfig struct {
	MaxOpenConns        int
	MaxIdleConns        int
	ConnMaxLifetime     time.Duration
	ConnMaxIdleTime     time.Duration
	HealthCheckInterval time.Duration
}

// PoolMetrics tracks connection pool performance.
type PoolMetrics struct {
	ActiveConnections int64
	IdleConnections   int64
	WaitCount         int64
	WaitDuration      time.Duration
	mu                sync.RWMutex
}

// NewPostgresDB creates a new PostgreSQL connection for the ledger.
func NewPostgresDB(cfg config.DatabaseConfig, logger *observability.Logger) (*DB, error) {
	primary, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	poolConfig := &PoolConfig{
		MaxOpenConns:        cfg.MaxOpenConns,
		MaxIdleConns:        cfg.MaxIdleConns,
		ConnMaxLifetime:     cfg.ConnMaxLifetime,
		ConnMaxIdleTime:     cfg.ConnMaxIdleTime,
		HealthCheckInterval: cfg.HealthCheckInterval,
	}

	primary.SetMaxOpenConns(poolConfig.MaxOpenConns)
	primary.SetMaxIdleConns(poolConfig.MaxIdleConns)
	primary.SetConnMaxLifetime(poolConfig.ConnMaxLifetime)
	primary.SetConnMaxIdleTime(poolConfig.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := primary.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ledger database: %w", err)
	}

	db := &DB{
		DB:      primary,
		logger:  logger,
		metrics: &DatabaseMetrics{},
		connPool: &ConnectionPool{
			config:  poolConfig,
			metrics: &PoolMetrics{},
		},
	}

	go db.startHealthMonitoring()

	logger.Info(context.Background(), "ledger database connection established", map[string]interface{}{
		"max_open_conns": poolConfig.MaxOpenConns,
		"max_idle_conns": poolConfig.MaxIdleConns,
	})

	return db, nil
}

// ExecWithMetrics executes a statement and tracks latency, flagging slow
// queries — the ledger sits on the hot path of every matching step.
func (db *DB) ExecWithMetrics(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	start := time.Now()
	result, err := db.ExecContext(ctx, query, args...)
	db.updateMetrics(time.Since(start), query)
	return result, err
}

// QueryRowWithMetrics runs QueryRowContext and tracks latency.
func (db *DB) QueryRowWithMetrics(ctx context.Context, query string, args ...interface{}) *sql.Row {
	start := time.Now()
	row := db.QueryRowContext(ctx, query, args...)
	db.updateMetrics(time.Since(start), query)
	return row
}

// QueryWithMetrics runs QueryContext and tracks latency.
func (db *DB) QueryWithMetrics(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	start := time.Now()
	rows, err := db.QueryContext(ctx, query, args...)
	db.updateMetrics(time.Since(start), query)
	return rows, err
}

func (db *DB) updateMetrics(duration time.Duration, query string) {
	db.metrics.mu.Lock()
	defer db.metrics.mu.Unlock()

	db.metrics.QueryCount++
	if db.metrics.AvgQueryTime == 0 {
		db.metrics.AvgQueryTime = duration
	} else {
		const alpha = 0.1
		db.metrics.AvgQueryTime = time.Duration(float64(db.metrics.AvgQueryTime)*(1-alpha) + float64(duration)*alpha)
	}

	if duration > 100*time.Millisecond {
		db.metrics.SlowQueryCount++
		db.logger.Warn(context.Background(), "slow ledger query", map[string]interface{}{
			"query":    firstWord(query),
			"duration": duration.String(),
		})
	}
}

func firstWord(query string) string {
	query = strings.TrimSpace(query)
	if idx := strings.IndexByte(query, ' '); idx > 0 {
		return query[:idx]
	}
	return query
}

func (db *DB) startHealthMonitoring() {
	if db.connPool.config.HealthCheckInterval <= 0 {
		return
	}
	ticker := time.NewTicker(db.connPool.config.HealthCheckInterval)
	defer ticker.Stop()

	for range ticker.C {
		db.performHealthCheck()
	}
}

func (db *DB) performHealthCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.DB.PingContext(ctx); err != nil {
		db.logger.Error(ctx, "ledger database health check failed", err)
		return
	}

	stats := db.DB.Stats()
	db.connPool.metrics.mu.Lock()
	db.connPool.metrics.ActiveConnections = int64(stats.OpenConnections)
	db.connPool.metrics.IdleConnections = int64(stats.Idle)
	db.connPool.metrics.WaitCount = stats.WaitCount
	db.connPool.metrics.WaitDuration = stats.WaitDuration
	db.connPool.metrics.mu.Unlock()
}

// Metrics returns current database metrics.
func (db *DB) Metrics() map[string]interface{} {
	db.metrics.mu.RLock()
	defer db.metrics.mu.RUnlock()
	db.connPool.metrics.mu.RLock()
	defer db.connPool.metrics.mu.RUnlock()

	return map[string]interface{}{
		"query_count":        db.metrics.QueryCount,
		"slow_query_count":   db.metrics.SlowQueryCount,
		"avg_query_time":     db.metrics.AvgQueryTime,
		"active_connections": db.connPool.metrics.ActiveConnections,
		"idle_connections":   db.connPool.metrics.IdleConnections,
	}
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
