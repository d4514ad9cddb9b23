package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the matching core.
type Config struct {
	Database      DatabaseConfig
	Redis         RedisConfig
	Matching      MatchingConfig
	Observability ObservabilityConfig
}

type DatabaseConfig struct {
	URL                 string
	MaxOpenConns        int
	MaxIdleConns        int
	ConnMaxLifetime     time.Duration
	ConnMaxIdleTime     time.Duration
	QueryTimeout        time.Duration
	HealthCheckInterval time.Duration
}

type RedisConfig struct {
	URL                  string
	Password             string
	DB                   int
	PoolSize             int
	MinIdleConns         int
	MaxIdleConns         int
	PoolTimeout          time.Duration
	IdleTimeout          time.Duration
	MaxRetries           int
	MinRetryBackoff      time.Duration
	MaxRetryBackoff      time.Duration
	SubmitQueueKey       string
	CancelQueueKey       string
	IdempotencyKeyPrefix string
}

// MatchingConfig carries the configuration surface enumerated in spec.md §6.
type MatchingConfig struct {
	Instrument            string
	IdempotencyTTL        time.Duration
	MatchEpsilon          float64
	QueueConcurrency      int
	PriceLevelsDefault    int
	RecentTradesDefault   int
	EmptyBookMarketPolicy string // "partially_filled" | "rejected"
	PopTimeout            time.Duration
}

type ObservabilityConfig struct {
	JaegerEndpoint string
	ServiceName    string
	LogLevel       string
	LogFormat      string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			URL:                 getEnv("DATABASE_URL", ""),
			MaxOpenConns:        getIntEnv("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns:        getIntEnv("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime:     getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime:     getDurationEnv("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			QueryTimeout:        getDurationEnv("DB_QUERY_TIMEOUT", 30*time.Second),
			HealthCheckInterval: getDurationEnv("DB_HEALTH_CHECK_INTERVAL", 30*time.Second),
		},
		Redis: RedisConfig{
			URL:                  getEnv("REDIS_URL", "redis://localhost:6379"),
			Password:             getEnv("REDIS_PASSWORD", ""),
			DB:                   getIntEnv("REDIS_DB", 0),
			PoolSize:             getIntEnv("REDIS_POOL_SIZE", 20),
			MinIdleConns:         getIntEnv("REDIS_MIN_IDLE_CONNS", 5),
			MaxIdleConns:         getIntEnv("REDIS_MAX_IDLE_CONNS", 10),
			PoolTimeout:          getDurationEnv("REDIS_POOL_TIMEOUT", 4*time.Second),
			IdleTimeout:          getDurationEnv("REDIS_IDLE_TIMEOUT", 5*time.Minute),
			MaxRetries:           getIntEnv("REDIS_MAX_RETRIES", 3),
			MinRetryBackoff:      getDurationEnv("REDIS_MIN_RETRY_BACKOFF", 8*time.Millisecond),
			MaxRetryBackoff:      getDurationEnv("REDIS_MAX_RETRY_BACKOFF", 512*time.Millisecond),
			SubmitQueueKey:       getEnv("SUBMIT_QUEUE_KEY", "lob:jobs:submit"),
			CancelQueueKey:       getEnv("CANCEL_QUEUE_KEY", "lob:jobs:cancel"),
			IdempotencyKeyPrefix: getEnv("IDEMPOTENCY_KEY_PREFIX", "lob:idem:"),
		},
		Matching: MatchingConfig{
			Instrument:            getEnv("INSTRUMENT", "BTC-USD"),
			IdempotencyTTL:        time.Duration(getIntEnv("IDEMPOTENCY_TTL_SECONDS", 86400)) * time.Second,
			MatchEpsilon:          getFloatEnv("MATCH_EPSILON", 1e-8),
			QueueConcurrency:      1,
			PriceLevelsDefault:    getIntEnv("PRICE_LEVELS_DEFAULT", 20),
			RecentTradesDefault:   getIntEnv("RECENT_TRADES_DEFAULT", 50),
			EmptyBookMarketPolicy: getEnv("EMPTY_BOOK_MARKET_POLICY", "partially_filled"),
			PopTimeout:            getDurationEnv("QUEUE_POP_TIMEOUT", time.Second),
		},
		Observability: ObservabilityConfig{
			JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "lob-core"),
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Matching.QueueConcurrency != 1 {
		return fmt.Errorf("queue_concurrency is fixed at 1, got %d", c.Matching.QueueConcurrency)
	}
	switch c.Matching.EmptyBookMarketPolicy {
	case "partially_filled", "rejected":
	default:
		return fmt.Errorf("invalid EMPTY_BOOK_MARKET_POLICY %q", c.Matching.EmptyBookMarketPolicy)
	}
	return nil
}

// Helper functions for environment variable parsing.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
