package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"signaling-core/pkg/metrics"
)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// RedisDB wraps the Redis client used for call fan-out. When a health check
// fails the client enters degraded mode and publishes are skipped until
// Redis answers again.
type RedisDB struct {
	Client *redis.Client

	mu       sync.RWMutex
	degraded bool
}

// NewRedisDB creates a new Redis client and pings it once
func NewRedisDB(ctx context.Context, config *RedisConfig) (*RedisDB, error) {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		MaxRetries:   3,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisDB{Client: client}, nil
}

// NewRedisDBFromClient wraps an existing client without pinging it
func NewRedisDBFromClient(client *redis.Client) *RedisDB {
	return &RedisDB{Client: client}
}

// Close closes the Redis connection
func (db *RedisDB) Close() error {
	return db.Client.Close()
}

// Ping tests the Redis connection
func (db *RedisDB) Ping(ctx context.Context) error {
	return db.Client.Ping(ctx).Err()
}

// IsDegraded reports whether the last health check failed
func (db *RedisDB) IsDegraded() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.degraded
}

func (db *RedisDB) setDegraded(degraded bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.degraded = degraded
	if degraded {
		metrics.RedisDegradedMode.Set(1)
	} else {
		metrics.RedisDegradedMode.Set(0)
	}
}

// HealthCheck pings Redis and updates degraded mode
func (db *RedisDB) HealthCheck(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	metrics.RedisHealthChecksTotal.Inc()
	if err := db.Client.Ping(healthCtx).Err(); err != nil {
		db.setDegraded(true)
		return fmt.Errorf("redis health check failed: %w", err)
	}
	db.setDegraded(false)
	return nil
}

// StartHealthCheck runs HealthCheck every interval until ctx is done
func (db *RedisDB) StartHealthCheck(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = db.HealthCheck(ctx)
			}
		}
	}()
}

// Publish publishes a message unless Redis is degraded
func (db *RedisDB) Publish(ctx context.Context, channel string, message interface{}) error {
	if db.IsDegraded() {
		return fmt.Errorf("redis is in degraded mode, publish to %s skipped", channel)
	}
	return db.Client.Publish(ctx, channel, message).Err()
}

// Subscribe subscribes to channels
func (db *RedisDB) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return db.Client.Subscribe(ctx, channels...)
}
