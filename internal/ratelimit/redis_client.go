package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisDisabled is returned by HealthCheck when no Redis is in use
var ErrRedisDisabled = errors.New("redis disabled")

// RedisOptions locates the Redis shared by rate limits and the retrain lease
type RedisOptions struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	PingTimeout time.Duration
}

// RedisClient is the Redis connection shared by the rate limiter and the
// retrain lease. A client that is not enabled makes both fall back to their
// in-process implementations.
type RedisClient struct {
	client *redis.Client
	opts   RedisOptions
}

// NewRedisClient connects to Redis. An empty address is not an error; a
// failed ping returns a disabled client together with the error.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*RedisClient, error) {
	if opts.Addr == "" {
		slog.Debug("Redis not configured, rate limits and leases stay in-process")
		return &RedisClient{opts: opts}, nil
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = 10
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		MaxRetries:   3,
		DialTimeout:  opts.PingTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     opts.PoolSize,
		MinIdleConns: 2,
		PoolTimeout:  4 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return &RedisClient{opts: opts}, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}

	slog.Info("Redis connected", "addr", opts.Addr, "db", opts.DB, "pool_size", opts.PoolSize)
	return &RedisClient{client: client, opts: opts}, nil
}

// GetClient returns the underlying client, nil when disabled
func (r *RedisClient) GetClient() *redis.Client {
	return r.client
}

// IsEnabled reports whether a connected client is in use
func (r *RedisClient) IsEnabled() bool {
	return r != nil && r.client != nil
}

// HealthCheck pings Redis
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	if !r.IsEnabled() {
		return ErrRedisDisabled
	}
	return r.client.Ping(ctx).Err()
}

func (r *RedisClient) Close() error {
	if !r.IsEnabled() {
		return nil
	}
	return r.client.Close()
}

// GetPoolStats reports the connection pool for /health
func (r *RedisClient) GetPoolStats() map[string]interface{} {
	if !r.IsEnabled() {
		return map[string]interface{}{"enabled": false}
	}

	stats := r.client.PoolStats()
	return map[string]interface{}{
		"enabled":     true,
		"addr":        r.opts.Addr,
		"db":          r.opts.DB,
		"pool_size":   r.opts.PoolSize,
		"hits":        stats.Hits,
		"misses":      stats.Misses,
		"timeouts":    stats.Timeouts,
		"total_conns": stats.TotalConns,
		"idle_conns":  stats.IdleConns,
	}
}
