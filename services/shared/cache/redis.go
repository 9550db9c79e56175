// Package cache provides a Redis client wrapper for one-time state tracking and
// rate limiting.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Config holds Redis client configuration.
type Config struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Address:      "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MaxRetries:   3,
		KeyPrefix:    "ghlogin:",
	}
}

// Client wraps the Redis client with additional functionality.
type Client struct {
	client    *redis.Client
	keyPrefix string
}

// New creates a new Redis client and verifies the connection.
func New(cfg Config) (*Client, error) {
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 10
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 3 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 3 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Client) prefixKey(key string) string {
	return c.keyPrefix + key
}

// --- String Operations ---

// SetNX sets a value only if the key doesn't exist. It reports whether the
// value was written.
func (c *Client) SetNX(ctx context.Context, key, value string, expiration time.Duration) (bool, error) {
	return c.client.SetNX(ctx, c.prefixKey(key), value, expiration).Result()
}

// --- Rate Limiting ---

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Key    string
	Limit  int64
	Window time.Duration
}

// RateLimitKey builds the key used for a sliding window counter.
func RateLimitKey(key string) string {
	return "ratelimit:" + key
}

// slidingWindow prunes, counts and conditionally records a request in one
// step. Scores are microseconds and are passed as strings so Lua never
// rounds them. Returns {allowed, count, oldest score}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[2])
local count = redis.call('ZCARD', key)
local allowed = 0
if count < tonumber(ARGV[3]) then
	redis.call('ZADD', key, ARGV[1], ARGV[4])
	redis.call('PEXPIRE', key, ARGV[5])
	allowed = 1
	count = count + 1
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local score = ARGV[1]
if #oldest > 0 then
	score = oldest[2]
end
return {allowed, count, score}
`)

// CheckRateLimit checks if a request is within rate limits using a sliding
// window stored in a sorted set. The check and the insert are atomic.
func (c *Client) CheckRateLimit(ctx context.Context, cfg RateLimitConfig) (allowed bool, remaining int64, resetAt time.Time, err error) {
	now := time.Now()
	key := c.prefixKey(RateLimitKey(cfg.Key))
	ttl := cfg.Window + time.Minute

	res, err := slidingWindow.Run(ctx, c.client, []string{key},
		strconv.FormatInt(now.UnixMicro(), 10),
		strconv.FormatInt(now.Add(-cfg.Window).UnixMicro(), 10),
		cfg.Limit,
		uuid.NewString(),
		ttl.Milliseconds(),
	).Slice()
	if err != nil {
		return false, 0, time.Time{}, err
	}
	if len(res) != 3 {
		return false, 0, time.Time{}, fmt.Errorf("unexpected rate limit reply: %v", res)
	}

	ok, _ := res[0].(int64)
	count, _ := res[1].(int64)
	oldest, err := strconv.ParseFloat(fmt.Sprint(res[2]), 64)
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("parsing rate limit score: %w", err)
	}

	remaining = cfg.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	resetAt = time.UnixMicro(int64(oldest)).Add(cfg.Window)

	return ok == 1, remaining, resetAt, nil
}

// PoolStats returns connection pool statistics.
func (c *Client) PoolStats() *redis.PoolStats {
	return c.client.PoolStats()
}

// PoolDetails summarizes the connection pool for health reports.
func (c *Client) PoolDetails() map[string]any {
	s := c.PoolStats()
	return map[string]any{
		"total_conns": s.TotalConns,
		"idle_conns":  s.IdleConns,
		"stale_conns": s.StaleConns,
		"hits":        s.Hits,
		"misses":      s.Misses,
		"timeouts":    s.Timeouts,
	}
}
