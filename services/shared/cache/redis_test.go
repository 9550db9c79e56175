package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "localhost:6379", cfg.Address)
	assert.Equal(t, "ghlogin:", cfg.KeyPrefix)
	assert.Equal(t, 10, cfg.PoolSize)
}

func TestNew_UnreachableServer(t *testing.T) {
	client, err := New(Config{
		Address:     "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})

	require.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
}

func TestPrefixKey(t *testing.T) {
	c := &Client{keyPrefix: "ghlogin:"}

	assert.Equal(t, "ghlogin:state:abc", c.prefixKey("state:abc"))
	assert.Equal(t, "ghlogin:ratelimit:1.2.3.4", c.prefixKey(RateLimitKey("1.2.3.4")))
}

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	c, err := New(Config{Address: mr.Addr(), KeyPrefix: "test:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return c, mr
}

func TestCheckRateLimit_SlidingWindow(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	cfg := RateLimitConfig{Key: "1.2.3.4", Limit: 3, Window: time.Minute}

	first := time.Now()
	for i := int64(1); i <= cfg.Limit; i++ {
		allowed, remaining, _, err := c.CheckRateLimit(ctx, cfg)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d", i)
		assert.Equal(t, cfg.Limit-i, remaining)
	}

	allowed, remaining, resetAt, err := c.CheckRateLimit(ctx, cfg)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Zero(t, remaining)
	assert.WithinDuration(t, first.Add(cfg.Window), resetAt, time.Second, "reset follows the oldest entry")

	key := "test:ratelimit:1.2.3.4"
	assert.True(t, mr.Exists(key))
	members, err := mr.ZMembers(key)
	require.NoError(t, err)
	assert.Len(t, members, int(cfg.Limit), "denied requests are not recorded")
	assert.Greater(t, mr.TTL(key), cfg.Window)

	other, _, _, err := c.CheckRateLimit(ctx, RateLimitConfig{Key: "5.6.7.8", Limit: 3, Window: time.Minute})
	require.NoError(t, err)
	assert.True(t, other, "clients are limited independently")
}

func TestCheckRateLimit_PrunesExpiredEntries(t *testing.T) {
	c, mr := newTestClient(t)
	key := "test:ratelimit:1.2.3.4"

	stale := float64(time.Now().Add(-2 * time.Minute).UnixMicro())
	_, err := mr.ZAdd(key, stale, "stale")
	require.NoError(t, err)

	allowed, remaining, _, err := c.CheckRateLimit(context.Background(), RateLimitConfig{Key: "1.2.3.4", Limit: 1, Window: time.Minute})
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Zero(t, remaining)

	members, err := mr.ZMembers(key)
	require.NoError(t, err)
	assert.NotContains(t, members, "stale")
	assert.Len(t, members, 1)
}

func TestCheckRateLimit_ServerDown(t *testing.T) {
	c, mr := newTestClient(t)
	mr.Close()

	_, _, _, err := c.CheckRateLimit(context.Background(), RateLimitConfig{Key: "k", Limit: 1, Window: time.Minute})
	assert.Error(t, err)
}

func TestSetNX(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "state:abc", "1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(ctx, "state:abc", "1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second write loses")

	assert.True(t, mr.Exists("test:state:abc"))
	assert.Equal(t, time.Minute, mr.TTL("test:state:abc"))

	mr.FastForward(2 * time.Minute)
	ok, err = c.SetNX(ctx, "state:abc", "1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired keys can be written again")
}

func TestPoolDetails(t *testing.T) {
	c, _ := newTestClient(t)
	require.NoError(t, c.Ping(context.Background()))

	details := c.PoolDetails()
	assert.Contains(t, details, "total_conns")
	assert.Contains(t, details, "idle_conns")
	assert.GreaterOrEqual(t, details["total_conns"], uint32(1))
}
