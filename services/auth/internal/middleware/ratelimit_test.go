package middleware

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carlossalguero/ghlogin/services/shared/cache"
	"github.com/carlossalguero/ghlogin/services/shared/logger"
)

type countingMetrics struct {
	hits, drops int
}

func (m *countingMetrics) RecordRateLimitHit(string)  { m.hits++ }
func (m *countingMetrics) RecordRateLimitDrop(string) { m.drops++ }

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour, 2)
	t.Cleanup(rl.Stop)

	for i := 0; i < 2; i++ {
		ok, _, err := rl.Allow(context.Background(), "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, retry, err := rl.Allow(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Greater(t, retry, time.Duration(0))

	other, _, _ := rl.Allow(context.Background(), "5.6.7.8")
	assert.True(t, other, "clients are limited independently")
}

func TestRateLimiter_Evict(t *testing.T) {
	rl := NewRateLimiter(10, time.Second, 1)
	t.Cleanup(rl.Stop)

	_, _, _ = rl.Allow(context.Background(), "a")
	require.Equal(t, 1, rl.Len())

	rl.evict(time.Now().Add(time.Minute))
	assert.Zero(t, rl.Len())
	rl.Stop()
}

type fakeWindow struct {
	allowed bool
	resetAt time.Time
	err     error
	got     cache.RateLimitConfig
}

func (f *fakeWindow) CheckRateLimit(_ context.Context, cfg cache.RateLimitConfig) (bool, int64, time.Time, error) {
	f.got = cfg
	return f.allowed, 0, f.resetAt, f.err
}

func TestRedisLimiter(t *testing.T) {
	store := &fakeWindow{allowed: false, resetAt: time.Now().Add(30 * time.Second)}
	l := NewRedisLimiter(store, 5, time.Minute)

	ok, retry, err := l.Allow(context.Background(), "1.2.3.4")

	require.NoError(t, err)
	assert.False(t, ok)
	assert.InDelta(t, 30*time.Second, retry, float64(time.Second))
	assert.Equal(t, cache.RateLimitConfig{Key: "1.2.3.4", Limit: 5, Window: time.Minute}, store.got)
}

func TestRateLimit_Middleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour, 1)
	t.Cleanup(rl.Stop)
	m := &countingMetrics{}

	h := RateLimit(RateLimitConfig{Limiter: rl, Metrics: m, Logger: logger.Discard()})(okHandler())

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/state", nil))

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Equal(t, 2, m.hits)
	assert.Equal(t, 1, m.drops)
}

func TestRateLimit_FailsOpen(t *testing.T) {
	l := NewRedisLimiter(&fakeWindow{err: stderrors.New("redis down")}, 1, time.Minute)
	h := RateLimit(RateLimitConfig{Limiter: l, Logger: logger.Discard()})(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/state", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.2")

	assert.Equal(t, "10.0.0.1", getClientIP(req, false))
	assert.Equal(t, "203.0.113.9", getClientIP(req, true))

	req.Header.Del("X-Forwarded-For")
	req.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", getClientIP(req, true))
}
