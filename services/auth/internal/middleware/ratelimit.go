package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/carlossalguero/ghlogin/services/shared/cache"
	"github.com/carlossalguero/ghlogin/services/shared/errors"
	"github.com/carlossalguero/ghlogin/services/shared/logger"
)

// Limiter decides whether a client may make another request.
type Limiter interface {
	// Allow reports whether the request is allowed and, if not, how long the
	// client should wait.
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

// RateLimitMetrics receives rate limit decisions.
type RateLimitMetrics interface {
	RecordRateLimitHit(path string)
	RecordRateLimitDrop(path string)
}

// RateLimiter implements a per-client token bucket held in memory.
type RateLimiter struct {
	mu           sync.Mutex
	limiters     map[string]*clientLimiter
	rate         rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
	stopCleanup  chan struct{}
	stopOnce     sync.Once
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter that refills requests tokens per window.
func NewRateLimiter(requests int, window time.Duration, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	rl := &RateLimiter{
		limiters:     make(map[string]*clientLimiter),
		rate:         rate.Limit(float64(requests) / window.Seconds()),
		burst:        burst,
		idleTTL:      3 * window,
		cleanupEvery: time.Minute,
		stopCleanup:  make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Allow implements Limiter.
func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	now := time.Now()

	rl.mu.Lock()
	cl, exists := rl.limiters[key]
	if !exists {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = cl
	}
	cl.lastSeen = now
	rl.mu.Unlock()

	res := cl.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second, nil
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay, nil
	}
	return true, 0, nil
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.cleanupEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evict(time.Now())
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *RateLimiter) evict(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, cl := range rl.limiters {
		if now.Sub(cl.lastSeen) > rl.idleTTL {
			delete(rl.limiters, key)
		}
	}
}

// Stop stops the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

// SlidingWindowStore is the subset of the Redis client used for limiting.
type SlidingWindowStore interface {
	CheckRateLimit(ctx context.Context, cfg cache.RateLimitConfig) (bool, int64, time.Time, error)
}

// RedisLimiter shares a sliding window across replicas.
type RedisLimiter struct {
	store  SlidingWindowStore
	limit  int64
	window time.Duration
}

// NewRedisLimiter creates a limiter backed by a Redis sorted set.
func NewRedisLimiter(store SlidingWindowStore, requests int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{store: store, limit: int64(requests), window: window}
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	allowed, _, resetAt, err := l.store.CheckRateLimit(ctx, cache.RateLimitConfig{
		Key:    key,
		Limit:  l.limit,
		Window: l.window,
	})
	if err != nil {
		return false, 0, err
	}
	if allowed {
		return true, 0, nil
	}
	return false, time.Until(resetAt), nil
}

// RateLimitConfig configures the rate limiting middleware.
type RateLimitConfig struct {
	Limiter Limiter
	Metrics RateLimitMetrics
	Logger  *logger.Logger

	// TrustProxy makes X-Forwarded-For and X-Real-IP identify the client.
	TrustProxy bool

	// PathLabel resolves the metrics label for a request.
	PathLabel func(r *http.Request) string
}

// RateLimit returns middleware that rejects clients over their limit with
// 429. Limiter errors let the request through.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	pathLabel := cfg.PathLabel
	if pathLabel == nil {
		pathLabel = func(r *http.Request) string { return r.URL.Path }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := pathLabel(r)
			if cfg.Metrics != nil {
				cfg.Metrics.RecordRateLimitHit(path)
			}

			allowed, retryAfter, err := cfg.Limiter.Allow(r.Context(), getClientIP(r, cfg.TrustProxy))
			if err != nil {
				log.WarnContext(r.Context(), "rate limiter unavailable", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				if cfg.Metrics != nil {
					cfg.Metrics.RecordRateLimitDrop(path)
				}
				writeRateLimitError(w, retryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func getClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func writeRateLimitError(w http.ResponseWriter, retryAfter time.Duration) {
	err := errors.RateLimited("Too many requests")

	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	http.Error(w, err.Message, err.HTTPStatusCode())
}
