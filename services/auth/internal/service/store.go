package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// StateCache is the subset of the Redis client used to track states.
type StateCache interface {
	SetNX(ctx context.Context, key, value string, expiration time.Duration) (bool, error)
}

// RedisStateStore records validated states so each one is exchanged once
// even if the browser replays the callback with the old cookie.
type RedisStateStore struct {
	cache StateCache
	ttl   time.Duration
}

// NewRedisStateStore creates a state store. Entries expire after ttl.
func NewRedisStateStore(cache StateCache, ttl time.Duration) *RedisStateStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisStateStore{cache: cache, ttl: ttl}
}

// Consume marks state as used. It reports false when the state was already
// consumed.
func (s *RedisStateStore) Consume(ctx context.Context, state string) (bool, error) {
	return s.cache.SetNX(ctx, stateKey(state), "1", s.ttl)
}

// stateKey hashes the state so raw values never sit in Redis.
func stateKey(state string) string {
	sum := sha256.Sum256([]byte(state))
	return "state:" + hex.EncodeToString(sum[:])
}
