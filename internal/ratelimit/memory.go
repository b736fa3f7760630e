package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is an in-memory sliding-window Limiter used for unit tests
// and local development where a Redis instance is not available. It
// implements the exact same windowed semantics as RedisLimiter (remove
// stale entries, count, append, compare) against per-key timestamp slices
// instead of a shared sorted set.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string][]time.Time
}

// NewMemoryLimiter constructs an empty MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{entries: make(map[string][]time.Time)}
}

// Allow implements Limiter.
func (m *MemoryLimiter) Allow(_ context.Context, bucket Bucket, identity string, limit int, window time.Duration) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := redisKey(bucket, identity)
	now := time.Now()
	cutoff := now.Add(-window)

	kept := m.entries[key][:0]
	for _, ts := range m.entries[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	count := len(kept)
	resetAt := now.Add(window)

	// now is appended unconditionally, matching RedisLimiter.Allow's pipelined
	// ZAdd, which executes before the count-vs-limit compare: the count used
	// for the decision is the pre-insert count, but the window state always
	// reflects this request once it reaches the check.
	kept = append(kept, now)
	m.entries[key] = kept

	if count >= limit {
		return Result{Allowed: false, Limit: limit, Remaining: 0, ResetAt: resetAt, RetryAfter: window}
	}

	remaining := limit - len(kept)
	if remaining < 0 {
		remaining = 0
	}

	return Result{Allowed: true, Limit: limit, Remaining: remaining, ResetAt: resetAt}
}
