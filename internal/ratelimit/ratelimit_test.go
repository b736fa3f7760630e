package ratelimit

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestMemoryLimiterAllowsUpToLimitThenDenies(t *testing.T) {
	limiter := NewMemoryLimiter()
	ctx := context.Background()

	limit := 2
	window := time.Minute

	first := limiter.Allow(ctx, BucketIngest, "key-1", limit, window)
	assert.True(t, first.Allowed)
	assert.Equal(t, 1, first.Remaining)

	second := limiter.Allow(ctx, BucketIngest, "key-1", limit, window)
	assert.True(t, second.Allowed)
	assert.Equal(t, 0, second.Remaining)

	third := limiter.Allow(ctx, BucketIngest, "key-1", limit, window)
	assert.False(t, third.Allowed)
	assert.Equal(t, 0, third.Remaining)
	assert.Equal(t, window, third.RetryAfter)
}

func TestMemoryLimiterWindowExpiry(t *testing.T) {
	limiter := NewMemoryLimiter()
	ctx := context.Background()

	window := 50 * time.Millisecond

	assert.True(t, limiter.Allow(ctx, BucketBurst, "key-2", 1, window).Allowed)
	assert.False(t, limiter.Allow(ctx, BucketBurst, "key-2", 1, window).Allowed)

	time.Sleep(window + 20*time.Millisecond)

	assert.True(t, limiter.Allow(ctx, BucketBurst, "key-2", 1, window).Allowed, "window should have reset")
}

func TestMemoryLimiterBucketsAreIndependent(t *testing.T) {
	limiter := NewMemoryLimiter()
	ctx := context.Background()

	assert.True(t, limiter.Allow(ctx, BucketIngest, "same-identity", 1, time.Minute).Allowed)
	assert.False(t, limiter.Allow(ctx, BucketIngest, "same-identity", 1, time.Minute).Allowed)

	// A different bucket for the same identity is an independent counter.
	assert.True(t, limiter.Allow(ctx, BucketAPIKey, "same-identity", 1, time.Minute).Allowed)
}

// TestRedisLimiterFailsOpenOnUnreachableBackend verifies property 8: when
// the shared counter store cannot be reached, the request is allowed rather
// than rejected.
func TestRedisLimiterFailsOpenOnUnreachableBackend(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1", // refused: nothing listens on port 1
		DialTimeout: 50 * time.Millisecond,
	})
	defer func() { _ = client.Close() }()

	logger := slog.New(slog.NewTextHandler(&discardWriter{}, nil))
	limiter := NewRedisLimiter(client, logger)

	result := limiter.Allow(context.Background(), BucketIngest, "any-key", 1, time.Minute)
	assert.True(t, result.Allowed, "limiter must fail open when the backend is unreachable")
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
