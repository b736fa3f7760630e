//go:build integration

package ratelimit_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/errly-io/errly/internal/config"
	"github.com/errly-io/errly/internal/ratelimit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T) *ratelimit.RedisLimiter {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testRedis := config.SetupTestRedis(ctx, t)

	t.Cleanup(func() {
		_ = config.TerminateTestRedis(ctx, testRedis)
	})

	opts, err := redis.ParseURL(testRedis.Addr)
	require.NoError(t, err, "failed to parse redis connection string")

	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Ping(ctx).Err(), "redis container not reachable")

	return ratelimit.NewRedisLimiter(client, testLogger())
}

// TestRedisLimiterAllowsUpToLimitThenDenies exercises the real sliding-window
// pipeline against a live Redis container: remove expired, count, append,
// refresh TTL, in one round trip.
func TestRedisLimiterAllowsUpToLimitThenDenies(t *testing.T) {
	limiter := setup(t)
	ctx := context.Background()

	limit := 2
	window := time.Minute

	first := limiter.Allow(ctx, ratelimit.BucketIngest, "key-1", limit, window)
	require.True(t, first.Allowed)
	require.Equal(t, 1, first.Remaining)

	second := limiter.Allow(ctx, ratelimit.BucketIngest, "key-1", limit, window)
	require.True(t, second.Allowed)
	require.Equal(t, 0, second.Remaining)

	third := limiter.Allow(ctx, ratelimit.BucketIngest, "key-1", limit, window)
	require.False(t, third.Allowed)
	require.Equal(t, 0, third.Remaining)
	require.Equal(t, window, third.RetryAfter)
}

// TestRedisLimiterWindowExpiry verifies that entries older than the window
// are pruned by ZRemRangeByScore on the next check, so a key resets once its
// window naturally empties.
func TestRedisLimiterWindowExpiry(t *testing.T) {
	limiter := setup(t)
	ctx := context.Background()

	window := 200 * time.Millisecond

	require.True(t, limiter.Allow(ctx, ratelimit.BucketBurst, "key-2", 1, window).Allowed)
	require.False(t, limiter.Allow(ctx, ratelimit.BucketBurst, "key-2", 1, window).Allowed)

	time.Sleep(window + 50*time.Millisecond)

	require.True(t, limiter.Allow(ctx, ratelimit.BucketBurst, "key-2", 1, window).Allowed, "window should have reset")
}

// TestRedisLimiterBucketsAreIndependent confirms separate buckets for the
// same identity don't share a sorted set key.
func TestRedisLimiterBucketsAreIndependent(t *testing.T) {
	limiter := setup(t)
	ctx := context.Background()

	require.True(t, limiter.Allow(ctx, ratelimit.BucketIngest, "same-identity", 1, time.Minute).Allowed)
	require.False(t, limiter.Allow(ctx, ratelimit.BucketIngest, "same-identity", 1, time.Minute).Allowed)

	require.True(t, limiter.Allow(ctx, ratelimit.BucketAPIKey, "same-identity", 1, time.Minute).Allowed)
}
