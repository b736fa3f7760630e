// Package ratelimit implements sliding-window rate limiting against a
// shared key-value store (Redis-compatible). Each bucket maintains a sorted
// set whose members are request timestamps in nanoseconds; a check removes
// entries older than the window, reads the count, appends now, and refreshes
// the key TTL, in a single pipelined round trip.
//
// If the backing store itself errors (timeout, connection refused), the
// limiter fails open: the request is allowed and the error is logged. This
// is a deliberate availability trade — the ingestion path must survive a
// caching outage.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Bucket names the rate-limit policy applied to a request.
type Bucket string

const (
	BucketAPIKey Bucket = "api_key"
	BucketIngest Bucket = "ingest"
	BucketBurst  Bucket = "burst"
	BucketIP     Bucket = "ip"
)

// Result carries the outcome of a rate-limit check, including the header
// values the caller must emit regardless of allow/deny.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time // unix seconds boundary of window end
	RetryAfter time.Duration
}

// Limiter checks and records a single request against a named bucket for a
// given identity (api key id, ip address, ...).
type Limiter interface {
	Allow(ctx context.Context, bucket Bucket, identity string, limit int, window time.Duration) Result
}

// RedisLimiter is the production Limiter backed by a shared Redis instance.
type RedisLimiter struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisLimiter constructs a RedisLimiter. client must not be nil.
func NewRedisLimiter(client *redis.Client, logger *slog.Logger) *RedisLimiter {
	return &RedisLimiter{client: client, logger: logger}
}

// ttlGrace is added to the window when refreshing a bucket key's TTL, so a
// key that goes idle is reclaimed shortly after its window naturally empties
// rather than lingering indefinitely.
const ttlGrace = time.Minute

// Allow performs the sliding-window check described in the package doc.
// On any Redis error, the request is allowed and the error is logged
// (fail-open policy).
func (l *RedisLimiter) Allow(
	ctx context.Context,
	bucket Bucket,
	identity string,
	limit int,
	window time.Duration,
) Result {
	key := redisKey(bucket, identity)
	now := time.Now()
	nowNanos := now.UnixNano()
	windowStart := nowNanos - window.Nanoseconds()

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", windowStart))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(nowNanos), Member: nowNanos})
	pipe.Expire(ctx, key, window+ttlGrace)

	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Warn("rate limiter backend unreachable, failing open",
			slog.String("bucket", string(bucket)),
			slog.String("identity", identity),
			slog.String("error", err.Error()),
		)

		return Result{Allowed: true, Limit: limit, Remaining: limit}
	}

	countBeforeInsert := int(countCmd.Val())
	resetAt := now.Add(window)

	if countBeforeInsert >= limit {
		return Result{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: window,
		}
	}

	remaining := limit - countBeforeInsert - 1
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

func redisKey(bucket Bucket, identity string) string {
	return "rate_limit:" + string(bucket) + ":" + identity
}
