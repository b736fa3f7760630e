package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// TestRedis encapsulates a disposable Redis container for rate-limiter integration tests.
type TestRedis struct {
	Container *tcredis.RedisContainer
	Addr      string
}

// SetupTestRedis starts a Redis 7 container and returns its connection address.
//
// Cleanup is the caller's responsibility using t.Cleanup().
func SetupTestRedis(ctx context.Context, t *testing.T) *TestRedis {
	t.Helper()

	redisContainer, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err, "Failed to start redis container")
	require.NotNil(t, redisContainer, "redis container is nil")

	connStr, err := redisContainer.ConnectionString(ctx)
	require.NoError(t, err, "Failed to get redis connection string")

	return &TestRedis{
		Container: redisContainer,
		Addr:      connStr,
	}
}

// TerminateTestRedis is a best-effort cleanup helper mirroring testcontainers.TerminateContainer.
func TerminateTestRedis(ctx context.Context, tr *TestRedis) error {
	if tr == nil || tr.Container == nil {
		return nil
	}

	return testcontainers.TerminateContainer(tr.Container)
}
