// Package main provides the Errly error-tracking ingest service: the
// authenticated HTTP surface that accepts error events, fingerprints and
// deduplicates them, and maintains per-issue aggregates.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/errly-io/errly/internal/api"
	"github.com/errly-io/errly/internal/ingest"
	"github.com/errly-io/errly/internal/ratelimit"
	"github.com/errly-io/errly/internal/store"
)

const (
	version = "0.1.0-dev"
	name    = "errly"

	redisPingTimeout = 5 * time.Second
)

// redisHealthChecker adapts a *redis.Client to api.HealthChecker.
type redisHealthChecker struct {
	client *redis.Client
}

func (r *redisHealthChecker) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	cfg := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	logger.Info("starting errly service", slog.String("service", name), slog.String("version", version))

	conn, err := store.NewConnection(&store.Config{DatabaseURL: cfg.PostgresURL})
	if err != nil {
		logger.Error("failed to connect to postgres", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer conn.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("invalid REDIS_URL", slog.String("error", err.Error()))
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	pingErr := redisClient.Ping(pingCtx).Err()
	cancel()

	if pingErr != nil {
		logger.Error("failed to connect to redis", slog.String("error", pingErr.Error()))
		os.Exit(1)
	}

	keyRegistry := store.NewPostgresKeyRegistry(conn, logger)
	projects := store.NewPostgresProjectStore(conn)
	events := store.NewPostgresEventStore(conn)
	issues := store.NewPostgresIssueStore(conn)
	limiter := ratelimit.NewRedisLimiter(redisClient, logger)
	ingestService := ingest.NewService(events, issues, logger)

	server := api.NewServer(
		cfg,
		keyRegistry,
		projects,
		limiter,
		ingestService,
		conn, conn, &redisHealthChecker{client: redisClient},
	)

	if err := server.Start(); err != nil {
		logger.Error("server failed to start", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("errly service stopped")
}
