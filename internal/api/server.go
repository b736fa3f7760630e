// Package api wires the HTTP surface: routing, middleware composition,
// request/response shapes, and graceful lifecycle.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/errly-io/errly/internal/api/middleware"
	"github.com/errly-io/errly/internal/apikey"
	"github.com/errly-io/errly/internal/ingest"
	"github.com/errly-io/errly/internal/ratelimit"
)

// HealthChecker is anything that can verify its own backend connectivity
// within the given context.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server assembles the HTTP surface over the ingest core: the auth gate,
// rate limiter, ingest handler, and health endpoint.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	config     ServerConfig
	startTime  time.Time

	keyRegistry middleware.KeyRegistry
	projects    middleware.ProjectResolver
	limiter     ratelimit.Limiter
	ingest      *ingest.Service
	touchQueue  *middleware.TouchQueue

	relational HealthChecker
	columnar   HealthChecker
	cache      HealthChecker
}

// NewServer builds a Server with its middleware chain and routes wired.
// keyRegistry/projects/limiter may be nil only in tests that exercise
// routes not requiring them; in production all three are required.
func NewServer(
	cfg ServerConfig,
	keyRegistry middleware.KeyRegistry,
	projects middleware.ProjectResolver,
	limiter ratelimit.Limiter,
	ingestService *ingest.Service,
	relational, columnar, cache HealthChecker,
) *Server {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	if ingestService == nil {
		logger.Error("ingest service is required - cannot start server without it")
		panic("errly: ingest.Service cannot be nil")
	}

	s := &Server{
		logger:      logger,
		config:      cfg,
		keyRegistry: keyRegistry,
		projects:    projects,
		limiter:     limiter,
		ingest:      ingestService,
		relational:  relational,
		columnar:    columnar,
		cache:       cache,
	}

	if keyRegistry != nil {
		s.touchQueue = middleware.NewTouchQueue(keyRegistry, logger)
		s.touchQueue.Start()
	}

	mux := http.NewServeMux()
	s.setupRoutes(mux)

	if keyRegistry == nil {
		logger.Warn("key registry not configured - auth gate disabled on all routes")
	}

	if limiter == nil {
		logger.Warn("rate limiter not configured - rate limiting disabled on all routes")
	}

	handler := middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithGlobalThrottle(cfg.GlobalRPS, cfg.GlobalBurst, logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.toCORSConfig()),
	)

	s.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// authBucket returns the RateLimit policies for an authenticated endpoint
// class: its primary bucket, keyed by the authenticated key id, plus an
// optional burst check sharing the same identity.
func authBucket(bucket ratelimit.Bucket, limit int, withBurst bool, burstLimit int) []middleware.BucketPolicy {
	const window = time.Minute

	policies := []middleware.BucketPolicy{
		{Bucket: bucket, Limit: limit, Window: window, Identity: middleware.AuthKeyIdentity},
	}

	if withBurst {
		const burstWindow = 10 * time.Second

		policies = append(policies, middleware.BucketPolicy{
			Bucket: ratelimit.BucketBurst, Limit: burstLimit, Window: burstWindow, Identity: middleware.AuthKeyIdentity,
		})
	}

	return policies
}

func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.Handle("POST /api/v1/auth/validate", middleware.Apply(
		http.HandlerFunc(s.handleAuthValidate),
		middleware.WithAuthGate(s.keyRegistry, s.projects, s.touchQueue, s.logger),
		middleware.WithRateLimit(s.limiter, s.logger, authBucket(ratelimit.BucketAPIKey, s.config.APIRPMPerKey, false, 0)...),
	))

	mux.Handle("POST /api/v1/ingest", middleware.Apply(
		http.HandlerFunc(s.handleIngest),
		middleware.WithAuthGate(s.keyRegistry, s.projects, s.touchQueue, s.logger, apikey.ScopeIngest),
		middleware.WithRateLimit(
			s.limiter, s.logger,
			authBucket(ratelimit.BucketIngest, s.config.IngestRPM, true, s.config.BurstSize)...,
		),
	))

	mux.Handle("GET /api/v1/ingest/info", middleware.Apply(
		http.HandlerFunc(s.handleIngestInfo),
		middleware.WithAuthGate(s.keyRegistry, s.projects, s.touchQueue, s.logger, apikey.ScopeIngest),
		middleware.WithRateLimit(s.limiter, s.logger, authBucket(ratelimit.BucketIngest, s.config.IngestRPM, false, 0)...),
	))

	mux.HandleFunc("/", s.handleNotFound)
}

// Start starts the HTTP server and blocks until shutdown, handling SIGINT
// and SIGTERM with a graceful drain.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	s.startTime = time.Now()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("starting errly API server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server failed to start",
				slog.String("address", s.config.Address()),
				slog.String("error", err.Error()),
			)

			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("received shutdown signal", slog.String("signal", sig.String()))

		return s.shutdown()
	}
}

// shutdown stops accepting new connections and gives in-flight requests up
// to ShutdownTimeout to finish before returning.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("initiating server shutdown", slog.Duration("shutdown_timeout", s.config.ShutdownTimeout))

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("server shutdown failed", slog.String("error", err.Error()))

		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if s.touchQueue != nil {
		if err := s.touchQueue.Stop(ctx); err != nil {
			s.logger.Warn("touch queue did not drain before shutdown timeout", slog.String("error", err.Error()))
		}
	}

	s.logger.Info("server shutdown completed successfully")

	return nil
}
