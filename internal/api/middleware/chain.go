// Package middleware provides HTTP middleware components for the Errly API.
package middleware

import (
	"log/slog"
	"net/http"

	"github.com/errly-io/errly/internal/apikey"
	"github.com/errly-io/errly/internal/ratelimit"
)

type (
	// Option is a function that applies middleware to a handler.
	Option func(http.Handler) http.Handler
)

// Apply applies a chain of middleware options to a base handler.
// The first option becomes the outermost middleware, so it sees the request
// first; the last option wraps the base handler directly.
//
// Example:
//
//	handler := middleware.Apply(mux,
//	    middleware.WithCorrelationID(),
//	    middleware.WithRecovery(logger),
//	    middleware.WithAuthGate(registry, projects, touchQueue, logger),
//	    middleware.WithRateLimit(limiter, logger),
//	    middleware.WithRequestLogger(logger),
//	    middleware.WithCORS(corsConfig),
//	)
func Apply(handler http.Handler, options ...Option) http.Handler {
	// Apply middleware in reverse order so that the first option
	// becomes the outermost middleware in the chain
	for i := len(options) - 1; i >= 0; i-- {
		handler = options[i](handler)
	}

	return handler
}

// WithCorrelationID returns an option that adds correlation ID middleware.
func WithCorrelationID() Option {
	return func(next http.Handler) http.Handler {
		return CorrelationID()(next)
	}
}

// WithRecovery returns an option that adds panic recovery middleware.
func WithRecovery(logger *slog.Logger) Option {
	return func(next http.Handler) http.Handler {
		return Recovery(logger)(next)
	}
}

// WithAuthGate returns an option that adds the C6 authentication gate,
// requiring the given scopes. If registry is nil, this option is a no-op
// (NewServer is given a nil registry only by tests).
func WithAuthGate(
	registry KeyRegistry,
	projects ProjectResolver,
	touchQueue *TouchQueue,
	logger *slog.Logger,
	scopes ...apikey.Scope,
) Option {
	if registry == nil {
		return func(next http.Handler) http.Handler {
			return next // No-op if registry not configured
		}
	}

	return func(next http.Handler) http.Handler {
		return AuthGate(registry, projects, touchQueue, logger, scopes...)(next)
	}
}

// WithRateLimit returns an option that adds rate-limiting middleware.
// If limiter is nil or no policies are given, this option is a no-op.
func WithRateLimit(limiter ratelimit.Limiter, logger *slog.Logger, policies ...BucketPolicy) Option {
	if limiter == nil || len(policies) == 0 {
		return func(next http.Handler) http.Handler {
			return next // No-op if limiter not configured
		}
	}

	return func(next http.Handler) http.Handler {
		return RateLimit(limiter, logger, policies...)(next)
	}
}

// WithRequestLogger returns an option that adds request logging middleware.
func WithRequestLogger(logger *slog.Logger) Option {
	return func(next http.Handler) http.Handler {
		return RequestLogger(logger)(next)
	}
}

// WithCORS returns an option that adds CORS middleware.
func WithCORS(config CORSConfig) Option {
	return func(next http.Handler) http.Handler {
		return CORS(config)(next)
	}
}
