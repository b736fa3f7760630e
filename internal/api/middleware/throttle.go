package middleware

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"
)

// GlobalThrottle returns middleware enforcing a single process-wide token
// bucket ahead of the per-key rate limiter. It exists to shed load before
// an outage in the shared counter store could let an unbounded burst
// through the per-key checks; it is not a substitute for them.
func GlobalThrottle(rps int, burst int, logger *slog.Logger) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeThrottled(w, r, logger)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// WithGlobalThrottle returns an option wrapping GlobalThrottle. rps <= 0
// disables it (used in tests and any deployment that relies solely on the
// per-key limiter).
func WithGlobalThrottle(rps int, burst int, logger *slog.Logger) Option {
	if rps <= 0 {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return func(next http.Handler) http.Handler {
		return GlobalThrottle(rps, burst, logger)(next)
	}
}

func writeThrottled(w http.ResponseWriter, r *http.Request, logger *slog.Logger) {
	correlationID := GetCorrelationID(r.Context())

	problem := struct {
		Type          string `json:"type"`
		Title         string `json:"title"`
		Status        int    `json:"status"`
		Detail        string `json:"detail"`
		Instance      string `json:"instance"`
		Code          string `json:"code"`
		CorrelationID string `json:"correlation_id"` //nolint: tagliatelle
		Error         string `json:"error"`
	}{
		Type:          fmt.Sprintf("https://errly.io/problems/%d", http.StatusServiceUnavailable),
		Title:         "Service Unavailable",
		Status:        http.StatusServiceUnavailable,
		Detail:        "server is under heavy load, try again shortly",
		Instance:      r.URL.Path,
		Code:          "SERVICE_UNAVAILABLE",
		CorrelationID: correlationID,
		Error:         "server is under heavy load, try again shortly",
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusServiceUnavailable)

	if err := json.NewEncoder(w).Encode(problem); err != nil {
		logger.Error("failed to encode throttle response", slog.String("error", err.Error()))
	}
}
