package middleware

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/errly-io/errly/internal/ratelimit"
)

// BucketPolicy binds one rate-limit bucket to this request: which counter
// to check, its limit and window, and how to derive the identity the
// counter is keyed on (api key id, ip address, ...).
type BucketPolicy struct {
	Bucket   ratelimit.Bucket
	Limit    int
	Window   time.Duration
	Identity func(r *http.Request) string
}

// RateLimit returns middleware that checks every policy in order and fails
// the request on the first one that denies it. Headers are emitted from
// the first policy — each endpoint class names exactly one
// primary bucket (ingest, api_key, or ip), with burst as an optional
// secondary check. A request the secondary allows carries the primary's
// headers; a request the secondary denies carries the secondary's.
func RateLimit(limiter ratelimit.Limiter, logger *slog.Logger, policies ...BucketPolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(policies) == 0 {
				next.ServeHTTP(w, r)

				return
			}

			primary := policies[0]
			identity := primary.Identity(r)
			result := limiter.Allow(r.Context(), primary.Bucket, identity, primary.Limit, primary.Window)

			setRateLimitHeaders(w, result)

			if !result.Allowed {
				writeRateLimitExceeded(w, r, logger, result)

				return
			}

			for _, policy := range policies[1:] {
				id := policy.Identity(r)
				secondary := limiter.Allow(r.Context(), policy.Bucket, id, policy.Limit, policy.Window)

				if !secondary.Allowed {
					setRateLimitHeaders(w, secondary)
					writeRateLimitExceeded(w, r, logger, secondary)

					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func setRateLimitHeaders(w http.ResponseWriter, result ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

	if !result.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
	}
}

// writeRateLimitExceeded writes the 429 problem body, including the
// limit/window/reset_time fields added to the error envelope for
// rate-limit responses specifically.
func writeRateLimitExceeded(w http.ResponseWriter, r *http.Request, logger *slog.Logger, result ratelimit.Result) {
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
		Limit         int    `json:"limit"`
		Window        int    `json:"window"`
		ResetTime     int64  `json:"reset_time"`
	}{
		Type:          fmt.Sprintf("https://errly.io/problems/%d", http.StatusTooManyRequests),
		Title:         "Too Many Requests",
		Status:        http.StatusTooManyRequests,
		Detail:        "rate limit exceeded",
		Instance:      r.URL.Path,
		Code:          "RATE_LIMIT_EXCEEDED",
		CorrelationID: correlationID,
		Error:         "rate limit exceeded",
		Limit:         result.Limit,
		Window:        int(result.RetryAfter.Seconds()),
		ResetTime:     result.ResetAt.Unix(),
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusTooManyRequests)

	if err := json.NewEncoder(w).Encode(problem); err != nil {
		logger.Error("failed to encode rate limit error response", slog.String("error", err.Error()))
	}
}

// RemoteAddrIdentity returns the request's RemoteAddr unchanged (host and
// port) as the identity for the ip bucket.
func RemoteAddrIdentity(r *http.Request) string {
	return r.RemoteAddr
}

// AuthKeyIdentity extracts the authenticated key id for the api_key and
// ingest buckets; it must run after AuthGate in the chain.
func AuthKeyIdentity(r *http.Request) string {
	auth, ok := GetAuthContext(r.Context())
	if !ok || auth.Key == nil {
		return RemoteAddrIdentity(r)
	}

	return auth.Key.ID
}
