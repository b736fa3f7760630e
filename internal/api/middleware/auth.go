// Package middleware provides HTTP middleware components for the Errly API.
package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/errly-io/errly/internal/apikey"
	"github.com/errly-io/errly/internal/errly"
)

const (
	keyLookupTimeout = 5 * time.Second
	bearerPrefix     = "Bearer "
)

// KeyRegistry is the subset of store.KeyRegistry the auth gate needs.
type KeyRegistry interface {
	GetByHash(ctx context.Context, hash string) (*apikey.Key, error)
	TouchLastUsed(ctx context.Context, id string) error
}

// ProjectResolver is the subset of store.ProjectStore the auth gate needs.
type ProjectResolver interface {
	GetByID(ctx context.Context, id string) (*errly.Project, error)
}

// authContextKey is the context key the auth gate attaches its result
// under.
type authContextKey struct{}

// AuthContext is what AuthGate attaches to the request context on success:
// the validated key and its resolved project.
type AuthContext struct {
	Key     *apikey.Key
	Project *errly.Project
}

// GetAuthContext reads the AuthContext a successful AuthGate attached.
func GetAuthContext(ctx context.Context) (*AuthContext, bool) {
	auth, ok := ctx.Value(authContextKey{}).(*AuthContext)

	return auth, ok
}

// authFailure pairs an HTTP status with the stable symbolic error code
// requires, so writeAuthProblem never has to re-derive one from the other.
type authFailure struct {
	status int
	code   string
	detail string
}

// AuthGate returns middleware implementing the C6 contract: bearer
// parsing, token-format validation, hash lookup, expiry and scope checks,
// and project resolution, in the exact order required so that
// every check happens before any downstream store call. touchQueue must
// not be nil; it receives the key id of every successful check.
func AuthGate(
	registry KeyRegistry,
	projects ProjectResolver,
	touchQueue *TouchQueue,
	logger *slog.Logger,
	requiredScopes ...apikey.Scope,
) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, failure := extractBearerToken(r)
			if failure != nil {
				writeAuthProblem(w, r, logger, failure)

				return
			}

			hash := sha256Hex(token)

			lookupCtx, cancel := context.WithTimeout(r.Context(), keyLookupTimeout)
			key, err := registry.GetByHash(lookupCtx, hash)
			cancel()

			if err != nil {
				writeAuthProblem(w, r, logger, &authFailure{
					status: http.StatusInternalServerError,
					code:   "INTERNAL_ERROR",
					detail: "key lookup failed",
				})

				return
			}

			if key == nil {
				writeAuthProblem(w, r, logger, &authFailure{
					status: http.StatusUnauthorized,
					code:   "INVALID_API_KEY",
					detail: "API key not recognized",
				})

				return
			}

			if key.IsExpired(time.Now()) {
				writeAuthProblem(w, r, logger, &authFailure{
					status: http.StatusUnauthorized,
					code:   "API_KEY_EXPIRED",
					detail: "API key has expired",
				})

				return
			}

			for _, scope := range requiredScopes {
				if !key.HasScope(scope) {
					writeAuthProblem(w, r, logger, &authFailure{
						status: http.StatusForbidden,
						code:   "INSUFFICIENT_SCOPE",
						detail: fmt.Sprintf("missing required scope %q", scope),
					})

					return
				}
			}

			project, err := projects.GetByID(r.Context(), key.ProjectID)
			if err != nil {
				writeAuthProblem(w, r, logger, &authFailure{
					status: http.StatusInternalServerError,
					code:   "INTERNAL_ERROR",
					detail: "project lookup failed",
				})

				return
			}

			if project == nil {
				writeAuthProblem(w, r, logger, &authFailure{
					status: http.StatusUnauthorized,
					code:   "PROJECT_NOT_FOUND",
					detail: "API key references an unknown project",
				})

				return
			}

			ctx := context.WithValue(r.Context(), authContextKey{}, &AuthContext{Key: key, Project: project})

			touchQueue.Enqueue(key.ID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractBearerToken applies the first two checks: header presence then
// token-format validation.
func extractBearerToken(r *http.Request) (string, *authFailure) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", &authFailure{
			status: http.StatusUnauthorized,
			code:   "MISSING_AUTH_HEADER",
			detail: "Authorization header is required",
		}
	}

	if !strings.HasPrefix(header, bearerPrefix) {
		return "", &authFailure{
			status: http.StatusUnauthorized,
			code:   "INVALID_AUTH_FORMAT",
			detail: "Authorization header must use the Bearer scheme",
		}
	}

	token := strings.TrimPrefix(header, bearerPrefix)
	if !apikey.ValidToken(token) {
		return "", &authFailure{
			status: http.StatusUnauthorized,
			code:   "INVALID_API_KEY_FORMAT",
			detail: "API key does not match the expected format",
		}
	}

	return token, nil
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))

	return hex.EncodeToString(sum[:])
}

// writeAuthProblem writes an RFC 7807 problem body. This duplicates the
// shape of api.ProblemDetail rather than importing the api package, which
// imports this one to assemble its middleware chain.
func writeAuthProblem(w http.ResponseWriter, r *http.Request, logger *slog.Logger, f *authFailure) {
	correlationID := GetCorrelationID(r.Context())

	logger.Warn("authentication failed",
		slog.String("code", f.code),
		slog.String("correlation_id", correlationID),
		slog.String("path", r.URL.Path),
	)

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
		Type:          fmt.Sprintf("https://errly.io/problems/%d", f.status),
		Title:         http.StatusText(f.status),
		Status:        f.status,
		Detail:        f.detail,
		Instance:      r.URL.Path,
		Code:          f.code,
		CorrelationID: correlationID,
		Error:         f.detail,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(f.status)

	if err := json.NewEncoder(w).Encode(problem); err != nil {
		logger.Error("failed to encode auth error response", slog.String("error", err.Error()))
	}
}
