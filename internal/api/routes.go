package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/errly-io/errly/internal/api/middleware"
	"github.com/errly-io/errly/internal/ingest"
)

const (
	healthCheckTimeout = 2 * time.Second
	maxIngestBodyBytes = 1 << 20 // 1 MiB, generous for a 100-event batch
)

type (
	// healthResponse is the /health body: overall status plus per-store detail.
	healthResponse struct {
		Status string                  `json:"status"`
		Stores map[string]healthDetail `json:"stores"`
	}

	healthDetail struct {
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	}

	// authValidateResponse is the POST /api/v1/auth/validate body.
	authValidateResponse struct {
		Project authValidateProject `json:"project"`
		Key     authValidateKey     `json:"key"`
	}

	authValidateProject struct {
		ID       string `json:"id"`
		Slug     string `json:"slug"`
		Platform string `json:"platform"`
	}

	authValidateKey struct {
		ID        string   `json:"id"`
		KeyPrefix string   `json:"key_prefix"` //nolint: tagliatelle
		Scopes    []string `json:"scopes"`
	}

	// ingestResponse is the POST /api/v1/ingest success body.
	ingestResponse struct {
		Accepted int `json:"accepted"`
	}
)

// handleHealth pings every configured backing store with a bounded timeout
// and reports 200 unless one of them fails, in which case it reports 503,
// with the per-store detail included either way. A nil checker is reported
// as "unconfigured" and does not fail the check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	stores := map[string]HealthChecker{
		"relational": s.relational,
		"columnar":   s.columnar,
		"cache":      s.cache,
	}

	detail := make(map[string]healthDetail, len(stores))
	healthy := true

	for name, checker := range stores {
		if checker == nil {
			detail[name] = healthDetail{Status: "unconfigured"}

			continue
		}

		if err := checker.HealthCheck(ctx); err != nil {
			detail[name] = healthDetail{Status: "unhealthy", Error: err.Error()}
			healthy = false

			continue
		}

		detail[name] = healthDetail{Status: "healthy"}
	}

	status := http.StatusOK
	overall := "healthy"

	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}

	s.writeJSON(w, r, status, healthResponse{Status: overall, Stores: detail})
}

// handleAuthValidate returns the project and key AuthGate resolved, letting
// a client confirm its API key is valid without performing a real ingest.
func (s *Server) handleAuthValidate(w http.ResponseWriter, r *http.Request) {
	auth, ok := middleware.GetAuthContext(r.Context())
	if !ok {
		WriteErrorResponse(w, InternalServerError("auth context missing").WithInstance(r.URL.Path))

		return
	}

	scopes := make([]string, len(auth.Key.Scopes))
	for i, scope := range auth.Key.Scopes {
		scopes[i] = string(scope)
	}

	s.writeJSON(w, r, http.StatusOK, authValidateResponse{
		Project: authValidateProject{ID: auth.Project.ID, Slug: auth.Project.Slug, Platform: auth.Project.Platform},
		Key:     authValidateKey{ID: auth.Key.ID, KeyPrefix: auth.Key.KeyPrefix, Scopes: scopes},
	})
}

// handleIngest decodes a batch of events, validates it, and hands it to the
// ingest core. No partial success is ever reported: either every event in
// the batch reached the store and the issue aggregates were upserted, or
// the whole batch is surfaced as a single failure.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	auth, ok := middleware.GetAuthContext(r.Context())
	if !ok {
		WriteErrorResponse(w, InternalServerError("auth context missing").WithInstance(r.URL.Path))

		return
	}

	var batch ingest.BatchRequest

	decoder := json.NewDecoder(io.LimitReader(r.Body, maxIngestBodyBytes))
	if err := decoder.Decode(&batch); err != nil {
		WriteErrorResponse(w, BadRequest("invalid JSON: "+err.Error()).WithInstance(r.URL.Path))

		return
	}

	if err := batch.Validate(); err != nil {
		WriteErrorResponse(w, BadRequest(err.Error()).WithInstance(r.URL.Path))

		return
	}

	accepted, err := s.ingest.Process(r.Context(), auth.Project.ID, batch.Events)
	if err != nil {
		s.logger.Error("ingest failed",
			slog.String("project_id", auth.Project.ID),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, NewProblemDetail(CodeIngestFailed, "batch could not be ingested").WithInstance(r.URL.Path))

		return
	}

	s.writeJSON(w, r, http.StatusAccepted, ingestResponse{Accepted: accepted})
}

// handleIngestInfo reports the caller's effective rate-limit configuration
// for the ingest bucket, so an SDK can size its own client-side batching.
func (s *Server) handleIngestInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, struct {
		IngestRPM int `json:"ingest_rpm"` //nolint: tagliatelle
		BurstSize int `json:"burst_size"` //nolint: tagliatelle
	}{
		IngestRPM: s.config.IngestRPM,
		BurstSize: s.config.BurstSize,
	})
}

// handleNotFound returns an RFC 7807 404 for any unmatched route.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, &ProblemDetail{
		Type:     problemTypeBase + "NOT_FOUND",
		Title:    http.StatusText(http.StatusNotFound),
		Status:   http.StatusNotFound,
		Detail:   "the requested resource was not found",
		Instance: r.URL.Path,
		Code:     "NOT_FOUND",
	})
}

// writeJSON marshals body and writes it with the given status, logging (but
// not surfacing to the client) any write failure that happens after headers
// are already sent.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, body interface{}) {
	data, err := json.Marshal(body)
	if err != nil {
		s.logger.Error("failed to marshal response", slog.String("error", err.Error()))
		WriteErrorResponse(w, InternalServerError("failed to encode response").WithInstance(r.URL.Path))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("failed to write response", slog.String("error", err.Error()))
	}
}
