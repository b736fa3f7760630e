package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Code is a stable symbolic error code. Clients
// should branch on Code, never on the human-readable Detail string.
type Code string

const (
	CodeMissingAuthHeader   Code = "MISSING_AUTH_HEADER"
	CodeInvalidAuthFormat   Code = "INVALID_AUTH_FORMAT"
	CodeInvalidAPIKeyFormat Code = "INVALID_API_KEY_FORMAT"
	CodeInvalidAPIKey       Code = "INVALID_API_KEY"
	CodeAPIKeyExpired       Code = "API_KEY_EXPIRED"
	CodeInsufficientScope   Code = "INSUFFICIENT_SCOPE"
	CodeProjectNotFound     Code = "PROJECT_NOT_FOUND"
	CodeRateLimitExceeded   Code = "RATE_LIMIT_EXCEEDED"
	CodeIngestFailed        Code = "INGEST_FAILED"
	CodeBadRequest          Code = "BAD_REQUEST"
	CodeInternalError       Code = "INTERNAL_ERROR"
	CodeServiceUnavailable  Code = "SERVICE_UNAVAILABLE"
)

// statusForCode is the fixed Code → HTTP status mapping.
var statusForCode = map[Code]int{
	CodeMissingAuthHeader:   http.StatusUnauthorized,
	CodeInvalidAuthFormat:   http.StatusUnauthorized,
	CodeInvalidAPIKeyFormat: http.StatusUnauthorized,
	CodeInvalidAPIKey:       http.StatusUnauthorized,
	CodeAPIKeyExpired:       http.StatusUnauthorized,
	CodeInsufficientScope:   http.StatusForbidden,
	CodeProjectNotFound:     http.StatusUnauthorized,
	CodeRateLimitExceeded:   http.StatusTooManyRequests,
	CodeIngestFailed:        http.StatusInternalServerError,
	CodeBadRequest:          http.StatusBadRequest,
	CodeInternalError:       http.StatusInternalServerError,
	CodeServiceUnavailable:  http.StatusServiceUnavailable,
}

// StatusFor returns the HTTP status associated with a symbolic code,
// defaulting to 500 for an unrecognized one.
func StatusFor(code Code) int {
	if status, ok := statusForCode[code]; ok {
		return status
	}

	return http.StatusInternalServerError
}

// ProblemDetail is an RFC 7807 "application/problem+json" body, extended
// with the stable symbolic Code this service's clients branch on and the
// request's correlation id for support/debugging round-trips.
type ProblemDetail struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	Status        int    `json:"status"`
	Detail        string `json:"detail"`
	Instance      string `json:"instance,omitempty"`
	Code          Code   `json:"code"`
	CorrelationID string `json:"correlation_id,omitempty"`

	// Present only on 429 responses.
	Limit     int   `json:"limit,omitempty"`
	Window    int   `json:"window,omitempty"`
	ResetTime int64 `json:"reset_time,omitempty"`
}

const problemTypeBase = "https://errly.io/problems/"

// NewProblemDetail builds a ProblemDetail for the given code and detail
// message, deriving status and title from the code.
func NewProblemDetail(code Code, detail string) *ProblemDetail {
	status := StatusFor(code)

	return &ProblemDetail{
		Type:   problemTypeBase + string(code),
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
		Code:   code,
	}
}

// WithInstance sets the request path the problem occurred on.
func (p *ProblemDetail) WithInstance(path string) *ProblemDetail {
	p.Instance = path

	return p
}

// WithCorrelationID attaches the request's correlation id.
func (p *ProblemDetail) WithCorrelationID(id string) *ProblemDetail {
	p.CorrelationID = id

	return p
}

// WithRateLimit fills the rate-limit-only fields of the error envelope.
func (p *ProblemDetail) WithRateLimit(limit int, window int, resetUnix int64) *ProblemDetail {
	p.Limit = limit
	p.Window = window
	p.ResetTime = resetUnix

	return p
}

// WriteErrorResponse writes p as application/problem+json with its status
// code, along with the legacy {error, code} envelope fields kept for
// clients that haven't moved to RFC 7807 bodies yet.
func WriteErrorResponse(w http.ResponseWriter, p *ProblemDetail) error {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)

	body := struct {
		*ProblemDetail

		Error string `json:"error"`
	}{
		ProblemDetail: p,
		Error:         p.Detail,
	}

	if err := json.NewEncoder(w).Encode(body); err != nil {
		return fmt.Errorf("encoding error response: %w", err)
	}

	return nil
}

// InternalServerError builds the generic 500 problem used by the recovery
// middleware and any unmapped backend failure.
func InternalServerError(detail string) *ProblemDetail {
	return NewProblemDetail(CodeInternalError, detail)
}

// BadRequest builds a 400 problem for decode/validation failures.
func BadRequest(detail string) *ProblemDetail {
	return NewProblemDetail(CodeBadRequest, detail)
}

// ServiceUnavailable builds a 503 problem for failed health checks.
func ServiceUnavailable(detail string) *ProblemDetail {
	return NewProblemDetail(CodeServiceUnavailable, detail)
}
