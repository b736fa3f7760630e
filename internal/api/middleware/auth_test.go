package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/errly-io/errly/internal/apikey"
	"github.com/errly-io/errly/internal/errly"
)

const validToken = "errly_a1b2_" + "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd" //nolint: gosec

type fakeKeyRegistry struct {
	byHash  map[string]*apikey.Key
	err     error
	touched []string
}

func (f *fakeKeyRegistry) GetByHash(_ context.Context, hash string) (*apikey.Key, error) {
	if f.err != nil {
		return nil, f.err
	}

	return f.byHash[hash], nil
}

func (f *fakeKeyRegistry) TouchLastUsed(_ context.Context, id string) error {
	f.touched = append(f.touched, id)

	return nil
}

type fakeProjectResolver struct {
	byID map[string]*errly.Project
	err  error
}

func (f *fakeProjectResolver) GetByID(_ context.Context, id string) (*errly.Project, error) {
	if f.err != nil {
		return nil, f.err
	}

	return f.byID[id], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

func newTestGate(t *testing.T, registry KeyRegistry, projects ProjectResolver, scopes ...apikey.Scope) func(http.Handler) http.Handler {
	t.Helper()

	queue := NewTouchQueue(registry, testLogger())
	queue.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = queue.Stop(ctx)
	})

	return AuthGate(registry, projects, queue, testLogger(), scopes...)
}

func passthrough() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthGate_MissingHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", nil)
	rec := httptest.NewRecorder()

	handler := newTestGate(t, &fakeKeyRegistry{}, &fakeProjectResolver{})(passthrough())
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "MISSING_AUTH_HEADER")
}

func TestAuthGate_InvalidScheme(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", nil)
	req.Header.Set("Authorization", "Basic abc123")
	rec := httptest.NewRecorder()

	handler := newTestGate(t, &fakeKeyRegistry{}, &fakeProjectResolver{})(passthrough())
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_AUTH_FORMAT")
}

func TestAuthGate_InvalidTokenFormat(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", nil)
	req.Header.Set("Authorization", "Bearer not-a-valid-token")
	rec := httptest.NewRecorder()

	handler := newTestGate(t, &fakeKeyRegistry{}, &fakeProjectResolver{})(passthrough())
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_API_KEY_FORMAT")
}

func TestAuthGate_KeyLookupMiss(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", nil)
	req.Header.Set("Authorization", "Bearer "+validToken)
	rec := httptest.NewRecorder()

	handler := newTestGate(t, &fakeKeyRegistry{byHash: map[string]*apikey.Key{}}, &fakeProjectResolver{})(passthrough())
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_API_KEY")
}

func TestAuthGate_KeyLookupError(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", nil)
	req.Header.Set("Authorization", "Bearer "+validToken)
	rec := httptest.NewRecorder()

	registry := &fakeKeyRegistry{err: errors.New("connection refused")}
	handler := newTestGate(t, registry, &fakeProjectResolver{})(passthrough())
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}

func TestAuthGate_ExpiredKey(t *testing.T) {
	hash := apikey.HashToken(validToken)
	past := time.Now().Add(-time.Hour)

	registry := &fakeKeyRegistry{byHash: map[string]*apikey.Key{
		hash: {ID: "key-1", ProjectID: "proj-1", Scopes: []apikey.Scope{apikey.ScopeIngest}, ExpiresAt: &past},
	}}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", nil)
	req.Header.Set("Authorization", "Bearer "+validToken)
	rec := httptest.NewRecorder()

	handler := newTestGate(t, registry, &fakeProjectResolver{})(passthrough())
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "API_KEY_EXPIRED")
}

func TestAuthGate_InsufficientScope(t *testing.T) {
	hash := apikey.HashToken(validToken)
	registry := &fakeKeyRegistry{byHash: map[string]*apikey.Key{
		hash: {ID: "key-1", ProjectID: "proj-1", Scopes: []apikey.Scope{apikey.ScopeRead}},
	}}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", nil)
	req.Header.Set("Authorization", "Bearer "+validToken)
	rec := httptest.NewRecorder()

	handler := newTestGate(t, registry, &fakeProjectResolver{}, apikey.ScopeIngest)(passthrough())
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "INSUFFICIENT_SCOPE")
}

func TestAuthGate_ProjectNotFound(t *testing.T) {
	hash := apikey.HashToken(validToken)
	registry := &fakeKeyRegistry{byHash: map[string]*apikey.Key{
		hash: {ID: "key-1", ProjectID: "proj-missing", Scopes: []apikey.Scope{apikey.ScopeIngest}},
	}}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", nil)
	req.Header.Set("Authorization", "Bearer "+validToken)
	rec := httptest.NewRecorder()

	handler := newTestGate(t, registry, &fakeProjectResolver{byID: map[string]*errly.Project{}}, apikey.ScopeIngest)(passthrough())
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "PROJECT_NOT_FOUND")
}

func TestAuthGate_Success(t *testing.T) {
	hash := apikey.HashToken(validToken)
	registry := &fakeKeyRegistry{byHash: map[string]*apikey.Key{
		hash: {ID: "key-1", ProjectID: "proj-1", Scopes: []apikey.Scope{apikey.ScopeIngest}},
	}}
	projects := &fakeProjectResolver{byID: map[string]*errly.Project{
		"proj-1": {ID: "proj-1", Slug: "demo", Platform: "go"},
	}}

	var gotAuth *AuthContext

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth, _ = GetAuthContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", nil)
	req.Header.Set("Authorization", "Bearer "+validToken)
	rec := httptest.NewRecorder()

	handler := newTestGate(t, registry, projects, apikey.ScopeIngest)(next)
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, gotAuth)
	assert.Equal(t, "key-1", gotAuth.Key.ID)
	assert.Equal(t, "proj-1", gotAuth.Project.ID)

	// touch_last_used is enqueued onto the TouchQueue worker; give it a moment to drain.
	assert.Eventually(t, func() bool {
		return len(registry.touched) == 1
	}, time.Second, 10*time.Millisecond)
}
