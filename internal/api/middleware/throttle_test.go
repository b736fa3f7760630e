package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGlobalThrottle_AllowsWithinBurst(t *testing.T) {
	handler := GlobalThrottle(1, 2, testLogger())(passthrough())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestGlobalThrottle_RejectsBeyondBurst(t *testing.T) {
	handler := GlobalThrottle(1, 1, testLogger())(passthrough())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)

	assert.Equal(t, http.StatusServiceUnavailable, rec2.Code)
	assert.Contains(t, rec2.Body.String(), "SERVICE_UNAVAILABLE")
}

func TestWithGlobalThrottle_DisabledWhenRPSNonPositive(t *testing.T) {
	option := WithGlobalThrottle(0, 10, testLogger())
	handler := option(passthrough())

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	}
}
