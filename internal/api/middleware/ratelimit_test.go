package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/safeway/safeway/internal/api/middleware"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serveFrom(h http.Handler, path, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitByIP_BlocksOverLimit(t *testing.T) {
	handler := middleware.RateLimitByIP(middleware.RateLimitConfig{
		RequestLimit: 3,
		WindowLength: time.Minute,
	})(okHandler())

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serveFrom(handler, "/v1/route", "10.0.0.1:12345").Code, "request %d", i+1)
	}

	rec := serveFrom(handler, "/v1/route", "10.0.0.1:12345")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "Rate limit exceeded")
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestRateLimitByIP_DifferentIPsHaveSeparateLimits(t *testing.T) {
	handler := middleware.RateLimitByIP(middleware.RateLimitConfig{
		RequestLimit: 2,
		WindowLength: time.Minute,
	})(okHandler())

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, serveFrom(handler, "/test", "172.16.0.1:12345").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, serveFrom(handler, "/test", "172.16.0.1:12345").Code)
	assert.Equal(t, http.StatusOK, serveFrom(handler, "/test", "172.16.0.2:12345").Code)
}

func TestRateLimitExceededResponse_Format(t *testing.T) {
	handler := middleware.RequestID(
		middleware.RateLimitByIP(middleware.RateLimitConfig{RequestLimit: 1, WindowLength: 30 * time.Second})(okHandler()),
	)

	assert.Equal(t, http.StatusOK, serveFrom(handler, "/v1/crowd", "203.0.113.1:12345").Code)

	rec := serveFrom(handler, "/v1/crowd", "203.0.113.1:12345")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))

	body := rec.Body.String()
	assert.Contains(t, body, "too-many-requests")
	assert.Contains(t, body, "/v1/crowd")
	assert.Contains(t, body, rec.Header().Get(middleware.HeaderRequestID))
}

func TestRateLimitConfigs(t *testing.T) {
	assert.Equal(t, 30, middleware.RouteRateLimit.RequestLimit)
	assert.Equal(t, 120, middleware.StandardRateLimit.RequestLimit)

	assert.Equal(t, middleware.RateLimitConfig{RequestLimit: 50, WindowLength: time.Minute}, middleware.PerMinute(50))
	assert.Equal(t, middleware.StandardRateLimit, middleware.PerMinute(0))
}
