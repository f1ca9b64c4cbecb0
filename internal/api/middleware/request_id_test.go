package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/safeway/safeway/internal/api/middleware"
)

func TestRequestID_GeneratesNewID(t *testing.T) {
	var seen string
	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = middleware.GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/incidents", http.NoBody)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.True(t, strings.HasPrefix(seen, "req_"))
	assert.Equal(t, seen, w.Header().Get(middleware.HeaderRequestID))
}

func TestRequestID_InboundIDs(t *testing.T) {
	tests := []struct {
		name    string
		inbound string
		keep    bool
	}{
		{name: "well formed", inbound: "lb-7f3a.91_x", keep: true},
		{name: "too long", inbound: strings.Repeat("a", 65)},
		{name: "header injection", inbound: "abc\r\nX-Evil: 1"},
		{name: "spaces", inbound: "not an id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/v1/crowd", http.NoBody)
			req.Header.Set(middleware.HeaderRequestID, tt.inbound)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			got := w.Header().Get(middleware.HeaderRequestID)
			if tt.keep {
				assert.Equal(t, tt.inbound, got)
			} else {
				assert.True(t, strings.HasPrefix(got, "req_"), got)
			}
		})
	}
}

func TestGetRequestID_ReturnsEmptyStringForMissingContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	assert.Empty(t, middleware.GetRequestID(req.Context()))
}

func TestRequestID_UniqueIDs(t *testing.T) {
	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", http.NoBody))

		id := w.Header().Get(middleware.HeaderRequestID)
		assert.False(t, ids[id], "duplicate request ID generated: %s", id)
		ids[id] = true
	}
}
