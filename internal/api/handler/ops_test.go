package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safeway/safeway/internal/api/handler"
	"github.com/safeway/safeway/internal/api/models"
	"github.com/safeway/safeway/internal/provider/resilience"
)

type backendName string

func (b backendName) Backend() string { return string(b) }

func TestOpsHandler_HealthCheck(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC))
	h := handler.NewOpsHandler(handler.OpsConfig{Version: "1.2.3", BuildTime: "2024-05-01", Clock: clock})

	w := get(t, http.HandlerFunc(h.HealthCheck), "/v1/ops/health")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"status": "OK",
		"time": "2024-05-01T03:00:00Z",
		"details": {"version": "1.2.3", "buildTime": "2024-05-01"}
	}`, w.Body.String())
}

func TestOpsHandler_ReadinessCheck(t *testing.T) {
	var sawDeadline bool
	h := handler.NewOpsHandler(handler.OpsConfig{Checks: []handler.Check{
		{Name: "cache", Check: func(ctx context.Context) error {
			_, sawDeadline = ctx.Deadline()
			return nil
		}},
	}})

	w := get(t, http.HandlerFunc(h.ReadinessCheck), "/v1/ops/ready")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, sawDeadline)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	h = handler.NewOpsHandler(handler.OpsConfig{Checks: []handler.Check{
		{Name: "cache", Check: func(context.Context) error { return nil }},
		{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }},
	}})

	w = get(t, http.HandlerFunc(h.ReadinessCheck), "/v1/ops/ready")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var health models.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusFail, health.Status)
	assert.Equal(t, map[string]any{"redis": "connection refused"}, health.Details)
}

func TestOpsHandler_SystemStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	registry := resilience.NewRegistry()
	cb := resilience.DefaultCircuitBreakerConfig("osrm")
	cb.ReadyToTrip = func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 1 }
	osrm := resilience.NewClient(resilience.ClientConfig{Name: "osrm", CircuitBreaker: &cb, Registry: registry})
	resilience.NewClient(resilience.ClientConfig{Name: "seoul-incidents", Registry: registry})

	req, err := http.NewRequest(http.MethodGet, upstream.URL, http.NoBody)
	require.NoError(t, err)
	resp, err := osrm.Do(req)
	if err == nil {
		resp.Body.Close()
	}

	h := handler.NewOpsHandler(handler.OpsConfig{
		Registry:      registry,
		Cache:         backendName("memory"),
		CacheDegraded: func() bool { return true },
	})

	w := get(t, http.HandlerFunc(h.SystemStatus), "/v1/ops/status")
	require.Equal(t, http.StatusOK, w.Code)

	var status models.SystemStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, models.HealthStatusDegraded, status.Status)
	assert.ElementsMatch(t, []string{"cache_memory_fallback", "osrm_circuit_open"}, status.ActiveDegradationFlags)

	require.Len(t, status.Subsystems, 1)
	assert.Equal(t, "memory", *status.Subsystems[0].Detail)
	assert.Equal(t, models.HealthStatusDegraded, status.Subsystems[0].Status)

	require.Len(t, status.Providers, 2)
	assert.Equal(t, "osrm", status.Providers[0].Provider)
	assert.Equal(t, models.HealthStatusFail, status.Providers[0].Status)
	assert.Equal(t, "open", status.Providers[0].CircuitState)
	assert.NotNil(t, status.Providers[0].LastFailureAt)
	assert.Equal(t, "seoul-incidents", status.Providers[1].Provider)
	assert.Equal(t, models.HealthStatusOK, status.Providers[1].Status)
}

func TestOpsHandler_SystemStatusHealthy(t *testing.T) {
	h := handler.NewOpsHandler(handler.OpsConfig{Cache: backendName("redis")})

	w := get(t, http.HandlerFunc(h.SystemStatus), "/v1/ops/status")

	var status models.SystemStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, models.HealthStatusOK, status.Status)
	assert.Empty(t, status.ActiveDegradationFlags)
	assert.Empty(t, status.Providers)
}
