package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/safeway/safeway/internal/api/models"
	"github.com/safeway/safeway/internal/api/response"
	"github.com/safeway/safeway/internal/provider/resilience"
)

const readyCheckTimeout = 2 * time.Second

// Check is a named readiness probe.
type Check struct {
	Name  string
	Check func(ctx context.Context) error
}

// CacheInfo reports which backend the hazard cache is using.
type CacheInfo interface {
	Backend() string
}

// OpsConfig holds configuration for the OpsHandler.
type OpsConfig struct {
	Version   string
	BuildTime string

	// Registry supplies provider circuit states. Optional.
	Registry *resilience.Registry

	// Cache and CacheDegraded describe the cache subsystem. Optional.
	Cache         CacheInfo
	CacheDegraded func() bool

	// Checks run on every readiness probe.
	Checks []Check

	Clock clockwork.Clock
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	cfg   OpsConfig
	clock clockwork.Clock
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &OpsHandler{cfg: cfg, clock: clock}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.clock.Now()),
		Details: map[string]any{
			"version":   h.cfg.Version,
			"buildTime": h.cfg.BuildTime,
		},
	})
}

// ReadinessCheck handles GET /v1/ops/ready. It answers 503 when any check
// fails.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.clock.Now()),
	}
	failed := map[string]any{}
	for _, c := range h.cfg.Checks {
		ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
		err := c.Check(ctx)
		cancel()
		if err != nil {
			failed[c.Name] = err.Error()
		}
	}

	status := http.StatusOK
	if len(failed) > 0 {
		health.Status = models.HealthStatusFail
		health.Details = failed
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Cache-Control", "no-store")
	response.JSON(w, r, status, health)
}

// SystemStatus handles GET /v1/ops/status - provider and cache status.
// Open circuits degrade the service but do not fail it, since cached and
// placeholder data are still served.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := models.SystemStatus{
		Status:     models.HealthStatusOK,
		Time:       models.Timestamp(h.clock.Now()),
		Subsystems: []models.SubsystemStatus{},
		Providers:  []models.ProviderStatus{},
	}

	if h.cfg.Cache != nil {
		backend := h.cfg.Cache.Backend()
		sub := models.SubsystemStatus{Name: "cache", Status: models.HealthStatusOK, Detail: &backend}
		if h.cfg.CacheDegraded != nil && h.cfg.CacheDegraded() {
			sub.Status = models.HealthStatusDegraded
			status.ActiveDegradationFlags = append(status.ActiveDegradationFlags, "cache_memory_fallback")
		}
		status.Subsystems = append(status.Subsystems, sub)
	}

	if h.cfg.Registry != nil {
		for _, ph := range h.cfg.Registry.GetAllHealth() {
			ps := models.ProviderStatus{
				Provider:      ph.Name,
				Status:        models.HealthStatusOK,
				CircuitState:  ph.CircuitState.String(),
				LastSuccessAt: models.TimestampPtr(ph.LastSuccessAt),
				LastFailureAt: models.TimestampPtr(ph.LastFailureAt),
			}
			if ph.LastError != "" {
				msg := ph.LastError
				ps.Message = &msg
			}
			switch {
			case ph.IsUnhealthy():
				ps.Status = models.HealthStatusFail
				status.ActiveDegradationFlags = append(status.ActiveDegradationFlags, ph.Name+"_circuit_open")
			case ph.IsDegraded():
				ps.Status = models.HealthStatusDegraded
			}
			status.Providers = append(status.Providers, ps)
		}
	}

	if len(status.ActiveDegradationFlags) > 0 {
		status.Status = models.HealthStatusDegraded
	}
	w.Header().Set("Cache-Control", "no-store")
	response.JSON(w, r, http.StatusOK, status)
}
