// Package handler provides HTTP handlers for the SafeWay API.
package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/safeway/safeway/internal/api/models"
	"github.com/safeway/safeway/internal/api/response"
	"github.com/safeway/safeway/internal/safety"
)

// FeedMaxAge is how long shared caches may keep feed responses.
const FeedMaxAge = 30 * time.Second

// HazardService reads scored hazards.
type HazardService interface {
	Incidents(ctx context.Context, q safety.IncidentQuery) (safety.Hazards, error)
	Crowd(ctx context.Context, areas []string) (safety.Hazards, error)
	DistrictRisk(ctx context.Context, district string) (safety.DistrictRisk, error)
	RiskTile(ctx context.Context, tc safety.TileCoord) (safety.RiskTile, error)
}

// HazardHandler handles the hazard feed endpoints.
type HazardHandler struct {
	svc    HazardService
	logger zerolog.Logger
}

// NewHazardHandler creates a new HazardHandler.
func NewHazardHandler(svc HazardService, logger zerolog.Logger) *HazardHandler {
	return &HazardHandler{svc: svc, logger: logger}
}

// Incidents handles GET /v1/incidents?district=&bbox=.
func (h *HazardHandler) Incidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	hz, err := h.svc.Incidents(r.Context(), safety.IncidentQuery{
		District: q.Get("district"),
		BBox:     q.Get("bbox"),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.Cached(w, r, FeedMaxAge, hz)
}

// Crowd handles GET /v1/crowd?areas=a,b.
func (h *HazardHandler) Crowd(w http.ResponseWriter, r *http.Request) {
	hz, err := h.svc.Crowd(r.Context(), safety.ParseAreas(r.URL.Query().Get("areas")))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.Cached(w, r, FeedMaxAge, hz)
}

// DistrictRisk handles GET /v1/areas/{district}/risk.
func (h *HazardHandler) DistrictRisk(w http.ResponseWriter, r *http.Request) {
	district := strings.TrimSpace(chi.URLParam(r, "district"))
	if district == "" {
		response.BadRequest(w, r, "district is required", nil)
		return
	}
	risk, err := h.svc.DistrictRisk(r.Context(), district)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, risk)
}

// RiskTile handles GET /v1/tiles/risk/{z}/{x}/{y}.
func (h *HazardHandler) RiskTile(w http.ResponseWriter, r *http.Request) {
	var (
		tc   safety.TileCoord
		errs []models.FieldError
	)
	for _, p := range []struct {
		name string
		dst  *int
	}{{"z", &tc.Z}, {"x", &tc.X}, {"y", &tc.Y}} {
		n, err := strconv.Atoi(chi.URLParam(r, p.name))
		if err != nil {
			errs = append(errs, models.FieldError{Field: p.name, Message: "must be an integer", Code: "NOT_AN_INTEGER"})
			continue
		}
		*p.dst = n
	}
	if len(errs) > 0 {
		response.BadRequest(w, r, "invalid tile coordinates", errs)
		return
	}

	tile, err := h.svc.RiskTile(r.Context(), tc)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, tile)
}
