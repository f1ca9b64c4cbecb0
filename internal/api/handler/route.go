package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/safeway/safeway/internal/api/models"
	"github.com/safeway/safeway/internal/api/response"
	"github.com/safeway/safeway/internal/geo"
	"github.com/safeway/safeway/internal/safety"
)

// RouteService picks the safest route between two points.
type RouteService interface {
	SafestRoute(ctx context.Context, q safety.RouteQuery) (safety.RoutePlan, error)
}

// RouteHandler handles routing endpoints.
type RouteHandler struct {
	svc    RouteService
	logger zerolog.Logger
}

// NewRouteHandler creates a new RouteHandler.
func NewRouteHandler(svc RouteService, logger zerolog.Logger) *RouteHandler {
	return &RouteHandler{svc: svc, logger: logger}
}

// SafestRoute handles GET /v1/route?s=lat,lng&e=lat,lng&avoid=red.
func (h *RouteHandler) SafestRoute(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s, e := q.Get("s"), q.Get("e")
	if s == "" || e == "" {
		response.BadRequest(w, r, "query params s and e are required", nil)
		return
	}

	var errs []models.FieldError
	origin, err := parseLatLng(s)
	if err != nil {
		errs = append(errs, models.FieldError{Field: "s", Message: err.Error(), Code: "INVALID_COORDINATE"})
	}
	destination, err := parseLatLng(e)
	if err != nil {
		errs = append(errs, models.FieldError{Field: "e", Message: err.Error(), Code: "INVALID_COORDINATE"})
	}
	if len(errs) > 0 {
		response.BadRequest(w, r, "invalid coordinates", errs)
		return
	}

	plan, err := h.svc.SafestRoute(r.Context(), safety.RouteQuery{
		Origin:      origin,
		Destination: destination,
		Avoid:       q.Get("avoid"),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, plan)
}

// parseLatLng parses "lat,lng".
func parseLatLng(s string) (geo.Coordinate, error) {
	latStr, lngStr, ok := strings.Cut(s, ",")
	if !ok {
		return geo.Coordinate{}, errors.New("expected lat,lng")
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return geo.Coordinate{}, errors.New("latitude is not a number")
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngStr), 64)
	if err != nil {
		return geo.Coordinate{}, errors.New("longitude is not a number")
	}
	c := geo.Coordinate{Lat: lat, Lng: lng}
	if !c.Valid() {
		return geo.Coordinate{}, errors.New("coordinate out of range")
	}
	return c, nil
}
