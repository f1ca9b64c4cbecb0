package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/safeway/safeway/internal/api/middleware"
	"github.com/safeway/safeway/internal/api/response"
	"github.com/safeway/safeway/internal/provider/resilience"
	"github.com/safeway/safeway/internal/routing"
	"github.com/safeway/safeway/internal/safety"
)

// writeError maps a service error onto a problem response.
func writeError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful can be written.
		return
	case errors.Is(err, routing.ErrInvalidCoordinates), errors.Is(err, safety.ErrInvalidTile):
		response.BadRequest(w, r, err.Error(), nil)
	case errors.Is(err, routing.ErrNoRouteFound), errors.Is(err, safety.ErrNoRoute):
		response.NotFound(w, r, "no route found between the given points")
	case errors.Is(err, routing.ErrRateLimitExceeded):
		response.TooManyRequests(w, r, "routing provider rate limit exceeded", time.Minute)
	case errors.Is(err, resilience.ErrCircuitOpen):
		response.ServiceUnavailable(w, r, "routing provider temporarily unavailable")
	case errors.Is(err, routing.ErrProviderUnavailable):
		log.Warn().Err(err).Str("request_id", middleware.GetRequestID(r.Context())).Msg("upstream provider failed")
		response.BadGateway(w, r, "routing provider request failed")
	case errors.Is(err, context.DeadlineExceeded):
		response.ServiceUnavailable(w, r, "request timed out")
	default:
		log.Error().Err(err).Str("request_id", middleware.GetRequestID(r.Context())).Str("path", r.URL.Path).Msg("request failed")
		response.InternalError(w, r, "an unexpected error occurred")
	}
}
