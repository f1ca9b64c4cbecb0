// Package routing obtains candidate routes from a routing provider and picks
// the one that passes the fewest hazards.
package routing

import (
	"context"
	"errors"
	"time"

	"github.com/paulmach/orb"

	"github.com/safeway/safeway/internal/geo"
)

// Sentinel errors for routing operations.
var (
	// ErrProviderUnavailable indicates the routing provider is down or the circuit breaker is open.
	ErrProviderUnavailable = errors.New("routing provider unavailable")
	// ErrNoRouteFound indicates no valid route exists between the given points.
	ErrNoRouteFound = errors.New("no route found between the given points")
	// ErrRateLimitExceeded indicates the provider rejected the request for quota reasons.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrInvalidCoordinates indicates the provided coordinates are invalid or out of range.
	ErrInvalidCoordinates = errors.New("invalid coordinates")
)

// Provider computes candidate routes between two points.
type Provider interface {
	// GetDirections returns the provider's route and its alternatives,
	// preferred route first.
	GetDirections(ctx context.Context, req DirectionsRequest) (*DirectionsResponse, error)
	Name() string
}

// DirectionsRequest is the request for computing routes.
type DirectionsRequest struct {
	Origin      geo.Coordinate
	Destination geo.Coordinate
}

// DirectionsResponse holds route alternatives in provider order.
type DirectionsResponse struct {
	Routes    []RouteCandidate `json:"routes"`
	Provider  string           `json:"provider"`
	FetchedAt time.Time        `json:"fetchedAt"`
}

// RouteCandidate is one alternative path. Geometry runs from start to end
// as [lng, lat] points.
type RouteCandidate struct {
	Geometry orb.LineString `json:"geometry"`
	Summary  RouteSummary   `json:"summary"`
}

// RouteSummary holds a route's totals.
type RouteSummary struct {
	DistanceMeters  int `json:"distanceMeters"`
	DurationSeconds int `json:"durationSeconds"`
}

// Error provides detailed error information from the routing provider.
type Error struct {
	Provider string // Provider that generated the error
	Code     string // Error code from the provider
	Message  string // Human-readable error message
	Err      error  // Underlying error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is transient and the request can be retried.
func (e *Error) IsRetryable() bool {
	return errors.Is(e.Err, ErrProviderUnavailable) || errors.Is(e.Err, ErrRateLimitExceeded)
}
