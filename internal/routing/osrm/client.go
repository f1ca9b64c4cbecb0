// Package osrm provides a client for the OSRM route service.
package osrm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/safeway/safeway/internal/geo"
	"github.com/safeway/safeway/internal/provider/resilience"
	"github.com/safeway/safeway/internal/routing"
	"github.com/safeway/safeway/pkg/polyline"
)

const (
	// ProviderName identifies this routing provider.
	ProviderName = "osrm"

	// DefaultBaseURL is the public OSRM demo server.
	DefaultBaseURL = "https://router.project-osrm.org"

	// DefaultProfile is the OSRM routing profile.
	DefaultProfile = "driving"

	codeOK      = "Ok"
	codeNoRoute = "NoRoute"
)

// HTTPDoer is an interface for executing HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the OSRM client.
type ClientConfig struct {
	// BaseURL is the API base URL (optional, defaults to the public server).
	BaseURL string

	// Profile is the OSRM profile (optional, defaults to driving).
	Profile string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient HTTPDoer

	// Registry is the provider registry for health tracking (optional).
	Registry *resilience.Registry

	Clock  clockwork.Clock
	Logger zerolog.Logger
}

// Client is an OSRM route service client.
type Client struct {
	baseURL    string
	profile    string
	httpClient HTTPDoer
	clock      clockwork.Clock
	logger     zerolog.Logger
}

// NewClient creates a new OSRM client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	profile := cfg.Profile
	if profile == "" {
		profile = DefaultProfile
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		clientCfg := resilience.DefaultClientConfig(ProviderName)
		clientCfg.Registry = cfg.Registry
		httpClient = resilience.NewClient(clientCfg)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Client{
		baseURL:    baseURL,
		profile:    profile,
		httpClient: httpClient,
		clock:      clock,
		logger:     cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// URL returns the route service URL for a request.
func (c *Client) URL(req routing.DirectionsRequest) string {
	q := url.Values{}
	q.Set("overview", "full")
	q.Set("geometries", "polyline")
	q.Set("alternatives", "true")
	q.Set("steps", "false")
	return fmt.Sprintf("%s/route/v1/%s/%s;%s?%s",
		c.baseURL, c.profile, lngLat(req.Origin), lngLat(req.Destination), q.Encode())
}

// GetDirections retrieves the route and its alternatives between two points.
func (c *Client) GetDirections(ctx context.Context, req routing.DirectionsRequest) (*routing.DirectionsResponse, error) {
	if !req.Origin.Valid() || !req.Destination.Valid() {
		return nil, &routing.Error{
			Provider: ProviderName,
			Code:     "INVALID_COORDINATES",
			Message:  "invalid route endpoints",
			Err:      routing.ErrInvalidCoordinates,
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(req), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Float64("origin_lat", req.Origin.Lat).
		Float64("origin_lng", req.Origin.Lng).
		Float64("dest_lat", req.Destination.Lat).
		Float64("dest_lng", req.Destination.Lng).
		Msg("requesting route from OSRM")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &routing.Error{
			Provider: ProviderName,
			Code:     "REQUEST_FAILED",
			Message:  "failed to reach routing provider",
			Err:      fmt.Errorf("%w: %w", routing.ErrProviderUnavailable, err),
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	var osrmResp routeResponse
	decodeErr := json.Unmarshal(body, &osrmResp)

	if resp.StatusCode != http.StatusOK || decodeErr != nil || osrmResp.Code != codeOK {
		return nil, handleErrorResponse(resp.StatusCode, &osrmResp, decodeErr)
	}

	result, err := c.toDirectionsResponse(&osrmResp)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Int("route_count", len(result.Routes)).
		Msg("received routes from OSRM")

	return result, nil
}

// handleErrorResponse maps OSRM error responses to domain errors.
func handleErrorResponse(statusCode int, resp *routeResponse, decodeErr error) error {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return &routing.Error{
			Provider: ProviderName,
			Code:     "RATE_LIMIT",
			Message:  "API rate limit exceeded, please try again later",
			Err:      routing.ErrRateLimitExceeded,
		}
	case statusCode >= 500:
		return &routing.Error{
			Provider: ProviderName,
			Code:     fmt.Sprintf("SERVER_%d", statusCode),
			Message:  "routing provider is temporarily unavailable",
			Err:      routing.ErrProviderUnavailable,
		}
	case decodeErr != nil:
		return &routing.Error{
			Provider: ProviderName,
			Code:     fmt.Sprintf("HTTP_%d", statusCode),
			Message:  "routing provider returned an unreadable response",
			Err:      fmt.Errorf("%w: %w", routing.ErrProviderUnavailable, decodeErr),
		}
	case resp.Code == codeNoRoute:
		return &routing.Error{
			Provider: ProviderName,
			Code:     "NO_ROUTE",
			Message:  "no route found between the given points",
			Err:      routing.ErrNoRouteFound,
		}
	case statusCode == http.StatusBadRequest:
		return &routing.Error{
			Provider: ProviderName,
			Code:     "BAD_REQUEST",
			Message:  nonEmpty(resp.Message, resp.Code),
			Err:      routing.ErrInvalidCoordinates,
		}
	default:
		return &routing.Error{
			Provider: ProviderName,
			Code:     nonEmpty(resp.Code, fmt.Sprintf("HTTP_%d", statusCode)),
			Message:  nonEmpty(resp.Message, fmt.Sprintf("routing provider returned status %d", statusCode)),
			Err:      routing.ErrProviderUnavailable,
		}
	}
}

// toDirectionsResponse converts the OSRM response to the domain model.
// Distances and durations are rounded to whole meters and seconds.
func (c *Client) toDirectionsResponse(resp *routeResponse) (*routing.DirectionsResponse, error) {
	routes := make([]routing.RouteCandidate, 0, len(resp.Routes))
	for i := range resp.Routes {
		r := &resp.Routes[i]
		line, err := polyline.Decode(r.Geometry)
		if err != nil {
			return nil, &routing.Error{
				Provider: ProviderName,
				Code:     "BAD_GEOMETRY",
				Message:  fmt.Sprintf("route %d geometry could not be decoded", i),
				Err:      fmt.Errorf("%w: %w", routing.ErrProviderUnavailable, err),
			}
		}
		routes = append(routes, routing.RouteCandidate{
			Geometry: line,
			Summary: routing.RouteSummary{
				DistanceMeters:  int(math.Round(r.Distance)),
				DurationSeconds: int(math.Round(r.Duration)),
			},
		})
	}
	if len(routes) == 0 {
		return nil, &routing.Error{
			Provider: ProviderName,
			Code:     "NO_ROUTE",
			Message:  "no route found between the given points",
			Err:      routing.ErrNoRouteFound,
		}
	}

	return &routing.DirectionsResponse{
		Routes:    routes,
		Provider:  ProviderName,
		FetchedAt: c.clock.Now(),
	}, nil
}

func lngLat(c geo.Coordinate) string {
	return strconv.FormatFloat(c.Lng, 'f', -1, 64) + "," + strconv.FormatFloat(c.Lat, 'f', -1, 64)
}

func nonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
