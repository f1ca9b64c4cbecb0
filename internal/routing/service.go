package routing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/safeway/safeway/internal/cache"
	"github.com/safeway/safeway/internal/geo"
)

// DefaultCacheGridSize is the default route cache cell size in degrees.
const DefaultCacheGridSize = 0.00001

// ServiceConfig holds configuration for the routing service.
type ServiceConfig struct {
	// Provider is the routing data provider.
	Provider Provider

	// Cache stores provider responses. Defaults to an in-memory cache.
	Cache *cache.Cache

	// CacheGridSize is the size of cache grid cells in degrees (default:
	// 0.00001, about 1 m). Points within the same cell share cached routes,
	// so the cell must stay well below the hazard scoring radius.
	CacheGridSize float64

	// Logger for service operations.
	Logger zerolog.Logger
}

// Service provides route alternatives through the stale-while-revalidate cache.
type Service struct {
	provider      Provider
	cache         *cache.Cache
	cacheGridSize float64
	logger        zerolog.Logger
}

// NewService creates a new routing service.
func NewService(cfg ServiceConfig) *Service {
	c := cfg.Cache
	if c == nil {
		c = cache.New(cache.Config{Logger: cfg.Logger})
	}
	grid := cfg.CacheGridSize
	if grid <= 0 {
		grid = DefaultCacheGridSize
	}
	return &Service{
		provider:      cfg.Provider,
		cache:         c,
		cacheGridSize: grid,
		logger:        cfg.Logger,
	}
}

// GetDirections returns route alternatives between two points. Result.Stale
// is set when the routes came from an entry past its fresh window.
func (s *Service) GetDirections(ctx context.Context, req DirectionsRequest) (cache.Result[DirectionsResponse], error) {
	if !req.Origin.Valid() {
		return cache.Result[DirectionsResponse]{}, &Error{
			Provider: s.provider.Name(),
			Code:     "INVALID_ORIGIN",
			Message:  "invalid origin coordinates",
			Err:      ErrInvalidCoordinates,
		}
	}
	if !req.Destination.Valid() {
		return cache.Result[DirectionsResponse]{}, &Error{
			Provider: s.provider.Name(),
			Code:     "INVALID_DESTINATION",
			Message:  "invalid destination coordinates",
			Err:      ErrInvalidCoordinates,
		}
	}

	key := s.CacheKey(req)
	return cache.GetOrSet(ctx, s.cache, key, func(ctx context.Context) (DirectionsResponse, error) {
		s.logger.Debug().
			Float64("origin_lat", req.Origin.Lat).
			Float64("origin_lng", req.Origin.Lng).
			Float64("dest_lat", req.Destination.Lat).
			Float64("dest_lng", req.Destination.Lng).
			Str("provider", s.provider.Name()).
			Msg("fetching directions from provider")

		resp, err := s.provider.GetDirections(ctx, req)
		if err != nil {
			ev := s.logger.Error()
			var routingErr *Error
			if errors.As(err, &routingErr) && routingErr.IsRetryable() {
				ev = s.logger.Warn()
			}
			ev.Err(err).Str("cache_key", key).Msg("failed to fetch directions")
			return DirectionsResponse{}, err
		}
		return *resp, nil
	})
}

// CacheKey generates a cache key for a routing request by rounding both
// endpoints to the cache grid.
// Format: route:{originLat},{originLng}:{destLat},{destLng}.
func (s *Service) CacheKey(req DirectionsRequest) string {
	return "route:" + s.snap(req.Origin) + ":" + s.snap(req.Destination)
}

func (s *Service) snap(c geo.Coordinate) string {
	decimals := max(0, int(math.Ceil(-math.Log10(s.cacheGridSize)-1e-9)))
	round := func(v float64) string {
		return strconv.FormatFloat(math.Round(v/s.cacheGridSize)*s.cacheGridSize, 'f', decimals, 64)
	}
	return round(c.Lat) + "," + round(c.Lng)
}

// ProviderName returns the name of the underlying provider.
func (s *Service) ProviderName() string {
	return s.provider.Name()
}
