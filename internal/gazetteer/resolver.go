package gazetteer

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/safeway/safeway/internal/geo"
	"github.com/safeway/safeway/internal/observability"
)

// Geocoder resolves a free-text query to its best-match position.
type Geocoder interface {
	// Geocode returns ok=false when the provider has no match.
	Geocode(ctx context.Context, query string) (c geo.Coordinate, ok bool, err error)
}

// ResolverConfig holds configuration for the Resolver.
type ResolverConfig struct {
	// Areas is the memo consulted first and extended by geocode hits.
	// Defaults to Default().
	Areas *AreaCoordMap

	// Geocoder is optional. Without it unknown areas go straight to Fallback.
	Geocoder Geocoder

	// Fallback is returned when nothing else matches. Defaults to geo.SeoulCenter.
	Fallback *geo.Coordinate

	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

// Resolver finds coordinates for area names: exact gazetteer match, then
// partial match, then a memoised geocode, then the fallback position.
type Resolver struct {
	areas    *AreaCoordMap
	geocoder Geocoder
	fallback geo.Coordinate
	metrics  *observability.Metrics
	logger   zerolog.Logger
	group    singleflight.Group
}

// NewResolver creates a Resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	areas := cfg.Areas
	if areas == nil {
		areas = Default()
	}
	fallback := geo.SeoulCenter
	if cfg.Fallback != nil {
		fallback = *cfg.Fallback
	}
	return &Resolver{
		areas:    areas,
		geocoder: cfg.Geocoder,
		fallback: fallback,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}
}

// Areas returns the underlying memo.
func (r *Resolver) Areas() *AreaCoordMap {
	return r.areas
}

// Resolve always returns a usable coordinate.
func (r *Resolver) Resolve(ctx context.Context, name string) geo.Coordinate {
	name = strings.TrimSpace(name)
	if name == "" {
		r.metrics.GazetteerLookup("fallback")
		return r.fallback
	}
	if c, ok := r.areas.Exact(name); ok {
		r.metrics.GazetteerLookup("exact")
		return c
	}
	if _, c, ok := r.areas.Partial(name); ok {
		r.metrics.GazetteerLookup("partial")
		return c
	}
	if c, ok := r.geocode(ctx, name); ok {
		r.metrics.GazetteerLookup("geocoded")
		return c
	}
	r.metrics.GazetteerLookup("fallback")
	return r.fallback
}

func (r *Resolver) geocode(ctx context.Context, name string) (geo.Coordinate, bool) {
	if r.geocoder == nil {
		return geo.Coordinate{}, false
	}

	v, _, _ := r.group.Do(name, func() (any, error) {
		// Another caller may have finished the same lookup.
		if c, ok := r.areas.Exact(name); ok {
			return &c, nil
		}
		c, ok, err := r.geocoder.Geocode(ctx, name)
		switch {
		case err != nil:
			r.metrics.GeocodeRequested(observability.OutcomeError)
			r.logger.Warn().Err(err).Str("area", name).Msg("geocode failed")
			return nil, nil
		case !ok || !c.Valid():
			r.metrics.GeocodeRequested(observability.OutcomeEmpty)
			return nil, nil
		}
		r.metrics.GeocodeRequested(observability.OutcomeSuccess)
		r.areas.Set(name, c)
		return &c, nil
	})

	c, ok := v.(*geo.Coordinate)
	if !ok || c == nil {
		return geo.Coordinate{}, false
	}
	return *c, true
}
