// Package safety answers hazard and route queries by combining the cached
// feeds, the risk model and the route selector.
package safety

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/safeway/safeway/internal/cache"
	"github.com/safeway/safeway/internal/feed"
	"github.com/safeway/safeway/internal/geo"
	"github.com/safeway/safeway/internal/hazard"
	"github.com/safeway/safeway/internal/observability"
	"github.com/safeway/safeway/internal/routing"
)

// DefaultAvoid is the level echoed when a route query names none.
const DefaultAvoid = "red"

// ErrNoRoute is returned when the routing provider produced no candidates.
var ErrNoRoute = errors.New("no route candidates")

// FeedFetcher fetches raw records. Implementations never fail.
type FeedFetcher interface {
	Fetch(ctx context.Context, p feed.Params) []feed.Record
}

// FeedFetcherFunc adapts a function to FeedFetcher.
type FeedFetcherFunc func(ctx context.Context, p feed.Params) []feed.Record

// Fetch calls f.
func (f FeedFetcherFunc) Fetch(ctx context.Context, p feed.Params) []feed.Record {
	return f(ctx, p)
}

// CrowdFetcher is a FeedFetcher that also resolves which areas it queries.
type CrowdFetcher interface {
	FeedFetcher
	Areas(p feed.Params) []string
}

// RouteSource provides cached route candidates.
type RouteSource interface {
	GetDirections(ctx context.Context, req routing.DirectionsRequest) (cache.Result[routing.DirectionsResponse], error)
}

// ServiceConfig holds configuration for the Service.
type ServiceConfig struct {
	Incidents FeedFetcher
	Crowd     CrowdFetcher
	Routes    RouteSource

	// Selector defaults to one over the built-in gazetteer.
	Selector *routing.Selector

	// Cache holds the raw feed records. Defaults to an in-memory cache.
	Cache *cache.Cache

	Clock   clockwork.Clock
	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

// Service orchestrates hazard and route reads.
type Service struct {
	incidents FeedFetcher
	crowd     CrowdFetcher
	routes    RouteSource
	selector  *routing.Selector
	cache     *cache.Cache
	clock     clockwork.Clock
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// NewService creates a Service.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		incidents: cfg.Incidents,
		crowd:     cfg.Crowd,
		routes:    cfg.Routes,
		selector:  cfg.Selector,
		cache:     cfg.Cache,
		clock:     cfg.Clock,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.cache == nil {
		s.cache = cache.New(cache.Config{Clock: s.clock, Metrics: cfg.Metrics, Logger: cfg.Logger})
	}
	if s.selector == nil {
		s.selector = routing.NewSelector(routing.SelectorConfig{})
	}
	return s
}

// IncidentQuery scopes an incident read.
type IncidentQuery struct {
	District string
	BBox     string
}

// Records is a cached raw feed read.
type Records struct {
	Items []feed.Record
	Stale bool
}

// Hazards is a list of scored features with the staleness of the reads
// that produced them.
type Hazards struct {
	Stale bool             `json:"stale"`
	Count int              `json:"count"`
	Items []hazard.Feature `json:"items"`
}

// IncidentRecords returns the cached raw incident records for q.
func (s *Service) IncidentRecords(ctx context.Context, q IncidentQuery) (Records, error) {
	key := IncidentKey(q.District, q.BBox)
	res, err := cache.GetOrSet(ctx, s.cache, key, func(ctx context.Context) ([]feed.Record, error) {
		return s.incidents.Fetch(ctx, feed.Params{}), nil
	})
	if err != nil {
		return Records{}, err
	}
	return Records{Items: res.Data, Stale: res.Stale}, nil
}

// CrowdRecords returns the cached raw crowd records for areas. An empty
// list reads the configured default areas.
func (s *Service) CrowdRecords(ctx context.Context, areas []string) (Records, error) {
	resolved, key := CrowdScope(s.crowd, areas)
	res, err := cache.GetOrSet(ctx, s.cache, key, func(ctx context.Context) ([]feed.Record, error) {
		return s.crowd.Fetch(ctx, feed.Params{Areas: resolved}), nil
	})
	if err != nil {
		return Records{}, err
	}
	return Records{Items: res.Data, Stale: res.Stale}, nil
}

// Incidents returns the scored incident hazards for q.
func (s *Service) Incidents(ctx context.Context, q IncidentQuery) (Hazards, error) {
	recs, err := s.IncidentRecords(ctx, q)
	if err != nil {
		return Hazards{}, err
	}
	return s.hazards(recs.Stale, recs.Items, nil), nil
}

// Crowd returns the scored crowd hazards for areas.
func (s *Service) Crowd(ctx context.Context, areas []string) (Hazards, error) {
	recs, err := s.CrowdRecords(ctx, areas)
	if err != nil {
		return Hazards{}, err
	}
	return s.hazards(recs.Stale, nil, recs.Items), nil
}

// All returns incident and crowd hazards for the default scopes, incidents
// first. Stale is set when either read was stale.
func (s *Service) All(ctx context.Context, q IncidentQuery, areas []string) (Hazards, error) {
	var incidents, crowd Records
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		incidents, err = s.IncidentRecords(gctx, q)
		return err
	})
	g.Go(func() error {
		var err error
		crowd, err = s.CrowdRecords(gctx, areas)
		return err
	})
	if err := g.Wait(); err != nil {
		return Hazards{}, err
	}
	return s.hazards(incidents.Stale || crowd.Stale, incidents.Items, crowd.Items), nil
}

func (s *Service) hazards(stale bool, incidents, crowd []feed.Record) Hazards {
	items := hazard.Merge(incidents, crowd, s.clock.Now())
	return Hazards{Stale: stale, Count: len(items), Items: items}
}

// DistrictRisk is the risk summary of one district.
type DistrictRisk struct {
	District string `json:"district"`
	Stale    bool   `json:"stale"`
	hazard.DistrictSummary
}

// DistrictRisk summarises the hazards located in district. A district with
// no hazards gets a zero summary.
func (s *Service) DistrictRisk(ctx context.Context, district string) (DistrictRisk, error) {
	h, err := s.All(ctx, IncidentQuery{District: district}, nil)
	if err != nil {
		return DistrictRisk{}, err
	}
	return DistrictRisk{
		District:        district,
		Stale:           h.Stale,
		DistrictSummary: hazard.SummarizeByDistrict(h.Items)[district],
	}, nil
}

// RouteQuery asks for the safest route between two points.
type RouteQuery struct {
	Origin      geo.Coordinate
	Destination geo.Coordinate
	Avoid       string
}

// RoutePlan is the selected route and the hazards shown along it.
type RoutePlan struct {
	Route        routing.RouteCandidate   `json:"route"`
	Index        int                      `json:"index"`
	Alternatives []routing.RouteCandidate `json:"routes"`
	Scores       []int                    `json:"scores,omitempty"`
	Rerouted     bool                     `json:"rerouted"`
	Notices      []string                 `json:"notices"`
	Areas        []string                 `json:"areas"`
	Hazards      []hazard.Feature         `json:"hazards"`
	Indicator    hazard.Indicator         `json:"indicator"`
	Avoided      string                   `json:"avoided"`
	Stale        bool                     `json:"stale"`
}

// SafestRoute fetches route candidates, reads the hazards around the
// default route and picks the candidate passing the least risk. Stale is
// set when any contributing read was stale.
func (s *Service) SafestRoute(ctx context.Context, q RouteQuery) (RoutePlan, error) {
	directions, err := s.routes.GetDirections(ctx, routing.DirectionsRequest{
		Origin:      q.Origin,
		Destination: q.Destination,
	})
	if err != nil {
		return RoutePlan{}, fmt.Errorf("getting directions: %w", err)
	}
	candidates := directions.Data.Routes
	if len(candidates) == 0 {
		return RoutePlan{}, ErrNoRoute
	}

	areas := s.selector.PickAreasAlongRoute(candidates[0].Geometry)
	if areas == nil {
		areas = []string{}
	}
	h, err := s.All(ctx, IncidentQuery{}, areas)
	if err != nil {
		return RoutePlan{}, err
	}

	sel := s.selector.Choose(candidates, h.Items)
	shown := s.selector.FilterForDisplay(sel.Route.Geometry, h.Items)
	s.metrics.RouteSelected(sel.Rerouted)

	plan := RoutePlan{
		Route:        sel.Route,
		Index:        sel.Index,
		Alternatives: candidates,
		Scores:       sel.Scores,
		Rerouted:     sel.Rerouted,
		Notices:      []string{},
		Areas:        areas,
		Hazards:      shown,
		Indicator:    hazard.Summarize(shown),
		Avoided:      q.Avoid,
		Stale:        directions.Stale || h.Stale,
	}
	if plan.Avoided == "" {
		plan.Avoided = DefaultAvoid
	}
	if sel.Notice != "" {
		plan.Notices = append(plan.Notices, sel.Notice)
	}
	if len(shown) == 0 {
		plan.Notices = append(plan.Notices, routing.NoticeClear)
	}

	s.logger.Debug().
		Int("candidates", len(candidates)).
		Int("selected", sel.Index).
		Ints("scores", sel.Scores).
		Strs("areas", areas).
		Int("hazards_shown", len(shown)).
		Bool("stale", plan.Stale).
		Msg("route selected")

	return plan, nil
}
