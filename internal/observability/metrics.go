// Package observability exposes Prometheus metrics for the hazard pipeline.
package observability

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "safeway"

// Outcome label values.
const (
	OutcomeSuccess     = "success"
	OutcomeError       = "error"
	OutcomeEmpty       = "empty"
	OutcomePlaceholder = "placeholder"
	OutcomeSkipped     = "skipped"
)

// Metrics holds the pipeline counters, histograms and gauges. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	// Feed metrics.
	FeedFetches       *prometheus.CounterVec   // labels: feed={incident,crowd}, outcome={success,placeholder}
	FeedFetchDuration *prometheus.HistogramVec // labels: feed
	CrowdAreaFetches  *prometheus.CounterVec   // labels: outcome={success,error,empty}

	// Location resolution.
	GazetteerLookups *prometheus.CounterVec // labels: result={exact,partial,geocoded,fallback}
	GeocodeRequests  *prometheus.CounterVec // labels: outcome={success,error,empty}

	// Cache metrics.
	CacheLookups   *prometheus.CounterVec // labels: keyspace, result={fresh,stale,miss}
	CacheRefreshes *prometheus.CounterVec // labels: outcome={success,error,skipped}
	CacheBackend   *prometheus.GaugeVec   // labels: backend={redis,memory}

	// Orchestration.
	RouteSelections *prometheus.CounterVec // labels: rerouted={true,false}
	WarmRuns        *prometheus.CounterVec // labels: feed, outcome={success,error}
}

func newMetrics() *Metrics {
	return &Metrics{
		FeedFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_fetches_total",
			Help:      "Feed client fetches by feed and outcome.",
		}, []string{"feed", "outcome"}),
		FeedFetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_fetch_duration_seconds",
			Help:      "Duration of a complete feed fetch including fan-out.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"feed"}),
		CrowdAreaFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crowd_area_fetches_total",
			Help:      "Per-area crowd provider requests by outcome.",
		}, []string{"outcome"}),
		GazetteerLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gazetteer_lookups_total",
			Help:      "Area coordinate resolutions by the step that answered.",
		}, []string{"result"}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding provider requests by outcome.",
		}, []string{"outcome"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Stale-while-revalidate cache reads by keyspace and result.",
		}, []string{"keyspace", "result"}),
		CacheRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_background_refreshes_total",
			Help:      "Background cache refreshes by outcome.",
		}, []string{"outcome"}),
		CacheBackend: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_backend_active",
			Help:      "1 for the cache backend currently serving reads and writes.",
		}, []string{"backend"}),
		RouteSelections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_selections_total",
			Help:      "Safest-route selections by whether a detour was chosen.",
		}, []string{"rerouted"}),
		WarmRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_warm_runs_total",
			Help:      "Scheduled cache warm writes by feed and outcome.",
		}, []string{"feed", "outcome"}),
	}
}

// NewMetrics creates all pipeline metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := newMetrics()
	reg.MustRegister(
		m.FeedFetches,
		m.FeedFetchDuration,
		m.CrowdAreaFetches,
		m.GazetteerLookups,
		m.GeocodeRequests,
		m.CacheLookups,
		m.CacheRefreshes,
		m.CacheBackend,
		m.RouteSelections,
		m.WarmRuns,
	)
	return m
}

// NewMetricsForTesting creates Metrics on a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// FeedFetched records a completed feed fetch.
func (m *Metrics) FeedFetched(feed, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.FeedFetches.WithLabelValues(feed, outcome).Inc()
	m.FeedFetchDuration.WithLabelValues(feed).Observe(d.Seconds())
}

// CrowdAreaFetched records one per-area crowd request.
func (m *Metrics) CrowdAreaFetched(outcome string) {
	if m == nil {
		return
	}
	m.CrowdAreaFetches.WithLabelValues(outcome).Inc()
}

// GazetteerLookup records which resolution step answered.
func (m *Metrics) GazetteerLookup(result string) {
	if m == nil {
		return
	}
	m.GazetteerLookups.WithLabelValues(result).Inc()
}

// GeocodeRequested records a geocoding provider call.
func (m *Metrics) GeocodeRequested(outcome string) {
	if m == nil {
		return
	}
	m.GeocodeRequests.WithLabelValues(outcome).Inc()
}

// CacheLookup records a cache read. The keyspace is the key up to its
// first colon.
func (m *Metrics) CacheLookup(key, result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(Keyspace(key), result).Inc()
}

// CacheRefreshed records a background refresh outcome.
func (m *Metrics) CacheRefreshed(outcome string) {
	if m == nil {
		return
	}
	m.CacheRefreshes.WithLabelValues(outcome).Inc()
}

// SetCacheBackend marks backend as the active cache backend.
func (m *Metrics) SetCacheBackend(backend string) {
	if m == nil {
		return
	}
	m.CacheBackend.Reset()
	m.CacheBackend.WithLabelValues(backend).Set(1)
}

// RouteSelected records a safest-route decision.
func (m *Metrics) RouteSelected(rerouted bool) {
	if m == nil {
		return
	}
	label := "false"
	if rerouted {
		label = "true"
	}
	m.RouteSelections.WithLabelValues(label).Inc()
}

// WarmRun records one warmer write.
func (m *Metrics) WarmRun(feed, outcome string) {
	if m == nil {
		return
	}
	m.WarmRuns.WithLabelValues(feed, outcome).Inc()
}

// Keyspace returns the prefix of key before its first colon.
func Keyspace(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}
