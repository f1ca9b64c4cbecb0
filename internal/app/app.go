// Package app wires configuration into the feed clients, cache and services
// shared by the API server and the worker.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/safeway/safeway/internal/cache"
	"github.com/safeway/safeway/internal/config"
	"github.com/safeway/safeway/internal/feed/crowd"
	"github.com/safeway/safeway/internal/feed/incident"
	"github.com/safeway/safeway/internal/gazetteer"
	"github.com/safeway/safeway/internal/geocode/nominatim"
	"github.com/safeway/safeway/internal/observability"
	"github.com/safeway/safeway/internal/provider/resilience"
	"github.com/safeway/safeway/internal/routing"
	"github.com/safeway/safeway/internal/routing/osrm"
	"github.com/safeway/safeway/internal/safety"
	"github.com/safeway/safeway/internal/worker"
)

// ConnectTimeout bounds the initial cache backend ping.
const ConnectTimeout = 3 * time.Second

const healthKey = "safeway:health"

// ConfigureLogger applies the configured level and, in development, switches
// to human-readable console output on out.
func ConfigureLogger(log zerolog.Logger, cfg *config.Config, out io.Writer) zerolog.Logger {
	log = log.Level(cfg.Level())
	if cfg.IsDevelopment() {
		log = log.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen})
	}
	return log
}

// Options holds the process-level inputs to Build.
type Options struct {
	Config *config.Config
	Logger zerolog.Logger

	// Registerer receives the domain collectors. Defaults to a fresh registry.
	Registerer prometheus.Registerer
}

// Components holds everything built from the configuration.
type Components struct {
	Metrics   *observability.Metrics
	Registry  *resilience.Registry
	Store     *cache.TieredStore
	Cache     *cache.Cache
	Resolver  *gazetteer.Resolver
	Incidents *incident.Client
	Crowd     *crowd.Client
	Routing   *routing.Service
	Safety    *safety.Service
	Warmer    *worker.WarmJob

	redis *cache.RedisStore
}

// Build constructs the component graph. It connects to Redis unless
// disabled and falls back to memory when the ping fails.
func Build(ctx context.Context, opts Options) (*Components, error) {
	cfg := opts.Config
	log := opts.Logger
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	c := &Components{
		Metrics:  observability.NewMetrics(reg),
		Registry: resilience.NewRegistry(),
	}

	var primary cache.Store
	if !cfg.Cache.DisableRedis && cfg.Cache.RedisURL != "" {
		rs, err := cache.DialRedis(cfg.Cache.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("configuring redis: %w", err)
		}
		c.redis = rs
		primary = rs
	}
	c.Store = cache.NewTieredStore(cache.TieredStoreConfig{
		Primary: primary,
		Metrics: c.Metrics,
		Logger:  log.With().Str("component", "cache").Logger(),
	})
	connectCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	c.Store.Connect(connectCtx)
	cancel()

	c.Cache = cache.New(cache.Config{
		Store:              c.Store,
		TTL:                cfg.Cache.TTL,
		Stale:              cfg.Cache.Stale,
		RefreshConcurrency: int64(cfg.Cache.RefreshConcurrency),
		Metrics:            c.Metrics,
		Logger:             log.With().Str("component", "cache").Logger(),
	})

	var geocoder gazetteer.Geocoder
	if cfg.Providers.GeocodeEnabled {
		geocoder = nominatim.NewClient(nominatim.ClientConfig{
			BaseURL:   cfg.Providers.NominatimBaseURL,
			UserAgent: cfg.Providers.GeocodeUserAgent,
			Registry:  c.Registry,
			Logger:    log.With().Str("provider", nominatim.ProviderName).Logger(),
		})
	}
	c.Resolver = gazetteer.NewResolver(gazetteer.ResolverConfig{
		Geocoder: geocoder,
		Metrics:  c.Metrics,
		Logger:   log.With().Str("component", "gazetteer").Logger(),
	})

	c.Incidents = incident.NewClient(incident.ClientConfig{
		BaseURL:      cfg.Seoul.BaseURL,
		APIKey:       cfg.Seoul.APIKey,
		Format:       cfg.Seoul.Format,
		Service:      cfg.Seoul.IncidentService,
		LegacyURL:    cfg.Seoul.IncidentURL,
		DefaultStart: cfg.Seoul.DefaultStart,
		DefaultEnd:   cfg.Seoul.DefaultEnd,
		HTTPClient:   feedHTTPClient(incident.ProviderName, c.Registry),
		Metrics:      c.Metrics,
		Logger:       log.With().Str("provider", incident.ProviderName).Logger(),
	})
	c.Crowd = crowd.NewClient(crowd.ClientConfig{
		BaseURL:     cfg.Seoul.BaseURL,
		APIKey:      cfg.Seoul.APIKey,
		Format:      cfg.Seoul.Format,
		Service:     cfg.Seoul.CrowdService,
		Areas:       cfg.Seoul.CrowdAreas,
		AreaFile:    cfg.Seoul.CrowdAreaFile,
		DefaultArea: cfg.Seoul.CrowdArea,
		Concurrency: cfg.Seoul.CrowdConcurrency,
		Resolver:    c.Resolver,
		HTTPClient:  feedHTTPClient(crowd.ProviderName, c.Registry),
		Metrics:     c.Metrics,
		Logger:      log.With().Str("provider", crowd.ProviderName).Logger(),
	})

	c.Routing = routing.NewService(routing.ServiceConfig{
		Provider: osrm.NewClient(osrm.ClientConfig{
			BaseURL:  cfg.Providers.OSRMBaseURL,
			Registry: c.Registry,
			Logger:   log.With().Str("provider", osrm.ProviderName).Logger(),
		}),
		Cache:  c.Cache,
		Logger: log.With().Str("component", "routing").Logger(),
	})

	c.Safety = safety.NewService(safety.ServiceConfig{
		Incidents: c.Incidents,
		Crowd:     c.Crowd,
		Routes:    c.Routing,
		Selector:  routing.NewSelector(routing.SelectorConfig{Areas: c.Resolver.Areas()}),
		Cache:     c.Cache,
		Metrics:   c.Metrics,
		Logger:    log.With().Str("component", "safety").Logger(),
	})

	warmCfg := worker.DefaultWarmConfig()
	warmCfg.Interval = cfg.WarmInterval
	c.Warmer = worker.NewWarmJob(worker.WarmJobConfig{
		Config:    warmCfg,
		Incidents: c.Incidents,
		Crowd:     c.Crowd,
		Cache:     c.Cache,
		Metrics:   c.Metrics,
		Logger:    log.With().Str("component", "warmer").Logger(),
	})

	return c, nil
}

// CacheCheck round-trips a health key through the cache store.
func (c *Components) CacheCheck(ctx context.Context) error {
	if err := c.Store.Set(ctx, healthKey, []byte("1"), 10*time.Second); err != nil {
		return fmt.Errorf("writing health key: %w", err)
	}
	_, ok, err := c.Store.Get(ctx, healthKey)
	if err != nil {
		return fmt.Errorf("reading health key: %w", err)
	}
	if !ok {
		return errors.New("health key not found")
	}
	return nil
}

// Close waits for background refreshes and releases the Redis connection.
func (c *Components) Close() error {
	c.Cache.Wait()
	if c.redis != nil {
		return c.redis.Close()
	}
	return nil
}

func feedHTTPClient(name string, registry *resilience.Registry) *resilience.Client {
	cfg := resilience.DefaultClientConfig(name)
	cfg.Registry = registry
	return resilience.NewClient(cfg)
}
