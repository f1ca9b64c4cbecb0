// Package main provides the entrypoint for the SafeWay API server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/safeway/safeway/internal/api"
	"github.com/safeway/safeway/internal/api/handler"
	"github.com/safeway/safeway/internal/api/middleware"
	"github.com/safeway/safeway/internal/app"
	"github.com/safeway/safeway/internal/config"
	"github.com/safeway/safeway/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "safeway-api"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	if err := config.LoadDotEnv(); err != nil {
		log.Fatal().Err(err).Msg("failed to load .env")
	}
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	log = app.ConfigureLogger(log, cfg, os.Stdout)

	log.Info().
		Str("build_time", BuildTime).
		Str("env", cfg.Env).
		Msg("starting SafeWay API")

	ctx := context.Background()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()
	if cfg.Telemetry.Enabled {
		log.Info().
			Str("otlp_endpoint", cfg.Telemetry.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	httpMetrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	components, err := app.Build(ctx, app.Options{
		Config:     cfg,
		Logger:     log,
		Registerer: promRegistry,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build services")
	}
	log.Info().
		Str("cache_backend", components.Store.Name()).
		Dur("cache_ttl", components.Cache.TTL()).
		Dur("cache_stale", components.Cache.StaleWindow()).
		Msg("cache ready")

	warmCtx, stopWarm := context.WithCancel(ctx)
	defer stopWarm()
	go components.Warmer.Start(warmCtx)

	router := api.NewRouter(api.RouterConfig{
		Logger:         log,
		ServiceName:    serviceName,
		Metrics:        httpMetrics,
		MetricsHandler: promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
		Hazards:        components.Safety,
		Routes:         components.Safety,
		Ops: handler.OpsConfig{
			Version:       Version,
			BuildTime:     BuildTime,
			Registry:      components.Registry,
			Cache:         components.Cache,
			CacheDegraded: components.Store.Degraded,
			Checks: []handler.Check{
				{Name: "cache", Check: components.CacheCheck},
			},
		},
		RateLimit: middleware.PerMinute(cfg.RateLimitPerMin),
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	stopWarm()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := components.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close cache")
	}

	log.Info().Msg("server stopped")
}
