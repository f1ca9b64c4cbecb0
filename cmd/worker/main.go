// Package main provides the entrypoint for the SafeWay cache warm worker.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/safeway/safeway/internal/api/response"
	"github.com/safeway/safeway/internal/app"
	"github.com/safeway/safeway/internal/config"
	"github.com/safeway/safeway/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "safeway-worker"

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
	log.Info().Str("build_time", BuildTime).Msg("starting SafeWay worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	promRegistry := prometheus.NewRegistry()
	components, err := app.Build(ctx, app.Options{Config: cfg, Logger: log, Registerer: promRegistry})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build services")
	}

	// Worker also exposes a health endpoint for Cloud Run
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]any{
			"status":  "healthy",
			"version": Version,
			"cache":   components.Store.Name(),
			"warm":    components.Warmer.MetricsSnapshot(),
		})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		log.Info().Dur("interval", cfg.WarmInterval).Msg("cache warmer started")
		components.Warmer.Start(gctx)
		return nil
	})

	if cfg.PubSub.ProjectID != "" {
		handler, err := worker.NewPubSubHandler(gctx, worker.PubSubConfig{
			ProjectID:        cfg.PubSub.ProjectID,
			SubscriptionName: cfg.PubSub.Subscription,
			WarmJob:          components.Warmer,
			Registry:         components.Registry,
			Logger:           log.With().Str("component", "pubsub").Logger(),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create pubsub handler")
		}
		defer handler.Close()

		g.Go(func() error {
			return handler.Start(gctx)
		})
	} else {
		log.Info().Msg("PUBSUB_PROJECT_ID not set, running scheduled warming only")
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down worker")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("worker exited with error")
	}
	if err := components.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close cache")
	}

	log.Info().Msg("worker stopped")
}
