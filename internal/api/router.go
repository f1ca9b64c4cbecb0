// Package api provides the HTTP API for SafeWay.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/safeway/safeway/internal/api/handler"
	"github.com/safeway/safeway/internal/api/middleware"
	"github.com/safeway/safeway/internal/api/models"
	"github.com/safeway/safeway/internal/api/response"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger      zerolog.Logger
	ServiceName string

	// Metrics records OpenTelemetry HTTP metrics when set.
	Metrics *middleware.Metrics

	// MetricsHandler serves GET /metrics when set.
	MetricsHandler http.Handler

	Hazards handler.HazardService
	Routes  handler.RouteService
	Ops     handler.OpsConfig

	// RateLimit applies per client IP to hazard reads. Defaults to
	// middleware.StandardRateLimit.
	RateLimit middleware.RateLimitConfig
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "safeway-api"
	}
	readLimit := cfg.RateLimit
	if readLimit.RequestLimit <= 0 || readLimit.WindowLength <= 0 {
		readLimit = middleware.StandardRateLimit
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, r, "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, r, problemMethodNotAllowed(r))
	})

	opsHandler := handler.NewOpsHandler(cfg.Ops)
	hazardHandler := handler.NewHazardHandler(cfg.Hazards, cfg.Logger)
	routeHandler := handler.NewRouteHandler(cfg.Routes, cfg.Logger)

	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})

		// Cached hazard reads
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(readLimit))
			r.Get("/incidents", hazardHandler.Incidents)
			r.Get("/crowd", hazardHandler.Crowd)
			r.Get("/areas/{district}/risk", hazardHandler.DistrictRisk)
			r.Get("/tiles/risk/{z}/{x}/{y}", hazardHandler.RiskTile)
		})

		// Route queries may reach the routing provider
		r.With(middleware.RateLimitByIP(middleware.RouteRateLimit)).Get("/route", routeHandler.SafestRoute)
	})

	return r
}

func problemMethodNotAllowed(r *http.Request) *models.Problem {
	return models.NewProblem(
		"https://safeway.dev/problems/method-not-allowed",
		"Method not allowed",
		http.StatusMethodNotAllowed,
		middleware.GetRequestID(r.Context()),
	).WithDetail(r.Method + " is not supported on this endpoint")
}
