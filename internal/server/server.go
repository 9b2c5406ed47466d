// Package server implements the HTTP surface: the generation endpoints that
// go through the response cache, cache health and stats, and operator routes.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eugener/respcache/internal/app"
	"github.com/eugener/respcache/internal/auth"
	"github.com/eugener/respcache/internal/cache"
	"github.com/eugener/respcache/internal/ratelimit"
	"github.com/eugener/respcache/internal/storage"
	"github.com/eugener/respcache/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Text           *app.TextService
	Cache          *cache.Manager
	Ledger         storage.GenerationStore // nil = no /v1/generations
	Limiter        *ratelimit.Limiter      // nil = budget not reported
	Auth           *auth.TokenAuth         // nil or no tokens = operator routes open
	ReadyCheck     ReadyChecker            // nil = always ready
	Metrics        *telemetry.Metrics      // nil = no request metrics
	MetricsHandler http.Handler            // nil = no /metrics
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()
	r.Use(s.recovery)
	r.Use(s.requestID)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}
	r.Use(s.logging)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Get("/v1/cache/health", s.handleCacheHealth)
	r.Get("/v1/cache/stats", s.handleCacheStats)
	r.Get("/v1/upstream/health", s.handleUpstreamHealth)

	r.Post("/v1/feedback", s.handleFeedback)
	r.Post("/v1/hints", s.handleHint)
	r.Post("/v1/insights", s.handleInsight)

	r.Group(func(r chi.Router) {
		r.Use(s.operator)
		r.Delete("/v1/cache", s.handlePurge)
		r.Post("/v1/cache/invalidate", s.handleInvalidate)
		if deps.Ledger != nil {
			r.Get("/v1/generations", s.handleListGenerations)
		}
	})

	return r
}

type server struct {
	deps Deps
}
