// Package server implements the HTTP transport layer for the opsdeck
// dashboard data plane.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	opsdeck "github.com/veslov/opsdeck/internal"
	"github.com/veslov/opsdeck/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// Orchestrator resolves panel data requests.
type Orchestrator interface {
	Load(ctx context.Context, p opsdeck.Panel) opsdeck.Result
	Refresh(ctx context.Context, p opsdeck.Panel) opsdeck.Result
}

// RefreshToggler pauses and resumes per-panel auto-refresh.
type RefreshToggler interface {
	SetPaused(panel string, paused bool)
	Paused(panel string) bool
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Orchestrator   Orchestrator
	Panels         []opsdeck.Panel
	AutoRefresh    RefreshToggler     // nil = toggle endpoint returns 404
	ReadyCheck     ReadyChecker       // nil = always ready (for tests)
	Metrics        *telemetry.Metrics // nil = no request metrics
	MetricsHandler http.Handler       // nil = no /metrics endpoint
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{
		deps:   deps,
		panels: make(map[string]opsdeck.Panel, len(deps.Panels)),
	}
	for _, p := range deps.Panels {
		s.panels[p.Name] = p
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// System endpoints
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// Dashboard and panel API
	r.Get("/", s.handleDashboard)
	r.Route("/api/panels/{name}", func(r chi.Router) {
		r.Get("/", s.handlePanel)
		r.Post("/refresh", s.handleRefresh)
		r.Get("/export.csv", s.handleExportCSV)
		r.Post("/autorefresh", s.handleAutoRefreshToggle)
	})

	return r
}

type server struct {
	deps   Deps
	panels map[string]opsdeck.Panel
}

// panel resolves a route's panel name against the configured panels.
func (s *server) panel(name string) (opsdeck.Panel, error) {
	p, ok := s.panels[name]
	if !ok {
		return opsdeck.Panel{}, opsdeck.ErrPanelUnknown
	}
	return p, nil
}
