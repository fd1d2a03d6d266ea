package server

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	opsdeck "github.com/veslov/opsdeck/internal"
	"github.com/veslov/opsdeck/internal/render"
	"github.com/veslov/opsdeck/internal/source"
)

// panelResponse is the JSON envelope for panel data endpoints. Data carries
// the normalized snapshot; for failed loads it is the render-safe empty
// snapshot and Error explains what went wrong.
type panelResponse struct {
	Panel     string          `json:"panel"`
	Outcome   string          `json:"outcome"`
	Stale     bool            `json:"stale,omitempty"`
	FetchedAt string          `json:"fetched_at,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func panelEnvelope(p opsdeck.Panel, res opsdeck.Result) panelResponse {
	out := panelResponse{
		Panel:   p.Name,
		Outcome: res.Outcome.String(),
		Stale:   res.Stale,
		Data:    res.Payload,
	}
	if !res.FetchedAt.IsZero() {
		out.FetchedAt = res.FetchedAt.UTC().Format(time.RFC3339)
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	if res.Outcome == opsdeck.Failed {
		out.Data = source.EmptySnapshot(p.Kind)
	}
	return out
}

func (s *server) handlePanel(w http.ResponseWriter, r *http.Request) {
	p, err := s.panel(chi.URLParam(r, "name"))
	if err != nil {
		writeJSON(w, errorStatus(err), errorResponse(err.Error()))
		return
	}
	res := s.deps.Orchestrator.Load(r.Context(), p)
	writeJSON(w, http.StatusOK, panelEnvelope(p, res))
}

func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	p, err := s.panel(chi.URLParam(r, "name"))
	if err != nil {
		writeJSON(w, errorStatus(err), errorResponse(err.Error()))
		return
	}

	res := s.deps.Orchestrator.Refresh(r.Context(), p)
	switch {
	case res.Outcome == opsdeck.Skipped && res.RetryAfter > 0:
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(res.RetryAfter)))
		writeJSON(w, http.StatusTooManyRequests, panelEnvelope(p, res))
	case res.Outcome == opsdeck.Failed:
		writeJSON(w, http.StatusBadGateway, panelEnvelope(p, res))
	default:
		writeJSON(w, http.StatusOK, panelEnvelope(p, res))
	}
}

func (s *server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	p, err := s.panel(chi.URLParam(r, "name"))
	if err != nil {
		writeJSON(w, errorStatus(err), errorResponse(err.Error()))
		return
	}

	res := s.deps.Orchestrator.Load(r.Context(), p)
	view, err := render.Build(p, res)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse(err.Error()))
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+p.Name+`.csv"`)
	if err := render.WriteCSV(w, view); err != nil {
		slog.Error("csv export failed", "panel", p.Name, "error", err)
	}
}

type autoRefreshRequest struct {
	Paused bool `json:"paused"`
}

type autoRefreshResponse struct {
	Panel  string `json:"panel"`
	Paused bool   `json:"paused"`
}

func (s *server) handleAutoRefreshToggle(w http.ResponseWriter, r *http.Request) {
	p, err := s.panel(chi.URLParam(r, "name"))
	if err != nil {
		writeJSON(w, errorStatus(err), errorResponse(err.Error()))
		return
	}
	if s.deps.AutoRefresh == nil {
		writeJSON(w, http.StatusNotFound, errorResponse("auto-refresh is not enabled"))
		return
	}

	var req autoRefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}
	s.deps.AutoRefresh.SetPaused(p.Name, req.Paused)
	writeJSON(w, http.StatusOK, autoRefreshResponse{Panel: p.Name, Paused: req.Paused})
}

// handleDashboard loads every configured panel concurrently and renders the
// full dashboard document. A panel that cannot be built degrades to an error
// banner; it never blanks the page.
func (s *server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	views := make([]render.View, len(s.deps.Panels))

	g, ctx := errgroup.WithContext(r.Context())
	for i, p := range s.deps.Panels {
		g.Go(func() error {
			res := s.deps.Orchestrator.Load(ctx, p)
			v, err := render.Build(p, res)
			if err != nil {
				slog.LogAttrs(ctx, slog.LevelError, "panel view build failed",
					slog.String("panel", p.Name),
					slog.String("error", err.Error()),
				)
				v = render.View{Panel: p.Name, Title: p.Name, Banner: "panel unavailable"}
			}
			views[i] = v
			return nil
		})
	}
	_ = g.Wait() // goroutines degrade failures in place, never error

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := render.WriteHTML(w, render.Page{Title: "opsdeck", Panels: views}); err != nil {
		slog.Error("dashboard render failed", "error", err)
	}
}

func retryAfterSeconds(d time.Duration) int {
	n := int(math.Ceil(d.Seconds()))
	if n < 1 {
		n = 1
	}
	return n
}
