package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	opsdeck "github.com/veslov/opsdeck/internal"
)

// Loader resolves one panel data request. Implemented by refresh.Orchestrator.
type Loader interface {
	Load(ctx context.Context, p opsdeck.Panel) opsdeck.Result
}

// AutoRefresh periodically re-loads each panel that has an auto-refresh
// interval configured, keeping the caches warm between page views. Individual
// panels can be paused and resumed at runtime; a paused panel keeps its
// ticker but skips the load.
type AutoRefresh struct {
	loader Loader
	panels []opsdeck.Panel

	mu     sync.Mutex
	paused map[string]bool
}

// NewAutoRefresh creates an AutoRefresh worker over the given panels.
// Panels with a zero AutoRefresh interval are ignored.
func NewAutoRefresh(loader Loader, panels []opsdeck.Panel) *AutoRefresh {
	return &AutoRefresh{
		loader: loader,
		panels: panels,
		paused: make(map[string]bool),
	}
}

// Name returns the worker identifier.
func (a *AutoRefresh) Name() string { return "auto_refresh" }

// SetPaused pauses or resumes auto-refresh for one panel.
func (a *AutoRefresh) SetPaused(panel string, paused bool) {
	a.mu.Lock()
	a.paused[panel] = paused
	a.mu.Unlock()
	slog.Info("auto-refresh toggled", "panel", panel, "paused", paused)
}

// Paused reports whether auto-refresh is paused for the panel.
func (a *AutoRefresh) Paused(panel string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.paused[panel]
}

// Run warms every refreshable panel once, then re-loads each on its own
// interval until ctx is cancelled.
func (a *AutoRefresh) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range a.panels {
		if p.AutoRefresh <= 0 {
			continue
		}
		g.Go(func() error {
			a.tick(ctx, p)

			ticker := time.NewTicker(p.AutoRefresh)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					a.tick(ctx, p)
				case <-ctx.Done():
					return nil
				}
			}
		})
	}
	return g.Wait()
}

func (a *AutoRefresh) tick(ctx context.Context, p opsdeck.Panel) {
	if a.Paused(p.Name) {
		return
	}
	res := a.loader.Load(ctx, p)
	if res.Outcome == opsdeck.Failed {
		slog.LogAttrs(ctx, slog.LevelWarn, "auto-refresh load failed",
			slog.String("panel", p.Name),
			slog.String("error", res.Err.Error()),
		)
	}
}
