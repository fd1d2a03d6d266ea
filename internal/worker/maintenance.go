package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/veslov/opsdeck/internal/ratelimit"
)

const (
	gateEvictInterval = 10 * time.Minute
	gateIdleCutoff    = time.Hour
)

// GateEvictor periodically removes rate gates that no panel has touched
// recently, bounding registry growth when panel configurations churn.
type GateEvictor struct {
	gates *ratelimit.Registry
}

// NewGateEvictor creates a GateEvictor over the registry.
func NewGateEvictor(gates *ratelimit.Registry) *GateEvictor {
	return &GateEvictor{gates: gates}
}

// Name returns the worker identifier.
func (w *GateEvictor) Name() string { return "gate_evictor" }

// Run evicts idle gates on a periodic schedule until ctx is cancelled.
func (w *GateEvictor) Run(ctx context.Context) error {
	ticker := time.NewTicker(gateEvictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := w.gates.EvictStale(time.Now().Add(-gateIdleCutoff)); n > 0 {
				slog.Info("idle rate gates evicted", "count", n)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
