// Package ratelimit enforces a minimum interval between live upstream fetches
// per panel. The gate governs network courtesy; data freshness is governed
// separately by the cache TTLs.
package ratelimit

import (
	"sync"
	"time"
)

// Result is the outcome of a gate check.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration // time until the next fetch is allowed; 0 when Allowed
}

// Gate tracks the last fetch time for one panel. Checks are non-consuming:
// Allow reports whether a fetch may start now, Record marks that one did.
// Splitting the two lets callers check the gate on paths that may not fetch
// (background revalidation, manual refresh) without burning the slot.
type Gate struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	lastUsed time.Time
}

// NewGate creates a Gate with the given minimum interval between fetches.
// A zero or negative interval allows every fetch.
func NewGate(interval time.Duration) *Gate {
	return &Gate{interval: interval, lastUsed: time.Now()}
}

// Allow reports whether a live fetch may start now.
func (g *Gate) Allow() Result {
	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastUsed = now

	if g.interval <= 0 || g.last.IsZero() {
		return Result{Allowed: true}
	}
	elapsed := now.Sub(g.last)
	if elapsed >= g.interval {
		return Result{Allowed: true}
	}
	return Result{RetryAfter: g.interval - elapsed}
}

// Record marks a fetch attempt at the current time. Failed attempts count
// too: the gate throttles network activity, not successful payloads.
func (g *Gate) Record() {
	now := time.Now()
	g.mu.Lock()
	g.last = now
	g.lastUsed = now
	g.mu.Unlock()
}

// Registry manages per-panel Gates.
type Registry struct {
	mu    sync.RWMutex
	gates map[string]*Gate
}

// NewRegistry creates a new gate registry.
func NewRegistry() *Registry {
	return &Registry{gates: make(map[string]*Gate)}
}

// GetOrCreate returns the gate for name, creating one if needed.
// If the configured interval has changed, a new gate is created.
func (r *Registry) GetOrCreate(name string, interval time.Duration) *Gate {
	r.mu.RLock()
	g, ok := r.gates[name]
	r.mu.RUnlock()
	if ok && g.interval == interval {
		return g
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double-check after acquiring write lock.
	if g, ok := r.gates[name]; ok && g.interval == interval {
		return g
	}
	g = NewGate(interval)
	r.gates[name] = g
	return g
}

// EvictStale removes gates not used since cutoff.
func (r *Registry) EvictStale(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for k, g := range r.gates {
		g.mu.Lock()
		stale := g.lastUsed.Before(cutoff)
		g.mu.Unlock()
		if stale {
			delete(r.gates, k)
			evicted++
		}
	}
	return evicted
}
