// Package circuitbreaker short-circuits live fetches against a known-bad
// upstream. A polling dashboard hammers the same endpoints on a timer, so
// once the backend is down every poll would otherwise pay the full timeout
// before falling back to stale data; the breaker turns that into an
// immediate stale serve until a probe succeeds.
package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows all fetches through.
	StateClosed State = iota
	// StateOpen rejects all fetches.
	StateOpen
	// StateHalfOpen allows a single probe fetch.
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker parameters.
type Config struct {
	FailureThreshold int           // consecutive failures to trip
	OpenTimeout      time.Duration // time in OPEN before allowing a probe
}

// DefaultConfig returns sensible defaults for a dashboard poll cadence.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		OpenTimeout:      30 * time.Second,
	}
}

// Breaker is a per-panel circuit breaker driven by consecutive fetch failures.
// Consecutive counting fits the traffic here: each panel issues one fetch at
// a time on a timer, so an error-rate window would only ever see single probes.
type Breaker struct {
	mu        sync.Mutex
	state     State
	failures  int       // consecutive failures while closed
	openedAt  time.Time // when transitioned to OPEN
	probing   bool      // true when a half-open probe is in flight
	threshold int
	timeout   time.Duration
}

// NewBreaker creates a breaker with the given config.
func NewBreaker(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultConfig().OpenTimeout
	}
	return &Breaker{
		state:     StateClosed,
		threshold: cfg.FailureThreshold,
		timeout:   cfg.OpenTimeout,
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	s := b.state
	b.mu.Unlock()
	return s
}

// Allow checks whether a fetch should be allowed through.
func (b *Breaker) Allow() bool {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Sub(b.openedAt) >= b.timeout {
			b.state = StateHalfOpen
			b.probing = true
			return true
		}
		return false
	case StateHalfOpen:
		if !b.probing {
			b.probing = true
			return true
		}
		// Another probe is already in flight; reject.
		return false
	}
	return false
}

// RecordSuccess records a successful fetch, closing the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state != StateClosed {
		b.state = StateClosed
		b.probing = false
	}
}

// RecordFailure records a failed fetch, tripping the breaker once the
// consecutive-failure threshold is reached or a probe fails.
func (b *Breaker) RecordFailure() {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.state = StateOpen
			b.openedAt = now
		}
	case StateHalfOpen:
		// Probe failed: reopen.
		b.state = StateOpen
		b.openedAt = now
		b.probing = false
		b.failures = b.threshold
	}
}

// Registry manages per-panel Breakers.
type Registry struct {
	mu       sync.RWMutex
	cfg      Config
	breakers map[string]*Breaker
}

// NewRegistry creates a breaker registry; all breakers share cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// GetOrCreate returns the breaker for name, creating one if needed.
func (r *Registry) GetOrCreate(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b = NewBreaker(r.cfg)
	r.breakers[name] = b
	return b
}
