// Package opsdeck defines domain types for the opsdeck dashboard data service.
// This package has no project imports -- it is the dependency root.
package opsdeck

import (
	"context"
	"sort"
	"strings"
	"time"
)

// --- Panels ---

// Kind identifies the upstream data shape a panel renders.
type Kind string

const (
	// KindLogAnalysis is the recent log analysis summary.
	KindLogAnalysis Kind = "log_analysis"
	// KindInspections is the paginated inspection results table.
	KindInspections Kind = "inspections"
	// KindResources is the per-host server resource report.
	KindResources Kind = "server_resources"
	// KindStatus is the aggregate system status card set.
	KindStatus Kind = "current_status"
)

// Panel describes one dashboard data source with its freshness tuning.
// TTLs and intervals come from configuration; zero values are filled with
// the configured defaults before a Panel reaches the orchestrator.
type Panel struct {
	Name     string            `json:"name"`
	Resource string            `json:"resource"` // upstream path segment, e.g. "log-recent-analysis"
	Kind     Kind              `json:"kind"`
	Params   map[string]string `json:"params,omitempty"`

	FreshTTL         time.Duration `json:"fresh_ttl"`          // volatile cache TTL
	FallbackTTL      time.Duration `json:"fallback_ttl"`       // persistent cache freshness window
	MinFetchInterval time.Duration `json:"min_fetch_interval"` // rate gate between live fetches
	AutoRefresh      time.Duration `json:"auto_refresh"`       // periodic reload interval (0 = off)
}

// Key returns the deterministic cache key for the panel's effective query:
// "resource?k1=v1&k2=v2" with parameter keys sorted. Two panels with identical
// resource and parameters always map to the same key.
func (p Panel) Key() string {
	if len(p.Params) == 0 {
		return p.Resource
	}
	keys := make([]string, 0, len(p.Params))
	for k := range p.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(p.Resource)
	for i, k := range keys {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(p.Params[k])
	}
	return b.String()
}

// --- Cache entries ---

// Entry is a cached snapshot payload with its fetch time. Entries are
// immutable after creation; a refresh replaces the entry wholesale.
type Entry struct {
	Payload   []byte    `json:"payload"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Age returns how long ago the entry was fetched.
func (e Entry) Age() time.Duration { return time.Since(e.FetchedAt) }

// FreshWithin reports whether the entry is younger than ttl.
func (e Entry) FreshWithin(ttl time.Duration) bool { return e.Age() < ttl }

// --- Load outcomes ---

// Outcome classifies how a data load request was served.
type Outcome int

const (
	// ServedFresh means data within its TTL was served (from either cache
	// layer or a successful live fetch).
	ServedFresh Outcome = iota
	// ServedStale means expired fallback data was served after a failed or
	// short-circuited live fetch. Callers must flag it as degraded.
	ServedStale
	// Skipped means no new data was produced (rate gate denied a fetch);
	// the previously rendered state stays untouched.
	Skipped
	// Failed means the fetch failed and no fallback data exists.
	Failed
)

// String returns the wire name of the outcome.
func (o Outcome) String() string {
	switch o {
	case ServedFresh:
		return "fresh"
	case ServedStale:
		return "stale"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the product of one orchestrated data load.
type Result struct {
	Panel      string
	Outcome    Outcome
	Stale      bool          // true when degraded (older than the fallback TTL)
	Payload    []byte        // normalized snapshot JSON; nil for Skipped
	FetchedAt  time.Time     // zero for Skipped and Failed
	RetryAfter time.Duration // set when a manual refresh was rate limited
	Err        error         // fetch or gate error: set for Failed, stale serves, and rate-limited manual refreshes
}

// --- Context keys ---

type contextKey int

const ctxKeyRequestID contextKey = 0

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}
