// Package refresh implements the panel load orchestration: for each request
// it decides between the volatile cache, the persistent fallback, and a live
// fetch, and schedules non-blocking background revalidation when cached data
// is served.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	opsdeck "github.com/veslov/opsdeck/internal"
	"github.com/veslov/opsdeck/internal/cache"
	"github.com/veslov/opsdeck/internal/circuitbreaker"
	"github.com/veslov/opsdeck/internal/ratelimit"
	"github.com/veslov/opsdeck/internal/storage"
	"github.com/veslov/opsdeck/internal/telemetry"
)

// revalidateTimeout bounds a background fetch started after an instant-paint
// serve from the fallback store.
const revalidateTimeout = 15 * time.Second

// errBreakerOpen marks fetches short-circuited by an open circuit breaker.
var errBreakerOpen = fmt.Errorf("upstream short-circuited: %w", opsdeck.ErrUpstream)

// Source performs live fetches, returning normalized snapshot JSON.
type Source interface {
	Fetch(ctx context.Context, p opsdeck.Panel) ([]byte, error)
}

// Options holds the orchestrator dependencies. Gates, Breakers, Metrics and
// OnUpdate are optional.
type Options struct {
	Volatile cache.Cache
	Fallback storage.FallbackStore
	Source   Source
	Gates    *ratelimit.Registry
	Breakers *circuitbreaker.Registry
	Metrics  *telemetry.Metrics
	// OnUpdate is invoked when a background revalidation lands new data,
	// letting callers re-render silently. Never called after Close.
	OnUpdate func(p opsdeck.Panel, res opsdeck.Result)
}

// Orchestrator coordinates the two cache layers, the rate gate, the breaker,
// and the live source for every panel load. Concurrent fetches for one key
// are collapsed; cache writes are last-write-wins.
type Orchestrator struct {
	volatile cache.Cache
	fallback storage.FallbackStore
	source   Source
	gates    *ratelimit.Registry
	breakers *circuitbreaker.Registry
	metrics  *telemetry.Metrics
	onUpdate func(p opsdeck.Panel, res opsdeck.Result)

	baseCtx context.Context
	cancel  context.CancelFunc
	sf      singleflight.Group
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates an Orchestrator from opts.
func New(opts Options) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		volatile: opts.Volatile,
		fallback: opts.Fallback,
		source:   opts.Source,
		gates:    opts.Gates,
		breakers: opts.Breakers,
		metrics:  opts.Metrics,
		onUpdate: opts.OnUpdate,
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Load resolves one panel data request. Resolution order: fresh fallback
// entry (instant paint plus background revalidation), fresh volatile entry,
// rate-gate check, live fetch with stale-fallback recovery.
func (o *Orchestrator) Load(ctx context.Context, p opsdeck.Panel) opsdeck.Result {
	if o.isClosed() {
		return opsdeck.Result{Panel: p.Name, Outcome: opsdeck.Failed, Err: opsdeck.ErrClosed}
	}
	key := p.Key()

	// Persistent hit paints instantly; freshness is recovered in the background.
	if e, ok := o.fallbackFresh(ctx, key, p.FallbackTTL); ok {
		o.revalidate(p)
		return o.done(p, opsdeck.Result{
			Panel:     p.Name,
			Outcome:   opsdeck.ServedFresh,
			Payload:   e.Payload,
			FetchedAt: e.FetchedAt,
		})
	}

	if e, ok := o.volatile.Get(ctx, key); ok {
		if o.metrics != nil {
			o.metrics.VolatileHits.Inc()
		}
		return o.done(p, opsdeck.Result{
			Panel:     p.Name,
			Outcome:   opsdeck.ServedFresh,
			Payload:   e.Payload,
			FetchedAt: e.FetchedAt,
		})
	}
	if o.metrics != nil {
		o.metrics.VolatileMisses.Inc()
	}

	if g := o.gate(p); g != nil {
		if res := g.Allow(); !res.Allowed {
			if o.metrics != nil {
				o.metrics.RateGateRejects.WithLabelValues(p.Name).Inc()
			}
			// Leave the previously rendered state untouched.
			return o.done(p, opsdeck.Result{Panel: p.Name, Outcome: opsdeck.Skipped})
		}
	}

	return o.done(p, o.fetchAndServe(ctx, p))
}

// Refresh handles a manual refresh: the volatile entry is dropped and the
// instant-paint path is skipped so a live fetch is forced, but the rate gate
// still applies -- a rapid double trigger performs exactly one fetch.
func (o *Orchestrator) Refresh(ctx context.Context, p opsdeck.Panel) opsdeck.Result {
	if o.isClosed() {
		return opsdeck.Result{Panel: p.Name, Outcome: opsdeck.Failed, Err: opsdeck.ErrClosed}
	}
	o.volatile.Delete(ctx, p.Key())

	if g := o.gate(p); g != nil {
		if res := g.Allow(); !res.Allowed {
			if o.metrics != nil {
				o.metrics.RateGateRejects.WithLabelValues(p.Name).Inc()
			}
			return o.done(p, opsdeck.Result{
				Panel:      p.Name,
				Outcome:    opsdeck.Skipped,
				RetryAfter: res.RetryAfter,
				Err:        opsdeck.ErrRateLimited,
			})
		}
	}

	return o.done(p, o.fetchAndServe(ctx, p))
}

// Close tears the orchestrator down: pending background revalidations are
// cancelled and awaited, and no cache write or OnUpdate call happens after
// Close returns.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
}

// fetchAndServe performs a live fetch and falls back to an arbitrarily old
// persistent entry when the fetch fails.
func (o *Orchestrator) fetchAndServe(ctx context.Context, p opsdeck.Panel) opsdeck.Result {
	e, err := o.fetch(ctx, p)
	if err == nil {
		return opsdeck.Result{
			Panel:     p.Name,
			Outcome:   opsdeck.ServedFresh,
			Payload:   e.Payload,
			FetchedAt: e.FetchedAt,
		}
	}

	if stale, ok := o.fallbackStale(ctx, p.Key()); ok {
		if o.metrics != nil {
			o.metrics.StaleServes.WithLabelValues(p.Name).Inc()
		}
		slog.LogAttrs(ctx, slog.LevelWarn, "serving stale fallback data",
			slog.String("panel", p.Name),
			slog.String("age", stale.Age().Round(time.Second).String()),
			slog.String("error", err.Error()),
		)
		return opsdeck.Result{
			Panel:     p.Name,
			Outcome:   opsdeck.ServedStale,
			Stale:     true,
			Payload:   stale.Payload,
			FetchedAt: stale.FetchedAt,
			Err:       err,
		}
	}

	return opsdeck.Result{Panel: p.Name, Outcome: opsdeck.Failed, Err: err}
}

// fetch runs one live fetch through the breaker and the gate, storing the
// result in both cache layers. Concurrent calls for the same key share a
// single execution.
func (o *Orchestrator) fetch(ctx context.Context, p opsdeck.Panel) (opsdeck.Entry, error) {
	v, err, _ := o.sf.Do(p.Key(), func() (any, error) {
		br := o.breaker(p)
		if br != nil && !br.Allow() {
			if o.metrics != nil {
				o.metrics.BreakerRejects.WithLabelValues(p.Name).Inc()
			}
			return opsdeck.Entry{}, fmt.Errorf("%s: %w", p.Name, errBreakerOpen)
		}

		if g := o.gate(p); g != nil {
			g.Record()
		}

		start := time.Now()
		payload, err := o.source.Fetch(ctx, p)
		if o.metrics != nil {
			o.metrics.FetchDuration.WithLabelValues(p.Name).Observe(time.Since(start).Seconds())
		}
		if err != nil {
			if br != nil {
				br.RecordFailure()
			}
			if o.metrics != nil {
				o.metrics.FetchesTotal.WithLabelValues(p.Name, "error").Inc()
			}
			return opsdeck.Entry{}, err
		}
		if br != nil {
			br.RecordSuccess()
		}
		if o.metrics != nil {
			o.metrics.FetchesTotal.WithLabelValues(p.Name, "ok").Inc()
		}

		e := opsdeck.Entry{Payload: payload, FetchedAt: time.Now()}
		o.store(ctx, p, e)
		return e, nil
	})
	if err != nil {
		return opsdeck.Entry{}, err
	}
	return v.(opsdeck.Entry), nil
}

// store writes the entry to both cache layers. Persistent store failures are
// logged and swallowed; they must never surface to a load. Nothing is written
// after Close.
func (o *Orchestrator) store(ctx context.Context, p opsdeck.Panel, e opsdeck.Entry) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	key := p.Key()
	o.volatile.Set(ctx, key, e, p.FreshTTL)
	if err := o.fallback.Put(ctx, key, e); err != nil {
		if o.metrics != nil {
			o.metrics.FallbackFailures.Inc()
		}
		slog.LogAttrs(ctx, slog.LevelWarn, "fallback store write failed",
			slog.String("panel", p.Name),
			slog.String("error", err.Error()),
		)
	}
}

// revalidate starts a fire-and-forget background fetch to opportunistically
// replace a served fallback entry. It respects the rate gate so instant
// paints cannot turn into request storms.
func (o *Orchestrator) revalidate(p opsdeck.Panel) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()

		if g := o.gate(p); g != nil {
			if res := g.Allow(); !res.Allowed {
				return
			}
		}

		ctx, cancel := context.WithTimeout(o.baseCtx, revalidateTimeout)
		defer cancel()

		e, err := o.fetch(ctx, p)
		if err != nil {
			slog.LogAttrs(ctx, slog.LevelDebug, "background revalidation failed",
				slog.String("panel", p.Name),
				slog.String("error", err.Error()),
			)
			return
		}
		o.notify(p, opsdeck.Result{
			Panel:     p.Name,
			Outcome:   opsdeck.ServedFresh,
			Payload:   e.Payload,
			FetchedAt: e.FetchedAt,
		})
	}()
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// notify invokes OnUpdate unless the orchestrator has been torn down.
func (o *Orchestrator) notify(p opsdeck.Panel, res opsdeck.Result) {
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed || o.onUpdate == nil {
		return
	}
	o.onUpdate(p, res)
}

// fallbackFresh reads the persistent store in fresh-only mode. Store errors
// count as a miss.
func (o *Orchestrator) fallbackFresh(ctx context.Context, key string, ttl time.Duration) (opsdeck.Entry, bool) {
	e, err := o.fallback.Get(ctx, key, ttl)
	switch {
	case err == nil:
		if o.metrics != nil {
			o.metrics.FallbackHits.Inc()
		}
		return e, true
	case errors.Is(err, opsdeck.ErrNotFound):
	default:
		if o.metrics != nil {
			o.metrics.FallbackFailures.Inc()
		}
		slog.LogAttrs(ctx, slog.LevelWarn, "fallback store read failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	if o.metrics != nil {
		o.metrics.FallbackMisses.Inc()
	}
	return opsdeck.Entry{}, false
}

// fallbackStale reads the persistent store in allow-stale mode.
func (o *Orchestrator) fallbackStale(ctx context.Context, key string) (opsdeck.Entry, bool) {
	e, err := o.fallback.Get(ctx, key, 0)
	if err == nil {
		return e, true
	}
	if !errors.Is(err, opsdeck.ErrNotFound) {
		if o.metrics != nil {
			o.metrics.FallbackFailures.Inc()
		}
		slog.LogAttrs(ctx, slog.LevelWarn, "fallback store read failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	return opsdeck.Entry{}, false
}

func (o *Orchestrator) done(p opsdeck.Panel, res opsdeck.Result) opsdeck.Result {
	if o.metrics != nil {
		o.metrics.LoadsTotal.WithLabelValues(p.Name, res.Outcome.String()).Inc()
	}
	return res
}

func (o *Orchestrator) gate(p opsdeck.Panel) *ratelimit.Gate {
	if o.gates == nil {
		return nil
	}
	return o.gates.GetOrCreate(p.Name, p.MinFetchInterval)
}

func (o *Orchestrator) breaker(p opsdeck.Panel) *circuitbreaker.Breaker {
	if o.breakers == nil {
		return nil
	}
	return o.breakers.GetOrCreate(p.Name)
}
