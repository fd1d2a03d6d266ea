package refresh

import (
	"context"
	"errors"
	"testing"
	"time"

	opsdeck "github.com/veslov/opsdeck/internal"
	"github.com/veslov/opsdeck/internal/cache"
	"github.com/veslov/opsdeck/internal/circuitbreaker"
	"github.com/veslov/opsdeck/internal/ratelimit"
	"github.com/veslov/opsdeck/internal/testutil"
)

func testPanel(freshTTL, fallbackTTL, minInterval time.Duration) opsdeck.Panel {
	return opsdeck.Panel{
		Name:             "log-analysis",
		Resource:         "log-recent-analysis",
		Kind:             opsdeck.KindLogAnalysis,
		Params:           map[string]string{"minutes": "10"},
		FreshTTL:         freshTTL,
		FallbackTTL:      fallbackTTL,
		MinFetchInterval: minInterval,
	}
}

func newOrchestrator(t *testing.T, opts Options) *Orchestrator {
	t.Helper()
	if opts.Volatile == nil {
		m, err := cache.NewMemory(100, time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		opts.Volatile = m
	}
	if opts.Fallback == nil {
		opts.Fallback = testutil.NewFakeFallback()
	}
	if opts.Gates == nil {
		opts.Gates = ratelimit.NewRegistry()
	}
	o := New(opts)
	t.Cleanup(o.Close)
	return o
}

func TestLoad_LiveFetchPopulatesCaches(t *testing.T) {
	t.Parallel()
	src := testutil.NewFakeSource(testutil.FetchStep{Payload: []byte(`{"total_logs":5}`)})
	fb := testutil.NewFakeFallback()
	o := newOrchestrator(t, Options{Source: src, Fallback: fb})

	p := testPanel(30*time.Second, time.Minute, 0)
	res := o.Load(context.Background(), p)

	if res.Outcome != opsdeck.ServedFresh {
		t.Fatalf("outcome = %v, want fresh", res.Outcome)
	}
	if string(res.Payload) != `{"total_logs":5}` {
		t.Errorf("payload = %s", res.Payload)
	}
	if res.Stale {
		t.Error("live fetch result must not be stale")
	}
	if src.Fetches() != 1 {
		t.Errorf("fetches = %d, want 1", src.Fetches())
	}
	if _, ok := fb.Entry(p.Key()); !ok {
		t.Error("fallback store should hold the fetched entry")
	}
}

func TestLoad_VolatileHit(t *testing.T) {
	t.Parallel()
	src := testutil.NewFakeSource(testutil.FetchStep{Payload: []byte(`{"total_logs":1}`)})
	o := newOrchestrator(t, Options{Source: src})

	// Fallback freshness window of 1ns forces the instant-paint step to miss,
	// isolating the volatile layer.
	p := testPanel(time.Minute, time.Nanosecond, 0)
	ctx := context.Background()

	o.Load(ctx, p)
	time.Sleep(50 * time.Millisecond) // otter applies Set asynchronously

	res := o.Load(ctx, p)
	if res.Outcome != opsdeck.ServedFresh {
		t.Fatalf("outcome = %v, want fresh", res.Outcome)
	}
	if src.Fetches() != 1 {
		t.Errorf("fetches = %d, want 1 (second load must hit the volatile cache)", src.Fetches())
	}
}

func TestLoad_FallbackFreshInstantPaintThenRevalidates(t *testing.T) {
	t.Parallel()
	src := testutil.NewFakeSource(testutil.FetchStep{Payload: []byte(`{"total_logs":9}`)})
	fb := testutil.NewFakeFallback()
	updates := make(chan opsdeck.Result, 1)

	p := testPanel(30*time.Second, time.Minute, 0)
	fb.Seed(p.Key(), opsdeck.Entry{
		Payload:   []byte(`{"total_logs":4}`),
		FetchedAt: time.Now().Add(-10 * time.Second),
	})

	o := newOrchestrator(t, Options{
		Source:   src,
		Fallback: fb,
		OnUpdate: func(_ opsdeck.Panel, res opsdeck.Result) { updates <- res },
	})

	res := o.Load(context.Background(), p)
	if res.Outcome != opsdeck.ServedFresh {
		t.Fatalf("outcome = %v, want fresh", res.Outcome)
	}
	if string(res.Payload) != `{"total_logs":4}` {
		t.Errorf("instant paint should serve the persisted entry, got %s", res.Payload)
	}

	// Background revalidation lands the live payload and notifies.
	select {
	case upd := <-updates:
		if string(upd.Payload) != `{"total_logs":9}` {
			t.Errorf("update payload = %s", upd.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no background update")
	}
	if e, ok := fb.Entry(p.Key()); !ok || string(e.Payload) != `{"total_logs":9}` {
		t.Errorf("fallback should hold the revalidated entry, got %s", e.Payload)
	}
	if src.Fetches() != 1 {
		t.Errorf("fetches = %d, want 1", src.Fetches())
	}
}

func TestLoad_InstantPaintRevalidationRespectsGate(t *testing.T) {
	t.Parallel()
	src := testutil.NewFakeSource(
		testutil.FetchStep{Payload: []byte(`{"total_logs":1}`)},
		testutil.FetchStep{Payload: []byte(`{"total_logs":2}`)},
	)
	fb := testutil.NewFakeFallback()
	updates := make(chan opsdeck.Result, 1)

	p := testPanel(time.Nanosecond, time.Minute, time.Hour)
	o := newOrchestrator(t, Options{
		Source:   src,
		Fallback: fb,
		OnUpdate: func(_ opsdeck.Panel, res opsdeck.Result) { updates <- res },
	})
	ctx := context.Background()

	// First load fetches live and charges the gate.
	if res := o.Load(ctx, p); res.Outcome != opsdeck.ServedFresh {
		t.Fatalf("first load outcome = %v, want fresh", res.Outcome)
	}

	// Second load paints instantly from the now-fresh fallback entry. The
	// background revalidation it spawns sits inside the gate window and
	// must not reach the upstream.
	res := o.Load(ctx, p)
	if res.Outcome != opsdeck.ServedFresh {
		t.Fatalf("second load outcome = %v, want fresh", res.Outcome)
	}
	if string(res.Payload) != `{"total_logs":1}` {
		t.Errorf("payload = %s, want the persisted entry", res.Payload)
	}

	time.Sleep(100 * time.Millisecond)
	if src.Fetches() != 1 {
		t.Errorf("fetches = %d, want 1 (gated revalidation must not fetch)", src.Fetches())
	}
	select {
	case upd := <-updates:
		t.Errorf("gated revalidation must not notify, got %v", upd.Outcome)
	default:
	}
}

func TestLoad_RateGateSkips(t *testing.T) {
	t.Parallel()
	src := testutil.NewFakeSource(testutil.FetchStep{Payload: []byte(`{}`)})
	o := newOrchestrator(t, Options{Source: src})

	// Both cache layers expire immediately so every load reaches the gate.
	p := testPanel(time.Nanosecond, time.Nanosecond, time.Hour)
	ctx := context.Background()

	if res := o.Load(ctx, p); res.Outcome != opsdeck.ServedFresh {
		t.Fatalf("first load outcome = %v, want fresh", res.Outcome)
	}

	res := o.Load(ctx, p)
	if res.Outcome != opsdeck.Skipped {
		t.Fatalf("second load outcome = %v, want skipped", res.Outcome)
	}
	if res.Payload != nil {
		t.Error("skipped load must not produce a payload")
	}
	if src.Fetches() != 1 {
		t.Errorf("fetches = %d, want 1", src.Fetches())
	}
}

func TestLoad_FetchFailureServesStaleFallback(t *testing.T) {
	t.Parallel()
	fetchErr := errors.New("connection refused")
	src := testutil.NewFakeSource(testutil.FetchStep{Err: fetchErr})
	fb := testutil.NewFakeFallback()

	// Entry 90s old with a 60s freshness window: fresh read misses,
	// the post-failure stale read returns it.
	p := testPanel(30*time.Second, time.Minute, 0)
	fb.Seed(p.Key(), opsdeck.Entry{
		Payload:   []byte(`{"total_logs":7}`),
		FetchedAt: time.Now().Add(-90 * time.Second),
	})

	o := newOrchestrator(t, Options{Source: src, Fallback: fb})
	res := o.Load(context.Background(), p)

	if res.Outcome != opsdeck.ServedStale {
		t.Fatalf("outcome = %v, want stale", res.Outcome)
	}
	if !res.Stale {
		t.Error("result must be flagged stale")
	}
	if string(res.Payload) != `{"total_logs":7}` {
		t.Errorf("payload = %s", res.Payload)
	}
	if !errors.Is(res.Err, fetchErr) {
		t.Errorf("err = %v, want the fetch error", res.Err)
	}
}

func TestLoad_FetchFailureNoFallback(t *testing.T) {
	t.Parallel()
	src := testutil.NewFakeSource(testutil.FetchStep{Err: errors.New("boom")})
	o := newOrchestrator(t, Options{Source: src})

	res := o.Load(context.Background(), testPanel(time.Second, time.Second, 0))
	if res.Outcome != opsdeck.Failed {
		t.Fatalf("outcome = %v, want failed", res.Outcome)
	}
	if res.Err == nil {
		t.Error("failed load must carry the error")
	}
	if res.Payload != nil {
		t.Error("failed load must not fabricate a payload")
	}
}

func TestRefresh_ForcesFetchButRespectsGate(t *testing.T) {
	t.Parallel()
	src := testutil.NewFakeSource(
		testutil.FetchStep{Payload: []byte(`{"total_logs":1}`)},
		testutil.FetchStep{Payload: []byte(`{"total_logs":2}`)},
	)
	o := newOrchestrator(t, Options{Source: src})

	p := testPanel(time.Minute, time.Minute, 150*time.Millisecond)
	ctx := context.Background()

	if res := o.Load(ctx, p); res.Outcome != opsdeck.ServedFresh {
		t.Fatalf("load outcome = %v", res.Outcome)
	}

	// Rapid manual refresh inside the gate window: no second fetch.
	res := o.Refresh(ctx, p)
	if res.Outcome != opsdeck.Skipped {
		t.Fatalf("refresh outcome = %v, want skipped", res.Outcome)
	}
	if !errors.Is(res.Err, opsdeck.ErrRateLimited) {
		t.Errorf("err = %v, want ErrRateLimited", res.Err)
	}
	if res.RetryAfter <= 0 {
		t.Error("rate-limited refresh should carry a retry hint")
	}
	if src.Fetches() != 1 {
		t.Errorf("fetches = %d, want 1", src.Fetches())
	}

	// Past the window the refresh bypasses both fresh cache layers.
	time.Sleep(160 * time.Millisecond)
	res = o.Refresh(ctx, p)
	if res.Outcome != opsdeck.ServedFresh {
		t.Fatalf("refresh outcome = %v, want fresh", res.Outcome)
	}
	if string(res.Payload) != `{"total_logs":2}` {
		t.Errorf("payload = %s, want the re-fetched snapshot", res.Payload)
	}
	if src.Fetches() != 2 {
		t.Errorf("fetches = %d, want 2", src.Fetches())
	}
}

func TestLoad_StoreErrorsAreSwallowed(t *testing.T) {
	t.Parallel()
	src := testutil.NewFakeSource(testutil.FetchStep{Payload: []byte(`{"count":3}`)})
	fb := testutil.NewFakeFallback()
	fb.GetErr = errors.New("disk corrupt")
	fb.PutErr = errors.New("quota exceeded")

	o := newOrchestrator(t, Options{Source: src, Fallback: fb})
	res := o.Load(context.Background(), testPanel(time.Minute, time.Minute, 0))

	if res.Outcome != opsdeck.ServedFresh {
		t.Fatalf("outcome = %v, want fresh (store failures are cache misses)", res.Outcome)
	}
	if string(res.Payload) != `{"count":3}` {
		t.Errorf("payload = %s", res.Payload)
	}
}

func TestLoad_BreakerShortCircuitsToStale(t *testing.T) {
	t.Parallel()
	src := testutil.NewFakeSource(testutil.FetchStep{Err: errors.New("timeout")})
	fb := testutil.NewFakeFallback()
	p := testPanel(time.Nanosecond, time.Minute, 0)
	fb.Seed(p.Key(), opsdeck.Entry{
		Payload:   []byte(`{"total_logs":8}`),
		FetchedAt: time.Now().Add(-2 * time.Minute),
	})

	o := newOrchestrator(t, Options{
		Source:   src,
		Fallback: fb,
		Breakers: circuitbreaker.NewRegistry(circuitbreaker.Config{FailureThreshold: 1, OpenTimeout: time.Hour}),
	})
	ctx := context.Background()

	// First load fails and trips the breaker; second is short-circuited
	// without touching the upstream.
	if res := o.Load(ctx, p); res.Outcome != opsdeck.ServedStale {
		t.Fatalf("first load outcome = %v, want stale", res.Outcome)
	}
	res := o.Load(ctx, p)
	if res.Outcome != opsdeck.ServedStale {
		t.Fatalf("second load outcome = %v, want stale", res.Outcome)
	}
	if src.Fetches() != 1 {
		t.Errorf("fetches = %d, want 1 (breaker must short-circuit)", src.Fetches())
	}
}

func TestLoadAfterClose(t *testing.T) {
	t.Parallel()
	src := testutil.NewFakeSource(testutil.FetchStep{Payload: []byte(`{}`)})
	o := newOrchestrator(t, Options{Source: src})
	o.Close()

	res := o.Load(context.Background(), testPanel(time.Second, time.Second, 0))
	if res.Outcome != opsdeck.Failed || !errors.Is(res.Err, opsdeck.ErrClosed) {
		t.Errorf("outcome = %v, err = %v, want failed with ErrClosed", res.Outcome, res.Err)
	}
	if src.Fetches() != 0 {
		t.Errorf("fetches = %d, want 0", src.Fetches())
	}
}

// blockingSource blocks Fetch until its context is cancelled.
type blockingSource struct {
	started chan struct{}
}

func (b *blockingSource) Fetch(ctx context.Context, _ opsdeck.Panel) ([]byte, error) {
	select {
	case b.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestClose_CancelsBackgroundRevalidation(t *testing.T) {
	t.Parallel()
	src := &blockingSource{started: make(chan struct{}, 1)}
	fb := testutil.NewFakeFallback()
	updates := make(chan opsdeck.Result, 1)

	p := testPanel(time.Minute, time.Minute, 0)
	fb.Seed(p.Key(), opsdeck.Entry{Payload: []byte(`{}`), FetchedAt: time.Now()})

	o := newOrchestrator(t, Options{
		Source:   src,
		Fallback: fb,
		OnUpdate: func(_ opsdeck.Panel, res opsdeck.Result) { updates <- res },
	})

	if res := o.Load(context.Background(), p); res.Outcome != opsdeck.ServedFresh {
		t.Fatalf("outcome = %v", res.Outcome)
	}

	// Wait for the background fetch to start, then tear down.
	select {
	case <-src.started:
	case <-time.After(2 * time.Second):
		t.Fatal("background fetch never started")
	}

	done := make(chan struct{})
	go func() { o.Close(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not unblock the in-flight fetch")
	}

	select {
	case <-updates:
		t.Error("no update may be delivered after Close")
	default:
	}
}
