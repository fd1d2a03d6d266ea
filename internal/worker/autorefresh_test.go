package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	opsdeck "github.com/veslov/opsdeck/internal"
)

type countingLoader struct {
	mu    sync.Mutex
	loads map[string]int
}

func newCountingLoader() *countingLoader {
	return &countingLoader{loads: make(map[string]int)}
}

func (l *countingLoader) Load(_ context.Context, p opsdeck.Panel) opsdeck.Result {
	l.mu.Lock()
	l.loads[p.Name]++
	l.mu.Unlock()
	return opsdeck.Result{Panel: p.Name, Outcome: opsdeck.ServedFresh}
}

func (l *countingLoader) count(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads[name]
}

func TestAutoRefresh_PeriodicLoads(t *testing.T) {
	t.Parallel()
	loader := newCountingLoader()
	a := NewAutoRefresh(loader, []opsdeck.Panel{
		{Name: "status", AutoRefresh: 30 * time.Millisecond},
		{Name: "manual-only"}, // no interval, never loaded
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for loader.count("status") < 3 {
		select {
		case <-deadline:
			t.Fatalf("status loads = %d, want >= 3", loader.count("status"))
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if n := loader.count("manual-only"); n != 0 {
		t.Errorf("panel without an interval was loaded %d times", n)
	}
}

func TestAutoRefresh_PauseResume(t *testing.T) {
	t.Parallel()
	loader := newCountingLoader()
	a := NewAutoRefresh(loader, []opsdeck.Panel{
		{Name: "resources", AutoRefresh: 20 * time.Millisecond},
	})
	a.SetPaused("resources", true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	time.Sleep(100 * time.Millisecond)
	if n := loader.count("resources"); n != 0 {
		t.Fatalf("paused panel was loaded %d times", n)
	}

	a.SetPaused("resources", false)
	deadline := time.After(2 * time.Second)
	for loader.count("resources") == 0 {
		select {
		case <-deadline:
			t.Fatal("resumed panel was never loaded")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func TestAutoRefresh_PausedDefaultsFalse(t *testing.T) {
	t.Parallel()
	a := NewAutoRefresh(newCountingLoader(), nil)
	if a.Paused("anything") {
		t.Error("unknown panel must default to running")
	}
}
