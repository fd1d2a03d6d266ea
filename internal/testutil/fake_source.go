// Package testutil provides in-memory fakes for orchestrator and server tests.
package testutil

import (
	"context"
	"sync"

	opsdeck "github.com/veslov/opsdeck/internal"
)

// FakeSource is a scripted Source implementation. Each Fetch consumes the
// next scripted response; when the script is exhausted the last step repeats.
type FakeSource struct {
	mu      sync.Mutex
	script  []FetchStep
	fetches int
}

// FetchStep is one scripted fetch result.
type FetchStep struct {
	Payload []byte
	Err     error
}

// NewFakeSource returns a FakeSource that replays the given steps.
func NewFakeSource(steps ...FetchStep) *FakeSource {
	return &FakeSource{script: steps}
}

// Fetch returns the next scripted step.
func (f *FakeSource) Fetch(_ context.Context, _ opsdeck.Panel) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.fetches
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	f.fetches++
	if i < 0 {
		return []byte("{}"), nil
	}
	step := f.script[i]
	return step.Payload, step.Err
}

// Fetches returns how many live fetches were performed.
func (f *FakeSource) Fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}
