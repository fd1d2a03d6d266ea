package testutil

import (
	"context"
	"sync"
	"time"

	opsdeck "github.com/veslov/opsdeck/internal"
)

// FakeFallback is an in-memory storage.FallbackStore with optional error
// injection for exercising the swallow-and-miss failure contract.
type FakeFallback struct {
	mu      sync.RWMutex
	entries map[string]opsdeck.Entry

	// GetErr / PutErr, when non-nil, are returned by every Get / Put.
	GetErr error
	PutErr error
}

// NewFakeFallback returns an empty FakeFallback.
func NewFakeFallback() *FakeFallback {
	return &FakeFallback{entries: make(map[string]opsdeck.Entry)}
}

// Seed stores an entry directly, bypassing error injection.
func (f *FakeFallback) Seed(key string, e opsdeck.Entry) {
	f.mu.Lock()
	f.entries[key] = e
	f.mu.Unlock()
}

// Get implements storage.FallbackStore.
func (f *FakeFallback) Get(_ context.Context, key string, maxAge time.Duration) (opsdeck.Entry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.GetErr != nil {
		return opsdeck.Entry{}, f.GetErr
	}
	e, ok := f.entries[key]
	if !ok {
		return opsdeck.Entry{}, opsdeck.ErrNotFound
	}
	if maxAge > 0 && !e.FreshWithin(maxAge) {
		return opsdeck.Entry{}, opsdeck.ErrNotFound
	}
	return e, nil
}

// Put implements storage.FallbackStore.
func (f *FakeFallback) Put(_ context.Context, key string, e opsdeck.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PutErr != nil {
		return f.PutErr
	}
	f.entries[key] = e
	return nil
}

// Close implements storage.FallbackStore.
func (f *FakeFallback) Close() error { return nil }

// Entry returns the stored entry for key, if any.
func (f *FakeFallback) Entry(key string) (opsdeck.Entry, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.entries[key]
	return e, ok
}
