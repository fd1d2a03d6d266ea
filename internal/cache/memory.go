package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter/v2"

	opsdeck "github.com/veslov/opsdeck/internal"
)

// slot wraps a cached entry with its expiration time. The entry itself is
// never mutated; a refresh stores a new slot wholesale.
type slot struct {
	entry     opsdeck.Entry
	expiresAt time.Time
}

// expired reports whether the slot is past its lifetime at now. The boundary
// is strict: a slot at exactly expiresAt no longer counts as fresh, matching
// the fallback layer's freshness check.
func (s slot) expired(now time.Time) bool {
	return !now.Before(s.expiresAt)
}

// Memory is an in-memory W-TinyLFU cache backed by otter. The key space is
// small (one key per distinct panel filter combination), so maxSize is a
// safety bound rather than a working-set tuning knob.
type Memory struct {
	cache *otter.Cache[string, slot]
}

// NewMemory creates an in-memory cache with the given max entry count and default TTL.
func NewMemory(maxSize int, defaultTTL time.Duration) (*Memory, error) {
	c, err := otter.New[string, slot](&otter.Options[string, slot]{
		MaximumSize:      maxSize,
		ExpiryCalculator: otter.ExpiryWriting[string, slot](defaultTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Memory{cache: c}, nil
}

// Get retrieves an entry from the cache if present and not expired.
// An expired slot is treated as absent and evicted eagerly.
func (m *Memory) Get(_ context.Context, key string) (opsdeck.Entry, bool) {
	s, ok := m.cache.GetIfPresent(key)
	if !ok {
		return opsdeck.Entry{}, false
	}
	if s.expired(time.Now()) {
		m.cache.Invalidate(key)
		return opsdeck.Entry{}, false
	}
	return s.entry, true
}

// Set stores an entry with per-key TTL.
func (m *Memory) Set(_ context.Context, key string, e opsdeck.Entry, ttl time.Duration) {
	m.cache.Set(key, slot{
		entry:     e,
		expiresAt: time.Now().Add(ttl),
	})
}

// Delete removes an entry from the cache.
func (m *Memory) Delete(_ context.Context, key string) {
	m.cache.Invalidate(key)
}

// Purge removes all entries from the cache.
func (m *Memory) Purge(_ context.Context) {
	m.cache.InvalidateAll()
}
