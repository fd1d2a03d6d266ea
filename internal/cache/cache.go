// Package cache provides the volatile (in-process) snapshot cache.
package cache

import (
	"context"
	"time"

	opsdeck "github.com/veslov/opsdeck/internal"
)

// Cache is the interface for volatile snapshot caching.
type Cache interface {
	// Get retrieves a cached entry by key if present and fresh.
	Get(ctx context.Context, key string) (opsdeck.Entry, bool)
	// Set stores an entry with the given TTL, replacing any previous entry.
	Set(ctx context.Context, key string, e opsdeck.Entry, ttl time.Duration)
	// Delete removes a cached entry.
	Delete(ctx context.Context, key string)
	// Purge removes all cached entries.
	Purge(ctx context.Context)
}
