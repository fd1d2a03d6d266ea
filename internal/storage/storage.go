// Package storage defines persistence interfaces for opsdeck.
package storage

import (
	"context"
	"time"

	opsdeck "github.com/veslov/opsdeck/internal"
)

// FallbackStore is the durable last-known-good snapshot cache. It survives
// process restarts and is consulted both for instant paint and as the
// last-resort stale read when a live fetch fails.
type FallbackStore interface {
	// Get returns the entry for key. With maxAge > 0 it returns
	// opsdeck.ErrNotFound for rows absent or older than maxAge (lazy expiry
	// on read). With maxAge <= 0 it returns the entry regardless of age --
	// the explicit degraded-data read mode.
	Get(ctx context.Context, key string, maxAge time.Duration) (opsdeck.Entry, error)
	// Put stores the entry for key, replacing any previous row.
	Put(ctx context.Context, key string, e opsdeck.Entry) error
	Close() error
}
