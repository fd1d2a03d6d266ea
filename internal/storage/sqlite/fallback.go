package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	opsdeck "github.com/veslov/opsdeck/internal"
)

// Get returns the stored entry for key. With maxAge > 0, rows older than
// maxAge are treated as absent (lazy expiry; the row stays in place and is
// overwritten by the next Put). With maxAge <= 0 the row is returned
// regardless of age.
func (s *Store) Get(ctx context.Context, key string, maxAge time.Duration) (opsdeck.Entry, error) {
	var (
		payload   []byte
		fetchedMs int64
	)
	err := s.read.QueryRowContext(ctx,
		`SELECT payload, fetched_at FROM fallback_cache WHERE key = ?`, key,
	).Scan(&payload, &fetchedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return opsdeck.Entry{}, opsdeck.ErrNotFound
	}
	if err != nil {
		return opsdeck.Entry{}, fmt.Errorf("fallback get %q: %w", key, err)
	}

	e := opsdeck.Entry{
		Payload:   payload,
		FetchedAt: time.UnixMilli(fetchedMs),
	}
	if maxAge > 0 && !e.FreshWithin(maxAge) {
		return opsdeck.Entry{}, opsdeck.ErrNotFound
	}
	return e, nil
}

// Put stores the entry for key, replacing any previous row wholesale.
func (s *Store) Put(ctx context.Context, key string, e opsdeck.Entry) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO fallback_cache (key, payload, fetched_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, fetched_at = excluded.fetched_at`,
		key, e.Payload, e.FetchedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("fallback put %q: %w", key, err)
	}
	return nil
}
