package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/NordCoder/Beacon/internal/ratelimit"
)

var _ ratelimit.Store = (*RateLimitStore)(nil)

// RateLimitStore keeps the sliding-window hit log in Postgres so every
// process that talks to the same database shares one limit per key.
type RateLimitStore struct {
	db  *DB
	cfg ratelimit.Config
}

func NewRateLimitStore(db *DB, cfg ratelimit.Config) *RateLimitStore {
	if cfg.Limit <= 0 {
		cfg.Limit = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Second
	}
	return &RateLimitStore{db: db, cfg: cfg}
}

const (
	qRateEnsure = `
INSERT INTO rate_limits (key, hits, updated_at)
VALUES ($1, '{}', $2)
ON CONFLICT (key) DO NOTHING;`

	qRateLock = `SELECT hits FROM rate_limits WHERE key = $1 FOR UPDATE;`

	qRateStore = `UPDATE rate_limits SET hits = $2, updated_at = $3 WHERE key = $1;`

	qRateSweep = `DELETE FROM rate_limits WHERE updated_at < $1;`
)

// Take locks the key's row for the duration of one hit so concurrent
// ingestors see each other's admissions.
func (s *RateLimitStore) Take(ctx context.Context, key string, now time.Time) (ratelimit.Decision, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()

	now = now.UTC()
	var d ratelimit.Decision
	err := s.db.inTx(ctx, func(eq execQueryer) error {
		if _, err := eq.Exec(ctx, qRateEnsure, key, now); err != nil {
			return err
		}
		var hits []time.Time
		if err := eq.QueryRow(ctx, qRateLock, key).Scan(&hits); err != nil {
			return err
		}
		hits, d = s.cfg.Slide(hits, now)
		_, err := eq.Exec(ctx, qRateStore, key, hits, now)
		return err
	})
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("rate limit take: %w", err)
	}
	return d, nil
}

// Sweep drops keys untouched for a full window.
func (s *RateLimitStore) Sweep(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := s.db.withTimeout(ctx)
	defer cancel()
	cmd, err := s.db.Pool.Exec(ctx, qRateSweep, now.UTC().Add(-s.cfg.Window))
	if err != nil {
		return 0, fmt.Errorf("rate limit sweep: %w", err)
	}
	return cmd.RowsAffected(), nil
}
