package ratelimit

import (
	"context"
	"time"
)

type Config struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

func (c Config) withDefaults() Config {
	if c.Limit <= 0 {
		c.Limit = 5
	}
	if c.Window <= 0 {
		c.Window = 10 * time.Second
	}
	return c
}

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Store admits or rejects one hit for key. Implementations must be safe for
// concurrent use and update a key atomically.
type Store interface {
	Take(ctx context.Context, key string, now time.Time) (Decision, error)
}

// Slide applies one hit at now to the admitted hits of a key. Hits at least
// one window old are evicted; the hit is admitted while fewer than Limit
// remain. It returns the hits to keep, oldest first, reusing the backing
// array of hits.
func (c Config) Slide(hits []time.Time, now time.Time) ([]time.Time, Decision) {
	c = c.withDefaults()

	kept := hits[:0]
	for _, h := range hits {
		if now.Sub(h) < c.Window {
			kept = append(kept, h)
		}
	}
	if len(kept) < c.Limit {
		return append(kept, now), Decision{Allowed: true}
	}

	oldest := kept[0]
	for _, h := range kept[1:] {
		if h.Before(oldest) {
			oldest = h
		}
	}
	retry := oldest.Add(c.Window).Sub(now)
	if retry <= 0 {
		retry = time.Millisecond
	}
	return kept, Decision{RetryAfter: retry}
}
