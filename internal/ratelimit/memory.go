package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type entry struct {
	hits     []time.Time
	lastSeen time.Time
}

// Memory keeps the admitted hits of every key inside the current window.
// An entry idle for a full window holds no live hits, so dropping it loses
// nothing.
type Memory struct {
	cfg Config
	log *zap.Logger

	// rejected throttles the "limited" log line so a flooding job cannot
	// flood the log as well.
	rejected rate.Sometimes

	mu      sync.Mutex
	entries map[string]*entry
}

var _ Store = (*Memory)(nil)

func NewMemory(cfg Config, log *zap.Logger) *Memory {
	if log == nil {
		log = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Memory{
		cfg:      cfg,
		log:      log.With(zap.String("component", "ratelimit.memory")),
		rejected: rate.Sometimes{First: 1, Interval: cfg.Window},
		entries:  make(map[string]*entry),
	}
}

func (m *Memory) Take(_ context.Context, key string, now time.Time) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		e = &entry{hits: make([]time.Time, 0, m.cfg.Limit)}
		m.entries[key] = e
	}
	e.lastSeen = now

	var d Decision
	e.hits, d = m.cfg.Slide(e.hits, now)
	if !d.Allowed {
		m.rejected.Do(func() {
			m.log.Info("ping rate limited", zap.String("key", key), zap.Duration("retry_after", d.RetryAfter))
		})
	}
	return d, nil
}

// Sweep drops entries idle for longer than the window and returns how many.
func (m *Memory) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k, e := range m.entries {
		if now.Sub(e.lastSeen) > m.cfg.Window {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Run sweeps every window until ctx is done.
func (m *Memory) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := m.Sweep(now); n > 0 {
				m.log.Debug("rate limiter sweep", zap.Int("dropped", n))
			}
		}
	}
}
