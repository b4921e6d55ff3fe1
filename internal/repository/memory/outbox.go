package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/NordCoder/Beacon/internal/domain/outbox"
)

var _ outbox.Repository = (*Outbox)(nil)

type Outbox struct {
	mu    sync.Mutex
	byKey map[string]*outbox.Message
	now   func() time.Time
}

func NewOutbox() *Outbox {
	return &Outbox{byKey: make(map[string]*outbox.Message), now: func() time.Time { return time.Now().UTC() }}
}

func (r *Outbox) Enqueue(_ context.Context, m outbox.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byKey[m.IdempotencyKey]; exists {
		return nil
	}
	now := r.now()
	m.Status = outbox.StatusCreated
	m.CreatedAt, m.UpdatedAt = now, now
	m.Data = append([]byte(nil), m.Data...)
	r.byKey[m.IdempotencyKey] = &m
	return nil
}

func (r *Outbox) PickBatch(_ context.Context, batch int, inProgressTTL time.Duration, maxAttempts int) ([]outbox.Message, error) {
	if batch <= 0 {
		return nil, errors.New("batch must be > 0")
	}
	if maxAttempts <= 0 {
		return nil, errors.New("max attempts must be > 0")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var cand []*outbox.Message
	for _, m := range r.byKey {
		if m.Attempts >= maxAttempts {
			continue
		}
		if m.Status == outbox.StatusCreated ||
			(m.Status == outbox.StatusInProgress && m.UpdatedAt.Before(now.Add(-inProgressTTL))) {
			cand = append(cand, m)
		}
	}
	sort.Slice(cand, func(i, j int) bool { return cand[i].CreatedAt.Before(cand[j].CreatedAt) })
	if len(cand) > batch {
		cand = cand[:batch]
	}
	out := make([]outbox.Message, 0, len(cand))
	for _, m := range cand {
		m.Status = outbox.StatusInProgress
		m.Attempts++
		m.UpdatedAt = now
		out = append(out, *m)
	}
	return out, nil
}

func (r *Outbox) MarkSuccess(_ context.Context, keys []string) error {
	r.mark(keys, outbox.StatusSuccess)
	return nil
}

func (r *Outbox) MarkFailed(_ context.Context, keys []string) error {
	r.mark(keys, outbox.StatusFailed)
	return nil
}

func (r *Outbox) mark(keys []string, st outbox.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for _, k := range keys {
		if m, found := r.byKey[k]; found {
			m.Status = st
			m.UpdatedAt = now
		}
	}
}

func (r *Outbox) PurgeDelivered(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, m := range r.byKey {
		if done(m.Status) && m.UpdatedAt.Before(before) {
			delete(r.byKey, k)
			n++
		}
	}
	return n, nil
}

func done(st outbox.Status) bool {
	return st == outbox.StatusSuccess || st == outbox.StatusFailed
}

// Pending counts messages that are neither delivered nor given up.
func (r *Outbox) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.byKey {
		if !done(m.Status) {
			n++
		}
	}
	return n
}

// Get returns a copy of the message stored under key.
func (r *Outbox) Get(key string) (outbox.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byKey[key]
	if !ok {
		return outbox.Message{}, false
	}
	return *m, true
}

func (r *Outbox) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKey)
}
