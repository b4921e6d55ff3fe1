package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/NordCoder/Beacon/internal/domain/ping"
	"github.com/google/uuid"
)

var _ ping.Repo = (*Pings)(nil)

type Pings struct {
	mu      sync.RWMutex
	seq     int64
	byCheck map[uuid.UUID][]*ping.Ping
}

func NewPings() *Pings {
	return &Pings{byCheck: make(map[uuid.UUID][]*ping.Ping)}
}

func (r *Pings) Insert(_ context.Context, p *ping.Ping) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	p.ID = r.seq
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	cp := *p
	list := append(r.byCheck[p.CheckID], &cp)
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	r.byCheck[p.CheckID] = list
	return nil
}

// ListRecent returns newest first.
func (r *Pings) ListRecent(_ context.Context, checkID uuid.UUID, limit int) ([]*ping.Ping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.byCheck[checkID]
	out := make([]*ping.Ping, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		cp := *list[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *Pings) DeleteOlderThan(_ context.Context, checkID uuid.UUID, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.byCheck[checkID]
	kept := list[:0]
	var n int64
	for _, p := range list {
		if p.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, p)
	}
	r.byCheck[checkID] = kept
	return n, nil
}

func (r *Pings) TrimToCount(_ context.Context, checkID uuid.UUID, keep int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.byCheck[checkID]
	if keep < 0 || len(list) <= keep {
		return 0, nil
	}
	drop := len(list) - keep
	r.byCheck[checkID] = append([]*ping.Ping(nil), list[drop:]...)
	return int64(drop), nil
}

func (r *Pings) Count(checkID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byCheck[checkID])
}
