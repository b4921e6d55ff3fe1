package memory

import (
	"context"
	"sync"
	"time"

	"github.com/NordCoder/Beacon/internal/domain/alert"
	"github.com/google/uuid"
)

var _ alert.Repo = (*Alerts)(nil)

type Alerts struct {
	mu   sync.RWMutex
	seq  int64
	list []*alert.Alert
}

func NewAlerts() *Alerts { return &Alerts{} }

func (r *Alerts) Create(_ context.Context, a *alert.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	a.ID = r.seq
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	cp := *a
	cp.Channels = append([]alert.ChannelSnapshot(nil), a.Channels...)
	r.list = append(r.list, &cp)
	return nil
}

// ListByCheck returns newest first.
func (r *Alerts) ListByCheck(_ context.Context, checkID uuid.UUID, limit int) ([]*alert.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*alert.Alert
	for i := len(r.list) - 1; i >= 0; i-- {
		if r.list[i].CheckID != checkID {
			continue
		}
		cp := *r.list[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *Alerts) DeleteOlderThan(_ context.Context, checkID uuid.UUID, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.list[:0]
	var n int64
	for _, a := range r.list {
		if a.CheckID == checkID && a.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	r.list = kept
	return n, nil
}

func (r *Alerts) All() []*alert.Alert {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*alert.Alert, len(r.list))
	for i, a := range r.list {
		cp := *a
		out[i] = &cp
	}
	return out
}
