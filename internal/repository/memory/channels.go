package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/NordCoder/Beacon/internal/domain"
	"github.com/NordCoder/Beacon/internal/domain/channel"
	"github.com/google/uuid"
)

var _ channel.Repo = (*Channels)(nil)

type Channels struct {
	mu   sync.RWMutex
	seq  int64
	byID map[int64]*channel.Channel
}

func NewChannels() *Channels { return &Channels{byID: make(map[int64]*channel.Channel)} }

func cloneChannel(c *channel.Channel) *channel.Channel {
	cp := *c
	cp.Config = make(map[string]string, len(c.Config))
	for k, v := range c.Config {
		cp.Config[k] = v
	}
	cp.CheckIDs = append([]uuid.UUID(nil), c.CheckIDs...)
	return &cp
}

func (r *Channels) Create(_ context.Context, c *channel.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	c.ID = r.seq
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	r.byID[c.ID] = cloneChannel(c)
	return nil
}

func (r *Channels) GetByID(_ context.Context, id int64) (*channel.Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, found := r.byID[id]
	if !found {
		return nil, domain.ErrNotFound
	}
	return cloneChannel(c), nil
}

func (r *Channels) list(keep func(*channel.Channel) bool) []*channel.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*channel.Channel
	for _, c := range r.byID {
		if keep(c) {
			out = append(out, cloneChannel(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Channels) ListByCheck(_ context.Context, checkID uuid.UUID) ([]*channel.Channel, error) {
	return r.list(func(c *channel.Channel) bool {
		for _, id := range c.CheckIDs {
			if id == checkID {
				return true
			}
		}
		return false
	}), nil
}

func (r *Channels) ListDefaults(_ context.Context, projectID int64) ([]*channel.Channel, error) {
	return r.list(func(c *channel.Channel) bool {
		return c.ProjectID == projectID && c.IsDefault
	}), nil
}
