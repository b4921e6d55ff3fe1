package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/NordCoder/Beacon/internal/domain"
	"github.com/NordCoder/Beacon/internal/domain/check"
	"github.com/NordCoder/Beacon/internal/domain/ping"
	"github.com/google/uuid"
)

var _ check.Repo = (*Checks)(nil)

type Checks struct {
	mu       sync.RWMutex
	byID     map[uuid.UUID]*check.Check
	projects *Projects
	now      func() time.Time
}

func NewChecks(projects *Projects) *Checks {
	return &Checks{
		byID:     make(map[uuid.UUID]*check.Check),
		projects: projects,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *Checks) Create(_ context.Context, c *check.Check) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if _, exists := r.byID[c.ID]; exists {
		return domain.ErrConflict
	}
	if c.Slug != "" {
		for _, o := range r.byID {
			if o.ProjectID == c.ProjectID && o.Slug == c.Slug {
				return domain.ErrConflict
			}
		}
	}
	now := r.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = check.StatusNew
	}
	r.byID[c.ID] = c.Clone()
	return nil
}

func (r *Checks) GetByID(_ context.Context, id uuid.UUID) (*check.Check, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, found := r.byID[id]
	if !found {
		return nil, domain.ErrNotFound
	}
	return c.Clone(), nil
}

func (r *Checks) GetBySlug(ctx context.Context, projectSlug, checkSlug string) (*check.Check, error) {
	p, err := r.projects.GetBySlug(ctx, projectSlug)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.byID {
		if c.ProjectID == p.ID && c.Slug == checkSlug && checkSlug != "" {
			return c.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *Checks) GetForUpdate(ctx context.Context, id uuid.UUID) (*check.Check, error) {
	return r.GetByID(ctx, id)
}

func (r *Checks) sorted() []*check.Check {
	out := make([]*check.Check, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0 })
	return out
}

func (r *Checks) ListActive(_ context.Context, after uuid.UUID, limit int) ([]*check.Check, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*check.Check
	for _, c := range r.sorted() {
		if bytes.Compare(c.ID[:], after[:]) <= 0 || c.Status == check.StatusPaused {
			continue
		}
		out = append(out, c.Clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *Checks) ListIDs(_ context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []uuid.UUID
	for _, c := range r.sorted() {
		if bytes.Compare(c.ID[:], after[:]) <= 0 {
			continue
		}
		out = append(out, c.ID)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *Checks) ListByProject(_ context.Context, projectID int64) ([]*check.Check, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*check.Check
	for _, c := range r.sorted() {
		if c.ProjectID == projectID {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

func (r *Checks) UpdateStatus(_ context.Context, u check.StatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, found := r.byID[u.ID]
	if !found {
		return domain.ErrNotFound
	}
	c.Status = u.Status
	c.NextExpectedAt = u.NextExpectedAt
	c.LastAlertAt = u.LastAlertAt
	c.UpdatedAt = r.now()
	r.byID[u.ID] = c.Clone()
	return nil
}

func (r *Checks) TouchPing(_ context.Context, id uuid.UUID, kind ping.Kind, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, found := r.byID[id]
	if !found {
		return domain.ErrNotFound
	}
	t := at
	switch kind {
	case ping.KindStart:
		c.LastStartedAt = &t
	default:
		c.LastPingAt = &t
		c.LastPingKind = kind
	}
	c.UpdatedAt = r.now()
	return nil
}

func (r *Checks) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.byID[id]; !found {
		return domain.ErrNotFound
	}
	delete(r.byID, id)
	return nil
}
