package memory

import (
	"context"
	"sync"
	"time"

	"github.com/NordCoder/Beacon/internal/domain"
	"github.com/NordCoder/Beacon/internal/domain/project"
)

var _ project.Repo = (*Projects)(nil)

type Projects struct {
	mu     sync.RWMutex
	seq    int64
	byID   map[int64]*project.Project
	bySlug map[string]int64
}

func NewProjects() *Projects {
	return &Projects{byID: make(map[int64]*project.Project), bySlug: make(map[string]int64)}
}

func (r *Projects) Create(_ context.Context, p *project.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.bySlug[p.Slug]; taken {
		return domain.ErrConflict
	}
	if p.ID == 0 {
		r.seq++
		p.ID = r.seq
	} else if p.ID > r.seq {
		r.seq = p.ID
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	cp := *p
	r.byID[p.ID] = &cp
	r.bySlug[p.Slug] = p.ID
	return nil
}

func (r *Projects) GetByID(_ context.Context, id int64) (*project.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, found := r.byID[id]
	if !found {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *Projects) GetBySlug(ctx context.Context, slug string) (*project.Project, error) {
	r.mu.RLock()
	id, found := r.bySlug[slug]
	r.mu.RUnlock()
	if !found {
		return nil, domain.ErrNotFound
	}
	return r.GetByID(ctx, id)
}
