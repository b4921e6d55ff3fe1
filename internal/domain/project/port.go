package project

import "context"

type Repo interface {
	Create(ctx context.Context, p *Project) error
	GetByID(ctx context.Context, id int64) (*Project, error)
	GetBySlug(ctx context.Context, slug string) (*Project, error)
}
