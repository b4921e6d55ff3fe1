package postgres

import (
	"context"

	"github.com/NordCoder/Beacon/internal/domain/project"
	"github.com/jackc/pgx/v5"
)

var _ project.Repo = (*ProjectRepoImpl)(nil)

type ProjectRepoImpl struct{ db *DB }

func NewProjectRepo(db *DB) *ProjectRepoImpl { return &ProjectRepoImpl{db: db} }

const (
	qProjectInsert = `
INSERT INTO projects (slug, name, retention_days, max_ping_history, max_channels)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at;`

	qProjectGetByID = `
SELECT id, slug, name, retention_days, max_ping_history, max_channels, created_at
FROM projects WHERE id = $1;`

	qProjectGetBySlug = `
SELECT id, slug, name, retention_days, max_ping_history, max_channels, created_at
FROM projects WHERE slug = $1;`
)

func scanProject(row pgx.Row) (*project.Project, error) {
	var p project.Project
	if err := row.Scan(&p.ID, &p.Slug, &p.Name,
		&p.Limits.RetentionDays, &p.Limits.MaxPingHistory, &p.Limits.MaxChannels, &p.CreatedAt); err != nil {
		return nil, mapErr("scan project", err)
	}
	return &p, nil
}

func (r *ProjectRepoImpl) Create(ctx context.Context, p *project.Project) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	err := r.db.execQueryer(ctx).QueryRow(ctx, qProjectInsert,
		p.Slug, p.Name, p.Limits.RetentionDays, p.Limits.MaxPingHistory, p.Limits.MaxChannels,
	).Scan(&p.ID, &p.CreatedAt)
	return mapErr("insert project", err)
}

func (r *ProjectRepoImpl) GetByID(ctx context.Context, id int64) (*project.Project, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()
	return scanProject(r.db.execQueryer(ctx).QueryRow(ctx, qProjectGetByID, id))
}

func (r *ProjectRepoImpl) GetBySlug(ctx context.Context, slug string) (*project.Project, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()
	return scanProject(r.db.execQueryer(ctx).QueryRow(ctx, qProjectGetBySlug, slug))
}
