package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/NordCoder/Beacon/internal/domain/ping"
	"github.com/google/uuid"
)

var _ ping.Repo = (*PingRepoImpl)(nil)

type PingRepoImpl struct{ db *DB }

func NewPingRepo(db *DB) *PingRepoImpl { return &PingRepoImpl{db: db} }

const (
	qPingInsert = `
INSERT INTO pings (check_id, kind, body, source_ip, transport, created_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))
RETURNING id, created_at;`

	qPingsRecent = `
SELECT id, check_id, kind, body, source_ip, transport, created_at
FROM pings
WHERE check_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2;`

	qPingsDeleteOlder = `DELETE FROM pings WHERE check_id = $1 AND created_at < $2;`

	qPingsTrim = `
DELETE FROM pings
WHERE check_id = $1 AND id IN (
    SELECT id FROM pings
    WHERE check_id = $1
    ORDER BY created_at DESC, id DESC
    OFFSET $2
);`
)

func (r *PingRepoImpl) Insert(ctx context.Context, p *ping.Ping) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var at *time.Time
	if !p.CreatedAt.IsZero() {
		at = &p.CreatedAt
	}
	err := r.db.execQueryer(ctx).QueryRow(ctx, qPingInsert,
		p.CheckID, string(p.Kind), p.Body, p.SourceIP, p.Transport, at,
	).Scan(&p.ID, &p.CreatedAt)
	return mapErr("insert ping", err)
}

func (r *PingRepoImpl) ListRecent(ctx context.Context, checkID uuid.UUID, limit int) ([]*ping.Ping, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, qPingsRecent, checkID, limit)
	if err != nil {
		return nil, fmt.Errorf("query pings: %w", err)
	}
	defer rows.Close()

	out := make([]*ping.Ping, 0, limit)
	for rows.Next() {
		var (
			p    ping.Ping
			kind string
		)
		if err := rows.Scan(&p.ID, &p.CheckID, &kind, &p.Body, &p.SourceIP, &p.Transport, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ping: %w", err)
		}
		p.Kind = ping.Kind(kind)
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *PingRepoImpl) DeleteOlderThan(ctx context.Context, checkID uuid.UUID, before time.Time) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.execQueryer(ctx).Exec(ctx, qPingsDeleteOlder, checkID, before)
	if err != nil {
		return 0, fmt.Errorf("delete old pings: %w", err)
	}
	return cmd.RowsAffected(), nil
}

func (r *PingRepoImpl) TrimToCount(ctx context.Context, checkID uuid.UUID, keep int) (int64, error) {
	if keep < 0 {
		return 0, nil
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.execQueryer(ctx).Exec(ctx, qPingsTrim, checkID, keep)
	if err != nil {
		return 0, fmt.Errorf("trim pings: %w", err)
	}
	return cmd.RowsAffected(), nil
}
