package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/NordCoder/Beacon/internal/domain/alert"
	"github.com/google/uuid"
)

var _ alert.Repo = (*AlertRepoImpl)(nil)

type AlertRepoImpl struct{ db *DB }

func NewAlertRepo(db *DB) *AlertRepoImpl { return &AlertRepoImpl{db: db} }

const (
	qAlertInsert = `
INSERT INTO alerts (check_id, event, channels, success, error, created_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), COALESCE($6, now()))
RETURNING id, created_at;`

	qAlertsByCheck = `
SELECT id, check_id, event, channels, success, COALESCE(error, ''), created_at
FROM alerts
WHERE check_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2;`

	qAlertsDeleteOlder = `DELETE FROM alerts WHERE check_id = $1 AND created_at < $2;`
)

func (r *AlertRepoImpl) Create(ctx context.Context, a *alert.Alert) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	channels, err := json.Marshal(a.Channels)
	if err != nil {
		return fmt.Errorf("marshal alert channels: %w", err)
	}
	var at *time.Time
	if !a.CreatedAt.IsZero() {
		at = &a.CreatedAt
	}
	err = r.db.execQueryer(ctx).QueryRow(ctx, qAlertInsert,
		a.CheckID, string(a.Event), channels, a.Success, a.Error, at,
	).Scan(&a.ID, &a.CreatedAt)
	return mapErr("insert alert", err)
}

func (r *AlertRepoImpl) ListByCheck(ctx context.Context, checkID uuid.UUID, limit int) ([]*alert.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, qAlertsByCheck, checkID, limit)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	out := make([]*alert.Alert, 0, limit)
	for rows.Next() {
		var (
			a        alert.Alert
			event    string
			channels []byte
		)
		if err := rows.Scan(&a.ID, &a.CheckID, &event, &channels, &a.Success, &a.Error, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Event = alert.Event(event)
		if err := json.Unmarshal(channels, &a.Channels); err != nil {
			return nil, fmt.Errorf("unmarshal alert channels: %w", err)
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *AlertRepoImpl) DeleteOlderThan(ctx context.Context, checkID uuid.UUID, before time.Time) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.execQueryer(ctx).Exec(ctx, qAlertsDeleteOlder, checkID, before)
	if err != nil {
		return 0, fmt.Errorf("delete old alerts: %w", err)
	}
	return cmd.RowsAffected(), nil
}
