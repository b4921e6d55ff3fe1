package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/NordCoder/Beacon/internal/domain/check"
	"github.com/NordCoder/Beacon/internal/domain/ping"
	"github.com/NordCoder/Beacon/internal/schedule"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var _ check.Repo = (*CheckRepoImpl)(nil)

type CheckRepoImpl struct {
	db *DB
}

func NewCheckRepo(db *DB) *CheckRepoImpl { return &CheckRepoImpl{db: db} }

const checkCols = `
id, project_id, name, COALESCE(slug, ''), schedule_kind, schedule_value, COALESCE(tz, ''),
grace_sec, status, last_ping_at, COALESCE(last_ping_kind, ''), last_started_at,
next_expected_at, last_alert_at, alert_on_recovery, reminder_sec, created_at, updated_at`

const (
	qCheckInsert = `
INSERT INTO checks (id, project_id, name, slug, schedule_kind, schedule_value, tz, grace_sec,
                    status, alert_on_recovery, reminder_sec, created_at, updated_at)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, NULLIF($7, ''), $8, $9, $10, $11, COALESCE($12, now()), now())
RETURNING created_at, updated_at;`

	qCheckGetByID = `SELECT ` + checkCols + ` FROM checks WHERE id = $1;`

	qCheckGetForUpdate = `SELECT ` + checkCols + ` FROM checks WHERE id = $1 FOR UPDATE;`

	qCheckGetBySlug = `
SELECT ` + checkCols + `
FROM checks
WHERE project_id = (SELECT id FROM projects WHERE slug = $1) AND slug = $2;`

	qCheckListActive = `
SELECT ` + checkCols + `
FROM checks
WHERE status <> 'PAUSED' AND id > $1
ORDER BY id
LIMIT $2;`

	qCheckListIDs = `SELECT id FROM checks WHERE id > $1 ORDER BY id LIMIT $2;`

	qCheckListByProject = `SELECT ` + checkCols + ` FROM checks WHERE project_id = $1 ORDER BY id;`

	qCheckUpdateStatus = `
UPDATE checks
SET status = $2, next_expected_at = $3, last_alert_at = $4, updated_at = now()
WHERE id = $1;`

	qCheckTouchStart = `UPDATE checks SET last_started_at = $2, updated_at = now() WHERE id = $1;`

	qCheckTouchPing = `
UPDATE checks
SET last_ping_at = $2, last_ping_kind = $3, updated_at = now()
WHERE id = $1;`

	qCheckDelete = `DELETE FROM checks WHERE id = $1;`
)

func scanFull(row pgx.Row, c *check.Check) error {
	var (
		kind        string
		graceSec    int64
		reminderSec int64
		pingKind    string
	)
	if err := row.Scan(
		&c.ID,
		&c.ProjectID,
		&c.Name,
		&c.Slug,
		&kind,
		&c.Schedule.Value,
		&c.Schedule.TZ,
		&graceSec,
		&c.Status,
		&c.LastPingAt,
		&pingKind,
		&c.LastStartedAt,
		&c.NextExpectedAt,
		&c.LastAlertAt,
		&c.AlertOnRecovery,
		&reminderSec,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return mapErr("scan check", err)
	}
	c.Schedule.Kind = schedule.Kind(kind)
	c.Grace = time.Duration(graceSec) * time.Second
	c.ReminderInterval = time.Duration(reminderSec) * time.Second
	c.LastPingKind = ping.Kind(pingKind)
	return nil
}

func (r *CheckRepoImpl) Create(ctx context.Context, c *check.Check) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = check.StatusNew
	}
	var createdAt *time.Time
	if !c.CreatedAt.IsZero() {
		createdAt = &c.CreatedAt
	}

	row := r.db.execQueryer(ctx).QueryRow(ctx, qCheckInsert,
		c.ID, c.ProjectID, c.Name, c.Slug, string(c.Schedule.Kind), c.Schedule.Value, c.Schedule.TZ,
		int64(c.Grace/time.Second), string(c.Status), c.AlertOnRecovery, int64(c.ReminderInterval/time.Second),
		createdAt,
	)
	return mapErr("insert check", row.Scan(&c.CreatedAt, &c.UpdatedAt))
}

func (r *CheckRepoImpl) getOne(ctx context.Context, q string, args ...any) (*check.Check, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var c check.Check
	if err := scanFull(r.db.execQueryer(ctx).QueryRow(ctx, q, args...), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CheckRepoImpl) GetByID(ctx context.Context, id uuid.UUID) (*check.Check, error) {
	return r.getOne(ctx, qCheckGetByID, id)
}

func (r *CheckRepoImpl) GetBySlug(ctx context.Context, projectSlug, checkSlug string) (*check.Check, error) {
	return r.getOne(ctx, qCheckGetBySlug, projectSlug, checkSlug)
}

// GetForUpdate must run inside a transaction from the transactor.
func (r *CheckRepoImpl) GetForUpdate(ctx context.Context, id uuid.UUID) (*check.Check, error) {
	if _, err := extractTx(ctx); err != nil {
		return nil, fmt.Errorf("get for update: %w", err)
	}
	return r.getOne(ctx, qCheckGetForUpdate, id)
}

func (r *CheckRepoImpl) list(ctx context.Context, q string, args ...any) ([]*check.Check, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query checks: %w", err)
	}
	defer rows.Close()

	var out []*check.Check
	for rows.Next() {
		var c check.Check
		if err := scanFull(rows, &c); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *CheckRepoImpl) ListActive(ctx context.Context, after uuid.UUID, limit int) ([]*check.Check, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.list(ctx, qCheckListActive, after, limit)
}

func (r *CheckRepoImpl) ListByProject(ctx context.Context, projectID int64) ([]*check.Check, error) {
	return r.list(ctx, qCheckListByProject, projectID)
}

func (r *CheckRepoImpl) ListIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 500
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, qCheckListIDs, after, limit)
	if err != nil {
		return nil, fmt.Errorf("query check ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("collect check ids: %w", err)
	}
	return ids, nil
}

func (r *CheckRepoImpl) UpdateStatus(ctx context.Context, u check.StatusUpdate) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.execQueryer(ctx).Exec(ctx, qCheckUpdateStatus, u.ID, string(u.Status), u.NextExpectedAt, u.LastAlertAt)
	if err != nil {
		return fmt.Errorf("update check status: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *CheckRepoImpl) TouchPing(ctx context.Context, id uuid.UUID, kind ping.Kind, at time.Time) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	eq := r.db.execQueryer(ctx)
	var err error
	var affected int64
	if kind == ping.KindStart {
		cmd, e := eq.Exec(ctx, qCheckTouchStart, id, at)
		err, affected = e, cmd.RowsAffected()
	} else {
		cmd, e := eq.Exec(ctx, qCheckTouchPing, id, at, string(kind))
		err, affected = e, cmd.RowsAffected()
	}
	if err != nil {
		return fmt.Errorf("touch check: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *CheckRepoImpl) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.execQueryer(ctx).Exec(ctx, qCheckDelete, id)
	if err != nil {
		return fmt.Errorf("delete check: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
