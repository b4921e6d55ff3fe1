package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/NordCoder/Beacon/internal/domain/channel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var _ channel.Repo = (*ChannelRepoImpl)(nil)

type ChannelRepoImpl struct{ db *DB }

func NewChannelRepo(db *DB) *ChannelRepoImpl { return &ChannelRepoImpl{db: db} }

const channelCols = `
c.id, c.project_id, c.kind, c.name, c.config, c.is_default,
ARRAY(SELECT cc.check_id::text FROM channel_checks cc WHERE cc.channel_id = c.id ORDER BY cc.check_id),
c.created_at, c.updated_at`

const (
	qChannelInsert = `
INSERT INTO channels (project_id, kind, name, config, is_default)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at, updated_at;`

	qChannelAssign = `
INSERT INTO channel_checks (channel_id, check_id)
VALUES ($1, $2)
ON CONFLICT DO NOTHING;`

	qChannelGetByID = `SELECT ` + channelCols + ` FROM channels c WHERE c.id = $1;`

	qChannelsByCheck = `
SELECT ` + channelCols + `
FROM channels c
JOIN channel_checks a ON a.channel_id = c.id
WHERE a.check_id = $1
ORDER BY c.id;`

	qChannelsDefault = `
SELECT ` + channelCols + `
FROM channels c
WHERE c.project_id = $1 AND c.is_default
ORDER BY c.id;`
)

func scanChannel(row pgx.Row, c *channel.Channel) error {
	var (
		kind     string
		config   []byte
		checkIDs []string
	)
	if err := row.Scan(&c.ID, &c.ProjectID, &kind, &c.Name, &config, &c.IsDefault, &checkIDs, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return mapErr("scan channel", err)
	}
	c.Kind = channel.Kind(kind)
	c.Config = map[string]string{}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &c.Config); err != nil {
			return fmt.Errorf("channel %d config: %w", c.ID, err)
		}
	}
	c.CheckIDs = c.CheckIDs[:0]
	for _, s := range checkIDs {
		id, err := uuid.Parse(s)
		if err != nil {
			return fmt.Errorf("channel %d check id: %w", c.ID, err)
		}
		c.CheckIDs = append(c.CheckIDs, id)
	}
	return nil
}

func (r *ChannelRepoImpl) Create(ctx context.Context, c *channel.Channel) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	config, err := json.Marshal(c.Config)
	if err != nil {
		return fmt.Errorf("marshal channel config: %w", err)
	}
	return r.db.inTx(ctx, func(eq execQueryer) error {
		if err := eq.QueryRow(ctx, qChannelInsert,
			c.ProjectID, string(c.Kind), c.Name, config, c.IsDefault,
		).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return mapErr("insert channel", err)
		}
		for _, id := range c.CheckIDs {
			if _, err := eq.Exec(ctx, qChannelAssign, c.ID, id); err != nil {
				return mapErr("assign channel", err)
			}
		}
		return nil
	})
}

func (r *ChannelRepoImpl) GetByID(ctx context.Context, id int64) (*channel.Channel, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var c channel.Channel
	if err := scanChannel(r.db.execQueryer(ctx).QueryRow(ctx, qChannelGetByID, id), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ChannelRepoImpl) list(ctx context.Context, q string, arg any) ([]*channel.Channel, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, q, arg)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	var out []*channel.Channel
	for rows.Next() {
		var c channel.Channel
		if err := scanChannel(rows, &c); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *ChannelRepoImpl) ListByCheck(ctx context.Context, checkID uuid.UUID) ([]*channel.Channel, error) {
	return r.list(ctx, qChannelsByCheck, checkID)
}

func (r *ChannelRepoImpl) ListDefaults(ctx context.Context, projectID int64) ([]*channel.Channel, error) {
	return r.list(ctx, qChannelsDefault, projectID)
}
