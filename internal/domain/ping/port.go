package ping

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repo interface {
	Insert(ctx context.Context, p *Ping) error
	ListRecent(ctx context.Context, checkID uuid.UUID, limit int) ([]*Ping, error)
	DeleteOlderThan(ctx context.Context, checkID uuid.UUID, before time.Time) (int64, error)
	TrimToCount(ctx context.Context, checkID uuid.UUID, keep int) (int64, error)
}
