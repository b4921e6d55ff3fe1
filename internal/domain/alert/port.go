package alert

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repo interface {
	Create(ctx context.Context, a *Alert) error
	ListByCheck(ctx context.Context, checkID uuid.UUID, limit int) ([]*Alert, error)
	DeleteOlderThan(ctx context.Context, checkID uuid.UUID, before time.Time) (int64, error)
}
