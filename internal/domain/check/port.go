package check

import (
	"context"
	"time"

	"github.com/NordCoder/Beacon/internal/domain/ping"
	"github.com/google/uuid"
)

// StatusUpdate carries the fields the scheduler owns.
type StatusUpdate struct {
	ID             uuid.UUID
	Status         Status
	NextExpectedAt *time.Time
	LastAlertAt    *time.Time
}

type Repo interface {
	Create(ctx context.Context, c *Check) error
	GetByID(ctx context.Context, id uuid.UUID) (*Check, error)
	GetBySlug(ctx context.Context, projectSlug, checkSlug string) (*Check, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Check, error)
	ListActive(ctx context.Context, after uuid.UUID, limit int) ([]*Check, error)
	ListIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
	ListByProject(ctx context.Context, projectID int64) ([]*Check, error)
	UpdateStatus(ctx context.Context, u StatusUpdate) error
	TouchPing(ctx context.Context, id uuid.UUID, kind ping.Kind, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
}
