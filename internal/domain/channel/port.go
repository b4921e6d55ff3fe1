package channel

import (
	"context"

	"github.com/google/uuid"
)

type Repo interface {
	Create(ctx context.Context, c *Channel) error
	GetByID(ctx context.Context, id int64) (*Channel, error)
	ListByCheck(ctx context.Context, checkID uuid.UUID) ([]*Channel, error)
	ListDefaults(ctx context.Context, projectID int64) ([]*Channel, error)
}
