package kafka

import (
	"context"
	"time"

	"github.com/NordCoder/Beacon/internal/domain/outbox"
	"github.com/google/uuid"
)

// StatusChangedEvent is the wire shape of a check status transition.
type StatusChangedEvent struct {
	CheckID   uuid.UUID `json:"check_id"`
	ProjectID int64     `json:"project_id"`
	OldStatus string    `json:"old_status"`
	NewStatus string    `json:"new_status"`
	Event     string    `json:"event,omitempty"`
	At        time.Time `json:"at"`
}

type StatusEvents struct {
	p *Producer
}

func NewStatusEvents(p *Producer) *StatusEvents { return &StatusEvents{p: p} }

func (e *StatusEvents) PublishStatusChanged(ctx context.Context, p outbox.AlertPayload) error {
	return e.p.PublishJSON(ctx, []byte(p.CheckID.String()), StatusChangedEvent{
		CheckID:   p.CheckID,
		ProjectID: p.ProjectID,
		OldStatus: p.OldStatus,
		NewStatus: p.NewStatus,
		Event:     string(p.Event),
		At:        p.At.UTC(),
	})
}
