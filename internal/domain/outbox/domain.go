package outbox

import (
	"context"
	"time"

	"github.com/NordCoder/Beacon/internal/domain/alert"
	"github.com/google/uuid"
)

type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED" // terminal, out of deliveries
)

type Kind int

const (
	KindAlert         Kind = 1
	KindStatusChanged Kind = 2
)

type Message struct {
	IdempotencyKey string
	Kind           Kind
	Data           []byte
	Status         Status
	Attempts       int // picks so far, including the current one
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Tracestate     string
	Traceparent    string
	Baggage        string
}

// AlertPayload is the body of KindAlert and KindStatusChanged messages.
type AlertPayload struct {
	CheckID   uuid.UUID   `json:"check_id"`
	ProjectID int64       `json:"project_id"`
	Event     alert.Event `json:"event"`
	OldStatus string      `json:"old_status"`
	NewStatus string      `json:"new_status"`
	At        time.Time   `json:"at"`
}

// Key is unique per check, event and instant so a replayed tick enqueues nothing new.
func (p AlertPayload) Key(kind Kind) string {
	return kindName(kind) + ":" + p.CheckID.String() + ":" + string(p.Event) + ":" + p.At.UTC().Format(time.RFC3339Nano)
}

func kindName(k Kind) string {
	switch k {
	case KindAlert:
		return "alert"
	case KindStatusChanged:
		return "status_changed"
	default:
		return "unknown"
	}
}

func (k Kind) String() string { return kindName(k) }

type Repository interface {
	Enqueue(ctx context.Context, m Message) error

	// PickBatch claims up to batch messages that are new, or in progress for
	// longer than inProgressTTL, and have been picked fewer than
	// maxAttempts times. Each pick increments Attempts.
	PickBatch(ctx context.Context, batch int, inProgressTTL time.Duration, maxAttempts int) ([]Message, error)

	MarkSuccess(ctx context.Context, keys []string) error

	MarkFailed(ctx context.Context, keys []string) error

	// PurgeDelivered drops succeeded and failed messages last touched before.
	PurgeDelivered(ctx context.Context, before time.Time) (int64, error)
}

type KindHandler func(ctx context.Context, data []byte) error

type GlobalHandler func(kind Kind) (KindHandler, error)
