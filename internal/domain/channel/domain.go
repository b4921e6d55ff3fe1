package channel

import (
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindEmail       Kind = "email"
	KindChatWebhook Kind = "chat_webhook"
	KindChatApp     Kind = "chat_app"
	KindPagerDuty   Kind = "pagerduty"
	KindOpsgenie    Kind = "opsgenie"
	KindWebhook     Kind = "webhook"
	KindTelegram    Kind = "telegram"
)

type Channel struct {
	ID        int64             `json:"id"`
	ProjectID int64             `json:"project_id"`
	Kind      Kind              `json:"kind"`
	Name      string            `json:"name"`
	Config    map[string]string `json:"config"`
	IsDefault bool              `json:"is_default"`
	CheckIDs  []uuid.UUID       `json:"check_ids,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (c *Channel) Get(key string) string {
	if c.Config == nil {
		return ""
	}
	return c.Config[key]
}
