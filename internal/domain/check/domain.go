package check

import (
	"time"

	"github.com/NordCoder/Beacon/internal/domain/ping"
	"github.com/NordCoder/Beacon/internal/schedule"
	"github.com/google/uuid"
)

type Status string

const (
	StatusNew    Status = "NEW"
	StatusUp     Status = "UP"
	StatusLate   Status = "LATE"
	StatusDown   Status = "DOWN"
	StatusPaused Status = "PAUSED"
)

type Check struct {
	ID               uuid.UUID     `json:"id"`
	ProjectID        int64         `json:"project_id"`
	Name             string        `json:"name"`
	Slug             string        `json:"slug,omitempty"`
	Schedule         schedule.Spec `json:"schedule"`
	Grace            time.Duration `json:"grace"`
	Status           Status        `json:"status"`
	LastPingAt       *time.Time    `json:"last_ping_at,omitempty"`
	LastPingKind     ping.Kind     `json:"last_ping_kind,omitempty"`
	LastStartedAt    *time.Time    `json:"last_started_at,omitempty"`
	NextExpectedAt   *time.Time    `json:"next_expected_at,omitempty"`
	LastAlertAt      *time.Time    `json:"last_alert_at,omitempty"`
	AlertOnRecovery  bool          `json:"alert_on_recovery"`
	ReminderInterval time.Duration `json:"reminder_interval,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Alias is the stable per-check key incident tools deduplicate on.
func (c *Check) Alias() string { return "beacon-" + c.ID.String() }

// Anchor is the instant the next expected run is computed from.
func (c *Check) Anchor() time.Time {
	if c.LastPingAt != nil {
		return *c.LastPingAt
	}
	return c.CreatedAt
}

func (c *Check) Clone() *Check {
	cp := *c
	cp.LastPingAt = clonePtr(c.LastPingAt)
	cp.LastStartedAt = clonePtr(c.LastStartedAt)
	cp.NextExpectedAt = clonePtr(c.NextExpectedAt)
	cp.LastAlertAt = clonePtr(c.LastAlertAt)
	return &cp
}

func clonePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
