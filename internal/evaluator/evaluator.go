package evaluator

import (
	"fmt"
	"time"

	"github.com/NordCoder/Beacon/internal/domain/alert"
	"github.com/NordCoder/Beacon/internal/domain/check"
	"github.com/NordCoder/Beacon/internal/domain/ping"
	"github.com/NordCoder/Beacon/internal/schedule"
)

type Config struct {
	// LateTolerance is how long a check stays LATE after its grace period
	// before it is declared DOWN. Zero skips LATE entirely.
	LateTolerance time.Duration
}

type Decision struct {
	Status         check.Status
	NextExpectedAt *time.Time
	LastAlertAt    *time.Time
	Event          alert.Event
	// Changed is set when any scheduler-owned field differs from the input.
	Changed bool
}

// Evaluate decides the next status of c at now. It never mutates c.
func Evaluate(c *check.Check, now time.Time, cfg Config) (Decision, error) {
	d := Decision{
		Status:         c.Status,
		NextExpectedAt: c.NextExpectedAt,
		LastAlertAt:    c.LastAlertAt,
	}
	if c.Status == check.StatusPaused {
		return d, nil
	}

	next, err := schedule.Next(c.Schedule, c.Anchor())
	if err != nil {
		return d, fmt.Errorf("check %s: %w", c.ID, err)
	}
	d.NextExpectedAt = &next
	d.Status = target(c, next, now, cfg)
	d.Event = event(c, d.Status, now)

	if d.Event != "" {
		at := now
		d.LastAlertAt = &at
	}
	d.Changed = d.Status != c.Status || !sameInstant(d.NextExpectedAt, c.NextExpectedAt) || d.Event != ""
	return d, nil
}

func target(c *check.Check, next, now time.Time, cfg Config) check.Status {
	if c.LastPingKind == ping.KindFail {
		return check.StatusDown
	}
	deadline := next.Add(c.Grace)
	switch {
	case !now.After(deadline):
		if c.LastPingAt == nil {
			return check.StatusNew
		}
		return check.StatusUp
	case cfg.LateTolerance > 0 && !now.After(deadline.Add(cfg.LateTolerance)):
		return check.StatusLate
	default:
		return check.StatusDown
	}
}

func event(c *check.Check, to check.Status, now time.Time) alert.Event {
	from := c.Status
	switch {
	case to == check.StatusDown && from != check.StatusDown:
		return alert.EventDown
	case to == check.StatusUp && (from == check.StatusDown || from == check.StatusLate):
		if c.AlertOnRecovery {
			return alert.EventUp
		}
	case to == check.StatusDown && c.ReminderInterval > 0:
		if c.LastAlertAt == nil || now.Sub(*c.LastAlertAt) >= c.ReminderInterval {
			return alert.EventStillDown
		}
	}
	return ""
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
