package alert

import (
	"time"

	"github.com/google/uuid"
)

type Event string

const (
	EventDown      Event = "down"
	EventUp        Event = "up"
	EventStillDown Event = "still_down"
)

// Polarity is true for events that report a problem.
func (e Event) Polarity() bool { return e != EventUp }

// ChannelSnapshot freezes what a channel looked like when the alert went out.
type ChannelSnapshot struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type Alert struct {
	ID        int64             `json:"id"`
	CheckID   uuid.UUID         `json:"check_id"`
	Event     Event             `json:"event"`
	Channels  []ChannelSnapshot `json:"channels"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
