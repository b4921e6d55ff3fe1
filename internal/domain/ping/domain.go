package ping

import (
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindStart   Kind = "START"
	KindSuccess Kind = "SUCCESS"
	KindFail    Kind = "FAIL"
)

func (k Kind) Valid() bool {
	switch k {
	case KindStart, KindSuccess, KindFail:
		return true
	}
	return false
}

const (
	TransportHTTP = "http"
	TransportNATS = "nats"
)

// MaxBodyBytes is the ceiling for stored ping bodies.
const MaxBodyBytes = 10_000

type Ping struct {
	ID        int64     `json:"id"`
	CheckID   uuid.UUID `json:"check_id"`
	Kind      Kind      `json:"kind"`
	Body      string    `json:"body,omitempty"`
	SourceIP  string    `json:"source_ip"`
	Transport string    `json:"transport"`
	CreatedAt time.Time `json:"created_at"`
}
