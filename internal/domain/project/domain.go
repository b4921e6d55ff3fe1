package project

import "time"

type Limits struct {
	RetentionDays  int `json:"retention_days"`
	MaxPingHistory int `json:"max_ping_history"`
	MaxChannels    int `json:"max_channels"`
}

type Project struct {
	ID        int64     `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Limits    Limits    `json:"limits"`
	CreatedAt time.Time `json:"created_at"`
}

func (p *Project) Retention() time.Duration {
	return time.Duration(p.Limits.RetentionDays) * 24 * time.Hour
}
