package memory

// Store bundles every in-memory repository.
type Store struct {
	Projects *Projects
	Checks   *Checks
	Pings    *Pings
	Alerts   *Alerts
	Channels *Channels
	Outbox   *Outbox
}

func NewStore() *Store {
	projects := NewProjects()
	return &Store{
		Projects: projects,
		Checks:   NewChecks(projects),
		Pings:    NewPings(),
		Alerts:   NewAlerts(),
		Channels: NewChannels(),
		Outbox:   NewOutbox(),
	}
}
