package notify

import (
	"bytes"
	"strings"
	"text/template"
	"time"

	"github.com/NordCoder/Beacon/internal/domain/alert"
)

var (
	subjectTmpl = template.Must(template.New("subject").Parse(
		`[{{ .Label }}] {{ .CheckName }}{{ if .ProjectName }} ({{ .ProjectName }}){{ end }}`))

	bodyTmpl = template.Must(template.New("body").Funcs(template.FuncMap{
		"join": strings.Join,
	}).Parse(`{{ .Headline }}

Check:    {{ .CheckName }}
Project:  {{ .ProjectName }}
Schedule: {{ .Schedule }}
Status:   {{ .Status }}
{{- if .LastPing }}
Last ping: {{ .LastPing }}
{{- end }}
Time:     {{ .At }}
{{- if .Durations }}

Recent run durations: {{ join .Durations ", " }}
{{- end }}
{{- if .Related }}

Also down in this project: {{ join .Related ", " }}
{{- end }}
`))
)

type view struct {
	Label       string
	Headline    string
	CheckName   string
	ProjectName string
	Schedule    string
	Status      string
	LastPing    string
	At          string
	Durations   []string
	Related     []string
}

func label(e alert.Event) string {
	switch e {
	case alert.EventUp:
		return "UP"
	case alert.EventStillDown:
		return "STILL DOWN"
	default:
		return "DOWN"
	}
}

func newView(n Notification) view {
	v := view{
		Label: label(n.Event),
		At:    n.At.UTC().Format(time.RFC3339),
	}
	if n.Check != nil {
		v.CheckName = n.Check.Name
		if v.CheckName == "" {
			v.CheckName = n.Check.ID.String()
		}
		v.Schedule = string(n.Check.Schedule.Kind) + " " + n.Check.Schedule.Value
		if n.Check.Schedule.TZ != "" {
			v.Schedule += " " + n.Check.Schedule.TZ
		}
		v.Status = string(n.Check.Status)
		if n.Check.LastPingAt != nil {
			v.LastPing = n.Check.LastPingAt.UTC().Format(time.RFC3339)
		}
	}
	if n.Project != nil {
		v.ProjectName = n.Project.Name
	}
	switch n.Event {
	case alert.EventUp:
		v.Headline = v.CheckName + " is back up."
	case alert.EventStillDown:
		v.Headline = v.CheckName + " is still down."
	default:
		v.Headline = v.CheckName + " is down."
	}
	if e := n.Enrichment; e != nil {
		for _, d := range e.RecentDurations {
			v.Durations = append(v.Durations, d.Round(time.Second).String())
		}
		v.Related = e.RelatedDown
	}
	return v
}

func render(t *template.Template, n Notification) string {
	var buf bytes.Buffer
	if err := t.Execute(&buf, newView(n)); err != nil {
		return label(n.Event)
	}
	return buf.String()
}

// Subject is a one-line summary of n. Line breaks in user-supplied names
// are folded into single spaces.
func Subject(n Notification) string { return oneLine(render(subjectTmpl, n)) }

func oneLine(s string) string { return strings.Join(strings.Fields(s), " ") }

// Body is the plain-text message for n.
func Body(n Notification) string { return render(bodyTmpl, n) }

// Envelope is the stable JSON document generic webhooks receive.
type Envelope struct {
	Event     alert.Event     `json:"event"`
	Check     EnvelopeCheck   `json:"check"`
	Project   EnvelopeProject `json:"project"`
	Timestamp time.Time       `json:"timestamp"`
}

type EnvelopeCheck struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Slug           string     `json:"slug,omitempty"`
	Status         string     `json:"status"`
	ScheduleKind   string     `json:"schedule_kind"`
	ScheduleValue  string     `json:"schedule_value"`
	Timezone       string     `json:"timezone,omitempty"`
	LastPingAt     *time.Time `json:"last_ping_at,omitempty"`
	NextExpectedAt *time.Time `json:"next_expected_at,omitempty"`
}

type EnvelopeProject struct {
	ID   int64  `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

func NewEnvelope(n Notification) Envelope {
	env := Envelope{Event: n.Event, Timestamp: n.At.UTC()}
	if c := n.Check; c != nil {
		env.Check = EnvelopeCheck{
			ID:             c.ID.String(),
			Name:           c.Name,
			Slug:           c.Slug,
			Status:         string(c.Status),
			ScheduleKind:   string(c.Schedule.Kind),
			ScheduleValue:  c.Schedule.Value,
			Timezone:       c.Schedule.TZ,
			LastPingAt:     c.LastPingAt,
			NextExpectedAt: c.NextExpectedAt,
		}
	}
	if p := n.Project; p != nil {
		env.Project = EnvelopeProject{ID: p.ID, Slug: p.Slug, Name: p.Name}
	}
	return env
}
