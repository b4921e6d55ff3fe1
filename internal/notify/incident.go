package notify

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/NordCoder/Beacon/internal/domain/alert"
)

const defaultPagerDutyURL = "https://events.pagerduty.com/v2/enqueue"

// PagerDuty talks to an Events API v2 endpoint. The check alias is the
// dedup key so an "up" resolves the incident "down" opened.
type PagerDuty struct {
	Client *http.Client
	URL    string
}

type pdEvent struct {
	RoutingKey  string     `json:"routing_key"`
	EventAction string     `json:"event_action"`
	DedupKey    string     `json:"dedup_key"`
	Payload     *pdPayload `json:"payload,omitempty"`
}

type pdPayload struct {
	Summary       string         `json:"summary"`
	Source        string         `json:"source"`
	Severity      string         `json:"severity"`
	Timestamp     string         `json:"timestamp"`
	Group         string         `json:"group,omitempty"`
	CustomDetails map[string]any `json:"custom_details,omitempty"`
}

func pdSeverity(e alert.Event) string {
	switch e {
	case alert.EventDown:
		return "critical"
	case alert.EventStillDown:
		return "error"
	default:
		return "info"
	}
}

func (h *PagerDuty) Send(ctx context.Context, n Notification) Result {
	key := n.Channel.Get("routing_key")
	if key == "" {
		return invalid("pagerduty: missing \"routing_key\"")
	}
	if n.Check == nil {
		return invalid("pagerduty: no check")
	}
	ev := pdEvent{RoutingKey: key, DedupKey: n.Check.Alias()}
	if n.Event == alert.EventUp {
		ev.EventAction = "resolve"
	} else {
		ev.EventAction = "trigger"
		ev.Payload = &pdPayload{
			Summary:   Subject(n),
			Source:    "beacon",
			Severity:  pdSeverity(n.Event),
			Timestamp: n.At.UTC().Format(time.RFC3339),
			CustomDetails: map[string]any{
				"check_id": n.Check.ID.String(),
				"schedule": n.Check.Schedule.Value,
				"event":    string(n.Event),
			},
		}
		if n.Project != nil {
			ev.Payload.Group = n.Project.Slug
		}
	}

	endpoint := h.URL
	if endpoint == "" {
		endpoint = defaultPagerDutyURL
	}
	if _, err := postJSON(ctx, h.Client, endpoint, nil, ev); err != nil {
		return fail(err)
	}
	return ok()
}

var OpsgenieRegions = map[string]string{
	"us": "https://api.opsgenie.com",
	"eu": "https://api.eu.opsgenie.com",
}

// Opsgenie opens alerts keyed by the check alias and closes them on "up".
// Region picks the API base URL.
type Opsgenie struct {
	Client  *http.Client
	Regions map[string]string
}

type ogCreate struct {
	Message     string            `json:"message"`
	Alias       string            `json:"alias"`
	Description string            `json:"description,omitempty"`
	Priority    string            `json:"priority"`
	Source      string            `json:"source"`
	Tags        []string          `json:"tags,omitempty"`
	Details     map[string]string `json:"details,omitempty"`
	Responders  []ogResponder     `json:"responders,omitempty"`
}

type ogResponder struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type ogClose struct {
	Source string `json:"source"`
	Note   string `json:"note,omitempty"`
}

func ogPriority(e alert.Event) string {
	if e == alert.EventStillDown {
		return "P2"
	}
	return "P1"
}

func (h *Opsgenie) Send(ctx context.Context, n Notification) Result {
	apiKey := n.Channel.Get("api_key")
	if apiKey == "" {
		return invalid("opsgenie: missing \"api_key\"")
	}
	if n.Check == nil {
		return invalid("opsgenie: no check")
	}
	region := strings.ToLower(n.Channel.Get("region"))
	if region == "" {
		region = "us"
	}
	regions := h.Regions
	if len(regions) == 0 {
		regions = OpsgenieRegions
	}
	base, found := regions[region]
	if !found {
		return invalid("opsgenie: unknown region %q", region)
	}
	base = strings.TrimRight(base, "/")
	headers := map[string]string{"Authorization": "GenieKey " + apiKey}
	alias := n.Check.Alias()

	var err error
	if n.Event == alert.EventUp {
		endpoint := base + "/v2/alerts/" + url.PathEscape(alias) + "/close?identifierType=alias"
		_, err = postJSON(ctx, h.Client, endpoint, headers, ogClose{Source: "beacon", Note: Subject(n)})
	} else {
		body := ogCreate{
			Message:     Subject(n),
			Alias:       alias,
			Description: Body(n),
			Priority:    ogPriority(n.Event),
			Source:      "beacon",
			Tags:        []string{"beacon", string(n.Event)},
			Details:     map[string]string{"check_id": n.Check.ID.String()},
		}
		for _, r := range strings.Split(n.Channel.Get("responders"), ",") {
			if r = strings.TrimSpace(r); r != "" {
				body.Responders = append(body.Responders, ogResponder{Name: r, Type: "team"})
			}
		}
		_, err = postJSON(ctx, h.Client, base+"/v2/alerts", headers, body)
	}
	if err != nil {
		return fail(err)
	}
	return ok()
}
