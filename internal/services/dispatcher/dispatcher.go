package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/NordCoder/Beacon/internal/domain"
	"github.com/NordCoder/Beacon/internal/domain/alert"
	"github.com/NordCoder/Beacon/internal/domain/channel"
	"github.com/NordCoder/Beacon/internal/domain/check"
	"github.com/NordCoder/Beacon/internal/domain/ping"
	"github.com/NordCoder/Beacon/internal/domain/project"
	"github.com/NordCoder/Beacon/internal/notify"
	"github.com/NordCoder/Beacon/internal/obs"
	"github.com/NordCoder/Beacon/internal/schedule"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	sendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_channel_sends_total", Help: "Channel sends by kind and outcome.",
	}, []string{"kind", "outcome"})
	sendLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "dispatch_channel_send_seconds", Help: "Channel send latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	alertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_alerts_total", Help: "Alert records written by event and success.",
	}, []string{"event", "success"})
)

type Config struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	Enrich         bool          `mapstructure:"enrich"`
	DurationSample int           `mapstructure:"duration_sample"`
}

type Repos struct {
	Checks   check.Repo
	Projects project.Repo
	Channels channel.Repo
	Alerts   alert.Repo
	Pings    ping.Repo
}

type ChannelResult struct {
	Channel *channel.Channel
	notify.Result
}

type Dispatcher struct {
	log      *zap.Logger
	repos    Repos
	registry notify.Registry
	clock    domain.Clock
	cfg      Config
}

func New(log *zap.Logger, repos Repos, registry notify.Registry, clock domain.Clock, cfg Config) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.DurationSample <= 0 {
		cfg.DurationSample = 5
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Dispatcher{
		log:      log.With(zap.String("component", "dispatcher")),
		repos:    repos,
		registry: registry,
		clock:    clock,
		cfg:      cfg,
	}
}

// DispatchByID loads the check and its project, then dispatches.
func (d *Dispatcher) DispatchByID(ctx context.Context, checkID uuid.UUID, ev alert.Event) ([]ChannelResult, error) {
	c, err := d.repos.Checks.GetByID(ctx, checkID)
	if err != nil {
		return nil, fmt.Errorf("get check %s: %w", checkID, err)
	}
	p, err := d.repos.Projects.GetByID(ctx, c.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("get project %d: %w", c.ProjectID, err)
	}
	return d.Dispatch(ctx, c, p, ev)
}

// Dispatch sends ev to every channel of the check and the project's default
// channels, then records one Alert. Channel failures are reported in the
// results and the Alert; only a failure to record the Alert is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, c *check.Check, p *project.Project, ev alert.Event) ([]ChannelResult, error) {
	ctx, span := otel.Tracer("dispatcher").Start(ctx, "dispatcher.dispatch",
		trace.WithAttributes(
			attribute.String("check.id", c.ID.String()),
			attribute.String("alert.event", string(ev)),
		),
	)
	defer span.End()
	log := obs.WithTrace(ctx, d.log).With(zap.String("check_id", c.ID.String()), zap.String("event", string(ev)))

	channels, err := d.channels(ctx, c, p)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("channels", len(channels)))

	n := notify.Notification{
		Check:   c.Clone(),
		Project: p,
		Event:   ev,
		At:      d.clock.Now(),
	}
	if d.cfg.Enrich {
		n.Enrichment = d.enrich(ctx, c, p, log)
	}

	results := d.send(ctx, n, channels)

	rec := &alert.Alert{
		CheckID:   c.ID,
		Event:     ev,
		Success:   true,
		CreatedAt: n.At,
	}
	for _, r := range results {
		snap := alert.ChannelSnapshot{ID: r.Channel.ID, Name: r.Channel.Name, Kind: string(r.Channel.Kind), OK: r.OK}
		if !r.OK {
			rec.Success = false
			if r.Err != nil {
				snap.Error = r.Err.Error()
				if rec.Error == "" {
					rec.Error = snap.Error
				}
			}
			log.Warn("channel send failed",
				zap.Int64("channel_id", r.Channel.ID), zap.String("kind", string(r.Channel.Kind)), zap.Error(r.Err))
		}
		rec.Channels = append(rec.Channels, snap)
	}

	if err := d.repos.Alerts.Create(ctx, rec); err != nil {
		span.RecordError(err)
		return results, fmt.Errorf("record alert: %w", err)
	}
	alertsTotal.WithLabelValues(string(ev), fmt.Sprint(rec.Success)).Inc()
	log.Info("alert dispatched", zap.Int("channels", len(results)), zap.Bool("success", rec.Success))
	return results, nil
}

// TestChannel sends a synthetic "down" through one channel without
// recording anything.
func (d *Dispatcher) TestChannel(ctx context.Context, ch *channel.Channel, p *project.Project) notify.Result {
	now := d.clock.Now()
	placeholder := &check.Check{
		ID:        uuid.Nil,
		ProjectID: p.ID,
		Name:      "Test check",
		Slug:      "test-check",
		Schedule:  schedule.Spec{Kind: schedule.Period, Value: "3600"},
		Status:    check.StatusDown,
		CreatedAt: now,
	}
	results := d.send(ctx, notify.Notification{
		Check:   placeholder,
		Project: p,
		Event:   alert.EventDown,
		At:      now,
	}, []*channel.Channel{ch})
	return results[0].Result
}

func (d *Dispatcher) channels(ctx context.Context, c *check.Check, p *project.Project) ([]*channel.Channel, error) {
	own, err := d.repos.Channels.ListByCheck(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("list check channels: %w", err)
	}
	defaults, err := d.repos.Channels.ListDefaults(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("list default channels: %w", err)
	}

	seen := make(map[int64]struct{}, len(own)+len(defaults))
	out := make([]*channel.Channel, 0, len(own)+len(defaults))
	for _, ch := range append(own, defaults...) {
		if _, dup := seen[ch.ID]; dup {
			continue
		}
		seen[ch.ID] = struct{}{}
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *Dispatcher) send(ctx context.Context, n notify.Notification, channels []*channel.Channel) []ChannelResult {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	results := make([]ChannelResult, len(channels))
	var g errgroup.Group
	for i, ch := range channels {
		results[i].Channel = ch
		g.Go(func() error {
			start := time.Now()
			res := d.sendOne(ctx, n, ch)
			sendLatency.WithLabelValues(string(ch.Kind)).Observe(time.Since(start).Seconds())
			outcome := "ok"
			if !res.OK {
				outcome = "error"
			}
			sendsTotal.WithLabelValues(string(ch.Kind), outcome).Inc()
			results[i].Result = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *Dispatcher) sendOne(ctx context.Context, n notify.Notification, ch *channel.Channel) (res notify.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = notify.Result{Err: fmt.Errorf("%w: handler panic: %v", notify.ErrChannelSend, r)}
		}
	}()

	h, err := d.registry.Lookup(ch.Kind)
	if err != nil {
		return notify.Result{Err: err}
	}
	n.Channel = ch
	return h.Send(ctx, n)
}

func (d *Dispatcher) enrich(ctx context.Context, c *check.Check, p *project.Project, log *zap.Logger) *notify.Enrichment {
	e := &notify.Enrichment{}

	if pings, err := d.repos.Pings.ListRecent(ctx, c.ID, 100); err != nil {
		log.Debug("enrich durations", zap.Error(err))
	} else {
		e.RecentDurations = Durations(pings, d.cfg.DurationSample)
	}

	if siblings, err := d.repos.Checks.ListByProject(ctx, p.ID); err != nil {
		log.Debug("enrich related", zap.Error(err))
	} else {
		for _, s := range siblings {
			if s.ID == c.ID || s.Status != check.StatusDown {
				continue
			}
			e.RelatedDown = append(e.RelatedDown, s.Name)
			if len(e.RelatedDown) == 10 {
				break
			}
		}
	}
	return e
}

// Durations pairs each SUCCESS with the START before it. pings are newest
// first; the result is oldest first and holds at most limit entries.
func Durations(pings []*ping.Ping, limit int) []time.Duration {
	var (
		out   []time.Duration
		start *time.Time
	)
	for i := len(pings) - 1; i >= 0; i-- {
		p := pings[i]
		switch p.Kind {
		case ping.KindStart:
			t := p.CreatedAt
			start = &t
		case ping.KindSuccess:
			if start != nil && !p.CreatedAt.Before(*start) {
				out = append(out, p.CreatedAt.Sub(*start))
			}
			start = nil
		case ping.KindFail:
			start = nil
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
