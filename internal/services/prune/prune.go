package prune

import (
	"context"
	"fmt"
	"time"

	"github.com/NordCoder/Beacon/internal/domain"
	"github.com/NordCoder/Beacon/internal/domain/alert"
	"github.com/NordCoder/Beacon/internal/domain/check"
	"github.com/NordCoder/Beacon/internal/domain/outbox"
	"github.com/NordCoder/Beacon/internal/domain/ping"
	"github.com/NordCoder/Beacon/internal/domain/project"
	"github.com/NordCoder/Beacon/internal/obs"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	mDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prune_rows_deleted_total", Help: "Rows removed by the pruning sweep.",
	}, []string{"table"})
	mErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prune_errors_total", Help: "Per-check pruning failures.",
	})
	mDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "prune_sweep_duration_seconds", Help: "Pruning sweep duration",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	})
)

type Config struct {
	Every      time.Duration `mapstructure:"every"`
	BatchLimit int           `mapstructure:"batch_limit"`
	// OutboxRetention is how long delivered outbox rows are kept. Zero disables the purge.
	OutboxRetention time.Duration `mapstructure:"outbox_retention"`
}

type Result struct {
	Checks        int
	PingsDeleted  int64
	AlertsDeleted int64
	OutboxPurged  int64
	Errors        int
}

type Service struct {
	log      *zap.Logger
	checks   check.Repo
	projects project.Repo
	pings    ping.Repo
	alerts   alert.Repo
	outbox   outbox.Repository
	clock    domain.Clock
	cfg      Config
}

func New(log *zap.Logger, checks check.Repo, projects project.Repo, pings ping.Repo, alerts alert.Repo,
	ob outbox.Repository, clock domain.Clock, cfg Config) *Service {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 500
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Service{
		log:      log.With(zap.String("component", "prune")),
		checks:   checks,
		projects: projects,
		pings:    pings,
		alerts:   alerts,
		outbox:   ob,
		clock:    clock,
		cfg:      cfg,
	}
}

// PruneAll enforces every project's retention limits over its checks. A
// failing check is logged and skipped.
func (s *Service) PruneAll(ctx context.Context) (Result, error) {
	ctx, span := otel.Tracer("prune").Start(ctx, "prune.sweep")
	defer span.End()

	var res Result
	now := s.clock.Now()
	projects := make(map[int64]*project.Project)

	after := uuid.Nil
	for {
		ids, err := s.checks.ListIDs(ctx, after, s.cfg.BatchLimit)
		if err != nil {
			span.RecordError(err)
			return res, fmt.Errorf("list check ids: %w", err)
		}
		for _, id := range ids {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			pings, alerts, err := s.pruneCheck(ctx, id, now, projects)
			res.Checks++
			res.PingsDeleted += pings
			res.AlertsDeleted += alerts
			if err != nil {
				res.Errors++
				mErrors.Inc()
				obs.WithTrace(ctx, s.log).Warn("prune check", zap.String("check_id", id.String()), zap.Error(err))
			}
		}
		if len(ids) < s.cfg.BatchLimit {
			break
		}
		after = ids[len(ids)-1]
	}

	if s.outbox != nil && s.cfg.OutboxRetention > 0 {
		n, err := s.outbox.PurgeDelivered(ctx, now.Add(-s.cfg.OutboxRetention))
		if err != nil {
			res.Errors++
			s.log.Warn("purge outbox", zap.Error(err))
		}
		res.OutboxPurged = n
	}

	mDeleted.WithLabelValues("pings").Add(float64(res.PingsDeleted))
	mDeleted.WithLabelValues("alerts").Add(float64(res.AlertsDeleted))
	mDeleted.WithLabelValues("outbox").Add(float64(res.OutboxPurged))
	span.SetAttributes(
		attribute.Int("prune.checks", res.Checks),
		attribute.Int64("prune.pings", res.PingsDeleted),
		attribute.Int64("prune.alerts", res.AlertsDeleted),
	)
	return res, nil
}

func (s *Service) pruneCheck(ctx context.Context, id uuid.UUID, now time.Time, cache map[int64]*project.Project) (pings, alerts int64, err error) {
	c, err := s.checks.GetByID(ctx, id)
	if err != nil {
		return 0, 0, fmt.Errorf("get check: %w", err)
	}
	p, found := cache[c.ProjectID]
	if !found {
		p, err = s.projects.GetByID(ctx, c.ProjectID)
		if err != nil {
			return 0, 0, fmt.Errorf("get project %d: %w", c.ProjectID, err)
		}
		cache[c.ProjectID] = p
	}

	if keep := p.Retention(); keep > 0 {
		cutoff := now.Add(-keep)
		n, err := s.pings.DeleteOlderThan(ctx, id, cutoff)
		if err != nil {
			return pings, alerts, fmt.Errorf("delete old pings: %w", err)
		}
		pings += n
		n, err = s.alerts.DeleteOlderThan(ctx, id, cutoff)
		if err != nil {
			return pings, alerts, fmt.Errorf("delete old alerts: %w", err)
		}
		alerts += n
	}
	if limit := p.Limits.MaxPingHistory; limit > 0 {
		n, err := s.pings.TrimToCount(ctx, id, limit)
		if err != nil {
			return pings, alerts, fmt.Errorf("trim pings: %w", err)
		}
		pings += n
	}
	return pings, alerts, nil
}

type Runner struct {
	Log   *zap.Logger
	Svc   *Service
	Every time.Duration
}

func NewRunner(log *zap.Logger, svc *Service, every time.Duration) *Runner {
	if every <= 0 {
		every = time.Hour
	}
	return &Runner{Log: log, Svc: svc, Every: every}
}

func (r *Runner) sweep(ctx context.Context) {
	start := time.Now()
	res, err := r.Svc.PruneAll(ctx)
	if err != nil && ctx.Err() == nil {
		r.Log.Warn("prune sweep", zap.Error(err))
	}
	r.Log.Info("prune sweep done",
		zap.Int("checks", res.Checks),
		zap.Int64("pings_deleted", res.PingsDeleted),
		zap.Int64("alerts_deleted", res.AlertsDeleted),
		zap.Int64("outbox_purged", res.OutboxPurged),
		zap.Int("errors", res.Errors),
		zap.Duration("took", time.Since(start)))
	mDur.Observe(time.Since(start).Seconds())
}

func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Every)
	defer ticker.Stop()

	r.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}
