package scheduler

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	mEvaluated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_checks_evaluated_total", Help: "Checks evaluated by the tick loop",
	})
	mChanged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_checks_changed_total", Help: "Checks whose scheduler state was persisted",
	})
	mEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_events_enqueued_total", Help: "Alert events enqueued to the outbox",
	})
	mErr = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_errors_total", Help: "Errors in scheduler loop",
	})
	mLoopDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "scheduler_loop_duration_seconds", Help: "Scheduler tick duration",
		Buckets: prometheus.DefBuckets,
	})
)

type Runner struct {
	Log   *zap.Logger
	UC    *Usecase
	Every time.Duration
}

func New(log *zap.Logger, uc *Usecase, every time.Duration) *Runner {
	if every <= 0 {
		every = 30 * time.Second
	}
	return &Runner{Log: log, UC: uc, Every: every}
}

func (r *Runner) tick(ctx context.Context) {
	start := time.Now()
	res, err := r.UC.Tick(ctx)
	if err != nil && ctx.Err() == nil {
		r.Log.Warn("tick error", zap.Error(err))
	}
	mEvaluated.Add(float64(res.Evaluated))
	mChanged.Add(float64(res.Changed))
	mEvents.Add(float64(res.Events))
	mErr.Add(float64(res.Errors))
	if res.Changed > 0 || res.Errors > 0 {
		r.Log.Debug("tick done",
			zap.Int("evaluated", res.Evaluated),
			zap.Int("changed", res.Changed),
			zap.Int("events", res.Events),
			zap.Int("errors", res.Errors))
	}
	mLoopDur.Observe(time.Since(start).Seconds())
}

func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Every)
	defer ticker.Stop()

	r.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}
