package outbox

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/NordCoder/Beacon/internal/domain/outbox"
	"github.com/NordCoder/Beacon/internal/obs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	mPicked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_picked_total", Help: "Messages picked into processing.",
	})
	mOk = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_processed_ok_total", Help: "Messages processed successfully.",
	})
	mErr = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_processed_err_total", Help: "Handler errors.",
	})
	mGaveUp = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_failed_total", Help: "Messages marked failed after their last delivery.",
	})
	mTickDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "outbox_tick_duration_seconds", Help: "Tick duration.",
		Buckets: prometheus.DefBuckets,
	})
	mBatchSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "outbox_last_batch_size", Help: "Size of last picked batch.",
	})
)

type Config struct {
	Workers       int           `mapstructure:"workers"`
	BatchSize     int           `mapstructure:"batch_size"`
	WaitTime      time.Duration `mapstructure:"wait_time"`
	InProgressTTL time.Duration `mapstructure:"in_progress_ttl"`
	Attempts      int           `mapstructure:"attempts"`
	// MaxDeliveries bounds how many times one message is picked. Attempts
	// are the in-process retries of each delivery.
	MaxDeliveries int           `mapstructure:"max_deliveries"`
}

type Runner struct {
	log      *zap.Logger
	repo     outbox.Repository
	dispatch outbox.GlobalHandler

	workers       int
	batchSize     int
	waitTime      time.Duration
	inProgressTTL time.Duration
	maxDeliveries int
}

func NewOutboxRunner(log *zap.Logger, repo outbox.Repository, dispatch outbox.GlobalHandler, cfg Config) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.WaitTime <= 0 {
		cfg.WaitTime = time.Second
	}
	if cfg.InProgressTTL <= 0 {
		cfg.InProgressTTL = 5 * time.Minute
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 5
	}
	return &Runner{
		log: log, repo: repo, dispatch: dispatch,
		workers: cfg.Workers, batchSize: cfg.BatchSize, waitTime: cfg.WaitTime, inProgressTTL: cfg.InProgressTTL,
		maxDeliveries: cfg.MaxDeliveries,
	}
}

// Run starts the workers and blocks until ctx is done and all of them exit.
func (r *Runner) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go r.worker(ctx, &wg)
	}
	wg.Wait()
	return ctx.Err()
}

func (r *Runner) worker(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	r.log.Info("outbox worker started", zap.String("wait_ms", strconv.FormatInt(r.waitTime.Milliseconds(), 10)))

	ticker := time.NewTicker(r.waitTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox worker stop")
			return
		case <-ticker.C:
			_, _ = r.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce picks one batch, runs every message through its handler and
// marks the successful ones. A failed message is picked again once its lease
// expires, until its last delivery fails and it is marked failed. It returns
// how many succeeded.
func (r *Runner) ProcessOnce(ctx context.Context) (int, error) {
	t0 := time.Now()
	tr := otel.Tracer("outbox.runner")
	prop := otel.GetTextMapPropagator()

	ctxSpan, span := tr.Start(ctx, "outbox.tick")
	defer span.End()
	span.SetAttributes(
		attribute.Int("batch.limit", r.batchSize),
		attribute.String("in_progress_ttl", r.inProgressTTL.String()),
	)

	messages, err := r.repo.PickBatch(ctxSpan, r.batchSize, r.inProgressTTL, r.maxDeliveries)
	if err != nil {
		span.RecordError(err)
		mErr.Inc()
		obs.WithTrace(ctxSpan, r.log).Error("outbox pick error", zap.Error(err))
		return 0, err
	}
	mPicked.Add(float64(len(messages)))
	mBatchSize.Set(float64(len(messages)))
	if len(messages) == 0 {
		return 0, nil
	}

	okKeys := make([]string, 0, len(messages))
	var failedKeys []string
	for _, m := range messages {
		// Each message continues the trace of the tick that enqueued it.
		parent := prop.Extract(ctx, propagation.MapCarrier{
			"traceparent": m.Traceparent,
			"tracestate":  m.Tracestate,
			"baggage":     m.Baggage,
		})

		msgCtx, msgSpan := tr.Start(parent, "outbox.dispatch",
			trace.WithAttributes(
				attribute.String("outbox.key", m.IdempotencyKey),
				attribute.String("outbox.kind", m.Kind.String()),
			),
		)

		err := r.handle(msgCtx, m)
		if err == nil {
			msgSpan.End()
			okKeys = append(okKeys, m.IdempotencyKey)
			mOk.Inc()
			continue
		}

		msgSpan.RecordError(err)
		mErr.Inc()
		log := obs.WithTrace(msgCtx, r.log).With(
			zap.String("key", m.IdempotencyKey),
			zap.String("kind", m.Kind.String()),
			zap.Int("delivery", m.Attempts),
			zap.Error(err),
		)
		if m.Attempts >= r.maxDeliveries {
			log.Error("outbox message failed, giving up", zap.Int("max_deliveries", r.maxDeliveries))
			failedKeys = append(failedKeys, m.IdempotencyKey)
			mGaveUp.Inc()
		} else {
			log.Warn("outbox delivery failed, will retry", zap.Duration("retry_in", r.inProgressTTL))
		}
		msgSpan.End()
	}

	if err := r.repo.MarkFailed(ctxSpan, failedKeys); err != nil {
		span.RecordError(err)
		mErr.Inc()
		obs.WithTrace(ctxSpan, r.log).Error("mark failed error", zap.Error(err))
	}
	if err := r.repo.MarkSuccess(ctxSpan, okKeys); err != nil {
		span.RecordError(err)
		mErr.Inc()
		obs.WithTrace(ctxSpan, r.log).Error("mark success error", zap.Error(err))
		return 0, err
	}
	mTickDur.Observe(time.Since(t0).Seconds())
	return len(okKeys), nil
}

func (r *Runner) handle(ctx context.Context, m outbox.Message) error {
	handler, err := r.dispatch(m.Kind)
	if err != nil {
		return err
	}
	return handler(ctx, m.Data)
}
