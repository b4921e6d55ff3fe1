package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/NordCoder/Beacon/internal/domain"
	"github.com/NordCoder/Beacon/internal/domain/check"
	"github.com/NordCoder/Beacon/internal/domain/outbox"
	"github.com/NordCoder/Beacon/internal/evaluator"
	"github.com/NordCoder/Beacon/internal/obs"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	BatchLimit    int
	Workers       int
	LateTolerance time.Duration
	// PublishStatus also enqueues a status_changed message on every transition.
	PublishStatus bool
}

// TickResult counts what one pass over the active checks did.
type TickResult struct {
	Evaluated int
	Changed   int
	Events    int
	Errors    int
}

type Usecase struct {
	Log    *zap.Logger
	Checks check.Repo
	Outbox outbox.Repository
	Tx     domain.Transactor
	Clock  domain.Clock
	Opts   Options
}

func NewUC(log *zap.Logger, checks check.Repo, ob outbox.Repository, tx domain.Transactor, clock domain.Clock, opts Options) *Usecase {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = 100
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Usecase{Log: log, Checks: checks, Outbox: ob, Tx: tx, Clock: clock, Opts: opts}
}

// Tick evaluates every non-paused check once against a single "now". A
// failing check is logged, counted and skipped; only a failure to list
// checks aborts the pass.
func (u *Usecase) Tick(ctx context.Context) (TickResult, error) {
	tr := otel.Tracer("scheduler.uc")
	ctx, span := tr.Start(ctx, "scheduler.tick",
		trace.WithAttributes(attribute.Int("batch.limit", u.Opts.BatchLimit)),
	)
	defer span.End()

	now := u.Clock.Now()
	var evaluated, changed, events, errs atomic.Int64

	after := uuid.Nil
	for {
		page, err := u.Checks.ListActive(ctx, after, u.Opts.BatchLimit)
		if err != nil {
			span.RecordError(err)
			res := TickResult{Evaluated: int(evaluated.Load()), Changed: int(changed.Load()), Events: int(events.Load()), Errors: int(errs.Load()) + 1}
			return res, fmt.Errorf("list active: %w", err)
		}
		if len(page) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(u.Opts.Workers)
		for _, c := range page {
			g.Go(func() error {
				ch, ev, err := u.evaluateOne(gctx, c.ID, now)
				evaluated.Add(1)
				switch {
				case err != nil:
					errs.Add(1)
					obs.WithTrace(gctx, u.Log).Warn("evaluate check",
						zap.String("check_id", c.ID.String()), zap.Error(err))
				case ch:
					changed.Add(1)
				}
				if ev {
					events.Add(1)
				}
				return nil
			})
		}
		_ = g.Wait()

		after = page[len(page)-1].ID
		if len(page) < u.Opts.BatchLimit || ctx.Err() != nil {
			break
		}
	}

	res := TickResult{
		Evaluated: int(evaluated.Load()),
		Changed:   int(changed.Load()),
		Events:    int(events.Load()),
		Errors:    int(errs.Load()),
	}
	span.SetAttributes(
		attribute.Int("batch.evaluated", res.Evaluated),
		attribute.Int("batch.changed", res.Changed),
		attribute.Int("batch.events", res.Events),
		attribute.Int("batch.errors", res.Errors),
	)
	return res, ctx.Err()
}

// EvaluateCheck runs one check through the evaluator at the current time.
func (u *Usecase) EvaluateCheck(ctx context.Context, id uuid.UUID) (changed, fired bool, err error) {
	return u.evaluateOne(ctx, id, u.Clock.Now())
}

func (u *Usecase) evaluateOne(ctx context.Context, id uuid.UUID, now time.Time) (changed, fired bool, err error) {
	ctx, span := otel.Tracer("scheduler.uc").Start(ctx, "scheduler.evaluate",
		trace.WithAttributes(attribute.String("check.id", id.String())),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluate %s: panic: %v", id, r)
			changed, fired = false, false
		}
		if err != nil {
			span.RecordError(err)
		}
	}()

	err = u.Tx.WithTx(ctx, func(ctx context.Context) error {
		// Re-read under lock so a concurrent ping or tick is not overwritten.
		c, err := u.Checks.GetForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			return fmt.Errorf("get check: %w", err)
		}
		d, err := evaluator.Evaluate(c, now, evaluator.Config{LateTolerance: u.Opts.LateTolerance})
		if err != nil {
			return err
		}
		if !d.Changed {
			return nil
		}

		if err := u.Checks.UpdateStatus(ctx, check.StatusUpdate{
			ID:             c.ID,
			Status:         d.Status,
			NextExpectedAt: d.NextExpectedAt,
			LastAlertAt:    d.LastAlertAt,
		}); err != nil {
			return fmt.Errorf("update status: %w", err)
		}

		payload := outbox.AlertPayload{
			CheckID:   c.ID,
			ProjectID: c.ProjectID,
			Event:     d.Event,
			OldStatus: string(c.Status),
			NewStatus: string(d.Status),
			At:        now,
		}
		if d.Event != "" {
			if err := u.enqueue(ctx, outbox.KindAlert, payload); err != nil {
				return err
			}
		}
		if u.Opts.PublishStatus && d.Status != c.Status {
			if err := u.enqueue(ctx, outbox.KindStatusChanged, payload); err != nil {
				return err
			}
		}

		changed, fired = true, d.Event != ""
		span.SetAttributes(
			attribute.String("check.status", string(d.Status)),
			attribute.String("alert.event", string(d.Event)),
		)
		return nil
	})
	if err != nil {
		changed, fired = false, false
	}
	return changed, fired, err
}

func (u *Usecase) enqueue(ctx context.Context, kind outbox.Kind, p outbox.AlertPayload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	if err := u.Outbox.Enqueue(ctx, outbox.Message{
		IdempotencyKey: p.Key(kind),
		Kind:           kind,
		Data:           data,
		Traceparent:    carrier.Get("traceparent"),
		Tracestate:     carrier.Get("tracestate"),
		Baggage:        carrier.Get("baggage"),
	}); err != nil {
		return fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return nil
}
