package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Beacon/internal/domain"
	"github.com/NordCoder/Beacon/internal/domain/alert"
	"github.com/NordCoder/Beacon/internal/domain/outbox"
	"github.com/NordCoder/Beacon/internal/obs/retry"
	"github.com/NordCoder/Beacon/internal/services/dispatcher"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	outboxHandlerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outbox_handler_latency_seconds",
		Help:    "Latency of outbox handlers (dispatch, publish)",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	outboxHandlerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_handler_errors_total",
		Help: "Errors in outbox handlers (after retries).",
	}, []string{"kind"})
)

// AlertDispatcher fans an alert event out to the check's channels.
type AlertDispatcher interface {
	DispatchByID(ctx context.Context, checkID uuid.UUID, ev alert.Event) ([]dispatcher.ChannelResult, error)
}

// StatusPublisher forwards status transitions to downstream consumers.
type StatusPublisher interface {
	PublishStatusChanged(ctx context.Context, p outbox.AlertPayload) error
}

func instrument(kind string, h outbox.KindHandler, pol retry.Policy) outbox.KindHandler {
	tr := otel.Tracer("outbox.handler")
	if pol.Name == "" {
		pol.Name = "outbox_" + kind
	}
	return func(ctx context.Context, data []byte) error {
		ctx, span := tr.Start(ctx, "outbox.handle")
		span.SetAttributes(attribute.String("outbox.kind", kind))
		defer span.End()

		start := time.Now()
		err := retry.Do(ctx, func() error { return h(ctx, data) }, pol)
		outboxHandlerLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			outboxHandlerErrors.WithLabelValues(kind).Inc()
		}
		return err
	}
}

func decode(data []byte) (outbox.AlertPayload, error) {
	var p outbox.AlertPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("unmarshal alert payload: %w", err)
	}
	return p, nil
}

// MakeGlobalOutboxHandler routes alert messages to the dispatcher and
// status_changed messages to pub. A nil pub acknowledges status_changed
// messages without publishing.
func MakeGlobalOutboxHandler(log *zap.Logger, d AlertDispatcher, pub StatusPublisher, pol retry.Policy) outbox.GlobalHandler {
	alertH := instrument(outbox.KindAlert.String(), func(ctx context.Context, data []byte) error {
		p, err := decode(data)
		if err != nil {
			return err
		}
		_, err = d.DispatchByID(ctx, p.CheckID, p.Event)
		if errors.Is(err, domain.ErrNotFound) {
			log.Info("dropping alert for deleted check", zap.String("check_id", p.CheckID.String()))
			return nil
		}
		return err
	}, pol)

	statusH := instrument(outbox.KindStatusChanged.String(), func(ctx context.Context, data []byte) error {
		if pub == nil {
			return nil
		}
		p, err := decode(data)
		if err != nil {
			return err
		}
		return pub.PublishStatusChanged(ctx, p)
	}, pol)

	return func(kind outbox.Kind) (outbox.KindHandler, error) {
		switch kind {
		case outbox.KindAlert:
			return alertH, nil
		case outbox.KindStatusChanged:
			return statusH, nil
		default:
			return nil, fmt.Errorf("unsupported outbox kind: %d", kind)
		}
	}
}
