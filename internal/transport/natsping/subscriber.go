// Package natsping ingests pings published on NATS.
//
// Subjects mirror the HTTP paths under a prefix, for example
// beacon.ping.<uuid>.start or beacon.ping.<project>.<check>. The message
// payload is the ping body. Requests with a reply subject get "OK",
// "RATE_LIMITED <seconds>" or "ERROR".
package natsping

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/NordCoder/Beacon/internal/domain/ping"
	"github.com/NordCoder/Beacon/internal/obs"
	"github.com/NordCoder/Beacon/internal/services/ingest"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

type Config struct {
	Enable bool   `mapstructure:"enable"`
	URL    string `mapstructure:"url"`
	Prefix string `mapstructure:"prefix"`
	Queue  string `mapstructure:"queue"`
}

type Recorder interface {
	RecordPing(ctx context.Context, id ingest.Identifier, kind ping.Kind, body, sourceIP, transport string) error
}

type Subscriber struct {
	nc  *nats.Conn
	rec Recorder
	cfg Config
	log *zap.Logger
}

func New(nc *nats.Conn, rec Recorder, cfg Config, log *zap.Logger) *Subscriber {
	if cfg.Prefix == "" {
		cfg.Prefix = "beacon.ping"
	}
	cfg.Prefix = strings.TrimSuffix(cfg.Prefix, ".")
	return &Subscriber{
		nc:  nc,
		rec: rec,
		cfg: cfg,
		log: log.With(zap.String("component", "natsping")),
	}
}

func (s *Subscriber) subject() string { return s.cfg.Prefix + ".>" }

// Start subscribes and blocks until ctx is done, then drains the
// subscription so in-flight pings finish.
func (s *Subscriber) Start(ctx context.Context) error {
	if s.nc == nil {
		return errors.New("nats connection is required")
	}
	handler := func(msg *nats.Msg) {
		reply := s.handle(ctx, msg)
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond([]byte(reply)); err != nil {
			s.log.Debug("respond", zap.String("subject", msg.Subject), zap.Error(err))
		}
	}

	var (
		sub *nats.Subscription
		err error
	)
	if s.cfg.Queue != "" {
		sub, err = s.nc.QueueSubscribe(s.subject(), s.cfg.Queue, handler)
	} else {
		sub, err = s.nc.Subscribe(s.subject(), handler)
	}
	if err != nil {
		return err
	}
	s.log.Info("nats subscribed", zap.String("subject", s.subject()), zap.String("queue", s.cfg.Queue))

	<-ctx.Done()
	s.log.Info("nats subscriber stopping")
	if err := sub.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return err
	}
	return nil
}

func (s *Subscriber) handle(ctx context.Context, msg *nats.Msg) string {
	if msg.Header != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, headerCarrier(msg.Header))
	}

	rest, found := strings.CutPrefix(msg.Subject, s.cfg.Prefix+".")
	if !found {
		return "ERROR"
	}
	id, kind, ok := ingest.ParseSegments(strings.Split(rest, "."))
	if !ok {
		obs.WithTrace(ctx, s.log).Debug("unroutable ping subject", zap.String("subject", msg.Subject))
		return "ERROR"
	}

	err := s.rec.RecordPing(ctx, id, kind, string(msg.Data), "", ping.TransportNATS)

	var rl *ingest.RateLimitError
	switch {
	case err == nil:
		return "OK"
	case errors.As(err, &rl):
		secs := int(math.Ceil(rl.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		return "RATE_LIMITED " + strconv.Itoa(secs)
	default:
		obs.WithTrace(ctx, s.log).Error("record ping", zap.String("subject", msg.Subject), zap.Error(err))
		return "ERROR"
	}
}

type headerCarrier nats.Header

func (h headerCarrier) Get(k string) string { return nats.Header(h).Get(k) }
func (h headerCarrier) Set(k, v string)     { nats.Header(h).Set(k, v) }
func (h headerCarrier) Keys() []string {
	out := make([]string, 0, len(h))
	for k := range h {
		out = append(out, k)
	}
	return out
}
