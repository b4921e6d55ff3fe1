package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/NordCoder/Beacon/internal/domain"
	"github.com/NordCoder/Beacon/internal/domain/check"
	"github.com/NordCoder/Beacon/internal/domain/ping"
	"github.com/NordCoder/Beacon/internal/obs"
	"github.com/NordCoder/Beacon/internal/ratelimit"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	ErrRateLimited = errors.New("rate limited")
	ErrInvalidKind = errors.New("invalid ping kind")
)

// RateLimitError is returned when a check is pinged faster than its limit.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

var pingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ingest_pings_total", Help: "Pings by transport and outcome.",
}, []string{"transport", "outcome"})

// Identifier names a check either by id or by project and check slug.
type Identifier struct {
	ID          string
	ProjectSlug string
	CheckSlug   string
}

func (i Identifier) String() string {
	if i.ID != "" {
		return i.ID
	}
	return i.ProjectSlug + "/" + i.CheckSlug
}

type Service struct {
	log     *zap.Logger
	checks  check.Repo
	pings   ping.Repo
	tx      domain.Transactor
	limiter ratelimit.Store
	clock   domain.Clock
}

func New(log *zap.Logger, checks check.Repo, pings ping.Repo, tx domain.Transactor, limiter ratelimit.Store, clock domain.Clock) *Service {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Service{
		log:     log.With(zap.String("component", "ingest")),
		checks:  checks,
		pings:   pings,
		tx:      tx,
		limiter: limiter,
		clock:   clock,
	}
}

// ResolveCheck maps an identifier to a check id. Unknown or malformed
// identifiers report found=false without an error.
func (s *Service) ResolveCheck(ctx context.Context, id Identifier) (uuid.UUID, bool, error) {
	var (
		c   *check.Check
		err error
	)
	switch {
	case id.ID != "":
		parsed, perr := uuid.Parse(id.ID)
		if perr != nil {
			return uuid.Nil, false, nil
		}
		c, err = s.checks.GetByID(ctx, parsed)
	case id.ProjectSlug != "" && id.CheckSlug != "":
		c, err = s.checks.GetBySlug(ctx, id.ProjectSlug, id.CheckSlug)
	default:
		return uuid.Nil, false, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("resolve %s: %w", id, err)
	}
	return c.ID, true, nil
}

// RecordPing stores one heartbeat. Pings for unknown checks are dropped
// and reported as success.
func (s *Service) RecordPing(ctx context.Context, id Identifier, kind ping.Kind, body, sourceIP, transport string) error {
	ctx, span := otel.Tracer("ingest").Start(ctx, "ingest.record_ping",
		trace.WithAttributes(
			attribute.String("ping.kind", string(kind)),
			attribute.String("ping.transport", transport),
		),
	)
	defer span.End()

	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	checkID, found, err := s.ResolveCheck(ctx, id)
	if err != nil {
		span.RecordError(err)
		pingsTotal.WithLabelValues(transport, "error").Inc()
		return err
	}
	if !found {
		pingsTotal.WithLabelValues(transport, "unknown").Inc()
		return nil
	}
	span.SetAttributes(attribute.String("check.id", checkID.String()))

	now := s.clock.Now()
	if s.limiter != nil {
		d, err := s.limiter.Take(ctx, "check:"+checkID.String(), now)
		if err != nil {
			// Limiter failures fail open.
			obs.WithTrace(ctx, s.log).Warn("rate limiter unavailable", zap.Error(err))
		} else if !d.Allowed {
			pingsTotal.WithLabelValues(transport, "limited").Inc()
			return &RateLimitError{RetryAfter: d.RetryAfter}
		}
	}

	p := &ping.Ping{
		CheckID:   checkID,
		Kind:      kind,
		Body:      Truncate(body, ping.MaxBodyBytes),
		SourceIP:  sourceIP,
		Transport: transport,
		CreatedAt: now,
	}
	// The ping and the check timestamps commit together, so a failed
	// update never leaves a stored ping behind for the caller's retry.
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.pings.Insert(ctx, p); err != nil {
			return fmt.Errorf("insert ping: %w", err)
		}
		if err := s.checks.TouchPing(ctx, checkID, kind, now); err != nil {
			return fmt.Errorf("touch check: %w", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		pingsTotal.WithLabelValues(transport, "error").Inc()
		return err
	}
	pingsTotal.WithLabelValues(transport, "ok").Inc()
	return nil
}

// Truncate cuts s to at most max bytes without splitting a UTF-8 sequence.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.Clone(s[:cut])
}

// ParseSegments reads a ping address split into path or subject segments:
//
//	<uuid>                       success
//	<uuid>/<signal>
//	<project>/<check>            success
//	<project>/<check>/<signal>
//
// signal is start, fail or success. A UUID followed by a signal name wins
// over a project/check pair.
func ParseSegments(segs []string) (Identifier, ping.Kind, bool) {
	for _, s := range segs {
		if s == "" {
			return Identifier{}, "", false
		}
	}
	switch len(segs) {
	case 1:
		return Identifier{ID: segs[0]}, ping.KindSuccess, true
	case 2:
		if kind, isSignal := signalKind(segs[1]); isSignal {
			if _, err := uuid.Parse(segs[0]); err == nil {
				return Identifier{ID: segs[0]}, kind, true
			}
		}
		return Identifier{ProjectSlug: segs[0], CheckSlug: segs[1]}, ping.KindSuccess, true
	case 3:
		kind, isSignal := signalKind(segs[2])
		if !isSignal {
			return Identifier{}, "", false
		}
		return Identifier{ProjectSlug: segs[0], CheckSlug: segs[1]}, kind, true
	}
	return Identifier{}, "", false
}

func signalKind(s string) (ping.Kind, bool) {
	switch strings.ToLower(s) {
	case "start":
		return ping.KindStart, true
	case "fail":
		return ping.KindFail, true
	case "success":
		return ping.KindSuccess, true
	}
	return "", false
}
