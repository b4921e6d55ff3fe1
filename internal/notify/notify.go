package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Beacon/internal/domain/alert"
	"github.com/NordCoder/Beacon/internal/domain/channel"
	"github.com/NordCoder/Beacon/internal/domain/check"
	"github.com/NordCoder/Beacon/internal/domain/project"
)

var (
	ErrUnknownChannelType = errors.New("unknown channel type")
	ErrChannelSend        = errors.New("channel send failed")
	ErrInvalidConfig      = errors.New("invalid channel config")
)

// StatusError is a non-2xx answer from a channel endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrChannelSend }

// Enrichment is optional context for richer messages. Any field may be empty.
type Enrichment struct {
	RecentDurations []time.Duration
	RelatedDown     []string
}

// Notification is the immutable input shared by every handler of one dispatch.
type Notification struct {
	Check      *check.Check
	Project    *project.Project
	Channel    *channel.Channel
	Event      alert.Event
	At         time.Time
	Enrichment *Enrichment
}

type Result struct {
	OK  bool
	Err error
}

func ok() Result { return Result{OK: true} }

func fail(err error) Result { return Result{Err: err} }

func invalid(format string, args ...any) Result {
	return fail(fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...)))
}

// Handler delivers one notification through one channel. Send never panics
// on bad input and reports every failure through Result.
type Handler interface {
	Send(ctx context.Context, n Notification) Result
}

type HandlerFunc func(ctx context.Context, n Notification) Result

func (f HandlerFunc) Send(ctx context.Context, n Notification) Result { return f(ctx, n) }

// Registry maps channel kinds to their handlers.
type Registry map[channel.Kind]Handler

func (r Registry) Lookup(kind channel.Kind) (Handler, error) {
	h, found := r[kind]
	if !found || h == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannelType, kind)
	}
	return h, nil
}
