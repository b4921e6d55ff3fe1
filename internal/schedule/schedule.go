package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
)

var ErrInvalidSchedule = errors.New("invalid schedule")

type Kind string

const (
	Period Kind = "PERIOD"
	Cron   Kind = "CRON"
)

// Spec is the schedule part of a check. TZ is only meaningful for Cron.
type Spec struct {
	Kind  Kind   `json:"kind"`
	Value string `json:"value"`
	TZ    string `json:"tz,omitempty"`
}

// maxLookback bounds the backward walk for cron expressions that rarely match.
const maxLookback = 5 * 366 * 24 * time.Hour

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate reports whether s can produce a next run. Mutation paths call it
// before persisting a check.
func Validate(s Spec) error {
	switch s.Kind {
	case Period:
		_, err := periodSeconds(s.Value)
		return err
	case Cron:
		_, _, err := cronSchedule(s)
		return err
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSchedule, s.Kind)
	}
}

// Next returns the first expected run strictly after from, in UTC.
func Next(s Spec, from time.Time) (time.Time, error) {
	switch s.Kind {
	case Period:
		secs, err := periodSeconds(s.Value)
		if err != nil {
			return time.Time{}, err
		}
		return from.Add(time.Duration(secs) * time.Second).UTC(), nil
	case Cron:
		sched, loc, err := cronSchedule(s)
		if err != nil {
			return time.Time{}, err
		}
		next := sched.Next(from.In(loc))
		if next.IsZero() {
			return time.Time{}, fmt.Errorf("%w: %q never fires", ErrInvalidSchedule, s.Value)
		}
		return next.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidSchedule, s.Kind)
	}
}

// PreviousN returns up to n expected runs strictly before from, oldest first.
// An unparsable Period value yields an empty window instead of an error:
// this path only feeds history views.
func PreviousN(s Spec, n int, from time.Time) ([]time.Time, error) {
	if n <= 0 {
		return []time.Time{}, nil
	}
	switch s.Kind {
	case Period:
		secs, err := periodSeconds(s.Value)
		if err != nil {
			return []time.Time{}, nil
		}
		step := time.Duration(secs) * time.Second
		out := make([]time.Time, 0, n)
		for k := n; k >= 1; k-- {
			out = append(out, from.Add(-time.Duration(k)*step).UTC())
		}
		return out, nil
	case Cron:
		sched, loc, err := cronSchedule(s)
		if err != nil {
			return nil, err
		}
		return cronPrevious(sched, loc, n, from), nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidSchedule, s.Kind)
	}
}

// cronPrevious walks forward through a window ending at from and widens the
// window until it holds n matches.
func cronPrevious(sched cron.Schedule, loc *time.Location, n int, from time.Time) []time.Time {
	local := from.In(loc)

	span := time.Hour
	if a := sched.Next(local); !a.IsZero() {
		if b := sched.Next(a); !b.IsZero() && b.After(a) {
			span = b.Sub(a) * time.Duration(n+1)
		}
	}

	var matches []time.Time
	for {
		if span > maxLookback {
			span = maxLookback
		}
		matches = matches[:0]
		t := local.Add(-span)
		for {
			nx := sched.Next(t)
			if nx.IsZero() || !nx.Before(local) {
				break
			}
			matches = append(matches, nx)
			t = nx
		}
		if len(matches) >= n || span >= maxLookback {
			break
		}
		span *= 2
	}

	if len(matches) > n {
		matches = matches[len(matches)-n:]
	}
	out := make([]time.Time, len(matches))
	for i, m := range matches {
		out[i] = m.UTC()
	}
	return out
}

func periodSeconds(v string) (int64, error) {
	secs, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: period %q is not an integer", ErrInvalidSchedule, v)
	}
	if secs <= 0 {
		return 0, fmt.Errorf("%w: period must be positive, got %d", ErrInvalidSchedule, secs)
	}
	return secs, nil
}

func cronSchedule(s Spec) (cron.Schedule, *time.Location, error) {
	expr := strings.TrimSpace(s.Value)
	if expr == "" {
		return nil, nil, fmt.Errorf("%w: empty cron expression", ErrInvalidSchedule)
	}
	if strings.HasPrefix(expr, "@every") {
		return nil, nil, fmt.Errorf("%w: @every is not a cron schedule, use PERIOD", ErrInvalidSchedule)
	}
	loc, err := Location(s.TZ)
	if err != nil {
		return nil, nil, err
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	return sched, loc, nil
}

// Location resolves an IANA zone name. Empty means UTC.
func Location(tz string) (*time.Location, error) {
	if strings.TrimSpace(tz) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrInvalidSchedule, tz)
	}
	return loc, nil
}
