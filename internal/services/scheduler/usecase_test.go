package scheduler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/NordCoder/Beacon/internal/domain/alert"
	"github.com/NordCoder/Beacon/internal/domain/check"
	"github.com/NordCoder/Beacon/internal/domain/outbox"
	"github.com/NordCoder/Beacon/internal/domain/ping"
	"github.com/NordCoder/Beacon/internal/repository/memory"
	"github.com/NordCoder/Beacon/internal/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func every(sec string) schedule.Spec { return schedule.Spec{Kind: schedule.Period, Value: sec} }

func newUC(s *memory.Store, clk *clock, opts Options) *Usecase {
	return NewUC(zap.NewNop(), s.Checks, s.Outbox, memory.Transactor{}, clk, opts)
}

func addCheck(t *testing.T, s *memory.Store, c *check.Check) *check.Check {
	t.Helper()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = t0
	}
	require.NoError(t, s.Checks.Create(context.Background(), c))
	return c
}

func pending(t *testing.T, s *memory.Store) []outbox.Message {
	t.Helper()
	msgs, err := s.Outbox.PickBatch(context.Background(), 100, time.Hour, 1)
	require.NoError(t, err)
	return msgs
}

func TestTick_NewGoesDownOnceAndIsIdempotent(t *testing.T) {
	s := memory.NewStore()
	clk := &clock{t: t0.Add(61 * time.Second)}
	c := addCheck(t, s, &check.Check{ProjectID: 1, Name: "backup", Schedule: every("60")})
	uc := newUC(s, clk, Options{})

	res, err := uc.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TickResult{Evaluated: 1, Changed: 1, Events: 1}, res)

	got, err := s.Checks.GetByID(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, check.StatusDown, got.Status)
	require.NotNil(t, got.NextExpectedAt)
	assert.Equal(t, t0.Add(time.Minute), *got.NextExpectedAt)
	require.NotNil(t, got.LastAlertAt)
	assert.Equal(t, clk.t, *got.LastAlertAt)

	res, err = uc.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TickResult{Evaluated: 1}, res)

	msgs := pending(t, s)
	require.Len(t, msgs, 1)
	assert.Equal(t, outbox.KindAlert, msgs[0].Kind)

	var p outbox.AlertPayload
	require.NoError(t, json.Unmarshal(msgs[0].Data, &p))
	assert.Equal(t, c.ID, p.CheckID)
	assert.Equal(t, alert.EventDown, p.Event)
	assert.Equal(t, "NEW", p.OldStatus)
	assert.Equal(t, "DOWN", p.NewStatus)
}

func TestTick_WithinGraceStaysNew(t *testing.T) {
	s := memory.NewStore()
	clk := &clock{t: t0.Add(90 * time.Second)}
	c := addCheck(t, s, &check.Check{ProjectID: 1, Schedule: every("60"), Grace: time.Minute})

	res, err := newUC(s, clk, Options{}).Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Changed)
	assert.Zero(t, res.Events)

	got, _ := s.Checks.GetByID(context.Background(), c.ID)
	assert.Equal(t, check.StatusNew, got.Status)
	assert.Zero(t, s.Outbox.Len())
}

func TestTick_Recovery(t *testing.T) {
	for _, tc := range []struct {
		name       string
		onRecovery bool
		wantEvents int
	}{
		{"with recovery alert", true, 1},
		{"silent recovery", false, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := memory.NewStore()
			clk := &clock{t: t0.Add(time.Hour)}
			lastPing := clk.t.Add(-10 * time.Second)
			c := addCheck(t, s, &check.Check{
				ProjectID:       1,
				Schedule:        every("60"),
				Status:          check.StatusDown,
				LastPingAt:      &lastPing,
				LastPingKind:    ping.KindSuccess,
				AlertOnRecovery: tc.onRecovery,
			})

			res, err := newUC(s, clk, Options{}).Tick(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.wantEvents, res.Events)

			got, _ := s.Checks.GetByID(context.Background(), c.ID)
			assert.Equal(t, check.StatusUp, got.Status)

			msgs := pending(t, s)
			require.Len(t, msgs, tc.wantEvents)
			if tc.wantEvents > 0 {
				var p outbox.AlertPayload
				require.NoError(t, json.Unmarshal(msgs[0].Data, &p))
				assert.Equal(t, alert.EventUp, p.Event)
			}
		})
	}
}

func TestTick_PausedNeverEvaluated(t *testing.T) {
	s := memory.NewStore()
	clk := &clock{t: t0.Add(24 * time.Hour)}
	c := addCheck(t, s, &check.Check{ProjectID: 1, Schedule: every("60"), Status: check.StatusPaused})

	res, err := newUC(s, clk, Options{}).Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Evaluated)

	got, _ := s.Checks.GetByID(context.Background(), c.ID)
	assert.Equal(t, check.StatusPaused, got.Status)
	assert.Nil(t, got.NextExpectedAt)
}

func TestTick_FailingCheckIsIsolated(t *testing.T) {
	s := memory.NewStore()
	clk := &clock{t: t0.Add(2 * time.Minute)}
	bad := addCheck(t, s, &check.Check{ProjectID: 1, Schedule: every("soon")})
	good := addCheck(t, s, &check.Check{ProjectID: 1, Schedule: every("60")})

	core, logs := observer.New(zap.WarnLevel)
	uc := NewUC(zap.New(core), s.Checks, s.Outbox, memory.Transactor{}, clk, Options{})
	res, err := uc.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Evaluated)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, 1, res.Events)

	failures := logs.FilterMessage("evaluate check").All()
	require.Len(t, failures, 1)
	assert.Equal(t, bad.ID.String(), failures[0].ContextMap()["check_id"])
	assert.Contains(t, failures[0].ContextMap()["error"], "invalid schedule")

	got, _ := s.Checks.GetByID(context.Background(), good.ID)
	assert.Equal(t, check.StatusDown, got.Status)
	got, _ = s.Checks.GetByID(context.Background(), bad.ID)
	assert.Equal(t, check.StatusNew, got.Status)
}

func TestTick_PagesThroughAllChecks(t *testing.T) {
	s := memory.NewStore()
	clk := &clock{t: t0.Add(2 * time.Minute)}
	for range 7 {
		addCheck(t, s, &check.Check{ProjectID: 1, Schedule: every("60")})
	}

	res, err := newUC(s, clk, Options{BatchLimit: 2, Workers: 3}).Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, res.Evaluated)
	assert.Equal(t, 7, res.Events)
	assert.Equal(t, 7, s.Outbox.Len())
}

func TestTick_StillDownReminder(t *testing.T) {
	s := memory.NewStore()
	clk := &clock{t: t0.Add(2 * time.Minute)}
	addCheck(t, s, &check.Check{ProjectID: 1, Schedule: every("60"), ReminderInterval: time.Hour})
	uc := newUC(s, clk, Options{})

	res, _ := uc.Tick(context.Background())
	assert.Equal(t, 1, res.Events)

	clk.t = clk.t.Add(30 * time.Minute)
	res, _ = uc.Tick(context.Background())
	assert.Zero(t, res.Events)

	clk.t = clk.t.Add(30 * time.Minute)
	res, _ = uc.Tick(context.Background())
	assert.Equal(t, 1, res.Events)

	events := map[alert.Event]int{}
	for _, m := range pending(t, s) {
		var p outbox.AlertPayload
		require.NoError(t, json.Unmarshal(m.Data, &p))
		events[p.Event]++
	}
	assert.Equal(t, map[alert.Event]int{alert.EventDown: 1, alert.EventStillDown: 1}, events)
}

func TestTick_PublishStatusEnqueuesTransition(t *testing.T) {
	s := memory.NewStore()
	clk := &clock{t: t0.Add(2 * time.Minute)}
	addCheck(t, s, &check.Check{ProjectID: 1, Schedule: every("60")})

	_, err := newUC(s, clk, Options{PublishStatus: true}).Tick(context.Background())
	require.NoError(t, err)

	kinds := map[outbox.Kind]int{}
	for _, m := range pending(t, s) {
		kinds[m.Kind]++
	}
	assert.Equal(t, map[outbox.Kind]int{outbox.KindAlert: 1, outbox.KindStatusChanged: 1}, kinds)
}
