package prune

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/NordCoder/Beacon/internal/domain/alert"
	"github.com/NordCoder/Beacon/internal/domain/check"
	"github.com/NordCoder/Beacon/internal/domain/outbox"
	"github.com/NordCoder/Beacon/internal/domain/ping"
	"github.com/NordCoder/Beacon/internal/domain/project"
	"github.com/NordCoder/Beacon/internal/repository/memory"
	"github.com/NordCoder/Beacon/internal/schedule"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type clock struct{ t time.Time }

func (c clock) Now() time.Time { return c.t }

type flakyPings struct {
	*memory.Pings
	failFor uuid.UUID
}

func (f flakyPings) DeleteOlderThan(ctx context.Context, id uuid.UUID, before time.Time) (int64, error) {
	if id == f.failFor {
		return 0, errors.New("disk on fire")
	}
	return f.Pings.DeleteOlderThan(ctx, id, before)
}

var now = time.Now().UTC().Add(2 * time.Hour)

func seed(t *testing.T, s *memory.Store, limits project.Limits, slug string, pingAges ...time.Duration) *check.Check {
	t.Helper()
	ctx := context.Background()
	p := &project.Project{Slug: slug, Name: slug, Limits: limits}
	require.NoError(t, s.Projects.Create(ctx, p))
	c := &check.Check{ProjectID: p.ID, Schedule: schedule.Spec{Kind: schedule.Period, Value: "60"}}
	require.NoError(t, s.Checks.Create(ctx, c))
	for _, age := range pingAges {
		require.NoError(t, s.Pings.Insert(ctx, &ping.Ping{CheckID: c.ID, Kind: ping.KindSuccess, CreatedAt: now.Add(-age)}))
	}
	return c
}

func TestPruneAll_RetentionThenHistory(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	day := 24 * time.Hour

	byAge := seed(t, s, project.Limits{RetentionDays: 7}, "a", 1*day, 3*day, 8*day, 30*day)
	byCount := seed(t, s, project.Limits{RetentionDays: 7, MaxPingHistory: 2}, "b", 1*time.Hour, 2*time.Hour, 3*time.Hour, 10*day)
	unlimited := seed(t, s, project.Limits{}, "c", 100*day, 200*day)

	require.NoError(t, s.Alerts.Create(ctx, &alert.Alert{CheckID: byAge.ID, Event: alert.EventDown, CreatedAt: now.Add(-9 * day)}))
	require.NoError(t, s.Alerts.Create(ctx, &alert.Alert{CheckID: byAge.ID, Event: alert.EventUp, CreatedAt: now.Add(-1 * day)}))

	svc := New(zap.NewNop(), s.Checks, s.Projects, s.Pings, s.Alerts, s.Outbox, clock{now}, Config{BatchLimit: 2})
	res, err := svc.PruneAll(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Checks)
	assert.Equal(t, int64(4), res.PingsDeleted)
	assert.Equal(t, int64(1), res.AlertsDeleted)
	assert.Zero(t, res.Errors)

	assert.Equal(t, 2, s.Pings.Count(byAge.ID))
	assert.Equal(t, 2, s.Pings.Count(byCount.ID))
	assert.Equal(t, 2, s.Pings.Count(unlimited.ID))

	kept, _ := s.Pings.ListRecent(ctx, byCount.ID, 0)
	require.Len(t, kept, 2)
	assert.Equal(t, now.Add(-time.Hour), kept[0].CreatedAt)

	alerts, _ := s.Alerts.ListByCheck(ctx, byAge.ID, 0)
	require.Len(t, alerts, 1)
	assert.Equal(t, alert.EventUp, alerts[0].Event)
}

func TestPruneAll_FailureDoesNotStopSweep(t *testing.T) {
	s := memory.NewStore()
	limits := project.Limits{RetentionDays: 1}
	bad := seed(t, s, limits, "a", 48*time.Hour)
	good := seed(t, s, limits, "b", 48*time.Hour)

	pings := flakyPings{Pings: s.Pings, failFor: bad.ID}
	svc := New(zap.NewNop(), s.Checks, s.Projects, pings, s.Alerts, nil, clock{now}, Config{})
	res, err := svc.PruneAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Checks)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, int64(1), res.PingsDeleted)
	assert.Equal(t, 1, s.Pings.Count(bad.ID))
	assert.Zero(t, s.Pings.Count(good.ID))
}

func TestPruneAll_PurgesDeliveredOutbox(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, s.Outbox.Enqueue(ctx, outbox.Message{IdempotencyKey: "done", Kind: outbox.KindAlert}))
	require.NoError(t, s.Outbox.Enqueue(ctx, outbox.Message{IdempotencyKey: "waiting", Kind: outbox.KindAlert}))
	require.NoError(t, s.Outbox.Enqueue(ctx, outbox.Message{IdempotencyKey: "dead", Kind: outbox.KindAlert}))
	require.NoError(t, s.Outbox.MarkSuccess(ctx, []string{"done"}))
	require.NoError(t, s.Outbox.MarkFailed(ctx, []string{"dead"}))

	svc := New(zap.NewNop(), s.Checks, s.Projects, s.Pings, s.Alerts, s.Outbox, clock{now}, Config{OutboxRetention: time.Hour})
	res, err := svc.PruneAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.OutboxPurged)
	assert.Equal(t, 1, s.Outbox.Len())
	assert.Equal(t, 1, s.Outbox.Pending())
}
