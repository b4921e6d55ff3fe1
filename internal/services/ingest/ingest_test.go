package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/NordCoder/Beacon/internal/domain/check"
	"github.com/NordCoder/Beacon/internal/domain/ping"
	"github.com/NordCoder/Beacon/internal/domain/project"
	"github.com/NordCoder/Beacon/internal/ratelimit"
	"github.com/NordCoder/Beacon/internal/repository/memory"
	"github.com/NordCoder/Beacon/internal/schedule"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

type brokenLimiter struct{}

func (brokenLimiter) Take(context.Context, string, time.Time) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("store down")
}

func setup(t *testing.T, limiter ratelimit.Store) (*Service, *memory.Store, *check.Check, *clock) {
	t.Helper()
	ctx := context.Background()
	s := memory.NewStore()
	p := &project.Project{Slug: "acme", Name: "Acme"}
	require.NoError(t, s.Projects.Create(ctx, p))
	c := &check.Check{ProjectID: p.ID, Name: "nightly", Slug: "nightly", Schedule: schedule.Spec{Kind: schedule.Period, Value: "3600"}}
	require.NoError(t, s.Checks.Create(ctx, c))

	clk := &clock{t: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)}
	return New(zap.NewNop(), s.Checks, s.Pings, memory.Transactor{}, limiter, clk), s, c, clk
}

func TestResolveCheck(t *testing.T) {
	svc, _, c, _ := setup(t, nil)
	ctx := context.Background()

	for _, tc := range []struct {
		name  string
		id    Identifier
		found bool
	}{
		{"by id", Identifier{ID: c.ID.String()}, true},
		{"by slug", Identifier{ProjectSlug: "acme", CheckSlug: "nightly"}, true},
		{"unknown id", Identifier{ID: uuid.NewString()}, false},
		{"malformed id", Identifier{ID: "not-a-uuid"}, false},
		{"unknown project", Identifier{ProjectSlug: "other", CheckSlug: "nightly"}, false},
		{"unknown slug", Identifier{ProjectSlug: "acme", CheckSlug: "weekly"}, false},
		{"empty", Identifier{}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, found, err := svc.ResolveCheck(ctx, tc.id)
			require.NoError(t, err)
			assert.Equal(t, tc.found, found)
			if tc.found {
				assert.Equal(t, c.ID, got)
			}
		})
	}
}

func TestRecordPing_UpdatesCheck(t *testing.T) {
	svc, s, c, clk := setup(t, nil)
	ctx := context.Background()
	id := Identifier{ID: c.ID.String()}

	require.NoError(t, svc.RecordPing(ctx, id, ping.KindStart, "", "10.0.0.1", ping.TransportHTTP))
	got, _ := s.Checks.GetByID(ctx, c.ID)
	require.NotNil(t, got.LastStartedAt)
	assert.Nil(t, got.LastPingAt)

	clk.t = clk.t.Add(time.Minute)
	require.NoError(t, svc.RecordPing(ctx, id, ping.KindSuccess, "done", "10.0.0.1", ping.TransportHTTP))
	got, _ = s.Checks.GetByID(ctx, c.ID)
	require.NotNil(t, got.LastPingAt)
	assert.Equal(t, clk.t, *got.LastPingAt)
	assert.Equal(t, ping.KindSuccess, got.LastPingKind)
	assert.Equal(t, check.StatusNew, got.Status)

	pings, err := s.Pings.ListRecent(ctx, c.ID, 10)
	require.NoError(t, err)
	require.Len(t, pings, 2)
	assert.Equal(t, "done", pings[0].Body)
	assert.Equal(t, "10.0.0.1", pings[0].SourceIP)
}

type txKey struct{}

type ops = []func(context.Context) error

// stagingTx applies staged writes only when fn succeeds.
type stagingTx struct{ commits, rollbacks int }

func (s *stagingTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	staged := &ops{}
	if err := fn(context.WithValue(ctx, txKey{}, staged)); err != nil {
		s.rollbacks++
		return err
	}
	for _, op := range *staged {
		if err := op(ctx); err != nil {
			return err
		}
	}
	s.commits++
	return nil
}

func stage(ctx context.Context, op func(context.Context) error) error {
	staged, ok := ctx.Value(txKey{}).(*ops)
	if !ok {
		return errors.New("write outside transaction")
	}
	*staged = append(*staged, op)
	return nil
}

type stagedPings struct{ ping.Repo }

func (r stagedPings) Insert(ctx context.Context, p *ping.Ping) error {
	return stage(ctx, func(ctx context.Context) error { return r.Repo.Insert(ctx, p) })
}

type stagedChecks struct {
	check.Repo
	err error
}

func (r stagedChecks) TouchPing(ctx context.Context, id uuid.UUID, kind ping.Kind, at time.Time) error {
	if r.err != nil {
		return r.err
	}
	return stage(ctx, func(ctx context.Context) error { return r.Repo.TouchPing(ctx, id, kind, at) })
}

func TestRecordPing_WritesCommitTogether(t *testing.T) {
	_, s, c, clk := setup(t, nil)
	ctx := context.Background()
	id := Identifier{ID: c.ID.String()}

	tx := &stagingTx{}
	broken := New(zap.NewNop(), stagedChecks{Repo: s.Checks, err: errors.New("db gone")}, stagedPings{s.Pings}, tx, nil, clk)
	err := broken.RecordPing(ctx, id, ping.KindSuccess, "", "", ping.TransportHTTP)
	require.Error(t, err)
	assert.Equal(t, 1, tx.rollbacks)
	assert.Zero(t, s.Pings.Count(c.ID))
	got, _ := s.Checks.GetByID(ctx, c.ID)
	assert.Nil(t, got.LastPingAt)

	svc := New(zap.NewNop(), stagedChecks{Repo: s.Checks}, stagedPings{s.Pings}, tx, nil, clk)
	require.NoError(t, svc.RecordPing(ctx, id, ping.KindSuccess, "", "", ping.TransportHTTP))
	assert.Equal(t, 1, tx.commits)
	assert.Equal(t, 1, s.Pings.Count(c.ID))
	got, _ = s.Checks.GetByID(ctx, c.ID)
	require.NotNil(t, got.LastPingAt)
}

func TestRecordPing_UnknownIsSilentlyAccepted(t *testing.T) {
	svc, s, c, _ := setup(t, nil)
	err := svc.RecordPing(context.Background(), Identifier{ID: uuid.NewString()}, ping.KindSuccess, "", "", ping.TransportHTTP)
	require.NoError(t, err)
	assert.Zero(t, s.Pings.Count(c.ID))
}

func TestRecordPing_InvalidKind(t *testing.T) {
	svc, _, c, _ := setup(t, nil)
	err := svc.RecordPing(context.Background(), Identifier{ID: c.ID.String()}, "LOG", "", "", ping.TransportHTTP)
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func TestRecordPing_TruncatesBody(t *testing.T) {
	svc, s, c, _ := setup(t, nil)
	body := strings.Repeat("x", ping.MaxBodyBytes+500)
	require.NoError(t, svc.RecordPing(context.Background(), Identifier{ID: c.ID.String()}, ping.KindFail, body, "", ping.TransportNATS))

	pings, _ := s.Pings.ListRecent(context.Background(), c.ID, 1)
	require.Len(t, pings, 1)
	assert.Len(t, pings[0].Body, ping.MaxBodyBytes)
	assert.Equal(t, ping.TransportNATS, pings[0].Transport)
}

func TestRecordPing_RateLimited(t *testing.T) {
	limiter := ratelimit.NewMemory(ratelimit.Config{Limit: 2, Window: 10 * time.Second}, zap.NewNop())
	svc, s, c, _ := setup(t, limiter)
	ctx := context.Background()
	id := Identifier{ProjectSlug: "acme", CheckSlug: "nightly"}

	require.NoError(t, svc.RecordPing(ctx, id, ping.KindSuccess, "", "", ping.TransportHTTP))
	require.NoError(t, svc.RecordPing(ctx, id, ping.KindSuccess, "", "", ping.TransportHTTP))

	err := svc.RecordPing(ctx, id, ping.KindSuccess, "", "", ping.TransportHTTP)
	require.ErrorIs(t, err, ErrRateLimited)
	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Greater(t, rl.RetryAfter, time.Duration(0))
	assert.Equal(t, 2, s.Pings.Count(c.ID))
}

func TestRecordPing_LimiterFailureFailsOpen(t *testing.T) {
	svc, s, c, _ := setup(t, brokenLimiter{})
	require.NoError(t, svc.RecordPing(context.Background(), Identifier{ID: c.ID.String()}, ping.KindSuccess, "", "", ping.TransportHTTP))
	assert.Equal(t, 1, s.Pings.Count(c.ID))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab", Truncate("abcdef", 2))
	// "é" is two bytes; a cut inside it backs off to the rune start.
	assert.Equal(t, "a", Truncate("aé", 2))
}

func TestParseSegments(t *testing.T) {
	id := uuid.NewString()
	for _, tc := range []struct {
		segs []string
		id   Identifier
		kind ping.Kind
		ok   bool
	}{
		{[]string{id}, Identifier{ID: id}, ping.KindSuccess, true},
		{[]string{id, "start"}, Identifier{ID: id}, ping.KindStart, true},
		{[]string{id, "FAIL"}, Identifier{ID: id}, ping.KindFail, true},
		{[]string{"acme", "start"}, Identifier{ProjectSlug: "acme", CheckSlug: "start"}, ping.KindSuccess, true},
		{[]string{"acme", "nightly"}, Identifier{ProjectSlug: "acme", CheckSlug: "nightly"}, ping.KindSuccess, true},
		{[]string{"acme", "nightly", "fail"}, Identifier{ProjectSlug: "acme", CheckSlug: "nightly"}, ping.KindFail, true},
		{[]string{"acme", "nightly", "done"}, Identifier{}, "", false},
		{[]string{"acme", ""}, Identifier{}, "", false},
		{nil, Identifier{}, "", false},
		{[]string{"a", "b", "c", "d"}, Identifier{}, "", false},
	} {
		gotID, gotKind, ok := ParseSegments(tc.segs)
		assert.Equal(t, tc.ok, ok, tc.segs)
		assert.Equal(t, tc.id, gotID, tc.segs)
		assert.Equal(t, tc.kind, gotKind, tc.segs)
	}
}
