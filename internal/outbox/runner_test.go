package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/NordCoder/Beacon/internal/domain"
	"github.com/NordCoder/Beacon/internal/domain/alert"
	"github.com/NordCoder/Beacon/internal/domain/outbox"
	"github.com/NordCoder/Beacon/internal/obs/retry"
	"github.com/NordCoder/Beacon/internal/repository/memory"
	"github.com/NordCoder/Beacon/internal/services/dispatcher"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []alert.Event
	err   map[uuid.UUID]error
}

func (f *fakeDispatcher) DispatchByID(_ context.Context, id uuid.UUID, ev alert.Event) ([]dispatcher.ChannelResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ev)
	return nil, f.err[id]
}

type fakePublisher struct {
	got []outbox.AlertPayload
}

func (f *fakePublisher) PublishStatusChanged(_ context.Context, p outbox.AlertPayload) error {
	f.got = append(f.got, p)
	return nil
}

func enqueue(t *testing.T, repo *memory.Outbox, kind outbox.Kind, p outbox.AlertPayload) {
	t.Helper()
	data, err := json.Marshal(p)
	require.NoError(t, err)
	require.NoError(t, repo.Enqueue(context.Background(), outbox.Message{IdempotencyKey: p.Key(kind), Kind: kind, Data: data}))
}

func once() retry.Policy { return retry.Policy{Attempts: 1} }

func TestProcessOnce_RoutesByKind(t *testing.T) {
	repo := memory.NewOutbox()
	d := &fakeDispatcher{}
	pub := &fakePublisher{}
	at := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	p := outbox.AlertPayload{CheckID: uuid.New(), Event: alert.EventDown, OldStatus: "UP", NewStatus: "DOWN", At: at}

	enqueue(t, repo, outbox.KindAlert, p)
	enqueue(t, repo, outbox.KindStatusChanged, p)

	r := NewOutboxRunner(zap.NewNop(), repo, MakeGlobalOutboxHandler(zap.NewNop(), d, pub, once()), Config{BatchSize: 10})
	n, err := r.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []alert.Event{alert.EventDown}, d.calls)
	require.Len(t, pub.got, 1)
	assert.Equal(t, "DOWN", pub.got[0].NewStatus)
	assert.Zero(t, repo.Pending())

	n, err = r.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProcessOnce_FailedMessageStaysPending(t *testing.T) {
	repo := memory.NewOutbox()
	failing := uuid.New()
	d := &fakeDispatcher{err: map[uuid.UUID]error{failing: errors.New("db down")}}

	enqueue(t, repo, outbox.KindAlert, outbox.AlertPayload{CheckID: failing, Event: alert.EventDown})
	enqueue(t, repo, outbox.KindAlert, outbox.AlertPayload{CheckID: uuid.New(), Event: alert.EventUp})

	r := NewOutboxRunner(zap.NewNop(), repo, MakeGlobalOutboxHandler(zap.NewNop(), d, nil, once()), Config{BatchSize: 10})
	n, err := r.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, repo.Pending())
}

func TestProcessOnce_GivesUpAfterMaxDeliveries(t *testing.T) {
	repo := memory.NewOutbox()
	failing := uuid.New()
	d := &fakeDispatcher{err: map[uuid.UUID]error{failing: errors.New("smtp down")}}
	p := outbox.AlertPayload{CheckID: failing, Event: alert.EventDown}
	enqueue(t, repo, outbox.KindAlert, p)

	core, logs := observer.New(zap.InfoLevel)
	r := NewOutboxRunner(zap.New(core), repo, MakeGlobalOutboxHandler(zap.NewNop(), d, nil, once()),
		Config{BatchSize: 10, InProgressTTL: time.Millisecond, MaxDeliveries: 3})

	for i := 0; i < 6; i++ {
		_, err := r.ProcessOnce(context.Background())
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	assert.Len(t, d.calls, 3)
	assert.Zero(t, repo.Pending())
	m, ok := repo.Get(p.Key(outbox.KindAlert))
	require.True(t, ok)
	assert.Equal(t, outbox.StatusFailed, m.Status)
	assert.Equal(t, 3, m.Attempts)

	assert.Equal(t, 2, logs.FilterMessage("outbox delivery failed, will retry").Len())
	gaveUp := logs.FilterMessage("outbox message failed, giving up").All()
	require.Len(t, gaveUp, 1)
	assert.Equal(t, zap.ErrorLevel, gaveUp[0].Level)
	assert.Equal(t, p.Key(outbox.KindAlert), gaveUp[0].ContextMap()["key"])
}

func TestProcessOnce_DeletedCheckIsAcknowledged(t *testing.T) {
	repo := memory.NewOutbox()
	gone := uuid.New()
	d := &fakeDispatcher{err: map[uuid.UUID]error{gone: domain.ErrNotFound}}
	enqueue(t, repo, outbox.KindAlert, outbox.AlertPayload{CheckID: gone, Event: alert.EventDown})

	r := NewOutboxRunner(zap.NewNop(), repo, MakeGlobalOutboxHandler(zap.NewNop(), d, nil, once()), Config{})
	n, err := r.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, repo.Pending())
}

func TestProcessOnce_UnknownKindIsNotAcknowledged(t *testing.T) {
	repo := memory.NewOutbox()
	require.NoError(t, repo.Enqueue(context.Background(), outbox.Message{IdempotencyKey: "x", Kind: 42, Data: []byte("{}")}))

	r := NewOutboxRunner(zap.NewNop(), repo, MakeGlobalOutboxHandler(zap.NewNop(), &fakeDispatcher{}, nil, once()), Config{})
	n, err := r.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, repo.Pending())
}

func TestRun_StopsOnCancel(t *testing.T) {
	repo := memory.NewOutbox()
	d := &fakeDispatcher{}
	enqueue(t, repo, outbox.KindAlert, outbox.AlertPayload{CheckID: uuid.New(), Event: alert.EventDown})

	r := NewOutboxRunner(zap.NewNop(), repo, MakeGlobalOutboxHandler(zap.NewNop(), d, nil, once()),
		Config{Workers: 2, WaitTime: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return repo.Pending() == 0 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}
