package natsping

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/NordCoder/Beacon/internal/domain/ping"
	"github.com/NordCoder/Beacon/internal/services/ingest"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorded struct {
	id        ingest.Identifier
	kind      ping.Kind
	body      string
	transport string
}

type fakeRecorder struct {
	got []recorded
	err error
}

func (f *fakeRecorder) RecordPing(_ context.Context, id ingest.Identifier, kind ping.Kind, body, _, transport string) error {
	f.got = append(f.got, recorded{id: id, kind: kind, body: body, transport: transport})
	return f.err
}

func TestHandle_Routes(t *testing.T) {
	rec := &fakeRecorder{}
	s := New(nil, rec, Config{Prefix: "beacon.ping."}, zap.NewNop())
	id := uuid.NewString()

	assert.Equal(t, "OK", s.handle(context.Background(), &nats.Msg{Subject: "beacon.ping." + id, Data: []byte("hello")}))
	assert.Equal(t, "OK", s.handle(context.Background(), &nats.Msg{Subject: "beacon.ping." + id + ".start"}))
	assert.Equal(t, "OK", s.handle(context.Background(), &nats.Msg{Subject: "beacon.ping.acme.backup.fail"}))

	require.Len(t, rec.got, 3)
	assert.Equal(t, recorded{ingest.Identifier{ID: id}, ping.KindSuccess, "hello", ping.TransportNATS}, rec.got[0])
	assert.Equal(t, ping.KindStart, rec.got[1].kind)
	assert.Equal(t, ingest.Identifier{ProjectSlug: "acme", CheckSlug: "backup"}, rec.got[2].id)
	assert.Equal(t, ping.KindFail, rec.got[2].kind)
}

func TestHandle_Unroutable(t *testing.T) {
	rec := &fakeRecorder{}
	s := New(nil, rec, Config{}, zap.NewNop())

	assert.Equal(t, "ERROR", s.handle(context.Background(), &nats.Msg{Subject: "other.x"}))
	assert.Equal(t, "ERROR", s.handle(context.Background(), &nats.Msg{Subject: "beacon.ping.a.b.done"}))
	assert.Empty(t, rec.got)
}

func TestHandle_Errors(t *testing.T) {
	s := New(nil, &fakeRecorder{err: &ingest.RateLimitError{RetryAfter: 1500 * time.Millisecond}}, Config{}, zap.NewNop())
	assert.Equal(t, "RATE_LIMITED 2", s.handle(context.Background(), &nats.Msg{Subject: "beacon.ping.acme.backup"}))

	s = New(nil, &fakeRecorder{err: errors.New("db down")}, Config{}, zap.NewNop())
	assert.Equal(t, "ERROR", s.handle(context.Background(), &nats.Msg{Subject: "beacon.ping.acme.backup"}))
}

func TestStart_RequiresConnection(t *testing.T) {
	s := New(nil, &fakeRecorder{}, Config{}, zap.NewNop())
	assert.Error(t, s.Start(context.Background()))
}
