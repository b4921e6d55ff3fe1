package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/NordCoder/Beacon/internal/domain/alert"
	"github.com/NordCoder/Beacon/internal/domain/outbox"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestStatusEvents_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{w: w, topic: "beacon.status", log: zap.NewNop()}
	id := uuid.New()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	err := NewStatusEvents(p).PublishStatusChanged(context.Background(), outbox.AlertPayload{
		CheckID: id, ProjectID: 7, Event: alert.EventDown, OldStatus: "UP", NewStatus: "DOWN", At: at,
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	m := w.msgs[0]
	assert.Equal(t, id.String(), string(m.Key))

	var ev StatusChangedEvent
	require.NoError(t, json.Unmarshal(m.Value, &ev))
	assert.Equal(t, StatusChangedEvent{CheckID: id, ProjectID: 7, OldStatus: "UP", NewStatus: "DOWN", Event: "down", At: at}, ev)

	var contentType string
	for _, h := range m.Headers {
		if h.Key == "content-type" {
			contentType = string(h.Value)
		}
	}
	assert.Equal(t, "application/json", contentType)
}

func TestProducer_WriteError(t *testing.T) {
	boom := errors.New("broker gone")
	p := &Producer{w: &fakeWriter{err: boom}, topic: "t", log: zap.NewNop()}
	assert.ErrorIs(t, p.PublishJSON(context.Background(), nil, map[string]int{"a": 1}), boom)
}
