//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/NordCoder/Beacon/internal/domain/alert"
	"github.com/NordCoder/Beacon/internal/domain/check"
	"github.com/NordCoder/Beacon/internal/domain/outbox"
	kafkaRepo "github.com/NordCoder/Beacon/internal/repository/kafka"
)

func TestStatusEvents_RoundTrip(t *testing.T) {
	cfg := LoadCfg()
	WaitTCP(t, "kafka", cfg.KafkaBootstrap, 10*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	topic := "beacon.it.status." + uuid.NewString()[:8]
	require.NoError(t, kafkaRepo.EnsureTopic(ctx, []string{cfg.KafkaBootstrap}, kafkaRepo.TopicSpec{Name: topic}, zaptest.NewLogger(t)))

	prod := kafkaRepo.NewProducer([]string{cfg.KafkaBootstrap}, topic).WithLogger(zaptest.NewLogger(t))
	defer func() { _ = prod.Close() }()

	id := uuid.New()
	require.NoError(t, kafkaRepo.NewStatusEvents(prod).PublishStatusChanged(ctx, outbox.AlertPayload{
		CheckID: id, Event: alert.EventDown, OldStatus: string(check.StatusUp), NewStatus: string(check.StatusDown), At: time.Now().UTC(),
	}))

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: []string{cfg.KafkaBootstrap}, Topic: topic, StartOffset: kafka.FirstOffset})
	defer r.Close()
	msg, err := r.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, id.String(), string(msg.Key))

	var ev kafkaRepo.StatusChangedEvent
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	assert.Equal(t, "DOWN", ev.NewStatus)
	assert.Equal(t, "down", ev.Event)
}
