package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordBackoff struct{ seen []time.Duration }

func (r *recordBackoff) Next(attempt int) time.Duration {
	r.seen = append(r.seen, WebhookSteps.Next(attempt))
	return time.Millisecond
}

func TestSteps(t *testing.T) {
	s := Steps{time.Second, 5 * time.Second}
	assert.Equal(t, time.Second, s.Next(-1))
	assert.Equal(t, time.Second, s.Next(0))
	assert.Equal(t, 5*time.Second, s.Next(1))
	assert.Equal(t, 5*time.Second, s.Next(7))
	assert.Equal(t, time.Duration(0), Steps{}.Next(0))
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("boom")
		}
		return nil
	}, Policy{Name: "test_success", Attempts: 5, Backoff: Steps{time.Millisecond}})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	exhausted := false
	err := Do(context.Background(), func() error {
		calls++
		return fatal
	}, Policy{
		Name:      "test_fatal",
		Attempts:  4,
		Backoff:   Steps{time.Millisecond},
		Retryable: func(err error) bool { return !errors.Is(err, fatal) },
		OnExhaust: func(error) { exhausted = true },
	})
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
	assert.True(t, exhausted)
}

func TestDo_WaitsFollowSteps(t *testing.T) {
	rb := &recordBackoff{}
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return errors.New("5xx")
	}, Policy{Name: "test_steps", Attempts: 4, Backoff: rb})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}, rb.seen)
}

func TestDo_HonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, func() error {
		calls++
		cancel()
		return errors.New("x")
	}, Policy{Name: "test_cancel", Attempts: 3, Backoff: Steps{time.Hour}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
