package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// OutboxPolicy retries outbox handlers with capped exponential backoff.
func OutboxPolicy(log *zap.Logger, attempts int) Policy {
	if attempts <= 0 {
		attempts = 6
	}
	return Policy{
		Attempts: attempts,
		Backoff:  ExpoJitter{Base: 200 * time.Millisecond, Max: 30 * time.Second, Jitter: 0.2},
		Retryable: func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		},
		OnAttempt: func(i int, err error) {
			if log != nil {
				log.Warn("outbox retry", zap.Int("attempt", i+1), zap.Error(err))
			}
		},
		OnExhaust: func(err error) {
			if log != nil && !errors.Is(err, context.Canceled) {
				log.Error("outbox retries exhausted", zap.Error(err))
			}
		},
	}
}

// WebhookSteps are the waits between webhook delivery attempts.
var WebhookSteps = Steps{1 * time.Second, 5 * time.Second, 30 * time.Second}
