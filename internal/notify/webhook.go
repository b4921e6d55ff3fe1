package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/NordCoder/Beacon/internal/obs/retry"
	"go.uber.org/zap"
)

const (
	HeaderSecret    = "X-Beacon-Secret"
	HeaderSignature = "X-Beacon-Signature"
	HeaderEvent     = "X-Beacon-Event"
)

// Webhook posts the canonical envelope. Network errors and 5xx answers are
// retried on the Backoff schedule; 2xx and 4xx are final.
type Webhook struct {
	Client  *http.Client
	Backoff retry.Backoff
	Log     *zap.Logger
}

func webhookRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrInvalidConfig) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return true
}

func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (h *Webhook) Send(ctx context.Context, n Notification) Result {
	url := n.Channel.Get("url")
	if !validURL(url) {
		return invalid("webhook: missing or bad \"url\"")
	}
	payload, err := json.Marshal(NewEnvelope(n))
	if err != nil {
		return fail(fmt.Errorf("marshal envelope: %w", err))
	}

	headers := map[string]string{HeaderEvent: string(n.Event)}
	if secret := n.Channel.Get("secret"); secret != "" {
		headers[HeaderSecret] = secret
		headers[HeaderSignature] = Sign(secret, payload)
	}

	backoff := h.Backoff
	if backoff == nil {
		backoff = retry.WebhookSteps
	}
	log := h.Log
	if log == nil {
		log = zap.NewNop()
	}

	err = retry.Do(ctx, func() error {
		_, err := post(ctx, h.Client, url, headers, payload)
		return err
	}, retry.Policy{
		Name:      "webhook",
		Attempts:  len(retry.WebhookSteps) + 1,
		Backoff:   backoff,
		Retryable: webhookRetryable,
		OnAttempt: func(i int, err error) {
			log.Debug("webhook attempt failed",
				zap.Int64("channel_id", n.Channel.ID), zap.Int("attempt", i+1), zap.Error(err))
		},
	})
	if err != nil {
		return fail(err)
	}
	return ok()
}
