package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type HTTPConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
	// VerifyTLS defaults to true when unset.
	VerifyTLS *bool         `mapstructure:"verify_tls"`
}

func (c HTTPConfig) VerifiesTLS() bool { return c.VerifyTLS == nil || *c.VerifyTLS }

// NewHTTPClient builds the outbound client shared by HTTP based handlers.
// Timeout bounds a single attempt.
func NewHTTPClient(cfg HTTPConfig) *http.Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !cfg.VerifiesTLS(),
			MinVersion:         tls.VersionTLS12,
		},
	}
	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: &userAgent{ua: cfg.UserAgent, next: otelhttp.NewTransport(transport)},
	}
}

type userAgent struct {
	ua   string
	next http.RoundTripper
}

func (u *userAgent) RoundTrip(r *http.Request) (*http.Response, error) {
	if u.ua != "" && r.Header.Get("User-Agent") == "" {
		r = r.Clone(r.Context())
		r.Header.Set("User-Agent", u.ua)
	}
	return u.next.RoundTrip(r)
}

const maxErrBody = 512

// postJSON sends v as JSON and returns the response body on 2xx. Non-2xx
// answers come back as *StatusError, transport failures wrap ErrChannelSend.
func postJSON(ctx context.Context, c *http.Client, url string, headers map[string]string, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return post(ctx, c, url, headers, payload)
}

func post(ctx context.Context, c *http.Client, url string, headers map[string]string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrInvalidConfig, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChannelSend, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(body) > maxErrBody {
			body = body[:maxErrBody]
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}
	return body, nil
}
