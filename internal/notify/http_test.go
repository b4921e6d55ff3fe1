package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPClient_VerifiesTLSByDefault(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	_, err := post(context.Background(), NewHTTPClient(HTTPConfig{Timeout: 2 * time.Second}), srv.URL, nil, []byte("{}"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChannelSend)

	off := false
	_, err = post(context.Background(), NewHTTPClient(HTTPConfig{Timeout: 2 * time.Second, VerifyTLS: &off}), srv.URL, nil, []byte("{}"))
	assert.NoError(t, err)
}

func TestNewHTTPClient_SetsUserAgent(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.UserAgent()
	}))
	defer srv.Close()

	_, err := post(context.Background(), NewHTTPClient(HTTPConfig{UserAgent: "Beacon/test"}), srv.URL, nil, []byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, "Beacon/test", <-got)
}
