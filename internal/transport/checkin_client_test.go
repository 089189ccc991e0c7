package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"thinx-client/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCheckinClient_Send(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, RegisterPath, r.URL.Path)
		assert.Equal(t, "secret-api-key", r.Header.Get("Authentication"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "device", r.Header.Get("Origin"))
		assert.Equal(t, "THiNX-Client", r.Header.Get("User-Agent"))
		_, err := uuid.Parse(r.Header.Get("X-Request-Id"))
		assert.NoError(t, err)

		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"registration":{"status":"OK","success":true}}`))
	}))
	defer srv.Close()

	c := NewCheckinClient(srv.URL, time.Second, zap.NewNop())
	raw, err := c.Send(context.Background(), "secret-api-key", []byte(`{"registration":{"mac":"5CCF7FEE90E0"}}`))

	require.NoError(t, err)
	assert.JSONEq(t, `{"registration":{"status":"OK","success":true}}`, string(raw))
	assert.JSONEq(t, `{"registration":{"mac":"5CCF7FEE90E0"}}`, string(gotBody))
}

func TestCheckinClient_ErrorStatusStillReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"registration":{"success":false,"status":"api_key_invalid"}}`))
	}))
	defer srv.Close()

	c := NewCheckinClient(srv.URL, time.Second, zap.NewNop())
	raw, err := c.Send(context.Background(), "k", []byte(`{}`))

	require.NoError(t, err)
	assert.Contains(t, string(raw), "api_key_invalid")
}

func TestCheckinClient_EmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewCheckinClient(srv.URL, time.Second, zap.NewNop())
	_, err := c.Send(context.Background(), "k", []byte(`{}`))

	assert.True(t, errors.Is(err, models.ErrTransport))
}

func TestCheckinClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewCheckinClient(srv.URL, 50*time.Millisecond, zap.NewNop())
	_, err := c.Send(context.Background(), "k", []byte(`{}`))

	assert.ErrorIs(t, err, models.ErrTransport)
}

func TestCheckinClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewCheckinClient(url, time.Second, zap.NewNop())
	_, err := c.Send(context.Background(), "k", []byte(`{}`))

	assert.ErrorIs(t, err, models.ErrTransport)
}
