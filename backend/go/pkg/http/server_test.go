package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"factforge/backend/go/internal/config"
	"factforge/backend/go/pkg/circuitbreaker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfig() *config.AppConfig {
	return &config.AppConfig{
		Server: config.ServerConfig{
			Address:      ":8081",
			ReadTimeout:  "3s",
			WriteTimeout: "4s",
		},
	}
}

func TestNewServer_WithAddress(t *testing.T) {
	srv, err := NewServer(newTestConfig(), http.NotFoundHandler(), WithAddress(":9999"))
	require.NoError(t, err)

	assert.Equal(t, ":9999", srv.Addr())
	assert.Equal(t, 3*time.Second, srv.httpServer.ReadTimeout)
	assert.Equal(t, 4*time.Second, srv.httpServer.WriteTimeout)
}

func TestNewServer_RequiresHandler(t *testing.T) {
	_, err := NewServer(newTestConfig(), nil)
	assert.Error(t, err)
}

func TestClientOpensBreakerOnServerErrors(t *testing.T) {
	hits := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := NewClient("classifier", time.Second, config.CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          "1m",
	})

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
		resp, err := client.Do(req)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		resp.Body.Close()
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
	_, err := client.Do(req)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, 2, hits)
	assert.Equal(t, circuitbreaker.Open, client.Breaker().State())
}
