package http

import (
	"fmt"
	"net/http"
	"time"

	"factforge/backend/go/internal/config"
	"factforge/backend/go/pkg/circuitbreaker"
)

// Client is an http.Client guarded by a circuit breaker.
// Transport errors and 5xx responses count as failures.
type Client struct {
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
}

// NewClient creates a Client named name with the given per-request timeout.
func NewClient(name string, timeout time.Duration, cfg config.CircuitBreakerConfig) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		breaker: circuitbreaker.New(circuitbreaker.Settings{
			Name:             name,
			FailureThreshold: cfg.FailureThreshold,
			SuccessThreshold: cfg.SuccessThreshold,
			Timeout:          config.Duration(cfg.Timeout, 30*time.Second),
		}),
	}
}

// NewPlainClient creates a Client without a breaker.
func NewPlainClient(timeout time.Duration) *Client {
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

// Breaker returns the client's breaker, or nil.
func (c *Client) Breaker() *circuitbreaker.Breaker { return c.breaker }

// Do executes req. When the breaker is open it returns circuitbreaker.ErrCircuitOpen
// without sending anything. A 5xx response is returned to the caller together with a
// non-nil error; the caller must close its body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.breaker == nil {
		return c.httpClient.Do(req)
	}

	var resp *http.Response
	err := c.breaker.Execute(func() error {
		var err error
		resp, err = c.httpClient.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("server error: received status code %d", resp.StatusCode)
		}
		return nil
	})
	return resp, err
}
