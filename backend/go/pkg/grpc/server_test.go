package grpc

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"factforge/backend/go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func dial(t *testing.T, s *Server) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func TestHealthFollowsProbes(t *testing.T) {
	s, err := NewServer(&config.AppConfig{})
	require.NoError(t, err)
	assert.Equal(t, ":9090", s.Addr())
	client := dial(t, s)

	var down atomic.Bool
	rep := NewHealthReporter(s.Health(), "factforge.check", map[string]Probe{
		"mongo": func(context.Context) error { return nil },
		"kafka": func(context.Context) error {
			if down.Load() {
				return errors.New("no brokers")
			}
			return nil
		},
	}, time.Second, nil)

	ctx := context.Background()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: "factforge.check"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)

	assert.Empty(t, rep.CheckOnce(ctx))
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: "factforge.check"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	down.Store(true)
	assert.Equal(t, []string{"kafka"}, rep.CheckOnce(ctx))
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: "factforge.check"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)

	_, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: "unknown"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestRateLimitedHealthCheck(t *testing.T) {
	cfg := &config.AppConfig{}
	cfg.Middleware.RateLimiter = config.RateLimiterConfig{
		Enabled:     true,
		TokenBucket: config.TokenBucketConfig{Rate: 0.001, Capacity: 1},
		MaxClients:  10,
	}
	s, err := NewServer(cfg, WithAddress(":0"))
	require.NoError(t, err)
	client := dial(t, s)

	ctx := context.Background()
	_, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	_, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}
