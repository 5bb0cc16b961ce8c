package grpc

import (
	"context"
	"fmt"
	"net"

	"factforge/backend/go/internal/config"
	"factforge/backend/go/pkg/grpcinterceptor"
	"factforge/backend/go/pkg/logger"
	"factforge/backend/go/pkg/ratelimiter"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server 封装 grpc.Server，内置健康检查服务和按配置启用的拦截器。
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	address    string
	log        *logger.Logger
}

// ServerOption 定义了用于配置 Server 的函数。
type ServerOption func(*Server)

// WithAddress 设置服务器监听的地址。
func WithAddress(addr string) ServerOption {
	return func(s *Server) {
		s.address = addr
	}
}

// WithLogger 设置日志记录器。
func WithLogger(l *logger.Logger) ServerOption {
	return func(s *Server) {
		s.log = l
	}
}

// NewServer 根据 AppConfig 创建 Server，并注册 grpc.health.v1.Health。
// 配置启用限流时挂上按调用方地址的限流拦截器。
func NewServer(cfg *config.AppConfig, opts ...ServerOption) (*Server, error) {
	srv := &Server{
		address: cfg.Server.GRPCAddress,
		log:     logger.Nop(),
		health:  health.NewServer(),
	}
	for _, opt := range opts {
		opt(srv)
	}
	if srv.address == "" {
		srv.address = ":9090"
	}

	interceptors := []grpc.UnaryServerInterceptor{grpcinterceptor.LoggingUnaryInterceptor(srv.log)}
	if rl := cfg.Middleware.RateLimiter; rl.Enabled {
		limiter, err := ratelimiter.NewKeyedLimiter(rl.TokenBucket.Rate, rl.TokenBucket.Capacity, rl.MaxClients)
		if err != nil {
			return nil, fmt.Errorf("failed to create rate limiter: %w", err)
		}
		interceptors = append(interceptors, grpcinterceptor.RateLimitUnaryInterceptor(limiter))
	}

	srv.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...))
	healthpb.RegisterHealthServer(srv.grpcServer, srv.health)
	return srv, nil
}

// RegisterService 暴露底层的 gRPC RegisterService 方法，用于注册服务实现。
func (s *Server) RegisterService(desc *grpc.ServiceDesc, impl interface{}) {
	s.grpcServer.RegisterService(desc, impl)
}

// Health 返回健康检查服务，用于设置各服务的状态。
func (s *Server) Health() *health.Server { return s.health }

// Addr 返回监听地址。
func (s *Server) Addr() string { return s.address }

// ListenAndServe 开始监听并提供 gRPC 服务。
func (s *Server) ListenAndServe() error {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}
	return s.Serve(lis)
}

// Serve 在给定的 listener 上提供服务。
func (s *Server) Serve(lis net.Listener) error {
	s.log.WithField("addr", lis.Addr().String()).Info("gRPC 服务器启动")
	return s.grpcServer.Serve(lis)
}

// GracefulStop 把全部服务标记为 NOT_SERVING 后优雅停止。
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}

// Stop 立即停止，用于优雅停止超时的情况。
func (s *Server) Stop() {
	s.grpcServer.Stop()
}

// StopContext 在 ctx 结束前优雅停止，超时则强制停止。
func (s *Server) StopContext(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.Stop()
	}
}
