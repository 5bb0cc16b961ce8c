package grpcinterceptor

import (
	"context"
	"time"

	"factforge/backend/go/pkg/logger"
	"factforge/backend/go/pkg/ratelimiter"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// peerKey 返回调用方地址，取不到时所有调用共用一个桶。
func peerKey(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return "unknown"
}

// RateLimitUnaryInterceptor 按调用方地址限流，超限返回 ResourceExhausted。
func RateLimitUnaryInterceptor(limiter *ratelimiter.KeyedLimiter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !limiter.Allow(peerKey(ctx)) {
			return nil, status.Errorf(codes.ResourceExhausted, "request rejected due to rate limiting")
		}
		return handler(ctx, req)
	}
}

// LoggingUnaryInterceptor 记录每次调用的方法、耗时和状态码。
func LoggingUnaryInterceptor(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		entry := log.WithPayload(map[string]interface{}{
			"method":     info.FullMethod,
			"peer":       peerKey(ctx),
			"code":       status.Code(err).String(),
			"latency_ms": time.Since(start).Milliseconds(),
		})
		if err != nil {
			entry.Warn("gRPC 调用失败")
		} else {
			entry.Debug("gRPC 调用完成")
		}
		return resp, err
	}
}
