package grpc

import (
	"context"
	"sort"
	"sync"
	"time"

	"factforge/backend/go/pkg/logger"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Probe 探测一个依赖，返回 nil 表示可用。
type Probe func(ctx context.Context) error

// HealthReporter 周期性地运行依赖探测，并把汇总结果写入一个服务名的健康状态。
// 任一探测失败即为 NOT_SERVING。
type HealthReporter struct {
	health   *health.Server
	service  string
	probes   map[string]Probe
	interval time.Duration
	timeout  time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	failing []string
}

// NewHealthReporter 创建 HealthReporter。状态在第一次探测完成前为 NOT_SERVING。
func NewHealthReporter(hs *health.Server, service string, probes map[string]Probe, interval time.Duration, log *logger.Logger) *HealthReporter {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	hs.SetServingStatus(service, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthReporter{
		health:   hs,
		service:  service,
		probes:   probes,
		interval: interval,
		timeout:  interval / 2,
		log:      log.WithField("service", service),
	}
}

// Run 立即探测一次，之后按间隔探测，直到 ctx 结束。
func (h *HealthReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		h.CheckOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// CheckOnce 并行运行全部探测并更新状态，返回失败的依赖名。
func (h *HealthReporter) CheckOnce(ctx context.Context) []string {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		failing []string
	)
	for name, probe := range h.probes {
		wg.Add(1)
		go func(name string, probe Probe) {
			defer wg.Done()
			if err := probe(ctx); err != nil {
				mu.Lock()
				failing = append(failing, name)
				mu.Unlock()
			}
		}(name, probe)
	}
	wg.Wait()
	sort.Strings(failing)

	st := healthpb.HealthCheckResponse_SERVING
	if len(failing) > 0 {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus(h.service, st)

	h.mu.Lock()
	changed := !equal(h.failing, failing)
	h.failing = failing
	h.mu.Unlock()
	if changed {
		if len(failing) > 0 {
			h.log.WithField("failing", failing).Warn("依赖探测失败，gRPC 健康状态置为 NOT_SERVING")
		} else {
			h.log.Info("全部依赖可用，gRPC 健康状态置为 SERVING")
		}
	}
	return failing
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
