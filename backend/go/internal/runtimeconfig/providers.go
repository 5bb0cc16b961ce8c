package runtimeconfig

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"factforge/backend/go/internal/apperr"
	"factforge/backend/go/internal/config"
	"factforge/backend/go/internal/llm"
	"factforge/backend/go/pkg/circuitbreaker"
	"factforge/backend/go/pkg/logger"
)

// ActiveProviderKey 是当前提供方在集群配置存储中的键名。
const ActiveProviderKey = "llm_active"

// ProbeFunc 检查提供方当前是否可用。
type ProbeFunc func(ctx context.Context, p llm.Provider) error

// DefaultProbe 发送一个极短的提示，5 秒内有文本返回即视为可用。
func DefaultProbe(ctx context.Context, p llm.Provider) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := p.Generate(ctx, `Reply with the JSON object {"ok": true} and nothing else.`)
	return err
}

// Candidate 是故障转移顺序中的一个提供方。
type Candidate struct {
	Provider llm.Provider
	Breaker  *circuitbreaker.Breaker
}

// Name 返回提供方名称。
func (c Candidate) Name() string { return c.Provider.Name() }

// ProviderSnapshot 是故障转移顺序：当前提供方在前，其余按配置顺序。
type ProviderSnapshot struct {
	Active string
	Order  []Candidate
}

// ProviderStatus 是单个提供方的健康状况。
type ProviderStatus struct {
	Name                string `json:"name"`
	Active              bool   `json:"active"`
	State               string `json:"state"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
	TotalFailures       uint64 `json:"total_failures"`
	Requests            uint64 `json:"requests"`
	LastError           string `json:"last_error,omitempty"`
}

// ProviderRegistry 保存按配置排序的提供方和当前提供方。
type ProviderRegistry struct {
	entries []Candidate
	index   map[string]int
	active  atomic.Int32
	probe   ProbeFunc
	log     *logger.Logger

	mu   sync.Mutex
	sync Syncer
}

// NewProviderRegistry 创建注册表，每个提供方一个熔断器。
func NewProviderRegistry(providers []llm.Provider, active string, cb config.CircuitBreakerConfig, probe ProbeFunc, log *logger.Logger) (*ProviderRegistry, error) {
	const op = "runtimeconfig.NewProviderRegistry"
	if len(providers) == 0 {
		return nil, apperr.Validation(op, "至少需要一个大模型提供方")
	}
	if probe == nil {
		probe = DefaultProbe
	}
	if log == nil {
		log = logger.Nop()
	}
	r := &ProviderRegistry{index: make(map[string]int, len(providers)), probe: probe, log: log}
	for i, p := range providers {
		if _, dup := r.index[p.Name()]; dup {
			return nil, apperr.Validation(op, "提供方名称重复: %s", p.Name())
		}
		r.index[p.Name()] = i
		r.entries = append(r.entries, Candidate{
			Provider: p,
			Breaker: circuitbreaker.New(circuitbreaker.Settings{
				Name:             p.Name(),
				FailureThreshold: cb.FailureThreshold,
				SuccessThreshold: cb.SuccessThreshold,
				Timeout:          config.Duration(cb.Timeout, 30*time.Second),
				OnStateChange:    r.logStateChange,
			}),
		})
	}
	if active == "" {
		active = providers[0].Name()
	}
	idx, ok := r.index[active]
	if !ok {
		return nil, apperr.Validation(op, "未知的提供方 %q", active)
	}
	r.active.Store(int32(idx))
	return r, nil
}

func (r *ProviderRegistry) logStateChange(name string, from, to circuitbreaker.State) {
	r.log.WithPayload(map[string]interface{}{
		"provider": name,
		"from":     from.String(),
		"to":       to.String(),
	}).Warn("大模型提供方熔断器状态变化")
}

// AttachSync 设置集群同步目标。
func (r *ProviderRegistry) AttachSync(sy Syncer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sync = sy
}

// Active 返回当前提供方名称。
func (r *ProviderRegistry) Active() string {
	return r.entries[r.active.Load()].Name()
}

// Snapshot 返回一次请求使用的故障转移顺序。
func (r *ProviderRegistry) Snapshot() ProviderSnapshot {
	a := int(r.active.Load())
	order := make([]Candidate, 0, len(r.entries))
	order = append(order, r.entries[a])
	for i, c := range r.entries {
		if i != a {
			order = append(order, c)
		}
	}
	return ProviderSnapshot{Active: r.entries[a].Name(), Order: order}
}

// Switch 切换当前提供方。目标未知时返回 ValidationError；
// 目标熔断或探测失败时返回 DependencyUnavailable，当前提供方不变。
func (r *ProviderRegistry) Switch(ctx context.Context, name string) error {
	const op = "runtimeconfig.ProviderRegistry.Switch"
	idx, ok := r.index[name]
	if !ok {
		return apperr.Validation(op, "未知的提供方 %q", name)
	}
	c := r.entries[idx]
	if c.Breaker.State() == circuitbreaker.Open {
		return apperr.New(apperr.KindDependencyUnavailable, op, "提供方 %s 熔断中", name)
	}
	if err := c.Breaker.Execute(func() error { return r.probe(ctx, c.Provider) }); err != nil {
		return apperr.Wrap(apperr.KindDependencyUnavailable, op, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sync != nil {
		if err := r.sync.PutJSON(ctx, ActiveProviderKey, activeRecord{Name: name}); err != nil {
			return apperr.Wrap(apperr.KindDependencyUnavailable, op, err)
		}
	}
	r.active.Store(int32(idx))
	return nil
}

type activeRecord struct {
	Name string `json:"name"`
}

// ApplyActive 应用集群中其他节点做出的切换，不再重复探测。
func (r *ProviderRegistry) ApplyActive(raw []byte) error {
	const op = "runtimeconfig.ProviderRegistry.ApplyActive"
	var rec activeRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return apperr.Wrap(apperr.KindValidation, op, err)
	}
	idx, ok := r.index[rec.Name]
	if !ok {
		return apperr.Validation(op, "未知的提供方 %q", rec.Name)
	}
	r.active.Store(int32(idx))
	return nil
}

// Status 返回全部提供方的健康状况，按配置顺序。
func (r *ProviderRegistry) Status() []ProviderStatus {
	a := int(r.active.Load())
	out := make([]ProviderStatus, 0, len(r.entries))
	for i, c := range r.entries {
		counts := c.Breaker.Counts()
		out = append(out, ProviderStatus{
			Name:                c.Name(),
			Active:              i == a,
			State:               c.Breaker.State().String(),
			ConsecutiveFailures: counts.ConsecutiveFailures,
			TotalFailures:       counts.TotalFailures,
			Requests:            counts.Requests,
			LastError:           c.Breaker.LastError(),
		})
	}
	return out
}

// Provider 按名称返回提供方。
func (r *ProviderRegistry) Provider(name string) (Candidate, bool) {
	idx, ok := r.index[name]
	if !ok {
		return Candidate{}, false
	}
	return r.entries[idx], true
}

// Close 关闭持有连接的提供方。
func (r *ProviderRegistry) Close() {
	ps := make([]llm.Provider, len(r.entries))
	for i, c := range r.entries {
		ps[i] = c.Provider
	}
	llm.CloseAll(ps)
}
