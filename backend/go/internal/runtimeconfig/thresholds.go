// Package runtimeconfig 持有运行期间可热更新的配置：路由阈值和大模型提供方。
//
// 读者拿到的是不可变快照，写者互斥地替换整个快照，
// 一次核查只读取一次快照，因此更新不会影响进行中的请求。
package runtimeconfig

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"factforge/backend/go/internal/apperr"
	"factforge/backend/go/internal/config"
	"factforge/backend/go/internal/models"
)

// FallbackLanguage 是未知语言使用的阈值键。
const FallbackLanguage = models.LangEnglish

// ThresholdsKey 是阈值在集群配置存储中的键名。
const ThresholdsKey = "thresholds"

// Syncer 把本地更新写入集群配置存储。
type Syncer interface {
	PutJSON(ctx context.Context, name string, v interface{}) error
}

// RevisionSyncer 以比较修订号的方式写入集群配置存储。
// 键的修订号不等于 rev 时返回 Conflict 错误，rev 为 0 表示键尚不存在。
type RevisionSyncer interface {
	CompareAndPutJSON(ctx context.Context, name string, v interface{}, rev int64) (int64, error)
}

// ThresholdSnapshot 是某一时刻的全部阈值，创建后不再修改。
type ThresholdSnapshot struct {
	Version   int64                             `json:"version"`
	UpdatedAt time.Time                         `json:"updated_at"`
	UpdatedBy string                            `json:"updated_by,omitempty"`
	Values    map[string]config.ThresholdConfig `json:"values"`
}

// For 返回 lang 的阈值，未配置的语言回落到英语。
func (s *ThresholdSnapshot) For(lang string) config.ThresholdConfig {
	if t, ok := s.Values[lang]; ok {
		return t
	}
	return s.Values[FallbackLanguage]
}

// Languages 返回已配置的语言，按字母序。
func (s *ThresholdSnapshot) Languages() []string {
	out := make([]string, 0, len(s.Values))
	for l := range s.Values {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// ThresholdStore 保存当前阈值快照。
type ThresholdStore struct {
	current atomic.Pointer[ThresholdSnapshot]
	mu      sync.Mutex
	sync    RevisionSyncer
	rev     int64 // 最近一次看到的集群修订号
	now     func() time.Time
}

// NewThresholdStore 以 initial 创建存储，initial 必须包含英语阈值。
func NewThresholdStore(initial map[string]config.ThresholdConfig) (*ThresholdStore, error) {
	const op = "runtimeconfig.NewThresholdStore"
	if len(initial) == 0 {
		initial = config.DefaultThresholds()
	}
	if _, ok := initial[FallbackLanguage]; !ok {
		return nil, apperr.Validation(op, "缺少 %s 阈值", FallbackLanguage)
	}
	for lang, t := range initial {
		if err := t.Validate(); err != nil {
			return nil, apperr.Validation(op, "%s: %v", lang, err)
		}
	}
	s := &ThresholdStore{now: time.Now}
	s.current.Store(&ThresholdSnapshot{Version: 1, UpdatedAt: s.now().UTC(), Values: copyThresholds(initial)})
	return s, nil
}

// AttachSync 设置集群同步目标，之后的 Update 会写入集群。
func (s *ThresholdStore) AttachSync(sy RevisionSyncer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sync = sy
}

// Load 返回当前快照。
func (s *ThresholdStore) Load() *ThresholdSnapshot {
	return s.current.Load()
}

// Update 把 patch 逐字段合并到当前阈值中并发布新快照，patch 中缺省的字段保持原值。
// 新语言以英语阈值为基础合并。任一语言合并后校验失败时整个更新被拒绝，当前快照保持不变。
// 集群中的阈值已被其他节点修改时返回 Conflict，调用方应在收到新快照后重试。
func (s *ThresholdStore) Update(ctx context.Context, patch map[string]config.ThresholdPatch, actor string) (*ThresholdSnapshot, error) {
	const op = "runtimeconfig.ThresholdStore.Update"
	if len(patch) == 0 {
		return nil, apperr.Validation(op, "没有要更新的阈值")
	}
	for lang, p := range patch {
		if !models.IsSupportedLanguage(lang) {
			return nil, apperr.Validation(op, "不支持的语言 %q", lang)
		}
		if p.Empty() {
			return nil, apperr.Validation(op, "%s: 没有要更新的字段", lang)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.current.Load()
	values := copyThresholds(old.Values)
	for lang, p := range patch {
		merged := p.Apply(old.For(lang))
		if err := merged.Validate(); err != nil {
			return nil, apperr.Validation(op, "%s: %v", lang, err)
		}
		values[lang] = merged
	}
	next := &ThresholdSnapshot{
		Version:   old.Version + 1,
		UpdatedAt: s.now().UTC(),
		UpdatedBy: actor,
		Values:    values,
	}
	if s.sync != nil {
		rev, err := s.sync.CompareAndPutJSON(ctx, ThresholdsKey, next, s.rev)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindConflict {
				return nil, apperr.Wrap(apperr.KindConflict, op, err)
			}
			return nil, apperr.Wrap(apperr.KindDependencyUnavailable, op, err)
		}
		s.rev = rev
	}
	s.current.Store(next)
	return next, nil
}

// Apply 应用从集群收到的快照。rev 是该值在集群中的修订号，不新于本地已见修订号时忽略。
// rev 为 0 表示来源没有修订号，此时按版本号比较。
func (s *ThresholdStore) Apply(raw []byte, rev int64) error {
	const op = "runtimeconfig.ThresholdStore.Apply"
	var snap ThresholdSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return apperr.Wrap(apperr.KindValidation, op, err)
	}
	if _, ok := snap.Values[FallbackLanguage]; !ok {
		return apperr.Validation(op, "缺少 %s 阈值", FallbackLanguage)
	}
	for lang, t := range snap.Values {
		if err := t.Validate(); err != nil {
			return apperr.Validation(op, "%s: %v", lang, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if rev > 0 {
		if rev <= s.rev {
			return nil
		}
		s.rev = rev
	} else if snap.Version <= s.current.Load().Version {
		return nil
	}
	snap.Values = copyThresholds(snap.Values)
	s.current.Store(&snap)
	return nil
}

func copyThresholds(in map[string]config.ThresholdConfig) map[string]config.ThresholdConfig {
	out := make(map[string]config.ThresholdConfig, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
