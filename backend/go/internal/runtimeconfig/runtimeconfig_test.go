package runtimeconfig

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"factforge/backend/go/internal/apperr"
	"factforge/backend/go/internal/config"
	"factforge/backend/go/internal/fusion"
	"factforge/backend/go/internal/llm"
	"factforge/backend/go/internal/models"
	"factforge/backend/go/pkg/circuitbreaker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSync struct {
	mu   sync.Mutex
	puts map[string][]byte
	revs map[string]int64
	head int64
	err  error
}

func (r *recordingSync) PutJSON(_ context.Context, name string, v interface{}) error {
	_, err := r.put(name, v, -1)
	return err
}

func (r *recordingSync) CompareAndPutJSON(_ context.Context, name string, v interface{}, rev int64) (int64, error) {
	return r.put(name, v, rev)
}

// put 模拟 etcd：rev 为 -1 时无条件写入，否则要求键的修订号等于 rev。
func (r *recordingSync) put(name string, v interface{}, rev int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	if r.puts == nil {
		r.puts = map[string][]byte{}
		r.revs = map[string]int64{}
	}
	if rev >= 0 && r.revs[name] != rev {
		return 0, apperr.New(apperr.KindConflict, "recordingSync", "revision %d != %d", rev, r.revs[name])
	}
	b, _ := json.Marshal(v)
	r.head++
	r.puts[name] = b
	r.revs[name] = r.head
	return r.head, nil
}

func (r *recordingSync) latest(name string) ([]byte, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.puts[name], r.revs[name]
}

func intp(v int) *int { return &v }

func floatp(v float64) *float64 { return &v }

func fullPatch(t config.ThresholdConfig) config.ThresholdPatch {
	return config.ThresholdPatch{
		AutoPublishMinConfidence: intp(t.AutoPublishMinConfidence),
		ReviewMinScore:           intp(t.ReviewMinScore),
		ReviewMaxScore:           intp(t.ReviewMaxScore),
		AutoRejectMinSuspicion:   floatp(t.AutoRejectMinSuspicion),
	}
}

func TestThresholdFallbackToEnglish(t *testing.T) {
	s, err := NewThresholdStore(nil)
	require.NoError(t, err)
	snap := s.Load()
	assert.Equal(t, 92, snap.For("en").AutoPublishMinConfidence)
	assert.Equal(t, 90, snap.For("hi").AutoPublishMinConfidence)
	assert.Equal(t, snap.For("en"), snap.For("fr"))
	assert.Equal(t, []string{"en", "hi", "kn", "ta"}, snap.Languages())
}

func TestThresholdUpdateIsNotRetroactive(t *testing.T) {
	s, err := NewThresholdStore(nil)
	require.NoError(t, err)
	before := s.Load()

	patch := map[string]config.ThresholdPatch{
		"hi": fullPatch(config.ThresholdConfig{AutoPublishMinConfidence: 95, ReviewMinScore: 40, ReviewMaxScore: 94, AutoRejectMinSuspicion: 0.7}),
	}
	after, err := s.Update(context.Background(), patch, "admin-1")
	require.NoError(t, err)

	assert.Equal(t, 90, before.For("hi").AutoPublishMinConfidence, "旧快照不能被修改")
	assert.Equal(t, 95, after.For("hi").AutoPublishMinConfidence)
	assert.Equal(t, before.Version+1, after.Version)
	assert.Equal(t, "admin-1", after.UpdatedBy)
	assert.Same(t, after, s.Load())
}

func TestThresholdUpdateRejectsInvalid(t *testing.T) {
	s, err := NewThresholdStore(nil)
	require.NoError(t, err)
	before := s.Load()

	tests := []map[string]config.ThresholdPatch{
		{},
		{"en": {}},
		{"fr": {AutoPublishMinConfidence: intp(90)}},
		{"en": {AutoPublishMinConfidence: intp(101)}},
		{"en": {ReviewMinScore: intp(80), ReviewMaxScore: intp(70)}},
		{"en": {ReviewMinScore: intp(95)}},
		{"en": {AutoRejectMinSuspicion: floatp(1.5)}},
		{"en": {AutoRejectMinSuspicion: floatp(0)}},
		{"hi": {AutoPublishMinConfidence: intp(95)}, "ta": {ReviewMaxScore: intp(-1)}},
	}
	for _, patch := range tests {
		_, err := s.Update(context.Background(), patch, "a")
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	}
	assert.Same(t, before, s.Load())
}

func TestThresholdPartialUpdateKeepsOmittedFields(t *testing.T) {
	s, err := NewThresholdStore(nil)
	require.NoError(t, err)
	before := s.Load().For("en")

	// 请求只带部分字段，缺省的诈骗阈值不能变成 0
	after, err := s.Update(context.Background(), map[string]config.ThresholdPatch{
		"en": {AutoPublishMinConfidence: intp(92), ReviewMinScore: intp(50), ReviewMaxScore: intp(91)},
		"hi": {AutoPublishMinConfidence: intp(93)},
	}, "admin")
	require.NoError(t, err)

	en := after.For("en")
	assert.InDelta(t, before.AutoRejectMinSuspicion, en.AutoRejectMinSuspicion, 1e-9)
	hi := after.For("hi")
	assert.Equal(t, 93, hi.AutoPublishMinConfidence)
	assert.Equal(t, 50, hi.ReviewMinScore)
	assert.Equal(t, 89, hi.ReviewMaxScore)
	assert.InDelta(t, 0.8, hi.AutoRejectMinSuspicion, 1e-9)

	d := fusion.Fuse(fusion.Input{
		Scores: models.ScoreSet{HeuristicScore: 0.05, ClassifierScore: 0.05, ClassifierAvailable: true},
		Evidence: models.RetrievalResult{Items: []models.ScoredEvidence{
			{Evidence: models.Evidence{ID: "e1", Label: models.VerdictTrue}, Similarity: 0.8},
		}},
		Verdict:   models.LLMVerdict{Verdict: models.VerdictTrue, Confidence: 88},
		Threshold: en,
	})
	assert.Equal(t, models.VerdictTrue, d.Verdict)
	assert.False(t, d.ScamOverride)
	assert.Equal(t, models.RouteAutoPublish, d.Route)
}

func TestThresholdUpdateCreatesLanguageFromFallback(t *testing.T) {
	s, err := NewThresholdStore(map[string]config.ThresholdConfig{"en": config.DefaultThresholds()["en"]})
	require.NoError(t, err)

	after, err := s.Update(context.Background(), map[string]config.ThresholdPatch{
		"kn": {AutoPublishMinConfidence: intp(88), ReviewMaxScore: intp(87)},
	}, "admin")
	require.NoError(t, err)
	kn := after.Values["kn"]
	assert.Equal(t, 88, kn.AutoPublishMinConfidence)
	assert.Equal(t, 87, kn.ReviewMaxScore)
	assert.Equal(t, 50, kn.ReviewMinScore)
	assert.InDelta(t, 0.8, kn.AutoRejectMinSuspicion, 1e-9)
}

func TestThresholdSyncAndApply(t *testing.T) {
	sy := &recordingSync{}
	a, err := NewThresholdStore(nil)
	require.NoError(t, err)
	a.AttachSync(sy)
	b, err := NewThresholdStore(nil)
	require.NoError(t, err)

	_, err = a.Update(context.Background(), map[string]config.ThresholdPatch{
		"en": fullPatch(config.ThresholdConfig{AutoPublishMinConfidence: 80, ReviewMinScore: 30, ReviewMaxScore: 79, AutoRejectMinSuspicion: 0.9}),
	}, "admin")
	require.NoError(t, err)

	raw, rev := sy.latest(ThresholdsKey)
	require.NoError(t, b.Apply(raw, rev))
	assert.Equal(t, 80, b.Load().For("en").AutoPublishMinConfidence)

	// 同一修订号再次到达时忽略
	cur := b.Load()
	require.NoError(t, b.Apply(raw, rev))
	assert.Same(t, cur, b.Load())

	// 自己写入的值经 watch 回到本节点时也忽略
	own := a.Load()
	require.NoError(t, a.Apply(raw, rev))
	assert.Same(t, own, a.Load())
}

func TestThresholdConcurrentUpdatesConflict(t *testing.T) {
	sy := &recordingSync{}
	a, err := NewThresholdStore(nil)
	require.NoError(t, err)
	a.AttachSync(sy)
	b, err := NewThresholdStore(nil)
	require.NoError(t, err)
	b.AttachSync(sy)

	// 两个节点都从同一版本出发，只有先写入的一方成功
	_, err = a.Update(context.Background(), map[string]config.ThresholdPatch{"en": {AutoPublishMinConfidence: intp(95)}}, "admin-a")
	require.NoError(t, err)
	before := b.Load()
	_, err = b.Update(context.Background(), map[string]config.ThresholdPatch{"en": {AutoPublishMinConfidence: intp(85)}}, "admin-b")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Same(t, before, b.Load())

	// 收到 a 的快照后 b 可以在其基础上更新
	raw, rev := sy.latest(ThresholdsKey)
	require.NoError(t, b.Apply(raw, rev))
	assert.Equal(t, 95, b.Load().For("en").AutoPublishMinConfidence)
	after, err := b.Update(context.Background(), map[string]config.ThresholdPatch{"en": {AutoPublishMinConfidence: intp(85)}}, "admin-b")
	require.NoError(t, err)
	assert.Equal(t, 85, after.For("en").AutoPublishMinConfidence)

	raw, rev = sy.latest(ThresholdsKey)
	require.NoError(t, a.Apply(raw, rev))
	assert.Equal(t, a.Load().For("en"), b.Load().For("en"))
}

func TestThresholdApplyWithoutRevisionUsesVersion(t *testing.T) {
	s, err := NewThresholdStore(nil)
	require.NoError(t, err)
	stale, err := json.Marshal(s.Load())
	require.NoError(t, err)
	cur := s.Load()
	require.NoError(t, s.Apply(stale, 0))
	assert.Same(t, cur, s.Load())
}

func TestThresholdUpdateFailsWhenSyncFails(t *testing.T) {
	s, err := NewThresholdStore(nil)
	require.NoError(t, err)
	s.AttachSync(&recordingSync{err: errors.New("etcd down")})
	before := s.Load()

	_, err = s.Update(context.Background(), map[string]config.ThresholdPatch{"en": fullPatch(config.DefaultThresholds()["en"])}, "a")
	assert.Equal(t, apperr.KindDependencyUnavailable, apperr.KindOf(err))
	assert.Same(t, before, s.Load())
}

func provider(name string) llm.Provider {
	return llm.Func{ProviderName: name, Fn: func(context.Context, string) (string, error) { return "{}", nil }}
}

func newRegistry(t *testing.T, probe ProbeFunc) *ProviderRegistry {
	t.Helper()
	r, err := NewProviderRegistry(
		[]llm.Provider{provider("gemini"), provider("openai"), provider("claude")},
		"openai",
		config.CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: "1h"},
		probe, nil,
	)
	require.NoError(t, err)
	return r
}

func names(s ProviderSnapshot) []string {
	out := make([]string, len(s.Order))
	for i, c := range s.Order {
		out[i] = c.Name()
	}
	return out
}

func TestSnapshotOrderStartsWithActive(t *testing.T) {
	r := newRegistry(t, func(context.Context, llm.Provider) error { return nil })
	snap := r.Snapshot()
	assert.Equal(t, "openai", snap.Active)
	assert.Equal(t, []string{"openai", "gemini", "claude"}, names(snap))
}

func TestSwitch(t *testing.T) {
	failing := map[string]bool{"claude": true}
	r := newRegistry(t, func(_ context.Context, p llm.Provider) error {
		if failing[p.Name()] {
			return errors.New("401")
		}
		return nil
	})

	err := r.Switch(context.Background(), "mistral")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	err = r.Switch(context.Background(), "claude")
	assert.Equal(t, apperr.KindDependencyUnavailable, apperr.KindOf(err))
	assert.Equal(t, "openai", r.Active())

	// 探测失败已让熔断器打开，再次切换直接拒绝
	c, _ := r.Provider("claude")
	assert.Equal(t, circuitbreaker.Open, c.Breaker.State())
	err = r.Switch(context.Background(), "claude")
	assert.Equal(t, apperr.KindDependencyUnavailable, apperr.KindOf(err))

	require.NoError(t, r.Switch(context.Background(), "gemini"))
	assert.Equal(t, "gemini", r.Active())
	assert.Equal(t, []string{"gemini", "openai", "claude"}, names(r.Snapshot()))
}

func TestSwitchPropagatesThroughSync(t *testing.T) {
	sy := &recordingSync{}
	a := newRegistry(t, func(context.Context, llm.Provider) error { return nil })
	a.AttachSync(sy)
	b := newRegistry(t, func(context.Context, llm.Provider) error { return nil })

	require.NoError(t, a.Switch(context.Background(), "claude"))
	raw, _ := sy.latest(ActiveProviderKey)
	require.NoError(t, b.ApplyActive(raw))
	assert.Equal(t, "claude", b.Active())
	assert.Error(t, b.ApplyActive([]byte(`{"name":"nope"}`)))
}

func TestStatusReportsBreakers(t *testing.T) {
	r := newRegistry(t, nil)
	c, _ := r.Provider("gemini")
	c.Breaker.Record(errors.New("timeout"))

	st := r.Status()
	require.Len(t, st, 3)
	assert.Equal(t, "gemini", st[0].Name)
	assert.Equal(t, "open", st[0].State)
	assert.Equal(t, "timeout", st[0].LastError)
	assert.True(t, st[1].Active)
}

func TestRegistryRejectsBadConfig(t *testing.T) {
	cb := config.CircuitBreakerConfig{}
	_, err := NewProviderRegistry(nil, "", cb, nil, nil)
	assert.Error(t, err)
	_, err = NewProviderRegistry([]llm.Provider{provider("a"), provider("a")}, "", cb, nil, nil)
	assert.Error(t, err)
	_, err = NewProviderRegistry([]llm.Provider{provider("a")}, "b", cb, nil, nil)
	assert.Error(t, err)
}
