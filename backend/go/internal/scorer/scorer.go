// Package scorer 计算声明文本的可疑度：启发式规则加上可选的分类模型。
package scorer

import (
	"context"
	"math"

	"factforge/backend/go/internal/models"
	"factforge/backend/go/internal/textnorm"
	"factforge/backend/go/pkg/logger"
)

// Classifier 是诈骗/虚假信息分类模型。返回值在 [0,1]。
type Classifier interface {
	Classify(ctx context.Context, text, lang string) (float64, error)
	ModelVersion() string
}

// Scorer 组合启发式规则与分类器。
type Scorer struct {
	rules      []Rule
	classifier Classifier
	log        *logger.Logger
}

// Option 配置 Scorer。
type Option func(*Scorer)

// WithRules 替换默认规则集。
func WithRules(rules []Rule) Option {
	return func(s *Scorer) { s.rules = rules }
}

// WithLogger 设置日志记录器。
func WithLogger(l *logger.Logger) Option {
	return func(s *Scorer) { s.log = l }
}

// New 创建 Scorer。classifier 可以为 nil，此时只使用启发式分数。
func New(classifier Classifier, opts ...Option) *Scorer {
	s := &Scorer{rules: DefaultRules(), classifier: classifier, log: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Heuristic 对文本执行规则匹配，返回加权并集分数 1-Π(1-w) 和命中的规则名。
func (s *Scorer) Heuristic(text textnorm.Normalized, lang string) (float64, []string) {
	miss := 1.0
	var matched []string
	for _, r := range s.rules {
		if !r.appliesTo(lang) || !r.Match(text.Text, text.Lower) {
			continue
		}
		miss *= 1 - clamp01(r.Weight)
		matched = append(matched, r.Name)
	}
	return clamp01(1 - miss), matched
}

// Score 计算完整的 ScoreSet。分类器缺失或失败时 degraded 为 true，结果只含启发式分数。
func (s *Scorer) Score(ctx context.Context, text textnorm.Normalized, lang string) (models.ScoreSet, bool) {
	h, matched := s.Heuristic(text, lang)
	set := models.ScoreSet{HeuristicScore: h, MatchedRules: matched}

	if s.classifier == nil {
		return set, true
	}
	score, err := s.classifier.Classify(ctx, text.Text, lang)
	if err != nil || math.IsNaN(score) || score < 0 || score > 1 {
		entry := s.log.WithField("language", lang)
		if err != nil {
			entry = entry.WithError(models.NewErrorInfo(err, "DependencyUnavailable"))
		} else {
			entry = entry.WithField("classifier_score", score)
		}
		entry.Warn("分类器不可用，降级为启发式评分")
		return set, true
	}
	set.ClassifierScore = score
	set.ClassifierAvailable = true
	set.ModelVersion = s.classifier.ModelVersion()
	return set, false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
