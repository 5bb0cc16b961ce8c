// Package synthesizer 调用大模型生成结构化结论，并在提供方之间故障转移。
package synthesizer

import (
	"context"
	"errors"
	"time"

	"factforge/backend/go/internal/apperr"
	"factforge/backend/go/internal/models"
	"factforge/backend/go/internal/runtimeconfig"
	"factforge/backend/go/pkg/circuitbreaker"
	"factforge/backend/go/pkg/logger"
)

// ProviderSource 提供一次请求使用的提供方快照。
type ProviderSource interface {
	Snapshot() runtimeconfig.ProviderSnapshot
	Provider(name string) (runtimeconfig.Candidate, bool)
}

// Synthesizer 生成 LLMVerdict 和迷你课程。
type Synthesizer struct {
	source         ProviderSource
	attemptTimeout time.Duration
	lessonTimeout  time.Duration
	log            *logger.Logger
}

// Option 配置 Synthesizer。
type Option func(*Synthesizer)

// WithAttemptTimeout 设置单次调用超时。
func WithAttemptTimeout(d time.Duration) Option {
	return func(s *Synthesizer) { s.attemptTimeout = d }
}

// WithLessonTimeout 设置迷你课程超时。
func WithLessonTimeout(d time.Duration) Option {
	return func(s *Synthesizer) { s.lessonTimeout = d }
}

// WithLogger 设置日志。
func WithLogger(l *logger.Logger) Option {
	return func(s *Synthesizer) { s.log = l }
}

// New 创建 Synthesizer。
func New(source ProviderSource, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		source:         source,
		attemptTimeout: 8 * time.Second,
		lessonTimeout:  5 * time.Second,
		log:            logger.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Synthesize 依次尝试快照中的提供方，返回第一个可解析的结论。
//
// 每个提供方最多调用两次：解析失败时在同一提供方重试一次；
// 传输错误或单次超时直接转到下一个提供方；熔断中的提供方被跳过。
// 全部失败时返回哨兵结论和 AllProvidersExhausted，ctx 结束时返回哨兵结论和 Timeout。
func (s *Synthesizer) Synthesize(ctx context.Context, claim models.Claim, evidence models.RetrievalResult, scores models.ScoreSet) (models.LLMVerdict, error) {
	const op = "synthesizer.Synthesize"
	prompt := BuildVerdictPrompt(claim, evidence, scores)
	snap := s.source.Snapshot()

	var lastErr error
	for _, c := range snap.Order {
		if ctx.Err() != nil {
			break
		}
		if c.Breaker.State() == circuitbreaker.Open {
			s.log.WithField("provider", c.Name()).Debug("提供方熔断中，跳过")
			lastErr = circuitbreaker.ErrCircuitOpen
			continue
		}

		v, err := s.tryProvider(ctx, c, prompt)
		if err == nil {
			v.Provider = c.Name()
			return v, nil
		}
		lastErr = err
		s.log.WithField("provider", c.Name()).
			WithError(models.NewErrorInfo(err, string(apperr.KindDependencyUnavailable))).
			Warn("大模型提供方调用失败，尝试下一个")
	}

	if ctx.Err() != nil {
		return models.UnavailableVerdict(), apperr.Wrap(apperr.KindTimeout, op, ctx.Err())
	}
	if lastErr == nil {
		lastErr = errors.New("no providers configured")
	}
	return models.UnavailableVerdict(), apperr.Wrap(apperr.KindAllProvidersExhausted, op, lastErr)
}

// tryProvider 调用一个提供方，解析失败时重试一次。
func (s *Synthesizer) tryProvider(ctx context.Context, c runtimeconfig.Candidate, prompt string) (models.LLMVerdict, error) {
	var parseErr error
	for attempt := 0; attempt < 2; attempt++ {
		text, err := s.generate(ctx, c, prompt)
		if err != nil {
			return models.LLMVerdict{}, err
		}
		v, err := ParseVerdict(text)
		if err == nil {
			return v, nil
		}
		parseErr = err
		s.log.WithField("provider", c.Name()).WithField("attempt", attempt+1).
			WithError(models.NewErrorInfo(err, "ParseError")).Debug("模型输出无法解析")
	}
	return models.LLMVerdict{}, parseErr
}

// generate 在单次超时内调用提供方，并把传输层结果计入熔断器。
func (s *Synthesizer) generate(ctx context.Context, c runtimeconfig.Candidate, prompt string) (string, error) {
	actx, cancel := context.WithTimeout(ctx, s.attemptTimeout)
	defer cancel()
	text, err := c.Provider.Generate(actx, prompt)
	// 调用方自己取消不算提供方的故障
	if err != nil && ctx.Err() != nil {
		return "", err
	}
	c.Breaker.Record(err)
	return text, err
}
