package synthesizer

import (
	"context"
	"strings"

	"factforge/backend/go/internal/models"
	"factforge/backend/go/pkg/circuitbreaker"
)

// NeedsLesson 判断结论是否需要迷你课程。
func NeedsLesson(v models.Verdict) bool {
	return v == models.VerdictFalse || v == models.VerdictMisleading
}

// FallbackLesson 是模型不可用时使用的静态课程。
func FallbackLesson(v models.Verdict) *models.MiniLesson {
	return &models.MiniLesson{
		Lesson: "This claim has been " + strings.ToLower(string(v)) +
			". Always verify information from multiple reliable sources.",
		Tips: []string{
			"Check the source's credibility and reputation",
			"Look for corroborating evidence from other sources",
		},
		Quiz: fallbackQuiz(),
	}
}

func fallbackQuiz() *models.Quiz {
	return &models.Quiz{
		Question: "What should you do when you see suspicious claims?",
		Options:  []string{"Share immediately", "Verify from multiple sources", "Ignore completely"},
		Answer:   "B",
	}
}

// Lesson 用给出结论的同一个提供方生成迷你课程，只对 FALSE 和 MISLEADING 生效。
// 任何失败都返回静态课程，不影响结论本身。
func (s *Synthesizer) Lesson(ctx context.Context, claim models.Claim, verdict models.LLMVerdict, evidence models.RetrievalResult) *models.MiniLesson {
	if !NeedsLesson(verdict.Verdict) {
		return nil
	}
	fallback := FallbackLesson(verdict.Verdict)
	c, ok := s.source.Provider(verdict.Provider)
	if !ok || c.Breaker.State() == circuitbreaker.Open {
		return fallback
	}

	lctx, cancel := context.WithTimeout(ctx, s.lessonTimeout)
	defer cancel()
	text, err := c.Provider.Generate(lctx, BuildLessonPrompt(claim, verdict.Verdict, evidence))
	if err != nil {
		s.log.WithField("provider", c.Name()).
			WithError(models.NewErrorInfo(err, "DependencyUnavailable")).Debug("迷你课程生成失败，使用静态课程")
		return fallback
	}
	l, err := ParseLesson(text)
	if err != nil {
		s.log.WithField("provider", c.Name()).
			WithError(models.NewErrorInfo(err, "ParseError")).Debug("迷你课程无法解析，使用静态课程")
		return fallback
	}
	if l.Quiz == nil {
		l.Quiz = fallbackQuiz()
	}
	return l
}
