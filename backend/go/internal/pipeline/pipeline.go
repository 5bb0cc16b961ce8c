// Package pipeline 编排一次完整的核查：评分与检索并行，随后合成、融合、审计和路由。
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"factforge/backend/go/internal/apperr"
	"factforge/backend/go/internal/config"
	"factforge/backend/go/internal/events"
	"factforge/backend/go/internal/fusion"
	"factforge/backend/go/internal/models"
	"factforge/backend/go/internal/review"
	"factforge/backend/go/internal/runtimeconfig"
	"factforge/backend/go/internal/textnorm"
	"factforge/backend/go/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Scorer 计算可疑度分数，第二个返回值表示是否降级。
type Scorer interface {
	Score(ctx context.Context, text textnorm.Normalized, lang string) (models.ScoreSet, bool)
}

// Retriever 检索相似证据。
type Retriever interface {
	Retrieve(ctx context.Context, text string) (models.RetrievalResult, error)
}

// Synthesizer 生成模型结论和迷你课程。
type Synthesizer interface {
	Synthesize(ctx context.Context, claim models.Claim, evidence models.RetrievalResult, scores models.ScoreSet) (models.LLMVerdict, error)
	Lesson(ctx context.Context, claim models.Claim, verdict models.LLMVerdict, evidence models.RetrievalResult) *models.MiniLesson
}

// Thresholds 提供当前阈值快照。
type Thresholds interface {
	Load() *runtimeconfig.ThresholdSnapshot
}

// Enqueuer 把请求放入复核队列。
type Enqueuer interface {
	Enqueue(ctx context.Context, in review.NewItem) (*models.ReviewItem, error)
}

// Deps 是 Checker 的全部依赖。Events 可以为 nil。
type Deps struct {
	Scorer      Scorer
	Retriever   Retriever
	Synthesizer Synthesizer
	Thresholds  Thresholds
	Audit       review.Auditor
	Queue       Enqueuer
	Events      events.Publisher
}

// Checker 执行核查流水线。
type Checker struct {
	Deps
	timeout         time.Duration
	finalizeTimeout time.Duration
	log             *logger.Logger
	now             func() time.Time
	counters        *counters
}

// 未配置时使用的超时。
const (
	DefaultTimeout         = 20 * time.Second
	DefaultFinalizeTimeout = 5 * time.Second
)

// Option 配置 Checker。
type Option func(*Checker)

// WithTimeout 设置端到端超时。
func WithTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithFinalizeTimeout 设置审计与入队的超时，它们不受端到端超时影响。
func WithFinalizeTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.finalizeTimeout = d
		}
	}
}

// ConfigOptions 把流水线配置转换为选项，缺省或无效的时长使用默认值。
func ConfigOptions(cfg config.PipelineConfig) []Option {
	return []Option{
		WithTimeout(config.Duration(cfg.Timeout, DefaultTimeout)),
		WithFinalizeTimeout(config.Duration(cfg.FinalizeTimeout, DefaultFinalizeTimeout)),
	}
}

// WithLogger 设置日志记录器。
func WithLogger(l *logger.Logger) Option {
	return func(c *Checker) { c.log = l }
}

// New 创建 Checker。
func New(deps Deps, opts ...Option) *Checker {
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	c := &Checker{
		Deps:            deps,
		timeout:         DefaultTimeout,
		finalizeTimeout: DefaultFinalizeTimeout,
		log:             logger.Nop(),
		now:             time.Now,
		counters:        newCounters(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Validate 检查请求格式，不产生任何副作用。
func Validate(req models.CheckRequest) error {
	const op = "pipeline.Validate"
	text := strings.TrimSpace(req.ClaimText)
	if text == "" {
		return apperr.Validation(op, "claim_text 不能为空")
	}
	if !utf8.ValidString(text) {
		return apperr.Validation(op, "claim_text 不是合法的 UTF-8")
	}
	if n := utf8.RuneCountInString(text); n > models.MaxClaimLength {
		return apperr.Validation(op, "claim_text 过长: %d 个字符，上限 %d", n, models.MaxClaimLength)
	}
	if l := req.Language; l != "" && l != models.LangAuto && !models.IsSupportedLanguage(l) {
		return apperr.Validation(op, "不支持的语言 %q", l)
	}
	if req.SourceType != "" && !req.SourceType.Valid() {
		return apperr.Validation(op, "不支持的来源类型 %q", req.SourceType)
	}
	return nil
}

// record 是写入审计日志的 check 载荷。
type record struct {
	*models.CheckResponse
	ClaimText        string   `json:"claim_text"`
	SourceType       string   `json:"source_type"`
	UserID           string   `json:"user_id,omitempty"`
	Provider         string   `json:"provider,omitempty"`
	MatchedRules     []string `json:"matched_rules,omitempty"`
	ModelVersion     string   `json:"model_version,omitempty"`
	ThresholdVersion int64    `json:"threshold_version"`
	Suspicion        float64  `json:"suspicion"`
	ScamOverride     bool     `json:"scam_override"`
}

// Check 对一个 claim 执行完整流水线。
//
// 依赖失败被吸收为 degraded_reasons；只有校验失败和审计写入失败会返回错误，
// 后者保证每个返回的结论都有对应的审计条目。
func (c *Checker) Check(ctx context.Context, req models.CheckRequest, id models.Identity) (*models.CheckResponse, error) {
	const op = "pipeline.Check"
	if err := Validate(req); err != nil {
		return nil, err
	}
	started := c.now()
	requestID := uuid.NewString()
	log := c.log.WithTrace(requestID, id.UserID)

	normalized := textnorm.Normalize(req.ClaimText)
	if normalized.Text == "" {
		return nil, apperr.Validation("pipeline.Validate", "claim_text 清洗后为空")
	}
	det := textnorm.Resolve(req.Language, normalized.Text)
	source := req.SourceType
	if source == "" {
		source = models.SourceText
	}
	claim := models.Claim{Text: normalized.Text, Language: det.Language, SourceType: source}

	resp := &models.CheckResponse{RequestID: requestID, Language: det.Language}

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		scores             models.ScoreSet
		classifierDegraded bool
		evidence           = models.RetrievalResult{Items: []models.ScoredEvidence{}}
		retrieveErr        error
	)
	var g errgroup.Group
	g.Go(func() error {
		scores, classifierDegraded = c.Scorer.Score(runCtx, normalized, det.Language)
		return nil
	})
	g.Go(func() error {
		evidence, retrieveErr = c.Retriever.Retrieve(runCtx, normalized.Text)
		return nil
	})
	_ = g.Wait()
	log.WithPayload(map[string]interface{}{
		"heuristic": scores.HeuristicScore, "classifier_available": scores.ClassifierAvailable, "evidence": len(evidence.Items),
	}).Debug("评分与检索完成")

	if classifierDegraded {
		resp.AddDegraded(models.DegradedClassifier)
	}
	if retrieveErr != nil {
		c.absorb(resp, retrieveErr, models.DegradedRetrieval)
		log.WithError(models.NewErrorInfo(retrieveErr, string(apperr.KindOf(retrieveErr)))).Warn("检索失败，使用空证据继续")
	}

	verdict, synthErr := c.Synthesizer.Synthesize(runCtx, claim, evidence, scores)
	if synthErr != nil {
		c.absorb(resp, synthErr, models.DegradedLLM)
		log.WithError(models.NewErrorInfo(synthErr, string(apperr.KindOf(synthErr)))).Warn("没有可用的大模型结论，使用哨兵结论")
	}
	log.WithField("provider", verdict.Provider).Debug("合成完成")

	snap := c.Thresholds.Load()
	d := fusion.Fuse(fusion.Input{
		Scores:    scores,
		Evidence:  evidence,
		Verdict:   verdict,
		Threshold: snap.For(det.Language),
	})

	final := verdict
	final.Verdict = d.Verdict
	if lesson := c.Synthesizer.Lesson(runCtx, claim, final, evidence); lesson != nil {
		resp.MiniLesson = lesson
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		resp.AddDegraded(models.DegradedTimeout)
	}

	resp.Verdict = d.Verdict
	resp.TrustScore = d.TrustScore
	resp.Confidence = d.Confidence
	resp.Reasons = d.Reasons
	resp.EvidenceIDs = evidence.IDs()
	resp.Evidence = evidence.Items
	resp.HeuristicScore = scores.HeuristicScore
	if scores.ClassifierAvailable {
		v := scores.ClassifierScore
		resp.ClassifierScore = &v
	}
	resp.Route = d.Route
	resp.Tip = verdict.Tip
	resp.CreatedAt = c.now().UTC()
	resp.LatencyMS = resp.CreatedAt.Sub(started).Milliseconds()

	// 审计和入队在独立的 context 上完成：已经定稿的结论必须被记录。
	fctx, fcancel := context.WithTimeout(context.WithoutCancel(ctx), c.finalizeTimeout)
	defer fcancel()

	if _, err := c.Audit.Append(fctx, models.AuditCheck, record{
		CheckResponse:    resp,
		ClaimText:        claim.Text,
		SourceType:       string(claim.SourceType),
		UserID:           id.UserID,
		Provider:         verdict.Provider,
		MatchedRules:     scores.MatchedRules,
		ModelVersion:     scores.ModelVersion,
		ThresholdVersion: snap.Version,
		Suspicion:        d.Suspicion,
		ScamOverride:     d.ScamOverride,
	}); err != nil {
		log.WithError(models.NewErrorInfo(err, string(apperr.KindDependencyUnavailable))).Error("写入 check 审计失败，拒绝返回结论")
		return nil, apperr.Wrap(apperr.KindDependencyUnavailable, op, err)
	}

	if d.Route == models.RouteReview {
		item, err := c.Queue.Enqueue(fctx, review.NewItem{
			RequestID: requestID,
			ClaimText: claim.Text,
			Language:  det.Language,
			Verdict:   d.Verdict,
			Scores: models.ReviewScores{
				Heuristic:  scores.HeuristicScore,
				Classifier: resp.ClassifierScore,
				Trust:      d.TrustScore,
				Confidence: d.Confidence,
			},
			Priority: d.Priority,
		})
		if err != nil {
			resp.AddDegraded(models.DegradedReview)
			log.WithError(models.NewErrorInfo(err, string(apperr.KindOf(err)))).Error("进入复核队列失败")
		} else {
			resp.ReviewID = item.ID
		}
	}

	c.counters.record(resp, d.ScamOverride)

	data := map[string]interface{}{
		"request_id":  resp.RequestID,
		"verdict":     resp.Verdict,
		"trust_score": resp.TrustScore,
		"confidence":  resp.Confidence,
		"language":    resp.Language,
		"route":       resp.Route,
		"degraded":    resp.Degraded,
	}
	if err := c.Events.Publish(fctx, events.New(models.EventCheckCompleted, data)); err != nil {
		log.WithError(models.NewErrorInfo(err, string(apperr.KindDependencyUnavailable))).Warn("发布 check:completed 失败")
	}

	log.WithPayload(map[string]interface{}{
		"request_id":  resp.RequestID,
		"verdict":     resp.Verdict,
		"trust_score": resp.TrustScore,
		"route":       resp.Route,
		"latency_ms":  resp.LatencyMS,
		"degraded":    resp.DegradedReasons,
	}).Info("核查完成")
	return resp, nil
}

// absorb 记录依赖失败，超时额外标记 timeout。
func (c *Checker) absorb(resp *models.CheckResponse, err error, reason string) {
	resp.AddDegraded(reason)
	if apperr.KindOf(err) == apperr.KindTimeout {
		resp.AddDegraded(models.DegradedTimeout)
	}
}
