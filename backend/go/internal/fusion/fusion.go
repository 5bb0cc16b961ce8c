// Package fusion 把评分、检索和模型结论合成为最终的信任分与路由决定。
//
// 本包不调用任何外部服务，是发布与复核策略的唯一执行点。
//
// 信任分:
//
//	s      = 0.6·classifier + 0.4·heuristic（分类器不可用时为 heuristic）
//	t_sig  = 100·(1 − s)
//	t_llm  = 50 + 50·polarity(verdict)·confidence/100
//	w      = 0.6·confidence/100
//	trust  = (1 − w)·t_sig + w·t_llm
//
// 置信度以模型置信度为基础，按证据一致性调整（±，封顶 24），
// 分类器降级和检索为空各扣 5 分。
package fusion

import (
	"math"

	"factforge/backend/go/internal/config"
	"factforge/backend/go/internal/models"
)

// 融合参数。
const (
	MaxLLMShare = 0.6

	AgreementSimilarity = 0.75
	AgreeBonus          = 8
	DisagreePenalty     = 10
	AgreementCap        = 24
	DegradedPenalty     = 5

	// ScamTrustCeiling 是高风险诈骗模式命中时信任分的上限。
	ScamTrustCeiling = 39

	// HighRiskSuspicion 以上的案例以高优先级进入复核。
	HighRiskSuspicion = 0.8
)

// 追加到理由中的固定文案。
const (
	ReasonScamOverride  = "high-risk scam pattern detected"
	ReasonLowConfidence = "confidence below publish threshold"
)

// Input 是融合的全部输入，都是已经计算好的值。
type Input struct {
	Scores    models.ScoreSet
	Evidence  models.RetrievalResult
	Verdict   models.LLMVerdict
	Threshold config.ThresholdConfig
}

// Decision 是融合的结果。
type Decision struct {
	Verdict    models.Verdict
	TrustScore int
	Confidence int
	Reasons    []string
	Route      models.Route
	Priority   int
	Suspicion  float64
	// Agreement 是证据一致性带来的置信度调整。
	Agreement int
	// ScamOverride 表示诈骗模式覆盖了模型结论或信任分。
	ScamOverride bool
	// Confident 表示置信度达到了该语言的自信发布线。
	Confident bool
}

// Fuse 计算最终结论。相同输入总是得到相同输出。
func Fuse(in Input) Decision {
	s := clamp01(in.Scores.Suspicion())
	v := in.Verdict.Verdict
	if v == "" {
		v = models.VerdictUnverified
	}
	conf := float64(clampInt(in.Verdict.Confidence, 0, 100))

	tSig := 100 * (1 - s)
	tLLM := 50 + 50*v.Polarity()*conf/100
	w := MaxLLMShare * conf / 100
	trust := (1-w)*tSig + w*tLLM

	agreement := evidenceAgreement(v, in.Evidence)
	confidence := conf + float64(agreement)
	if !in.Scores.ClassifierAvailable {
		confidence -= DegradedPenalty
	}
	if in.Evidence.Empty() {
		confidence -= DegradedPenalty
	}

	reasons := append([]string(nil), in.Verdict.Reasons...)
	d := Decision{Suspicion: s, Agreement: agreement}

	if s >= in.Threshold.AutoRejectMinSuspicion {
		trust = math.Min(trust, math.Min(100*(1-s), ScamTrustCeiling))
		if v != models.VerdictFalse {
			v = models.VerdictUnverified
		}
		reasons = append(reasons, ReasonScamOverride)
		d.ScamOverride = true
	}

	d.TrustScore = clampInt(int(math.Round(trust)), 0, 100)
	d.Confidence = clampInt(int(math.Round(confidence)), 0, 100)
	d.Verdict = v
	d.Reasons = reasons
	d.Confident = d.Confidence >= in.Threshold.AutoPublishMinConfidence
	route(&d, in.Threshold)
	return d
}

// route 按置信度决定自动发布还是进入复核。
func route(d *Decision, t config.ThresholdConfig) {
	d.Priority = models.PriorityNormal
	if d.Suspicion > HighRiskSuspicion {
		d.Priority = models.PriorityHighRisk
	}
	if d.Confidence >= t.ReviewMinScore && d.Confidence <= t.ReviewMaxScore {
		d.Route = models.RouteReview
		return
	}
	d.Route = models.RouteAutoPublish
	if d.Confidence < t.ReviewMinScore && d.Verdict.Definitive() {
		d.Verdict = models.VerdictUnverified
		d.Reasons = append(d.Reasons, ReasonLowConfidence)
	}
}

// evidenceAgreement 统计高相似度且带已知结论的证据与模型结论是否一致。
func evidenceAgreement(v models.Verdict, ev models.RetrievalResult) int {
	p := sign(v.Polarity())
	if p == 0 {
		return 0
	}
	adj := 0
	for _, it := range ev.Items {
		if it.Similarity < AgreementSimilarity || it.Evidence.Label == "" {
			continue
		}
		switch sign(it.Evidence.Label.Polarity()) {
		case p:
			adj += AgreeBonus
		case -p:
			adj -= DisagreePenalty
		}
	}
	return clampInt(adj, -AgreementCap, AgreementCap)
}

func sign(f float64) int {
	switch {
	case f > 0:
		return 1
	case f < 0:
		return -1
	}
	return 0
}

func clamp01(f float64) float64 {
	if math.IsNaN(f) {
		return 0
	}
	return math.Max(0, math.Min(1, f))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
