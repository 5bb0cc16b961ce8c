package models

import "time"

// MaxClaimLength 是 claim 文本允许的最大字符数。
const MaxClaimLength = 5000

// CheckRequest 是一次核查请求的输入。
type CheckRequest struct {
	ClaimText  string     `json:"claim_text"`
	Language   string     `json:"language,omitempty"`
	SourceType SourceType `json:"source_type,omitempty"`
}

// Route 是融合之后的路由决定。
type Route string

const (
	RouteAutoPublish Route = "auto_publish"
	RouteReview      Route = "review"
)

// 降级原因。
const (
	DegradedClassifier = "classifier_unavailable"
	DegradedRetrieval  = "retrieval_unavailable"
	DegradedLLM        = "llm_unavailable"
	DegradedTimeout    = "timeout"
	DegradedReview     = "review_enqueue_failed"
)

// CheckResponse 是返回给调用方的最终结果，返回后不可变。
// RequestID 是审计条目和复核条目的关联键。
type CheckResponse struct {
	RequestID       string           `json:"request_id"`
	Verdict         Verdict          `json:"verdict"`
	TrustScore      int              `json:"trust_score"`
	Confidence      int              `json:"confidence"`
	Reasons         []string         `json:"reasons"`
	EvidenceIDs     []string         `json:"evidence_ids"`
	ClassifierScore *float64         `json:"classifier_score"`
	HeuristicScore  float64          `json:"heuristic_score"`
	Language        string           `json:"language"`
	LatencyMS       int64            `json:"latency_ms"`
	CreatedAt       time.Time        `json:"created_at"`
	Degraded        bool             `json:"degraded"`
	DegradedReasons []string         `json:"degraded_reasons,omitempty"`
	Route           Route            `json:"route"`
	ReviewID        string           `json:"review_id,omitempty"`
	Tip             string           `json:"one_line_tip,omitempty"`
	MiniLesson      *MiniLesson      `json:"mini_lesson,omitempty"`
	Evidence        []ScoredEvidence `json:"-"`
}

// AddDegraded 记录一个降级原因（去重）。
func (r *CheckResponse) AddDegraded(reason string) {
	for _, d := range r.DegradedReasons {
		if d == reason {
			return
		}
	}
	r.Degraded = true
	r.DegradedReasons = append(r.DegradedReasons, reason)
}
