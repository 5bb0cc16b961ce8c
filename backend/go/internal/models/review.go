package models

import "time"

// ReviewStatus 是复核条目的状态。
type ReviewStatus string

const (
	ReviewPending   ReviewStatus = "pending"
	ReviewInReview  ReviewStatus = "in_review"
	ReviewApproved  ReviewStatus = "approved"
	ReviewRejected  ReviewStatus = "rejected"
	ReviewEscalated ReviewStatus = "escalated"
)

// AllReviewStatuses 按生命周期顺序列出全部状态。
var AllReviewStatuses = []ReviewStatus{ReviewPending, ReviewInReview, ReviewApproved, ReviewRejected, ReviewEscalated}

// Valid 判断状态是否合法。
func (s ReviewStatus) Valid() bool {
	for _, st := range AllReviewStatuses {
		if st == s {
			return true
		}
	}
	return false
}

// Terminal 判断状态是否为终态。escalated 不是终态，管理员可以重新打开。
func (s ReviewStatus) Terminal() bool {
	return s == ReviewApproved || s == ReviewRejected
}

// ReviewAction 是复核员可以执行的动作。
type ReviewAction string

const (
	ActionApprove  ReviewAction = "approve"
	ActionReject   ReviewAction = "reject"
	ActionEscalate ReviewAction = "escalate"
)

// Valid 判断动作是否合法。
func (a ReviewAction) Valid() bool {
	return a == ActionApprove || a == ActionReject || a == ActionEscalate
}

// ReviewScores 是入队时的分数快照。
type ReviewScores struct {
	Heuristic  float64  `json:"heuristic" bson:"heuristic"`
	Classifier *float64 `json:"classifier" bson:"classifier"`
	Trust      int      `json:"trust_score" bson:"trust_score"`
	Confidence int      `json:"confidence" bson:"confidence"`
}

// 复核优先级。
const (
	PriorityNormal    = 3
	PriorityHighRisk  = 5
	PriorityEscalated = 10
)

// ReviewItem 是等待人工处理的边界案例。
type ReviewItem struct {
	ID         string       `json:"id" bson:"_id"`
	RequestID  string       `json:"request_id" bson:"request_id"`
	Scores     ReviewScores `json:"scores" bson:"scores"`
	Language   string       `json:"language" bson:"language"`
	ClaimText  string       `json:"claim_text" bson:"claim_text"`
	Verdict    Verdict      `json:"verdict" bson:"verdict"`
	Status     ReviewStatus `json:"status" bson:"status"`
	AssignedTo string       `json:"assigned_to,omitempty" bson:"assigned_to,omitempty"`
	Note       string       `json:"note,omitempty" bson:"note,omitempty"`
	Priority   int          `json:"priority" bson:"priority"`
	Version    int64        `json:"version" bson:"version"`
	CreatedAt  time.Time    `json:"created_at" bson:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at" bson:"updated_at"`
}

// ReviewPage 是复核队列的分页结果。
type ReviewPage struct {
	Items        []*ReviewItem `json:"items"`
	NextCursor   string        `json:"next_cursor,omitempty"`
	HasMore      bool          `json:"has_more"`
	TotalPending int64         `json:"total_pending"`
}

// ReviewStats 是队列统计信息。
type ReviewStats struct {
	Counts     map[ReviewStatus]int64 `json:"counts"`
	MyAssigned int64                  `json:"my_assigned"`
}
