package models

import "time"

// 事件类型。
const (
	EventCrawlerFound      = "crawler:found"
	EventCheckCompleted    = "check:completed"
	EventReviewQueued      = "review:queued"
	EventReviewAssigned    = "review:assigned"
	EventReviewApproved    = "review:approved"
	EventReviewRejected    = "review:rejected"
	EventReviewEscalated   = "review:escalated"
	EventReviewReopened    = "review:reopened"
	EventProviderSwitched  = "admin:provider_switched"
	EventThresholdsUpdated = "admin:thresholds_updated"
)

// Event 是推送给监听者的类型化事件。
type Event struct {
	Type      string                 `json:"type"`
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}
