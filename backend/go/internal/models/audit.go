package models

import (
	"encoding/json"
	"time"
)

// 审计事件类型。
const (
	AuditCheck             = "check"
	AuditReviewTransition  = "review:transition"
	AuditReviewAborted     = "review:transition_aborted"
	AuditReviewQueued      = "review:queued"
	AuditProviderSwitched  = "admin:provider_switched"
	AuditThresholdsUpdated = "admin:thresholds_updated"
)

// AuditEntry 是一条追加写入、带签名且创建后不再修改的记录。
// Payload 保存签名时的原始字节。
type AuditEntry struct {
	ID        string          `json:"id" bson:"_id"`
	EventType string          `json:"event_type" bson:"event_type"`
	Payload   json.RawMessage `json:"payload" bson:"payload"`
	CreatedAt time.Time       `json:"created_at" bson:"created_at"`
	Signature string          `json:"signature" bson:"signature"`
}
