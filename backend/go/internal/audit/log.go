package audit

import (
	"context"
	"encoding/json"
	"time"

	"factforge/backend/go/internal/apperr"
	"factforge/backend/go/internal/models"

	"github.com/google/uuid"
)

// MaxListLimit 是一次列表查询的最大条数。
const MaxListLimit = 1000

// Store 是审计条目的持久化接口。只有插入和读取，没有更新和删除。
type Store interface {
	Insert(ctx context.Context, e models.AuditEntry) error
	// Get 在条目不存在时返回 apperr.KindNotFound。
	Get(ctx context.Context, id string) (models.AuditEntry, error)
	// List 按 created_at 降序返回，eventType 为空表示全部类型。
	List(ctx context.Context, eventType string, limit, offset int) ([]models.AuditEntry, error)
}

// Log 负责签名并写入审计条目。
type Log struct {
	signer *Signer
	store  Store
	now    func() time.Time
}

// NewLog 创建审计日志。
func NewLog(signer *Signer, store Store) *Log {
	return &Log{signer: signer, store: store, now: time.Now}
}

// Append 把 payload 编码一次并签名写入。写入失败时返回 DependencyUnavailable。
func (l *Log) Append(ctx context.Context, eventType string, payload interface{}) (models.AuditEntry, error) {
	const op = "audit.Append"
	if eventType == "" {
		return models.AuditEntry{}, apperr.Validation(op, "event_type 不能为空")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return models.AuditEntry{}, apperr.Wrap(apperr.KindValidation, op, err)
	}
	// 存储层只保存到毫秒，签名时间必须与读回的时间一致
	createdAt := l.now().UTC().Truncate(time.Millisecond)
	e := models.AuditEntry{
		ID:        uuid.NewString(),
		EventType: eventType,
		Payload:   raw,
		CreatedAt: createdAt,
		Signature: l.signer.Sign(eventType, createdAt, raw),
	}
	if err := l.store.Insert(ctx, e); err != nil {
		return models.AuditEntry{}, apperr.Wrap(apperr.KindDependencyUnavailable, op, err)
	}
	return e, nil
}

// Verify 重新计算签名。签名一致时返回 nil，不一致时返回 SignatureMismatch。
func (l *Log) Verify(ctx context.Context, id string) error {
	const op = "audit.Verify"
	e, err := l.store.Get(ctx, id)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return err
		}
		return apperr.Wrap(apperr.KindDependencyUnavailable, op, err)
	}
	if !l.signer.Valid(e.EventType, e.CreatedAt, e.Payload, e.Signature) {
		return apperr.New(apperr.KindSignatureMismatch, op, "审计条目 %s 签名不匹配", id)
	}
	return nil
}

// List 分页列出条目，limit 被限制在 [1, MaxListLimit]。
func (l *Log) List(ctx context.Context, eventType string, limit, offset int) ([]models.AuditEntry, error) {
	const op = "audit.List"
	if limit <= 0 {
		limit = 100
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		return nil, apperr.Validation(op, "offset 不能为负")
	}
	out, err := l.store.List(ctx, eventType, limit, offset)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyUnavailable, op, err)
	}
	return out, nil
}
