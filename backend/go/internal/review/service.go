package review

import (
	"context"
	"time"

	"factforge/backend/go/internal/apperr"
	"factforge/backend/go/internal/events"
	"factforge/backend/go/internal/models"
	"factforge/backend/go/pkg/logger"

	"github.com/google/uuid"
)

// 列表分页参数。
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Auditor 写入签名审计条目。
type Auditor interface {
	Append(ctx context.Context, eventType string, payload interface{}) (models.AuditEntry, error)
}

// NewItem 是入队所需的信息。
type NewItem struct {
	RequestID string
	ClaimText string
	Language  string
	Verdict   models.Verdict
	Scores    models.ReviewScores
	Priority  int
}

// Service 实现复核队列的全部操作。每次状态转换都先写审计条目，再按版本提交。
type Service struct {
	store Store
	audit Auditor
	pub   events.Publisher
	log   *logger.Logger
	now   func() time.Time
}

// NewService 创建 Service。pub 可以为 nil。
func NewService(store Store, audit Auditor, pub events.Publisher, log *logger.Logger) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{store: store, audit: audit, pub: pub, log: log, now: time.Now}
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// Enqueue 创建 pending 条目，同一请求只能入队一次。
func (s *Service) Enqueue(ctx context.Context, in NewItem) (*models.ReviewItem, error) {
	const op = "review.Enqueue"
	if in.RequestID == "" {
		return nil, apperr.Validation(op, "request_id 不能为空")
	}
	if in.Priority <= 0 {
		in.Priority = models.PriorityNormal
	}
	now := s.timestamp()
	it := &models.ReviewItem{
		ID:        uuid.NewString(),
		RequestID: in.RequestID,
		Scores:    in.Scores,
		Language:  in.Language,
		ClaimText: in.ClaimText,
		Verdict:   in.Verdict,
		Status:    models.ReviewPending,
		Priority:  in.Priority,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.audit.Append(ctx, models.AuditReviewQueued, map[string]interface{}{
		"review_id":  it.ID,
		"request_id": it.RequestID,
		"priority":   it.Priority,
		"verdict":    it.Verdict,
	}); err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyUnavailable, op, err)
	}
	if err := s.store.Insert(ctx, it); err != nil {
		if apperr.KindOf(err) == apperr.KindConflict {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.KindDependencyUnavailable, op, err)
	}
	s.publish(ctx, models.EventReviewQueued, it, "")
	return it, nil
}

// Get 返回单个条目。
func (s *Service) Get(ctx context.Context, id string) (*models.ReviewItem, error) {
	it, err := s.store.Get(ctx, id)
	if err != nil && apperr.KindOf(err) == apperr.KindInternal {
		return nil, apperr.Wrap(apperr.KindDependencyUnavailable, "review.Get", err)
	}
	return it, err
}

// Assign 把 pending 条目分配给复核员。
func (s *Service) Assign(ctx context.Context, id string, actor models.Identity) (*models.ReviewItem, error) {
	if !actor.Role.AtLeast(models.RoleReviewer) {
		return nil, apperr.New(apperr.KindForbidden, "review.Assign", "需要复核员权限")
	}
	return s.transition(ctx, id, actor, OpAssign, "", func(it *models.ReviewItem) {
		it.AssignedTo = actor.UserID
	})
}

// Act 对 in_review 条目执行复核动作。只有被分配者或管理员可以操作。
func (s *Service) Act(ctx context.Context, id string, actor models.Identity, action models.ReviewAction, note string) (*models.ReviewItem, error) {
	const op = "review.Act"
	if !action.Valid() {
		return nil, apperr.Validation(op, "未知的动作 %q", action)
	}
	if !actor.Role.AtLeast(models.RoleReviewer) {
		return nil, apperr.New(apperr.KindForbidden, op, "需要复核员权限")
	}
	o := opForAction(action)
	return s.transition(ctx, id, actor, o, note, func(it *models.ReviewItem) {
		it.AssignedTo = actor.UserID
		if o == OpEscalate {
			it.Priority = models.PriorityEscalated
		}
	}, onlyFrom(models.ReviewInReview), assigneeOrAdmin(actor))
}

// Escalate 不经分配直接把 pending 条目升级。
func (s *Service) Escalate(ctx context.Context, id string, actor models.Identity, note string) (*models.ReviewItem, error) {
	if !actor.Role.AtLeast(models.RoleReviewer) {
		return nil, apperr.New(apperr.KindForbidden, "review.Escalate", "需要复核员权限")
	}
	return s.transition(ctx, id, actor, OpEscalate, note, func(it *models.ReviewItem) {
		it.Priority = models.PriorityEscalated
	}, onlyFrom(models.ReviewPending))
}

// Reopen 由管理员把 escalated 条目重新交给 reviewer。
func (s *Service) Reopen(ctx context.Context, id string, actor models.Identity, reviewer string) (*models.ReviewItem, error) {
	const op = "review.Reopen"
	if actor.Role != models.RoleAdmin {
		return nil, apperr.New(apperr.KindForbidden, op, "只有管理员可以重新打开")
	}
	if reviewer == "" {
		reviewer = actor.UserID
	}
	return s.transition(ctx, id, actor, OpReopen, "", func(it *models.ReviewItem) {
		it.AssignedTo = reviewer
	})
}

// guard 在状态机之外附加检查。
type guard func(it *models.ReviewItem) error

func onlyFrom(st models.ReviewStatus) guard {
	return func(it *models.ReviewItem) error {
		if it.Status != st {
			return apperr.New(apperr.KindInvalidTransition, "review", "条目处于 %s 状态，只能从 %s 执行", it.Status, st)
		}
		return nil
	}
}

func assigneeOrAdmin(actor models.Identity) guard {
	return func(it *models.ReviewItem) error {
		if actor.Role == models.RoleAdmin || it.AssignedTo == "" || it.AssignedTo == actor.UserID {
			return nil
		}
		return apperr.New(apperr.KindForbidden, "review", "条目已分配给其他复核员")
	}
}

// transition 执行一次状态转换：校验 → 写意图审计 → 按版本提交 → 发布事件。
// 提交因版本冲突失败时追加一条 transition_aborted 审计并返回 Conflict。
func (s *Service) transition(ctx context.Context, id string, actor models.Identity, op Op, note string, mutate func(*models.ReviewItem), guards ...guard) (*models.ReviewItem, error) {
	const name = "review.transition"
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, g := range guards {
		if err := g(cur); err != nil {
			return nil, err
		}
	}
	to, err := Next(cur.Status, op)
	if err != nil {
		return nil, err
	}

	next := clone(cur)
	mutate(next)
	next.Status = to
	if note != "" {
		next.Note = note
	}
	next.Version = cur.Version + 1
	next.UpdatedAt = s.timestamp()

	intent, err := s.audit.Append(ctx, models.AuditReviewTransition, map[string]interface{}{
		"review_id":   cur.ID,
		"request_id":  cur.RequestID,
		"op":          op,
		"from":        cur.Status,
		"to":          to,
		"actor":       actor.UserID,
		"role":        actor.Role,
		"note":        note,
		"version":     cur.Version,
		"assigned_to": next.AssignedTo,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyUnavailable, name, err)
	}

	if err := s.store.CompareAndSwap(ctx, next, cur.Version); err != nil {
		kind := apperr.KindOf(err)
		if kind == apperr.KindConflict || kind == apperr.KindNotFound {
			if _, aerr := s.audit.Append(ctx, models.AuditReviewAborted, map[string]interface{}{
				"review_id": cur.ID,
				"intent_id": intent.ID,
				"reason":    string(kind),
			}); aerr != nil {
				s.log.WithField("review_id", cur.ID).
					WithError(models.NewErrorInfo(aerr, string(apperr.KindDependencyUnavailable))).
					Error("写入 transition_aborted 审计失败")
			}
			return nil, err
		}
		return nil, apperr.Wrap(apperr.KindDependencyUnavailable, name, err)
	}

	s.publish(ctx, eventFor(to, op), next, actor.UserID)
	return next, nil
}

func (s *Service) publish(ctx context.Context, eventType string, it *models.ReviewItem, actor string) {
	data := map[string]interface{}{
		"review_id":  it.ID,
		"request_id": it.RequestID,
		"status":     it.Status,
		"priority":   it.Priority,
		"verdict":    it.Verdict,
	}
	if it.AssignedTo != "" {
		data["assigned_to"] = it.AssignedTo
	}
	if actor != "" {
		data["actor"] = actor
	}
	if err := s.pub.Publish(ctx, events.New(eventType, data)); err != nil {
		s.log.WithField("event", eventType).
			WithError(models.NewErrorInfo(err, string(apperr.KindDependencyUnavailable))).
			Warn("发布复核事件失败")
	}
}

// List 分页列出条目。limit 被限制在 [1, MaxPageSize]。
func (s *Service) List(ctx context.Context, status models.ReviewStatus, assignedTo, cursor string, limit int) (*models.ReviewPage, error) {
	const op = "review.List"
	if status != "" && !status.Valid() {
		return nil, apperr.Validation(op, "未知的状态 %q", status)
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	after, err := DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	items, err := s.store.List(ctx, Filter{Status: status, AssignedTo: assignedTo, After: after, Limit: limit + 1})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyUnavailable, op, err)
	}
	page := &models.ReviewPage{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.HasMore = true
		page.NextCursor = cursorOf(page.Items[limit-1]).Encode()
	}
	if page.Items == nil {
		page.Items = []*models.ReviewItem{}
	}
	page.TotalPending, err = s.store.Count(ctx, "", models.ReviewPending)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyUnavailable, op, err)
	}
	return page, nil
}

// Stats 返回各状态的数量，以及分配给 reviewer 且未完成的数量。
func (s *Service) Stats(ctx context.Context, reviewer string) (*models.ReviewStats, error) {
	const op = "review.Stats"
	st := &models.ReviewStats{Counts: make(map[models.ReviewStatus]int64, len(models.AllReviewStatuses))}
	for _, status := range models.AllReviewStatuses {
		n, err := s.store.Count(ctx, "", status)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindDependencyUnavailable, op, err)
		}
		st.Counts[status] = n
	}
	if reviewer != "" {
		n, err := s.store.Count(ctx, reviewer, models.ReviewPending, models.ReviewInReview)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindDependencyUnavailable, op, err)
		}
		st.MyAssigned = n
	}
	return st, nil
}
