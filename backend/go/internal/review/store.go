package review

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"factforge/backend/go/internal/apperr"
	"factforge/backend/go/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Cursor 是列表分页位置：上一页最后一条的排序键。
type Cursor struct {
	Priority  int       `json:"p"`
	CreatedAt time.Time `json:"c"`
	ID        string    `json:"i"`
}

// Encode 编码为不透明字符串。
func (c Cursor) Encode() string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeCursor 解析 Encode 的输出，空字符串返回 nil。
func DecodeCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, apperr.Validation("review.DecodeCursor", "cursor 无效")
	}
	var c Cursor
	if err := json.Unmarshal(b, &c); err != nil || c.ID == "" {
		return nil, apperr.Validation("review.DecodeCursor", "cursor 无效")
	}
	return &c, nil
}

func cursorOf(it *models.ReviewItem) Cursor {
	return Cursor{Priority: it.Priority, CreatedAt: it.CreatedAt, ID: it.ID}
}

// before 判断 it 在队列顺序中是否排在 c 之后（优先级降序，时间升序，ID 升序）。
func (c Cursor) before(it *models.ReviewItem) bool {
	if it.Priority != c.Priority {
		return it.Priority < c.Priority
	}
	if !it.CreatedAt.Equal(c.CreatedAt) {
		return it.CreatedAt.After(c.CreatedAt)
	}
	return it.ID > c.ID
}

// Filter 是列表查询条件，零值字段不过滤。
type Filter struct {
	Status     models.ReviewStatus
	AssignedTo string
	After      *Cursor
	Limit      int
}

// Store 是复核条目的持久化接口。
type Store interface {
	// Insert 在 request_id 已存在时返回 Conflict。
	Insert(ctx context.Context, it *models.ReviewItem) error
	// Get 在条目不存在时返回 NotFound。
	Get(ctx context.Context, id string) (*models.ReviewItem, error)
	// CompareAndSwap 仅当存储中的版本等于 expected 时用 it 整体替换，否则返回 Conflict。
	CompareAndSwap(ctx context.Context, it *models.ReviewItem, expected int64) error
	// List 按队列顺序返回最多 f.Limit 条。
	List(ctx context.Context, f Filter) ([]*models.ReviewItem, error)
	// Count 统计满足条件的条目数，statuses 为空表示全部状态。
	Count(ctx context.Context, assignedTo string, statuses ...models.ReviewStatus) (int64, error)
}

func less(a, b *models.ReviewItem) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// MemoryStore 是内存实现，用于开发和测试。
type MemoryStore struct {
	mu        sync.Mutex
	items     map[string]*models.ReviewItem
	byRequest map[string]string
	// beforeSwap 在 CompareAndSwap 比较版本之前调用，测试用它制造竞争。
	beforeSwap func()
}

// NewMemoryStore 创建内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*models.ReviewItem), byRequest: make(map[string]string)}
}

func clone(it *models.ReviewItem) *models.ReviewItem {
	c := *it
	if it.Scores.Classifier != nil {
		v := *it.Scores.Classifier
		c.Scores.Classifier = &v
	}
	return &c
}

// Insert 插入新条目。
func (m *MemoryStore) Insert(_ context.Context, it *models.ReviewItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.byRequest[it.RequestID]; dup {
		return apperr.New(apperr.KindConflict, "review.Insert", "请求 %s 已在复核队列中", it.RequestID)
	}
	m.items[it.ID] = clone(it)
	m.byRequest[it.RequestID] = it.ID
	return nil
}

// Get 读取条目副本。
func (m *MemoryStore) Get(_ context.Context, id string) (*models.ReviewItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "review.Get", "复核条目 %s 不存在", id)
	}
	return clone(it), nil
}

// CompareAndSwap 按版本替换。
func (m *MemoryStore) CompareAndSwap(_ context.Context, it *models.ReviewItem, expected int64) error {
	if m.beforeSwap != nil {
		m.beforeSwap()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[it.ID]
	if !ok {
		return apperr.New(apperr.KindNotFound, "review.CompareAndSwap", "复核条目 %s 不存在", it.ID)
	}
	if cur.Version != expected {
		return apperr.New(apperr.KindConflict, "review.CompareAndSwap", "复核条目 %s 已被修改", it.ID)
	}
	m.items[it.ID] = clone(it)
	return nil
}

// List 按队列顺序列出。
func (m *MemoryStore) List(_ context.Context, f Filter) ([]*models.ReviewItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ReviewItem
	for _, it := range m.items {
		if f.Status != "" && it.Status != f.Status {
			continue
		}
		if f.AssignedTo != "" && it.AssignedTo != f.AssignedTo {
			continue
		}
		if f.After != nil && !f.After.before(it) {
			continue
		}
		out = append(out, clone(it))
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Count 统计条目数。
func (m *MemoryStore) Count(_ context.Context, assignedTo string, statuses ...models.ReviewStatus) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, it := range m.items {
		if assignedTo != "" && it.AssignedTo != assignedTo {
			continue
		}
		if len(statuses) > 0 && !hasStatus(statuses, it.Status) {
			continue
		}
		n++
	}
	return n, nil
}

func hasStatus(list []models.ReviewStatus, s models.ReviewStatus) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// MongoStore 把复核条目存放在 MongoDB 集合中，依赖 request_id 唯一索引。
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore 创建 MongoStore。
func NewMongoStore(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll}
}

// Insert 插入新条目。
func (s *MongoStore) Insert(ctx context.Context, it *models.ReviewItem) error {
	_, err := s.coll.InsertOne(ctx, it)
	if mongo.IsDuplicateKeyError(err) {
		return apperr.New(apperr.KindConflict, "review.Insert", "请求 %s 已在复核队列中", it.RequestID)
	}
	return err
}

// Get 读取条目。
func (s *MongoStore) Get(ctx context.Context, id string) (*models.ReviewItem, error) {
	var it models.ReviewItem
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&it)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.New(apperr.KindNotFound, "review.Get", "复核条目 %s 不存在", id)
	}
	if err != nil {
		return nil, err
	}
	normalize(&it)
	return &it, nil
}

// CompareAndSwap 以 {_id, version} 为条件替换文档。
func (s *MongoStore) CompareAndSwap(ctx context.Context, it *models.ReviewItem, expected int64) error {
	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": it.ID, "version": expected}, it)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		n, err := s.coll.CountDocuments(ctx, bson.M{"_id": it.ID})
		if err == nil && n == 0 {
			return apperr.New(apperr.KindNotFound, "review.CompareAndSwap", "复核条目 %s 不存在", it.ID)
		}
		return apperr.New(apperr.KindConflict, "review.CompareAndSwap", "复核条目 %s 已被修改", it.ID)
	}
	return nil
}

// List 按队列顺序列出。
func (s *MongoStore) List(ctx context.Context, f Filter) ([]*models.ReviewItem, error) {
	filter := bson.M{}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if f.AssignedTo != "" {
		filter["assigned_to"] = f.AssignedTo
	}
	if c := f.After; c != nil {
		filter["$or"] = bson.A{
			bson.M{"priority": bson.M{"$lt": c.Priority}},
			bson.M{"priority": c.Priority, "created_at": bson.M{"$gt": c.CreatedAt}},
			bson.M{"priority": c.Priority, "created_at": c.CreatedAt, "_id": bson.M{"$gt": c.ID}},
		}
	}
	opts := options.Find().SetSort(bson.D{
		{Key: "priority", Value: -1},
		{Key: "created_at", Value: 1},
		{Key: "_id", Value: 1},
	})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*models.ReviewItem
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	for _, it := range out {
		normalize(it)
	}
	return out, nil
}

// Count 统计条目数。
func (s *MongoStore) Count(ctx context.Context, assignedTo string, statuses ...models.ReviewStatus) (int64, error) {
	filter := bson.M{}
	if assignedTo != "" {
		filter["assigned_to"] = assignedTo
	}
	if len(statuses) > 0 {
		filter["status"] = bson.M{"$in": statuses}
	}
	return s.coll.CountDocuments(ctx, filter)
}

func normalize(it *models.ReviewItem) {
	it.CreatedAt = it.CreatedAt.UTC()
	it.UpdatedAt = it.UpdatedAt.UTC()
}
