package audit

import (
	"context"
	"errors"
	"sort"
	"sync"

	"factforge/backend/go/internal/apperr"
	"factforge/backend/go/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MemoryStore 是内存实现，用于开发和测试。
type MemoryStore struct {
	mu      sync.RWMutex
	entries []models.AuditEntry
	byID    map[string]int
	err     error
}

// NewMemoryStore 创建内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]int)}
}

// FailWith 让后续写入返回 err。
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Tamper 直接修改已存储的 payload，只用于测试。
func (m *MemoryStore) Tamper(id string, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.byID[id]; ok {
		m.entries[i].Payload = payload
	}
}

// Insert 追加条目。
func (m *MemoryStore) Insert(_ context.Context, e models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, dup := m.byID[e.ID]; dup {
		return errors.New("duplicate audit id")
	}
	e.Payload = append([]byte(nil), e.Payload...)
	m.byID[e.ID] = len(m.entries)
	m.entries = append(m.entries, e)
	return nil
}

// Get 读取条目。
func (m *MemoryStore) Get(_ context.Context, id string) (models.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.byID[id]
	if !ok {
		return models.AuditEntry{}, apperr.New(apperr.KindNotFound, "audit.Get", "审计条目 %s 不存在", id)
	}
	return m.entries[i], nil
}

// List 按时间降序列出。
func (m *MemoryStore) List(_ context.Context, eventType string, limit, offset int) ([]models.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []models.AuditEntry
	for _, e := range m.entries {
		if eventType == "" || e.EventType == eventType {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	if offset >= len(matched) {
		return []models.AuditEntry{}, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Len 返回条目数。
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// MongoStore 把审计条目存放在 MongoDB 集合中。
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore 创建 MongoStore。
func NewMongoStore(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll}
}

// Insert 插入条目。
func (s *MongoStore) Insert(ctx context.Context, e models.AuditEntry) error {
	_, err := s.coll.InsertOne(ctx, e)
	return err
}

// Get 按 ID 读取。
func (s *MongoStore) Get(ctx context.Context, id string) (models.AuditEntry, error) {
	var e models.AuditEntry
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&e)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return e, apperr.New(apperr.KindNotFound, "audit.Get", "审计条目 %s 不存在", id)
	}
	if err != nil {
		return e, err
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

// List 按时间降序列出。
func (s *MongoStore) List(ctx context.Context, eventType string, limit, offset int) ([]models.AuditEntry, error) {
	filter := bson.M{}
	if eventType != "" {
		filter["event_type"] = eventType
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []models.AuditEntry{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].CreatedAt = out[i].CreatedAt.UTC()
	}
	return out, nil
}
