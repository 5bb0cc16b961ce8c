package retriever

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"factforge/backend/go/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EvidenceRecord 是证据表 evidence 的 GORM 模型。
type EvidenceRecord struct {
	ID            string    `gorm:"primaryKey;size:64"`
	URL           string    `gorm:"size:2048;not null"`
	Title         string    `gorm:"size:512"`
	PublishedDate time.Time `gorm:"index"`
	Summary       string    `gorm:"type:text"`
	FoundBy       string    `gorm:"size:16"`
	ScreenshotRef string    `gorm:"size:512"`
	Label         string    `gorm:"size:32"`
	Language      string    `gorm:"size:8;index"`
	Tags          datatypes.JSON
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TableName 固定表名。
func (EvidenceRecord) TableName() string { return "evidence" }

// ToModel 转换为领域模型。
func (r EvidenceRecord) ToModel() models.Evidence {
	label, _ := models.ParseVerdict(r.Label)
	return models.Evidence{
		ID:            r.ID,
		URL:           r.URL,
		Title:         r.Title,
		PublishedDate: r.PublishedDate.UTC(),
		Summary:       r.Summary,
		FoundBy:       models.FoundBy(r.FoundBy),
		ScreenshotRef: r.ScreenshotRef,
		Label:         label,
		Language:      r.Language,
	}
}

// RecordFromModel 从领域模型构造记录。
func RecordFromModel(e models.Evidence, tags []string) (EvidenceRecord, error) {
	rec := EvidenceRecord{
		ID:            e.ID,
		URL:           e.URL,
		Title:         e.Title,
		PublishedDate: e.PublishedDate,
		Summary:       e.Summary,
		FoundBy:       string(e.FoundBy),
		ScreenshotRef: e.ScreenshotRef,
		Label:         string(e.Label),
		Language:      e.Language,
	}
	if len(tags) > 0 {
		b, err := json.Marshal(tags)
		if err != nil {
			return rec, err
		}
		rec.Tags = datatypes.JSON(b)
	}
	return rec, nil
}

// GormEvidenceStore 从 MySQL 证据表读取元数据。
type GormEvidenceStore struct {
	db *gorm.DB
}

// NewGormEvidenceStore 创建 GormEvidenceStore。
func NewGormEvidenceStore(db *gorm.DB) *GormEvidenceStore {
	return &GormEvidenceStore{db: db}
}

// GetMany 批量读取证据。
func (s *GormEvidenceStore) GetMany(ctx context.Context, ids []string) (map[string]models.Evidence, error) {
	var rows []EvidenceRecord
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("读取证据元数据失败: %w", err)
	}
	out := make(map[string]models.Evidence, len(rows))
	for _, r := range rows {
		out[r.ID] = r.ToModel()
	}
	return out, nil
}

// Save 写入或更新一条证据。
func (s *GormEvidenceStore) Save(ctx context.Context, e models.Evidence, tags []string) error {
	rec, err := RecordFromModel(e, tags)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Save(&rec).Error
}

// MemoryEvidenceStore 是内存证据库，用于开发和测试。
type MemoryEvidenceStore struct {
	mu   sync.RWMutex
	docs map[string]models.Evidence
	err  error
}

// NewMemoryEvidenceStore 创建内存证据库。
func NewMemoryEvidenceStore(docs ...models.Evidence) *MemoryEvidenceStore {
	s := &MemoryEvidenceStore{docs: make(map[string]models.Evidence)}
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return s
}

// Save 写入一条证据。
func (s *MemoryEvidenceStore) Save(_ context.Context, e models.Evidence, _ []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[e.ID] = e
	return nil
}

// FailWith 让后续读取返回 err。
func (s *MemoryEvidenceStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// GetMany 批量读取证据。
func (s *MemoryEvidenceStore) GetMany(_ context.Context, ids []string) (map[string]models.Evidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]models.Evidence, len(ids))
	for _, id := range ids {
		if d, ok := s.docs[id]; ok {
			out[id] = d
		}
	}
	return out, nil
}
