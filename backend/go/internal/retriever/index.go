package retriever

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	"factforge/backend/go/internal/database/milvus"
)

// MilvusIndex 把 Milvus 证据集合适配为 VectorIndex。
type MilvusIndex struct {
	client *milvus.MilvusClient
}

// NewMilvusIndex 创建 MilvusIndex。
func NewMilvusIndex(c *milvus.MilvusClient) *MilvusIndex {
	return &MilvusIndex{client: c}
}

// Search 执行余弦相似度检索。
func (m *MilvusIndex) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	res, err := m.client.Search(ctx, vector, k)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, len(res))
	for i, h := range res {
		hits[i] = Hit{ID: h.EvidenceID, Similarity: float64(h.Score)}
	}
	return hits, nil
}

// Upsert 写入单条证据向量。
func (m *MilvusIndex) Upsert(ctx context.Context, id, language string, vector []float32) error {
	return m.client.Upsert(ctx, []string{id}, []string{language}, [][]float32{vector})
}

// MemoryIndex 是暴力余弦检索的内存索引，用于开发和测试。
type MemoryIndex struct {
	mu      sync.RWMutex
	vectors map[string][]float32
	err     error
}

// NewMemoryIndex 创建空的内存索引。
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{vectors: make(map[string][]float32)}
}

// Upsert 写入或覆盖一条向量。
func (m *MemoryIndex) Upsert(_ context.Context, id, _ string, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors[id] = append([]float32(nil), vector...)
	return nil
}

// FailWith 让后续检索返回 err，nil 表示恢复。
func (m *MemoryIndex) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Search 返回余弦相似度最高的 k 条。
func (m *MemoryIndex) Search(_ context.Context, vector []float32, k int) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	hits := make([]Hit, 0, len(m.vectors))
	for id, v := range m.vectors {
		sim, err := cosine(vector, v)
		if err != nil {
			return nil, err
		}
		hits = append(hits, Hit{ID: id, Similarity: sim})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

var errDimMismatch = errors.New("vector dimension mismatch")

func cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, errDimMismatch
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}
