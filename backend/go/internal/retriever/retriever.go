// Package retriever 从证据语料库中检索与声明最相似的 K 条证据。
package retriever

import (
	"context"
	"sort"

	"factforge/backend/go/internal/apperr"
	"factforge/backend/go/internal/embedding"
	"factforge/backend/go/internal/models"
	"factforge/backend/go/pkg/logger"
)

// Hit 是向量索引返回的一条命中。
type Hit struct {
	ID         string
	Similarity float64
}

// VectorIndex 是证据向量索引。
type VectorIndex interface {
	Search(ctx context.Context, vector []float32, k int) ([]Hit, error)
}

// EvidenceStore 按 ID 读取证据元数据。缺失的 ID 不出现在结果中。
type EvidenceStore interface {
	GetMany(ctx context.Context, ids []string) (map[string]models.Evidence, error)
}

// Retriever 编排 嵌入 → 向量检索 → 元数据补全 → 排序截断。
type Retriever struct {
	embedder      embedding.Embedding
	index         VectorIndex
	store         EvidenceStore
	topK          int
	minSimilarity float64
	log           *logger.Logger
}

// New 创建 Retriever。
func New(embedder embedding.Embedding, index VectorIndex, store EvidenceStore, topK int, minSimilarity float64, log *logger.Logger) *Retriever {
	if topK <= 0 {
		topK = 6
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Retriever{
		embedder:      embedder,
		index:         index,
		store:         store,
		topK:          topK,
		minSimilarity: minSimilarity,
		log:           log,
	}
}

// TopK 返回检索条数上限。
func (r *Retriever) TopK() int { return r.topK }

// Retrieve 返回按相似度降序排列、长度不超过 K 的证据。
// 相同相似度按发布日期降序，再按 ID 升序。
// 任一依赖失败时返回空结果和 DependencyUnavailable 错误。
func (r *Retriever) Retrieve(ctx context.Context, text string) (models.RetrievalResult, error) {
	const op = "retriever.Retrieve"
	empty := models.RetrievalResult{Items: []models.ScoredEvidence{}}

	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return empty, wrapDependency(ctx, op, err)
	}

	hits, err := r.index.Search(ctx, vec, r.topK)
	if err != nil {
		return empty, wrapDependency(ctx, op, err)
	}

	ids := make([]string, 0, len(hits))
	best := make(map[string]float64, len(hits))
	for _, h := range hits {
		if h.Similarity < r.minSimilarity {
			continue
		}
		if prev, seen := best[h.ID]; !seen {
			ids = append(ids, h.ID)
			best[h.ID] = h.Similarity
		} else if h.Similarity > prev {
			best[h.ID] = h.Similarity
		}
	}
	if len(ids) == 0 {
		return empty, nil
	}

	docs, err := r.store.GetMany(ctx, ids)
	if err != nil {
		return empty, wrapDependency(ctx, op, err)
	}

	items := make([]models.ScoredEvidence, 0, len(ids))
	for _, id := range ids {
		ev, ok := docs[id]
		if !ok {
			r.log.WithField("evidence_id", id).Warn("向量索引中的证据在语料库中不存在")
			continue
		}
		items = append(items, models.ScoredEvidence{Evidence: ev, Similarity: best[id]})
	}
	Sort(items)
	if len(items) > r.topK {
		items = items[:r.topK]
	}
	return models.RetrievalResult{Items: items}, nil
}

// Sort 按相似度降序、发布日期降序、ID 升序排序。
func Sort(items []models.ScoredEvidence) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if !a.Evidence.PublishedDate.Equal(b.Evidence.PublishedDate) {
			return a.Evidence.PublishedDate.After(b.Evidence.PublishedDate)
		}
		return a.Evidence.ID < b.Evidence.ID
	})
}

func wrapDependency(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return apperr.Wrap(apperr.KindTimeout, op, err)
	}
	return apperr.Wrap(apperr.KindDependencyUnavailable, op, err)
}
