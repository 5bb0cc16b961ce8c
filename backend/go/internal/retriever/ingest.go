package retriever

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"factforge/backend/go/internal/embedding"
	"factforge/backend/go/internal/models"
)

// VectorWriter 写入证据向量。
type VectorWriter interface {
	Upsert(ctx context.Context, id, language string, vector []float32) error
}

// EvidenceWriter 写入证据元数据。
type EvidenceWriter interface {
	Save(ctx context.Context, e models.Evidence, tags []string) error
}

// Ingester 把新证据写入语料库：先写元数据，再写向量。
// 向量写入失败时元数据仍然保留，检索不会命中它，重放即可修复。
type Ingester struct {
	embedder embedding.Embedding
	vectors  VectorWriter
	docs     EvidenceWriter
}

// NewIngester 创建 Ingester。
func NewIngester(embedder embedding.Embedding, vectors VectorWriter, docs EvidenceWriter) *Ingester {
	return &Ingester{embedder: embedder, vectors: vectors, docs: docs}
}

// Ingest 嵌入 title + summary 并写入语料库。
func (in *Ingester) Ingest(ctx context.Context, e models.Evidence, tags []string) error {
	if e.ID == "" || e.URL == "" {
		return errors.New("证据缺少 id 或 url")
	}
	text := strings.TrimSpace(e.Title + "\n" + e.Summary)
	if text == "" {
		return fmt.Errorf("证据 %s 没有可嵌入的文本", e.ID)
	}
	if err := in.docs.Save(ctx, e, tags); err != nil {
		return fmt.Errorf("保存证据 %s: %w", e.ID, err)
	}
	vec, err := in.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("嵌入证据 %s: %w", e.ID, err)
	}
	if err := in.vectors.Upsert(ctx, e.ID, e.Language, vec); err != nil {
		return fmt.Errorf("写入证据向量 %s: %w", e.ID, err)
	}
	return nil
}
