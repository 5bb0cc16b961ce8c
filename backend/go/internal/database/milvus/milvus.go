package milvus

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"factforge/backend/go/internal/config"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

const languageField = "language"

var (
	instance *MilvusClient
	once     sync.Once
	initErr  error
)

// MilvusClient 包含了 Milvus 客户端实例和证据集合配置。
type MilvusClient struct {
	Client client.Client        // Milvus 客户端实例。
	Config *config.MilvusConfig // Milvus 配置。
}

// Hit 是一条向量检索命中。Score 是余弦相似度。
type Hit struct {
	EvidenceID string
	Score      float32
}

// GetClient 使用单例模式创建并返回一个 Milvus 客户端实例。
func GetClient(ctx context.Context, cfg *config.MilvusConfig) (*MilvusClient, error) {
	once.Do(func() {
		if cfg.Address == "" {
			initErr = fmt.Errorf("未配置 Milvus 地址")
			return
		}
		c, err := client.NewClient(ctx, client.Config{Address: cfg.Address})
		if err != nil {
			initErr = fmt.Errorf("无法连接到 Milvus: %w", err)
			return
		}
		instance = &MilvusClient{Client: c, Config: cfg}
	})
	return instance, initErr
}

// Close 安全地关闭与 Milvus 的连接。
func (c *MilvusClient) Close() error {
	if c == nil || c.Client == nil {
		return nil
	}
	return c.Client.Close()
}

// HealthCheck 检查 Milvus 连接的健康状况。
func (c *MilvusClient) HealthCheck(ctx context.Context) error {
	if c == nil || c.Client == nil {
		return fmt.Errorf("Milvus client is nil")
	}
	if _, err := c.Client.ListCollections(ctx); err != nil {
		return fmt.Errorf("Milvus health check failed: %w", err)
	}
	return nil
}

// EnsureCollection 确保证据集合存在、已建索引并已加载。
// 集合字段: evidence_id (VarChar 主键), language (VarChar), embedding (FloatVector)。
func (c *MilvusClient) EnsureCollection(ctx context.Context) error {
	cfg := c.Config
	exists, err := c.Client.HasCollection(ctx, cfg.CollectionName)
	if err != nil {
		return fmt.Errorf("检查集合是否存在时出错: %w", err)
	}
	if !exists {
		if cfg.Dim <= 0 {
			return fmt.Errorf("创建集合 '%s' 需要配置向量维度", cfg.CollectionName)
		}
		schema := entity.NewSchema().
			WithName(cfg.CollectionName).
			WithDescription("FactForge evidence embeddings").
			WithField(entity.NewField().WithName(cfg.IDField).WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(64).WithIsPrimaryKey(true)).
			WithField(entity.NewField().WithName(languageField).WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(8)).
			WithField(entity.NewField().WithName(cfg.VectorField).WithDataType(entity.FieldTypeFloatVector).
				WithDim(int64(cfg.Dim)))

		if err := c.Client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("创建集合失败: %w", err)
		}
		idx, err := c.buildIndex()
		if err != nil {
			return err
		}
		if err := c.Client.CreateIndex(ctx, cfg.CollectionName, cfg.VectorField, idx, false); err != nil {
			return fmt.Errorf("为字段 '%s' 创建索引失败: %w", cfg.VectorField, err)
		}
	}

	if err := c.Client.LoadCollection(ctx, cfg.CollectionName, false); err != nil {
		return fmt.Errorf("加载 Milvus 集合 '%s' 失败: %w", cfg.CollectionName, err)
	}
	return nil
}

// Upsert 写入或覆盖证据向量。
func (c *MilvusClient) Upsert(ctx context.Context, ids, languages []string, vectors [][]float32) error {
	if len(ids) != len(vectors) || len(ids) != len(languages) {
		return fmt.Errorf("mismatch between ids (%d), languages (%d) and vectors (%d)", len(ids), len(languages), len(vectors))
	}
	if len(ids) == 0 {
		return nil
	}
	cfg := c.Config
	_, err := c.Client.Upsert(ctx, cfg.CollectionName, "",
		entity.NewColumnVarChar(cfg.IDField, ids),
		entity.NewColumnVarChar(languageField, languages),
		entity.NewColumnFloatVector(cfg.VectorField, len(vectors[0]), vectors),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert evidence vectors into Milvus: %w", err)
	}
	return nil
}

// Search 按余弦相似度返回 topK 条命中，languages 非空时只在这些语言中检索。
func (c *MilvusClient) Search(ctx context.Context, vector []float32, topK int, languages ...string) ([]Hit, error) {
	cfg := c.Config
	sp, err := c.searchParam()
	if err != nil {
		return nil, err
	}

	var expr string
	if len(languages) > 0 {
		quoted := make([]string, len(languages))
		for i, l := range languages {
			quoted[i] = fmt.Sprintf("%q", l)
		}
		expr = fmt.Sprintf("%s in [%s]", languageField, strings.Join(quoted, ","))
	}

	results, err := c.Client.Search(
		ctx,
		cfg.CollectionName,
		nil,
		expr,
		[]string{cfg.IDField},
		[]entity.Vector{entity.FloatVector(vector)},
		cfg.VectorField,
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("在集合 '%s' 中搜索失败: %w", cfg.CollectionName, err)
	}

	var hits []Hit
	for _, res := range results {
		for i := 0; i < res.ResultCount; i++ {
			id, err := res.IDs.GetAsString(i)
			if err != nil {
				return nil, fmt.Errorf("读取检索结果 ID 失败: %w", err)
			}
			hits = append(hits, Hit{EvidenceID: id, Score: res.Scores[i]})
		}
	}
	return hits, nil
}

func (c *MilvusClient) buildIndex() (entity.Index, error) {
	switch c.Config.IndexType {
	case "", "HNSW":
		return entity.NewIndexHNSW(entity.COSINE, 16, 200)
	case "IVF_FLAT":
		return entity.NewIndexIvfFlat(entity.COSINE, 128)
	case "AUTOINDEX":
		return entity.NewIndexAUTOINDEX(entity.COSINE)
	default:
		return nil, fmt.Errorf("不支持的索引类型: %s", c.Config.IndexType)
	}
}

func (c *MilvusClient) searchParam() (entity.SearchParam, error) {
	switch c.Config.IndexType {
	case "", "HNSW":
		return entity.NewIndexHNSWSearchParam(64)
	case "IVF_FLAT":
		return entity.NewIndexIvfFlatSearchParam(c.Config.Nprobe)
	case "AUTOINDEX":
		return entity.NewIndexAUTOINDEXSearchParam(1)
	default:
		return nil, fmt.Errorf("不支持的索引类型: %s", c.Config.IndexType)
	}
}
