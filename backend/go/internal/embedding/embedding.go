package embedding

import (
	"context"
	"fmt"

	"factforge/backend/go/internal/config"
)

// New 根据配置创建 Embedding 模型实例。
//
// 参数:
//
//	ctx: 用于初始化远程客户端的上下文。
//	cfg: Embedding 配置 (提供商、模型、API 密钥、服务地址)。
//
// 返回值:
//
//	Embedding: 新创建的 Embedding 模型实例。
//	error: 如果提供商不支持或模型初始化失败，则返回错误。
func New(ctx context.Context, cfg config.EmbeddingConfig) (Embedding, error) {
	switch ModelType(cfg.Provider) {
	case Google:
		return NewGoogleModel(ctx, cfg.APIKey, cfg.Model)
	case OpenAI:
		return NewOpenAIModel(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case Ollama:
		return NewOllamaModel(cfg.Model, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}
