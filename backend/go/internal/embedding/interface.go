package embedding

import "context"

// Embedding 定义了所有 embedding 模型需要实现的接口。
type Embedding interface {
	// Embed 为单个文本生成嵌入向量。
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch 为一批文本生成嵌入向量，返回顺序与输入一致。
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Name 返回 "提供商/模型"，用于区分缓存命名空间。
	Name() string
}

// ModelType 是一个枚举类型，用于表示不同的模型厂商。
type ModelType string

const (
	OpenAI ModelType = "openai" // OpenAI 兼容接口。
	Google ModelType = "gemini" // Google GenAI。
	Ollama ModelType = "ollama" // 本地 Ollama。
)
