package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	olla "github.com/ollama/ollama/api"
)

// Ollama 是一个用于本地 Ollama 服务的客户端。
type Ollama struct {
	name   string
	client *olla.Client
	model  string
}

// NewOllama 创建一个新的 Ollama 客户端。
// 如果 baseURL 为空，则默认为 "http://localhost:11434"。
// 超时由调用方的 context 控制。
func NewOllama(name, model, baseURL string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	return &Ollama{name: name, client: olla.NewClient(parsedURL, &http.Client{}), model: model}, nil
}

// Name 返回提供方名称。
func (o *Ollama) Name() string { return o.name }

// Generate 以非流式方式生成内容。
func (o *Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	stream := false
	var sb strings.Builder
	err := o.client.Generate(ctx, &olla.GenerateRequest{
		Model:   o.model,
		Prompt:  prompt,
		Stream:  &stream,
		Format:  json.RawMessage(`"json"`),
		Options: map[string]interface{}{"temperature": 0.2},
	}, func(resp olla.GenerateResponse) error {
		sb.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate content with ollama: %w", err)
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}
