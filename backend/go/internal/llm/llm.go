// Package llm 封装了各家大模型的文本生成接口。
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"factforge/backend/go/internal/config"
)

// 支持的提供方类型。
const (
	TypeGemini    = "gemini"
	TypeOpenAI    = "openai"
	TypeAnthropic = "anthropic"
	TypeOllama    = "ollama"
)

// ErrEmptyResponse 表示模型没有返回任何文本。
var ErrEmptyResponse = errors.New("llm: empty response")

// Provider 定义了所有大模型客户端必须实现的通用接口。
type Provider interface {
	// Name 返回配置中的提供方名称，例如 "gemini"。
	Name() string
	// Generate 发送一次提示并返回模型的完整文本输出。
	Generate(ctx context.Context, prompt string) (string, error)
}

// Closer 由持有长连接的提供方实现。
type Closer interface {
	Close() error
}

// Func 把一个函数适配为 Provider，主要用于测试和本地调试。
type Func struct {
	ProviderName string
	Fn           func(ctx context.Context, prompt string) (string, error)
}

// Name 返回提供方名称。
func (f Func) Name() string { return f.ProviderName }

// Generate 调用 Fn。
func (f Func) Generate(ctx context.Context, prompt string) (string, error) {
	return f.Fn(ctx, prompt)
}

// NewClient 根据单个提供方配置创建客户端。
func NewClient(ctx context.Context, cfg config.ProviderConfig) (Provider, error) {
	switch strings.ToLower(cfg.Type) {
	case TypeGemini:
		return NewGemini(ctx, cfg.Name, cfg.Model, cfg.APIKey)
	case TypeOpenAI:
		return NewOpenAI(cfg.Name, cfg.Model, cfg.APIKey, cfg.BaseURL), nil
	case TypeAnthropic, "claude":
		return NewAnthropic(cfg.Name, cfg.Model, cfg.APIKey, cfg.BaseURL), nil
	case TypeOllama, "local":
		return NewOllama(cfg.Name, cfg.Model, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unsupported LLM provider type %q for %s", cfg.Type, cfg.Name)
	}
}

// NewClients 按配置顺序创建全部提供方。任一失败时关闭已创建的客户端。
func NewClients(ctx context.Context, cfgs []config.ProviderConfig) ([]Provider, error) {
	out := make([]Provider, 0, len(cfgs))
	for _, c := range cfgs {
		p, err := NewClient(ctx, c)
		if err != nil {
			CloseAll(out)
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// CloseAll 关闭实现了 Closer 的提供方。
func CloseAll(providers []Provider) {
	for _, p := range providers {
		if c, ok := p.(Closer); ok {
			_ = c.Close()
		}
	}
}
