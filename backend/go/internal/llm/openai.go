package llm

import (
	"context"
	"fmt"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAI 是一个用于 OpenAI 兼容 API 的客户端。
type OpenAI struct {
	name   string
	client *openai.Client
	model  string
}

// NewOpenAI 创建一个新的 OpenAI 客户端。baseURL 为空时使用官方地址。
func NewOpenAI(name, model, apiKey, baseURL string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{name: name, client: openai.NewClientWithConfig(cfg), model: model}
}

// Name 返回提供方名称。
func (o *OpenAI) Name() string { return o.name }

// Generate 使用 Chat Completions 生成内容。
func (o *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, o.chatRequest(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// chatRequest 构造请求。温度设低以便相同输入得到稳定的结论。
func (o *OpenAI) chatRequest(prompt string) openai.ChatCompletionRequest {
	temperature := float32(0.2)
	return openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: &temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
}
