package llm

import (
	"context"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
)

// Anthropic 是 Claude Messages API 的客户端。
type Anthropic struct {
	name   string
	client *anthropic.Client
	model  string
}

// NewAnthropic 创建 Claude 客户端。
func NewAnthropic(name, model, apiKey, baseURL string) *Anthropic {
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return &Anthropic{name: name, client: anthropic.NewClient(apiKey, opts...), model: model}
}

// Name 返回提供方名称。
func (a *Anthropic) Name() string { return a.name }

// Generate 发送单轮用户消息。
func (a *Anthropic) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := a.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(a.model),
		MaxTokens: 1024,
		Messages: []anthropic.Message{
			{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(prompt)},
			},
		},
	})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, c := range resp.Content {
		if c.Text != nil {
			sb.WriteString(*c.Text)
		}
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}
