package llm

import (
	"context"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini 是一个实现了 Provider 接口的结构体，用于与 Gemini API 交互。
type Gemini struct {
	name   string
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini 创建一个新的 Gemini 客户端。
//
// 模型被要求以 JSON 返回，温度固定得较低，使同一输入的结论尽量稳定。
func NewGemini(ctx context.Context, name, model, apiKey string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	gm := client.GenerativeModel(model)
	gm.SetTemperature(0.2)
	gm.ResponseMIMEType = "application/json"
	return &Gemini{name: name, client: client, model: gm}, nil
}

// Name 返回提供方名称。
func (g *Gemini) Name() string { return g.name }

// Generate 向 Gemini 发送一次无状态请求。
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		break
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}

// Close 关闭底层 gRPC 连接。
func (g *Gemini) Close() error { return g.client.Close() }
