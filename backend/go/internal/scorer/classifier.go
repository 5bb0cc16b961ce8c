package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"factforge/backend/go/internal/config"
	"factforge/backend/go/pkg/circuitbreaker"
	fchttp "factforge/backend/go/pkg/http"
)

type classifyRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

type classifyResponse struct {
	Score        float64 `json:"score"`
	ModelVersion string  `json:"model_version"`
}

// HTTPClassifier 调用外部推理服务，带单次超时和熔断器。
type HTTPClassifier struct {
	endpoint string
	timeout  time.Duration
	client   *fchttp.Client

	mu      sync.RWMutex
	version string
}

// NewHTTPClassifier 根据配置创建分类器客户端。endpoint 为空时返回 nil。
func NewHTTPClassifier(cfg config.ClassifierConfig) *HTTPClassifier {
	if cfg.Endpoint == "" {
		return nil
	}
	timeout := config.Duration(cfg.Timeout, 300*time.Millisecond)
	return &HTTPClassifier{
		endpoint: cfg.Endpoint,
		version:  cfg.ModelVersion,
		timeout:  timeout,
		client:   fchttp.NewClient("classifier", timeout, cfg.CircuitBreaker),
	}
}

// ModelVersion 返回模型版本。服务端返回的版本优先。
func (c *HTTPClassifier) ModelVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Healthy 报告熔断器是否允许调用。
func (c *HTTPClassifier) Healthy() bool {
	return c.client.Breaker().State() != circuitbreaker.Open
}

// Classify 请求推理服务并返回可疑度。
func (c *HTTPClassifier) Classify(ctx context.Context, text, lang string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(classifyRequest{Text: text, Language: lang})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return 0, fmt.Errorf("classifier request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("classifier returned status %d", resp.StatusCode)
	}

	var out classifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode classifier response: %w", err)
	}
	if out.Score < 0 || out.Score > 1 {
		return 0, fmt.Errorf("classifier score %v out of range", out.Score)
	}
	if out.ModelVersion != "" {
		c.mu.Lock()
		c.version = out.ModelVersion
		c.mu.Unlock()
	}
	return out.Score, nil
}
