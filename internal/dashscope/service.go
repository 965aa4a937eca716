package dashscope

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://dashscope.aliyuncs.com"

	textEmbeddingPath = "/api/v1/services/embeddings/text-embedding/text-embedding"
)

// 文本类型，document 用于入库，query 用于检索
const (
	TextTypeDocument = "document"
	TextTypeQuery    = "query"
)

// Service DashScope原生接口客户端
type Service struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// Option 服务可选项
type Option func(*Service)

// WithBaseURL 替换接口地址（私有化部署或测试）
func WithBaseURL(baseURL string) Option {
	return func(s *Service) {
		if baseURL != "" {
			s.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient 替换HTTP客户端
func WithHTTPClient(client *http.Client) Option {
	return func(s *Service) {
		if client != nil {
			s.client = client
		}
	}
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// TextEmbeddingRequest 文本向量化请求
type TextEmbeddingRequest struct {
	Model      string                  `json:"model"`
	Input      TextEmbeddingInput      `json:"input"`
	Parameters TextEmbeddingParameters `json:"parameters,omitempty"`
}

type TextEmbeddingInput struct {
	Texts []string `json:"texts"`
}

type TextEmbeddingParameters struct {
	TextType string `json:"text_type,omitempty"`
}

// TextEmbeddingResponse 文本向量化响应，embeddings 不保证与输入同序
type TextEmbeddingResponse struct {
	Output    TextEmbeddingOutput `json:"output"`
	Usage     TextEmbeddingUsage  `json:"usage"`
	RequestID string              `json:"request_id"`
}

type TextEmbeddingOutput struct {
	Embeddings []TextEmbeddingItem `json:"embeddings"`
}

type TextEmbeddingItem struct {
	TextIndex int       `json:"text_index"`
	Embedding []float64 `json:"embedding"`
}

type TextEmbeddingUsage struct {
	TotalTokens int `json:"total_tokens"`
}

// APIError DashScope API错误
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	RequestID  string `json:"request_id"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("DashScope API错误: %s (code: %s, status: %d, request_id: %s)",
		e.Message, e.Code, e.StatusCode, e.RequestID)
}

// NewService 创建DashScope服务
func NewService(apiKey string, opts ...Option) *Service {
	s := &Service{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: DefaultBaseURL,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TextEmbedding 调用文本向量化接口，不做重试
func (s *Service) TextEmbedding(ctx context.Context, req TextEmbeddingRequest) (*TextEmbeddingResponse, error) {
	if !s.Ready() {
		return nil, fmt.Errorf("DashScope service not initialized")
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+textEmbeddingPath, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("API调用失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = http.StatusText(resp.StatusCode)
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return nil, apiErr
	}

	var embeddingResp TextEmbeddingResponse
	if err := json.Unmarshal(body, &embeddingResp); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}

	s.logger.Debug("DashScope TextEmbedding success",
		zap.String("model", req.Model),
		zap.Int("input_count", len(req.Input.Texts)),
		zap.Int("total_tokens", embeddingResp.Usage.TotalTokens),
		zap.String("request_id", embeddingResp.RequestID))

	return &embeddingResp, nil
}

// Ready 检查服务是否就绪
func (s *Service) Ready() bool {
	return s != nil && s.client != nil && s.apiKey != ""
}
