package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	apperrors "github.com/eatchicken1/frequency-ai-engine/internal/errors"
)

// DefaultEmbeddingBatchSize 单次请求最多携带的文本数（DashScope 上限为25）
const DefaultEmbeddingBatchSize = 25

// Embedder 定义文本向量化接口，文档和查询使用同一个模型
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Ready() bool
}

// NoopEmbedder 未配置向量化服务时的占位实现
type NoopEmbedder struct{}

func (n *NoopEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, apperrors.NewEmbeddingBackendError("NOT_CONFIGURED", "embedding provider not configured")
}

func (n *NoopEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return nil, apperrors.NewEmbeddingBackendError("NOT_CONFIGURED", "embedding provider not configured")
}

func (n *NoopEmbedder) Dimensions() int {
	return 0
}

func (n *NoopEmbedder) Ready() bool {
	return false
}

var embeddingDimensions = map[string]int{
	"text-embedding-3-large": 3072,
	"text-embedding-3-small": 1536,
	"text-embedding-ada-002": 1536,
	"text-embedding-v1":      1536,
	"text-embedding-v2":      1536,
	"text-embedding-v3":      1024,
}

func dimensionsFor(model string) int {
	if dims, ok := embeddingDimensions[model]; ok {
		return dims
	}
	return 1536
}

// indexedEmbedding 后端返回的向量及其对应的输入下标
type indexedEmbedding struct {
	index  int
	vector []float32
}

// orderByIndex 按后端返回的下标还原输入顺序，下标缺失或重复视为后端错误
func orderByIndex(items []indexedEmbedding, n int) ([][]float32, error) {
	if len(items) != n {
		return nil, apperrors.NewEmbeddingBackendError("INVALID_RESPONSE",
			fmt.Sprintf("expected %d embeddings, got %d", n, len(items)))
	}
	out := make([][]float32, n)
	for _, item := range items {
		if item.index < 0 || item.index >= n {
			return nil, apperrors.NewEmbeddingBackendError("INVALID_RESPONSE",
				fmt.Sprintf("embedding index %d out of range", item.index))
		}
		if out[item.index] != nil {
			return nil, apperrors.NewEmbeddingBackendError("INVALID_RESPONSE",
				fmt.Sprintf("duplicate embedding index %d", item.index))
		}
		out[item.index] = item.vector
	}
	return out, nil
}

// embedInBatches 按批次调用 fn，拼接结果保持输入顺序
func embedInBatches(ctx context.Context, texts []string, batchSize int, fn func(context.Context, []string) ([][]float32, error)) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = DefaultEmbeddingBatchSize
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := fn(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// OpenAIEmbedder 使用OpenAI兼容的Embedding API（含DashScope compatible-mode）
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	batchSize  int
}

// NewOpenAIEmbedder 创建OpenAI嵌入向量生成器，baseURL 为空时使用官方地址
func NewOpenAIEmbedder(apiKey, baseURL, model string, batchSize int) Embedder {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return &NoopEmbedder{}
	}
	if model == "" {
		model = "text-embedding-3-small"
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		config.BaseURL = strings.TrimRight(baseURL, "/")
	}

	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(config),
		model:      model,
		dimensions: dimensionsFor(model),
		batchSize:  batchSize,
	}
}

func (e *OpenAIEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return embedInBatches(ctx, texts, e.batchSize, e.embedBatch)
}

func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("text is empty")
	}
	vectors, err := e.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	})
	if err != nil {
		return nil, openAIBackendError(err)
	}

	items := make([]indexedEmbedding, 0, len(resp.Data))
	for _, d := range resp.Data {
		items = append(items, indexedEmbedding{index: d.Index, vector: d.Embedding})
	}
	return orderByIndex(items, len(texts))
}

func openAIBackendError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := fmt.Sprintf("%v", apiErr.Code)
		if apiErr.Code == nil {
			code = fmt.Sprintf("HTTP_%d", apiErr.HTTPStatusCode)
		}
		return apperrors.NewEmbeddingBackendError(code, apiErr.Message).WithCause(err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return apperrors.NewEmbeddingBackendError(fmt.Sprintf("HTTP_%d", reqErr.HTTPStatusCode), reqErr.Error()).WithCause(err)
	}
	return apperrors.NewEmbeddingBackendError("REQUEST_FAILED", err.Error()).WithCause(err)
}

func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *OpenAIEmbedder) Ready() bool {
	return e.client != nil
}
