package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/eatchicken1/frequency-ai-engine/internal/dashscope"
	apperrors "github.com/eatchicken1/frequency-ai-engine/internal/errors"
)

// DashScopeEmbedder 使用DashScope原生text-embedding接口
type DashScopeEmbedder struct {
	service    *dashscope.Service
	model      string
	dimensions int
	batchSize  int
}

// NewDashScopeEmbedder 创建DashScope嵌入向量生成器
func NewDashScopeEmbedder(service *dashscope.Service, model string, batchSize int) Embedder {
	if service == nil || !service.Ready() {
		return &NoopEmbedder{}
	}

	// 默认模型
	if model == "" {
		model = "text-embedding-v1"
	}

	return &DashScopeEmbedder{
		service:    service,
		model:      model,
		dimensions: dimensionsFor(model),
		batchSize:  batchSize,
	}
}

func (e *DashScopeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return embedInBatches(ctx, texts, e.batchSize, func(ctx context.Context, batch []string) ([][]float32, error) {
		return e.embed(ctx, batch, dashscope.TextTypeDocument)
	})
}

func (e *DashScopeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embed(ctx, []string{text}, dashscope.TextTypeQuery)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *DashScopeEmbedder) embed(ctx context.Context, texts []string, textType string) ([][]float32, error) {
	resp, err := e.service.TextEmbedding(ctx, dashscope.TextEmbeddingRequest{
		Model:      e.model,
		Input:      dashscope.TextEmbeddingInput{Texts: texts},
		Parameters: dashscope.TextEmbeddingParameters{TextType: textType},
	})
	if err != nil {
		var apiErr *dashscope.APIError
		if errors.As(err, &apiErr) {
			return nil, apperrors.NewEmbeddingBackendError(apiErr.Code, apiErr.Message).
				WithDetails(apperrors.EmbeddingBackendDetails{
					BackendCode:    apiErr.Code,
					BackendMessage: apiErr.Message,
					RequestID:      apiErr.RequestID,
				}).
				WithCause(err)
		}
		return nil, apperrors.NewEmbeddingBackendError("REQUEST_FAILED", err.Error()).WithCause(err)
	}

	// 转换float64到float32，并按 text_index 还原输入顺序
	items := make([]indexedEmbedding, 0, len(resp.Output.Embeddings))
	for _, item := range resp.Output.Embeddings {
		vector := make([]float32, len(item.Embedding))
		for i, v := range item.Embedding {
			vector[i] = float32(v)
		}
		items = append(items, indexedEmbedding{index: item.TextIndex, vector: vector})
	}

	vectors, err := orderByIndex(items, len(texts))
	if err != nil {
		return nil, fmt.Errorf("dashscope request %s: %w", resp.RequestID, err)
	}
	return vectors, nil
}

func (e *DashScopeEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *DashScopeEmbedder) Ready() bool {
	return e.service != nil && e.service.Ready()
}
