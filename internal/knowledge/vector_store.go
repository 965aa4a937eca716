package knowledge

import (
	"context"
	"fmt"

	apperrors "github.com/eatchicken1/frequency-ai-engine/internal/errors"
)

// VectorStore 向量存储抽象，过滤语法只在各实现内部构造
type VectorStore interface {
	// Init 惰性建立连接并确保索引/集合存在，成功后重复调用无副作用
	Init(ctx context.Context) error
	// AddPassages 向量化并写入段落，不保证跨段落原子性
	AddPassages(ctx context.Context, passages []Passage) error
	// SimilaritySearch 按相关度降序返回段落，filter.EchoID 必填
	SimilaritySearch(ctx context.Context, vector []float32, k int, filter TenantFilter) ([]Passage, error)
	// DeleteByPredicate 删除元数据匹配的所有段落，返回删除数量（-1 表示未知）
	DeleteByPredicate(ctx context.Context, predicate DeletePredicate) (int64, error)
	Name() string
	Ready() bool
}

// embedPassages 批量向量化段落文本，数量不一致视为后端错误
func embedPassages(ctx context.Context, embedder Embedder, passages []Passage) ([][]float32, error) {
	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
	}
	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(passages) {
		return nil, apperrors.NewEmbeddingBackendError("INVALID_RESPONSE",
			fmt.Sprintf("expected %d embeddings, got %d", len(passages), len(vectors)))
	}
	return vectors, nil
}

// tenantMetadata 段落中需要单独建索引的字段
type tenantMetadata struct {
	UserID         string
	EchoID         string
	SourceName     string
	ContentHash    string
	KnowledgeID    int64
	HasKnowledgeID bool
	Extra          map[string]interface{}
}

// splitMetadata 拆出租户字段，其余字段作为附加元数据原样保存
func splitMetadata(metadata map[string]interface{}) tenantMetadata {
	var m tenantMetadata
	m.Extra = make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		switch k {
		case MetaUserID:
			m.UserID = fmt.Sprint(v)
		case MetaEchoID:
			m.EchoID = fmt.Sprint(v)
		case MetaSourceName:
			m.SourceName = fmt.Sprint(v)
		case MetaContentHash:
			m.ContentHash = fmt.Sprint(v)
		case MetaKnowledgeID:
			if id, ok := toInt64(v); ok {
				m.KnowledgeID = id
				m.HasKnowledgeID = true
			} else {
				m.Extra[k] = v
			}
		default:
			m.Extra[k] = v
		}
	}
	return m
}

// merge 还原为完整元数据
func (m tenantMetadata) merge() map[string]interface{} {
	out := make(map[string]interface{}, len(m.Extra)+5)
	for k, v := range m.Extra {
		out[k] = v
	}
	out[MetaUserID] = m.UserID
	out[MetaEchoID] = m.EchoID
	out[MetaSourceName] = m.SourceName
	out[MetaContentHash] = m.ContentHash
	if m.HasKnowledgeID {
		out[MetaKnowledgeID] = m.KnowledgeID
	}
	return out
}
