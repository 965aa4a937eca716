package bootstrap

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eatchicken1/frequency-ai-engine/internal/config"
	apperrors "github.com/eatchicken1/frequency-ai-engine/internal/errors"
	"github.com/eatchicken1/frequency-ai-engine/internal/knowledge"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Name: "test", Port: 8000, Env: "dev"},
		Knowledge: config.KnowledgeConfig{
			Chunk:       config.ChunkConfig{Size: 500, Overlap: 100},
			Dedup:       config.DedupConfig{Provider: "memory", TTL: time.Hour},
			Search:      config.SearchConfig{DefaultLimit: 3, MaxLimit: 20},
			VectorStore: config.VectorStoreConfig{Provider: "memory", Warmup: true},
			Embedding:   config.EmbeddingConfig{Provider: "dashscope", Model: "text-embedding-v1", BatchSize: 25},
		},
		Storage: config.StorageConfig{Provider: "none"},
	}
}

func TestNew_MemoryStack(t *testing.T) {
	app, err := New(memoryConfig(), zap.NewNop())
	require.NoError(t, err)
	defer app.Shutdown()

	require.NotNil(t, app.Engine)

	// 未配置向量化Key时入库报告后端错误
	_, err = app.Engine.Ingest(context.Background(), knowledge.IngestRequest{
		UserID:     "u1",
		EchoID:     "E1",
		Content:    "天空是蓝色的",
		SourceName: "sky.txt",
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeEmbeddingBackend))
}

// runeVector 按字符哈希到固定维度，供假的向量化服务使用
func runeVector(text string) []float64 {
	vec := make([]float64, 64)
	for _, r := range text {
		h := fnv.New32a()
		_, _ = h.Write([]byte(string(r)))
		vec[h.Sum32()%64]++
	}
	return vec
}

func newFakeDashScope(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input struct {
				Texts []string `json:"texts"`
			} `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		embeddings := make([]map[string]interface{}, 0, len(req.Input.Texts))
		for i, text := range req.Input.Texts {
			embeddings = append(embeddings, map[string]interface{}{
				"text_index": i,
				"embedding":  runeVector(text),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"output":     map[string]interface{}{"embeddings": embeddings},
			"usage":      map[string]interface{}{"total_tokens": 10},
			"request_id": "req-1",
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestNew_EndToEndWithMemoryStore(t *testing.T) {
	server := newFakeDashScope(t)

	cfg := memoryConfig()
	cfg.Knowledge.Embedding.APIKey = "sk-test"
	cfg.Knowledge.Embedding.BaseURL = server.URL

	app, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer app.Shutdown()

	engine := app.Engine
	ctx := context.Background()
	require.True(t, engine.Ready())

	ingest := func(echoID, content string, metadata map[string]interface{}) *knowledge.IngestResult {
		res, err := engine.Ingest(ctx, knowledge.IngestRequest{
			UserID:     "u1",
			EchoID:     echoID,
			Content:    content,
			SourceName: "note",
			Metadata:   metadata,
		})
		require.NoError(t, err)
		return res
	}

	assert.Equal(t, knowledge.StatusSuccess, ingest("E1", "天空是蓝色的", nil).Status)
	assert.Equal(t, knowledge.StatusDuplicate, ingest("E1", "天空是蓝色的", nil).Status)
	assert.Equal(t, 1, ingest("E1", "草地是绿色的", map[string]interface{}{knowledge.MetaKnowledgeID: 7}).Chunks)
	assert.Equal(t, knowledge.StatusSuccess, ingest("E2", "天空是蓝色的", nil).Status)

	passages, err := engine.Search(ctx, knowledge.SearchRequest{Query: "天空", EchoID: "E1"})
	require.NoError(t, err)
	require.Len(t, passages, 2)
	for _, p := range passages {
		assert.Equal(t, "E1", p.EchoID())
	}

	deleted, err := engine.Delete(ctx, knowledge.DeleteRequest{KnowledgeID: 7, EchoID: "E1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted.Deleted)

	passages, err = engine.Search(ctx, knowledge.SearchRequest{Query: "天空", EchoID: "E1"})
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Equal(t, "天空是蓝色的", passages[0].Text)
}
