package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	apperrors "github.com/eatchicken1/frequency-ai-engine/internal/errors"
)

const (
	DefaultSearchLimit = 3
	MaxSearchLimit     = 20
	MaxMetadataBytes   = 2048
)

// EngineOptions 检索引擎依赖
type EngineOptions struct {
	Store        VectorStore
	Embedder     Embedder
	Ledger       DedupLedger
	Chunker      *Chunker
	Publisher    EventPublisher
	Fetcher      ObjectFetcher
	Parsers      *FileParserManager
	DefaultLimit int
	MaxLimit     int
	Logger       *zap.Logger
}

// Engine 知识检索引擎：去重、切分、向量化写入、租户隔离检索与删除
type Engine struct {
	store        VectorStore
	embedder     Embedder
	ledger       DedupLedger
	chunker      *Chunker
	publisher    EventPublisher
	fetcher      ObjectFetcher
	parsers      *FileParserManager
	validate     *validator.Validate
	defaultLimit int
	maxLimit     int
	logger       *zap.Logger
}

// NewEngine 创建检索引擎
func NewEngine(opts EngineOptions) *Engine {
	if opts.Ledger == nil {
		opts.Ledger = NewMemoryLedger(DefaultDedupTTL)
	}
	if opts.Chunker == nil {
		opts.Chunker = NewChunker(DefaultChunkSize, DefaultChunkOverlap, nil)
	}
	if opts.Publisher == nil {
		opts.Publisher = NoopPublisher{}
	}
	if opts.Parsers == nil {
		opts.Parsers = NewFileParserManager()
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultSearchLimit
	}
	if opts.MaxLimit < opts.DefaultLimit {
		opts.MaxLimit = MaxSearchLimit
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Engine{
		store:        opts.Store,
		embedder:     opts.Embedder,
		ledger:       opts.Ledger,
		chunker:      opts.Chunker,
		publisher:    opts.Publisher,
		fetcher:      opts.Fetcher,
		parsers:      opts.Parsers,
		validate:     validator.New(),
		defaultLimit: opts.DefaultLimit,
		maxLimit:     opts.MaxLimit,
		logger:       opts.Logger,
	}
}

// Ingest 入库：校验 → 去重标记 → 切分 → 写入。去重标记在后续失败时不回滚
func (e *Engine) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if err := e.validateIngest(req); err != nil {
		ingestCounter.WithLabelValues("invalid").Inc()
		return nil, err
	}
	return e.ingestValidated(ctx, req)
}

// ingestValidated 已通过校验的内容入库
func (e *Engine) ingestValidated(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	content := strings.TrimSpace(req.Content)
	contentHash := ContentHash(content)

	isNew, err := e.ledger.CheckAndMark(ctx, req.EchoID, contentHash)
	if err != nil {
		ingestCounter.WithLabelValues("error").Inc()
		return nil, apperrors.NewSystemError(apperrors.ErrCodeInternalServer, "dedup ledger unavailable").WithCause(err)
	}
	if !isNew {
		ingestCounter.WithLabelValues(StatusDuplicate).Inc()
		e.logger.Info("duplicate knowledge content skipped",
			zap.String("echo_id", req.EchoID),
			zap.String("content_hash", contentHash))
		return &IngestResult{Status: StatusDuplicate, Chunks: 0}, nil
	}

	chunks, err := e.chunker.SplitForIngest(content)
	if err != nil {
		ingestCounter.WithLabelValues("error").Inc()
		return nil, err
	}

	passages := make([]Passage, len(chunks))
	for i, chunk := range chunks {
		passages[i] = Passage{
			Text:     chunk.Text,
			Metadata: passageMetadata(req, contentHash, chunk.Index),
		}
	}

	if err := e.store.AddPassages(ctx, passages); err != nil {
		ingestCounter.WithLabelValues("error").Inc()
		e.logger.Error("knowledge ingest failed",
			zap.String("echo_id", req.EchoID),
			zap.String("content_hash", contentHash),
			zap.Int("chunks", len(passages)),
			zap.Error(err))
		if _, ok := apperrors.AsAppError(err); ok {
			return nil, err
		}
		return nil, apperrors.NewStoreWriteError(e.store.Name(), err)
	}

	ingestCounter.WithLabelValues(StatusSuccess).Inc()
	chunksWrittenCounter.Add(float64(len(passages)))
	e.logger.Info("knowledge ingested",
		zap.String("echo_id", req.EchoID),
		zap.String("source_name", req.SourceName),
		zap.Int("chunks", len(passages)))

	event := Event{
		Type:        EventIngested,
		EchoID:      req.EchoID,
		UserID:      req.UserID,
		SourceName:  req.SourceName,
		ContentHash: contentHash,
		Chunks:      len(passages),
	}
	if id, ok := toInt64(req.Metadata[MetaKnowledgeID]); ok {
		event.KnowledgeIDs = []int64{id}
	}
	e.publish(ctx, event)

	return &IngestResult{Status: StatusSuccess, Chunks: len(passages)}, nil
}

func (e *Engine) validateIngest(req IngestRequest) error {
	if err := e.validate.Struct(req); err != nil {
		return apperrors.FromValidation(err)
	}
	if strings.TrimSpace(req.Content) == "" {
		return apperrors.NewValidationError("content must contain non-whitespace characters")
	}
	if len(req.Metadata) > 0 {
		raw, err := json.Marshal(req.Metadata)
		if err != nil {
			return apperrors.NewValidationError("metadata must be a JSON object")
		}
		if len(raw) > MaxMetadataBytes {
			return apperrors.NewValidationError(fmt.Sprintf("metadata exceeds %d bytes", MaxMetadataBytes))
		}
	}
	return nil
}

// passageMetadata 调用方元数据在前，租户字段覆盖同名键
func passageMetadata(req IngestRequest, contentHash string, chunkIndex int) map[string]interface{} {
	metadata := make(map[string]interface{}, len(req.Metadata)+5)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata[MetaUserID] = req.UserID
	metadata[MetaEchoID] = req.EchoID
	metadata[MetaSourceName] = req.SourceName
	metadata[MetaContentHash] = contentHash
	metadata[MetaChunkIndex] = chunkIndex
	return metadata
}

// Search 租户隔离检索；后端错误记录日志并返回空结果
func (e *Engine) Search(ctx context.Context, req SearchRequest) ([]Passage, error) {
	if err := e.validate.Struct(req); err != nil {
		return nil, apperrors.FromValidation(err)
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, apperrors.NewValidationError("query must contain non-whitespace characters")
	}

	start := time.Now()
	defer func() {
		searchDuration.Observe(time.Since(start).Seconds())
	}()

	limit := e.clampLimit(req.Limit)
	vector, err := e.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		searchCounter.WithLabelValues("error").Inc()
		e.logger.Error("knowledge search embedding failed", zap.String("echo_id", req.EchoID), zap.Error(err))
		return []Passage{}, nil
	}

	passages, err := e.store.SimilaritySearch(ctx, vector, limit, TenantFilter{EchoID: req.EchoID})
	if err != nil {
		searchCounter.WithLabelValues("error").Inc()
		e.logger.Error("knowledge search failed", zap.String("echo_id", req.EchoID), zap.Error(err))
		return []Passage{}, nil
	}

	if len(passages) == 0 {
		searchCounter.WithLabelValues("empty").Inc()
	} else {
		searchCounter.WithLabelValues("ok").Inc()
	}
	return passages, nil
}

func (e *Engine) clampLimit(limit int) int {
	if limit <= 0 {
		return e.defaultLimit
	}
	if limit > e.maxLimit {
		return e.maxLimit
	}
	return limit
}

// Delete 删除 knowledge_id 与 echo_id 同时匹配的全部段落
func (e *Engine) Delete(ctx context.Context, req DeleteRequest) (*DeleteResult, error) {
	if err := e.validate.Struct(req); err != nil {
		return nil, apperrors.FromValidation(err)
	}

	predicate := DeletePredicate{KnowledgeIDs: []int64{req.KnowledgeID}, EchoID: req.EchoID}
	deleted, err := e.store.DeleteByPredicate(ctx, predicate)
	if err != nil {
		deleteCounter.WithLabelValues("single", "error").Inc()
		e.logger.Error("knowledge delete failed",
			zap.Int64("knowledge_id", req.KnowledgeID),
			zap.String("echo_id", req.EchoID),
			zap.Error(err))
		return nil, asDeleteError(e.store.Name(), err)
	}

	deleteCounter.WithLabelValues("single", "ok").Inc()
	e.logger.Info("knowledge deleted",
		zap.Int64("knowledge_id", req.KnowledgeID),
		zap.String("echo_id", req.EchoID),
		zap.Int64("deleted", deleted))
	e.publish(ctx, Event{
		Type:         EventDeleted,
		EchoID:       req.EchoID,
		UserID:       req.UserID,
		KnowledgeIDs: predicate.KnowledgeIDs,
		Deleted:      deleted,
	})
	return &DeleteResult{Status: StatusSuccess, Deleted: deleted}, nil
}

// BatchDelete 按 knowledge_id 批量删除，不校验 echo_id；空列表直接返回成功
func (e *Engine) BatchDelete(ctx context.Context, req BatchDeleteRequest) (*DeleteResult, error) {
	if len(req.Items) == 0 {
		return &DeleteResult{Status: StatusSuccess, Deleted: 0}, nil
	}
	if err := e.validate.Struct(req); err != nil {
		return nil, apperrors.FromValidation(err)
	}

	seen := make(map[int64]struct{}, len(req.Items))
	ids := make([]int64, 0, len(req.Items))
	for _, item := range req.Items {
		if _, ok := seen[item.KnowledgeID]; ok {
			continue
		}
		seen[item.KnowledgeID] = struct{}{}
		ids = append(ids, item.KnowledgeID)
	}

	deleted, err := e.store.DeleteByPredicate(ctx, DeletePredicate{KnowledgeIDs: ids})
	if err != nil {
		deleteCounter.WithLabelValues("batch", "error").Inc()
		e.logger.Error("knowledge batch delete failed", zap.Int64s("knowledge_ids", ids), zap.Error(err))
		return nil, asDeleteError(e.store.Name(), err)
	}

	deleteCounter.WithLabelValues("batch", "ok").Inc()
	e.logger.Info("knowledge batch deleted", zap.Int64s("knowledge_ids", ids), zap.Int64("deleted", deleted))
	e.publish(ctx, Event{Type: EventDeleted, KnowledgeIDs: ids, Deleted: deleted})
	return &DeleteResult{Status: StatusSuccess, Deleted: deleted}, nil
}

func asDeleteError(backend string, err error) error {
	if _, ok := apperrors.AsAppError(err); ok {
		return err
	}
	return apperrors.NewStoreDeleteError(backend, err)
}

// Ready 向量存储与向量化服务是否可用
func (e *Engine) Ready() bool {
	return e.store.Ready() && e.embedder.Ready()
}

// Warmup 启动时主动初始化向量存储
func (e *Engine) Warmup(ctx context.Context) error {
	return e.store.Init(ctx)
}

func (e *Engine) publish(ctx context.Context, event Event) {
	event.Timestamp = time.Now()
	if err := e.publisher.Publish(ctx, event); err != nil {
		e.logger.Warn("publish knowledge event failed", zap.String("type", event.Type), zap.Error(err))
	}
}
