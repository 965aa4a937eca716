package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	apperrors "github.com/eatchicken1/frequency-ai-engine/internal/errors"
)

const (
	milvusFieldID       = "id"
	milvusFieldContent  = "content"
	milvusFieldMetadata = "metadata"
	milvusFieldVector   = "vector"

	milvusGuidance = "a reachable Milvus 2.4 instance is required: " +
		"docker compose -f milvus-standalone-docker-compose.yml up -d (see https://milvus.io/docs/install_standalone-docker-compose.md)"
)

var milvusOutputFields = []string{
	MetaKnowledgeID, MetaEchoID, MetaUserID, MetaSourceName, MetaContentHash,
	milvusFieldContent, milvusFieldMetadata,
}

// MilvusOptions Milvus客户端配置
type MilvusOptions struct {
	Address    string
	Username   string
	Password   string
	Collection string
	VectorSize int
	Distance   string
	Database   string
	UseTLS     bool
}

// milvusBackend Milvus SDK 中本存储用到的操作
type milvusBackend interface {
	HasCollection(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, schema *entity.Schema) error
	CreateIndex(ctx context.Context, collection, field string, index entity.Index) error
	LoadCollection(ctx context.Context, collection string) error
	Insert(ctx context.Context, collection string, columns ...entity.Column) error
	Flush(ctx context.Context, collection string) error
	Search(ctx context.Context, collection, expr string, outputFields []string, vector []float32, metric entity.MetricType, topK int, sp entity.SearchParam) ([]client.SearchResult, error)
	Delete(ctx context.Context, collection, expr string) error
	Close() error
}

type milvusDialer func(ctx context.Context) (milvusBackend, error)

// sdkMilvus 将 client.Client 适配为 milvusBackend
type sdkMilvus struct {
	c client.Client
}

func (m sdkMilvus) HasCollection(ctx context.Context, name string) (bool, error) {
	return m.c.HasCollection(ctx, name)
}

func (m sdkMilvus) CreateCollection(ctx context.Context, schema *entity.Schema) error {
	return m.c.CreateCollection(ctx, schema, entity.DefaultShardNumber)
}

func (m sdkMilvus) CreateIndex(ctx context.Context, collection, field string, index entity.Index) error {
	return m.c.CreateIndex(ctx, collection, field, index, false)
}

func (m sdkMilvus) LoadCollection(ctx context.Context, collection string) error {
	return m.c.LoadCollection(ctx, collection, false)
}

func (m sdkMilvus) Insert(ctx context.Context, collection string, columns ...entity.Column) error {
	_, err := m.c.Insert(ctx, collection, "", columns...)
	return err
}

func (m sdkMilvus) Flush(ctx context.Context, collection string) error {
	return m.c.Flush(ctx, collection, false)
}

func (m sdkMilvus) Search(ctx context.Context, collection, expr string, outputFields []string, vector []float32, metric entity.MetricType, topK int, sp entity.SearchParam) ([]client.SearchResult, error) {
	return m.c.Search(ctx, collection, []string{}, expr, outputFields,
		[]entity.Vector{entity.FloatVector(vector)}, milvusFieldVector, metric, topK, sp)
}

func (m sdkMilvus) Delete(ctx context.Context, collection, expr string) error {
	return m.c.Delete(ctx, collection, "", expr)
}

func (m sdkMilvus) Close() error {
	return m.c.Close()
}

// MilvusVectorStore 基于 Milvus 集合的向量存储，租户隔离依赖布尔表达式过滤
type MilvusVectorStore struct {
	opts     MilvusOptions
	embedder Embedder
	dial     milvusDialer
	backend  milvusBackend
	guard    *initGuard
	logger   *zap.Logger
}

// NewMilvusVectorStore 创建Milvus向量存储，连接在首次使用时建立
func NewMilvusVectorStore(opts MilvusOptions, embedder Embedder, logger *zap.Logger) *MilvusVectorStore {
	opts = normalizeMilvusOptions(opts, embedder)
	return newMilvusVectorStore(opts, embedder, func(ctx context.Context) (milvusBackend, error) {
		c, err := client.NewClient(ctx, client.Config{
			Address:       opts.Address,
			DBName:        opts.Database,
			Username:      opts.Username,
			Password:      opts.Password,
			EnableTLSAuth: opts.UseTLS,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create milvus client: %w", err)
		}
		return sdkMilvus{c: c}, nil
	}, logger)
}

func newMilvusVectorStore(opts MilvusOptions, embedder Embedder, dial milvusDialer, logger *zap.Logger) *MilvusVectorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MilvusVectorStore{
		opts:     normalizeMilvusOptions(opts, embedder),
		embedder: embedder,
		dial:     dial,
		guard:    newInitGuard("milvus", milvusGuidance),
		logger:   logger,
	}
}

func normalizeMilvusOptions(opts MilvusOptions, embedder Embedder) MilvusOptions {
	if opts.Address == "" {
		opts.Address = "localhost:19530"
	}
	if !strings.Contains(opts.Address, ":") {
		opts.Address += ":19530"
	}
	if opts.Collection == "" {
		opts.Collection = "echo_knowledge"
	}
	if opts.VectorSize <= 0 {
		opts.VectorSize = embedder.Dimensions()
	}
	if opts.Database == "" {
		opts.Database = "default"
	}
	opts.Distance = formatMilvusDistance(opts.Distance)
	return opts
}

func formatMilvusDistance(value string) string {
	switch strings.ToUpper(value) {
	case "DOT", "IP", "INNER_PRODUCT":
		return "IP"
	case "L2", "EUCLIDEAN":
		return "L2"
	default:
		return "COSINE"
	}
}

func (s *MilvusVectorStore) Name() string { return "milvus" }

func (s *MilvusVectorStore) Ready() bool { return s.guard.Ready() }

func (s *MilvusVectorStore) Init(ctx context.Context) error {
	return s.guard.Do(ctx, s.connect)
}

func (s *MilvusVectorStore) connect(ctx context.Context) error {
	backend, err := s.dial(ctx)
	if err != nil {
		return err
	}
	if err := s.ensureCollection(ctx, backend); err != nil {
		_ = backend.Close()
		return err
	}
	s.backend = backend
	return nil
}

func (s *MilvusVectorStore) ensureCollection(ctx context.Context, backend milvusBackend) error {
	name := s.opts.Collection

	// 检查集合是否存在
	hasCollection, err := backend.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if !hasCollection {
		if err := backend.CreateCollection(ctx, s.schema()); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		index, err := entity.NewIndexHNSW(entity.MetricType(s.opts.Distance), 8, 64)
		if err != nil {
			return fmt.Errorf("failed to build index: %w", err)
		}
		if err := backend.CreateIndex(ctx, name, milvusFieldVector, index); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
		s.logger.Info("created milvus collection",
			zap.String("collection", name),
			zap.Int("dim", s.opts.VectorSize))
	}

	if err := backend.LoadCollection(ctx, name); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	return nil
}

func (s *MilvusVectorStore) schema() *entity.Schema {
	varchar := func(name string, maxLength int) *entity.Field {
		return &entity.Field{
			Name:       name,
			DataType:   entity.FieldTypeVarChar,
			TypeParams: map[string]string{"max_length": strconv.Itoa(maxLength)},
		}
	}

	id := varchar(milvusFieldID, 64)
	id.PrimaryKey = true

	return &entity.Schema{
		CollectionName: s.opts.Collection,
		Description:    "echo knowledge passages",
		Fields: []*entity.Field{
			id,
			{
				Name:     MetaKnowledgeID,
				DataType: entity.FieldTypeInt64,
			},
			varchar(MetaEchoID, 256),
			varchar(MetaUserID, 256),
			// max_length 按字节计，需容纳 200 个四字节字符
			varchar(MetaSourceName, MaxSourceNameLength*4),
			varchar(MetaContentHash, 64),
			varchar(milvusFieldContent, 65535),
			varchar(milvusFieldMetadata, 8192),
			{
				Name:       milvusFieldVector,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": strconv.Itoa(s.opts.VectorSize)},
			},
		},
	}
}

func (s *MilvusVectorStore) AddPassages(ctx context.Context, passages []Passage) error {
	if len(passages) == 0 {
		return nil
	}
	if err := s.Init(ctx); err != nil {
		return err
	}

	vectors, err := embedPassages(ctx, s.embedder, passages)
	if err != nil {
		return err
	}
	columns, err := s.columns(passages, vectors)
	if err != nil {
		return apperrors.NewStoreWriteError(s.Name(), err)
	}

	if err := s.backend.Insert(ctx, s.opts.Collection, columns...); err != nil {
		return apperrors.NewStoreWriteError(s.Name(), err)
	}
	if err := s.backend.Flush(ctx, s.opts.Collection); err != nil {
		// 刷新失败不影响插入，只记录警告
		s.logger.Warn("milvus flush failed", zap.String("collection", s.opts.Collection), zap.Error(err))
	}
	return nil
}

// columns 按列组织写入数据；knowledge_id 缺失时写 0
func (s *MilvusVectorStore) columns(passages []Passage, vectors [][]float32) ([]entity.Column, error) {
	n := len(passages)
	var (
		ids          = make([]string, n)
		knowledgeIDs = make([]int64, n)
		echoIDs      = make([]string, n)
		userIDs      = make([]string, n)
		sourceNames  = make([]string, n)
		hashes       = make([]string, n)
		contents     = make([]string, n)
		metadatas    = make([]string, n)
	)

	for i, p := range passages {
		if len(vectors[i]) != s.opts.VectorSize {
			return nil, fmt.Errorf("embedding dimension %d does not match collection dimension %d", len(vectors[i]), s.opts.VectorSize)
		}
		meta := splitMetadata(p.Metadata)
		extra, err := json.Marshal(meta.Extra)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}

		ids[i] = uuid.NewString()
		knowledgeIDs[i] = meta.KnowledgeID
		echoIDs[i] = meta.EchoID
		userIDs[i] = meta.UserID
		sourceNames[i] = meta.SourceName
		hashes[i] = meta.ContentHash
		contents[i] = p.Text
		metadatas[i] = string(extra)
	}

	return []entity.Column{
		entity.NewColumnVarChar(milvusFieldID, ids),
		entity.NewColumnInt64(MetaKnowledgeID, knowledgeIDs),
		entity.NewColumnVarChar(MetaEchoID, echoIDs),
		entity.NewColumnVarChar(MetaUserID, userIDs),
		entity.NewColumnVarChar(MetaSourceName, sourceNames),
		entity.NewColumnVarChar(MetaContentHash, hashes),
		entity.NewColumnVarChar(milvusFieldContent, contents),
		entity.NewColumnVarChar(milvusFieldMetadata, metadatas),
		entity.NewColumnFloatVector(milvusFieldVector, s.opts.VectorSize, vectors),
	}, nil
}

func (s *MilvusVectorStore) SimilaritySearch(ctx context.Context, vector []float32, k int, filter TenantFilter) ([]Passage, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Passage{}, nil
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}

	sp, err := entity.NewIndexHNSWSearchParam(64)
	if err != nil {
		return nil, fmt.Errorf("milvus search param: %w", err)
	}
	results, err := s.backend.Search(ctx, s.opts.Collection, tenantExpr(filter),
		milvusOutputFields, vector, entity.MetricType(s.opts.Distance), k, sp)
	if err != nil {
		return nil, fmt.Errorf("milvus search failed: %w", err)
	}
	if len(results) == 0 {
		return []Passage{}, nil
	}
	if results[0].Err != nil {
		return nil, fmt.Errorf("milvus search error: %w", results[0].Err)
	}

	// 只有一个查询向量，取第一个结果
	passages := decodeSearchResult(results[0])
	scoped := passages[:0]
	for _, p := range passages {
		if p.EchoID() != filter.EchoID {
			s.logger.Error("milvus search returned passage outside tenant filter", zap.String("echo_id", filter.EchoID))
			continue
		}
		scoped = append(scoped, p)
	}
	return scoped, nil
}

// decodeSearchResult 将列式结果还原为段落
func decodeSearchResult(result client.SearchResult) []Passage {
	var (
		knowledgeIDs []int64
		strCols      = make(map[string][]string)
	)
	for _, field := range result.Fields {
		switch col := field.(type) {
		case *entity.ColumnInt64:
			if col.Name() == MetaKnowledgeID {
				knowledgeIDs = col.Data()
			}
		case *entity.ColumnVarChar:
			strCols[col.Name()] = col.Data()
		}
	}

	at := func(values []string, i int) string {
		if i < len(values) {
			return values[i]
		}
		return ""
	}

	passages := make([]Passage, 0, result.ResultCount)
	for i := 0; i < result.ResultCount; i++ {
		metadata := make(map[string]interface{})
		if raw := at(strCols[milvusFieldMetadata], i); raw != "" {
			_ = json.Unmarshal([]byte(raw), &metadata)
		}
		for _, f := range []string{MetaEchoID, MetaUserID, MetaSourceName, MetaContentHash} {
			metadata[f] = at(strCols[f], i)
		}
		if i < len(knowledgeIDs) && knowledgeIDs[i] != 0 {
			metadata[MetaKnowledgeID] = knowledgeIDs[i]
		}

		p := Passage{Text: at(strCols[milvusFieldContent], i), Metadata: metadata}
		if i < len(result.Scores) {
			p.Score = float64(result.Scores[i])
		}
		passages = append(passages, p)
	}
	return passages
}

func (s *MilvusVectorStore) DeleteByPredicate(ctx context.Context, predicate DeletePredicate) (int64, error) {
	if predicate.Empty() {
		return 0, nil
	}
	if err := s.Init(ctx); err != nil {
		return 0, err
	}

	if err := s.backend.Delete(ctx, s.opts.Collection, deleteExpr(predicate)); err != nil {
		return 0, apperrors.NewStoreDeleteError(s.Name(), err)
	}
	if err := s.backend.Flush(ctx, s.opts.Collection); err != nil {
		s.logger.Warn("milvus flush after delete failed", zap.Error(err))
	}
	// SDK 删除接口不返回删除数量
	return -1, nil
}

func tenantExpr(filter TenantFilter) string {
	return fmt.Sprintf("%s == %s", MetaEchoID, strconv.Quote(filter.EchoID))
}

// deleteExpr 单个删除同时匹配 knowledge_id 与 echo_id，批量删除只匹配 knowledge_id
func deleteExpr(predicate DeletePredicate) string {
	if len(predicate.KnowledgeIDs) == 1 && predicate.EchoID != "" {
		return fmt.Sprintf("%s == %d && %s == %s",
			MetaKnowledgeID, predicate.KnowledgeIDs[0], MetaEchoID, strconv.Quote(predicate.EchoID))
	}

	ids := make([]string, len(predicate.KnowledgeIDs))
	for i, id := range predicate.KnowledgeIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	expr := fmt.Sprintf("%s in [%s]", MetaKnowledgeID, strings.Join(ids, ", "))
	if predicate.EchoID != "" {
		expr += fmt.Sprintf(" && %s == %s", MetaEchoID, strconv.Quote(predicate.EchoID))
	}
	return expr
}
