package knowledge

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	apperrors "github.com/eatchicken1/frequency-ai-engine/internal/errors"
)

const (
	redisFieldContent  = "content"
	redisFieldVector   = "content_vector"
	redisFieldMetadata = "metadata"
	redisFieldScore    = "vector_score"

	redisDeleteBatch = 1000

	// 租户标签按原值精确匹配：区分大小写，且不按逗号拆分
	redisTagSeparator = "\x1f"

	redisStackGuidance = "Redis Stack with the RediSearch module is required: " +
		"docker run -d --name redis-stack -p 6379:6379 redis/redis-stack-server:latest"
)

// RedisVectorOptions RediSearch 向量索引配置
type RedisVectorOptions struct {
	IndexName  string
	KeyPrefix  string
	VectorSize int
	Distance   string
}

// RedisVectorStore 基于 RediSearch 的向量存储，所有租户共享一个索引，隔离依赖 echo_id 标签过滤
type RedisVectorStore struct {
	client   redis.UniversalClient
	embedder Embedder
	opts     RedisVectorOptions
	guard    *initGuard
	logger   *zap.Logger
}

// NewRedisVectorStore 创建Redis向量存储，连接在首次使用时校验
func NewRedisVectorStore(client redis.UniversalClient, embedder Embedder, opts RedisVectorOptions, logger *zap.Logger) *RedisVectorStore {
	if opts.IndexName == "" {
		opts.IndexName = "frequency_knowledge_idx"
	}
	opts.KeyPrefix = strings.TrimSuffix(opts.KeyPrefix, ":")
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "frequency:doc"
	}
	if opts.VectorSize <= 0 {
		opts.VectorSize = embedder.Dimensions()
	}
	opts.Distance = formatRedisDistance(opts.Distance)
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RedisVectorStore{
		client:   client,
		embedder: embedder,
		opts:     opts,
		guard:    newInitGuard("redis", redisStackGuidance),
		logger:   logger,
	}
}

func formatRedisDistance(value string) string {
	switch strings.ToUpper(value) {
	case "DOT", "IP", "INNER_PRODUCT":
		return "IP"
	case "L2", "EUCLIDEAN":
		return "L2"
	default:
		return "COSINE"
	}
}

func (s *RedisVectorStore) Name() string { return "redis" }

func (s *RedisVectorStore) Ready() bool { return s.guard.Ready() }

func (s *RedisVectorStore) Init(ctx context.Context) error {
	return s.guard.Do(ctx, s.ensureIndex)
}

func (s *RedisVectorStore) ensureIndex(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	err := s.client.Do(ctx, "FT.INFO", s.opts.IndexName).Err()
	if err == nil {
		return nil
	}
	if !isUnknownIndex(err) {
		return fmt.Errorf("redis FT.INFO failed: %w", err)
	}

	if err := s.client.Do(ctx, s.createIndexArgs()...).Err(); err != nil {
		return fmt.Errorf("redis FT.CREATE failed: %w", err)
	}
	s.logger.Info("created redis vector index",
		zap.String("index", s.opts.IndexName),
		zap.String("prefix", s.opts.KeyPrefix),
		zap.Int("dim", s.opts.VectorSize))
	return nil
}

func isUnknownIndex(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unknown index name") || strings.Contains(msg, "no such index")
}

func (s *RedisVectorStore) createIndexArgs() []interface{} {
	return []interface{}{
		"FT.CREATE", s.opts.IndexName,
		"ON", "HASH",
		"PREFIX", "1", s.opts.KeyPrefix + ":",
		"SCHEMA",
		redisFieldContent, "TEXT",
		redisFieldVector, "VECTOR", "HNSW", "6",
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(s.opts.VectorSize),
		"DISTANCE_METRIC", s.opts.Distance,
		MetaUserID, "TAG", "SEPARATOR", redisTagSeparator, "CASESENSITIVE",
		MetaEchoID, "TAG", "SEPARATOR", redisTagSeparator, "CASESENSITIVE",
		MetaContentHash, "TAG", "SEPARATOR", redisTagSeparator, "CASESENSITIVE",
		MetaSourceName, "TEXT",
		MetaKnowledgeID, "NUMERIC",
	}
}

func (s *RedisVectorStore) AddPassages(ctx context.Context, passages []Passage) error {
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

	pipe := s.client.Pipeline()
	for i, p := range passages {
		fields, err := s.hashFields(p, vectors[i])
		if err != nil {
			return apperrors.NewStoreWriteError(s.Name(), err)
		}
		pipe.HSet(ctx, s.opts.KeyPrefix+":"+uuid.NewString(), fields...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.NewStoreWriteError(s.Name(), err)
	}
	return nil
}

// hashFields 生成 HSET 参数，字段顺序固定
func (s *RedisVectorStore) hashFields(p Passage, vector []float32) ([]interface{}, error) {
	meta := splitMetadata(p.Metadata)
	extra, err := json.Marshal(meta.Extra)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	fields := []interface{}{
		redisFieldContent, p.Text,
		redisFieldVector, encodeFloat32(vector),
		MetaUserID, meta.UserID,
		MetaEchoID, meta.EchoID,
		MetaSourceName, meta.SourceName,
		MetaContentHash, meta.ContentHash,
		redisFieldMetadata, string(extra),
	}
	if meta.HasKnowledgeID {
		fields = append(fields, MetaKnowledgeID, strconv.FormatInt(meta.KnowledgeID, 10))
	}
	return fields, nil
}

func (s *RedisVectorStore) SimilaritySearch(ctx context.Context, vector []float32, k int, filter TenantFilter) ([]Passage, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Passage{}, nil
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}

	reply, err := s.client.Do(ctx, s.searchArgs(vector, k, filter)...).Slice()
	if err != nil {
		return nil, fmt.Errorf("redis FT.SEARCH failed: %w", err)
	}
	docs, _, err := parseSearchReply(reply)
	if err != nil {
		return nil, err
	}

	passages := make([]Passage, 0, len(docs))
	for _, doc := range docs {
		// 结果必须属于当前租户
		if doc.fields[MetaEchoID] != filter.EchoID {
			s.logger.Error("redis search returned passage outside tenant filter",
				zap.String("key", doc.key),
				zap.String("echo_id", filter.EchoID))
			continue
		}
		passages = append(passages, doc.passage())
	}
	return passages, nil
}

func (s *RedisVectorStore) searchArgs(vector []float32, k int, filter TenantFilter) []interface{} {
	query := fmt.Sprintf("(@%s:{%s})=>[KNN %d @%s $vec AS %s]",
		MetaEchoID, escapeTagValue(filter.EchoID), k, redisFieldVector, redisFieldScore)

	returnFields := []interface{}{
		redisFieldContent, MetaUserID, MetaEchoID, MetaSourceName,
		MetaContentHash, MetaKnowledgeID, redisFieldMetadata, redisFieldScore,
	}

	args := []interface{}{
		"FT.SEARCH", s.opts.IndexName, query,
		"PARAMS", "2", "vec", encodeFloat32(vector),
		"SORTBY", redisFieldScore, "ASC",
		"RETURN", strconv.Itoa(len(returnFields)),
	}
	args = append(args, returnFields...)
	args = append(args, "LIMIT", "0", strconv.Itoa(k), "DIALECT", "2")
	return args
}

func (s *RedisVectorStore) DeleteByPredicate(ctx context.Context, predicate DeletePredicate) (int64, error) {
	if predicate.Empty() {
		return 0, nil
	}
	if err := s.Init(ctx); err != nil {
		return 0, err
	}

	query := deleteQuery(predicate)
	var deleted int64
	offset := 0
	for {
		reply, err := s.client.Do(ctx,
			"FT.SEARCH", s.opts.IndexName, query,
			"NOCONTENT",
			"LIMIT", strconv.Itoa(offset), strconv.Itoa(redisDeleteBatch),
			"DIALECT", "2",
		).Slice()
		if err != nil {
			return deleted, apperrors.NewStoreDeleteError(s.Name(), err)
		}
		keys, err := parseKeysReply(reply)
		if err != nil {
			return deleted, apperrors.NewStoreDeleteError(s.Name(), err)
		}
		if len(keys) == 0 {
			return deleted, nil
		}

		matched := keys
		if predicate.EchoID != "" {
			// 旧索引的标签不区分大小写，删除前按原值复核 echo_id
			matched, err = s.keysOwnedBy(ctx, keys, predicate.EchoID)
			if err != nil {
				return deleted, apperrors.NewStoreDeleteError(s.Name(), err)
			}
		}
		skipped := len(keys) - len(matched)
		offset += skipped

		var n int64
		if len(matched) > 0 {
			n, err = s.client.Del(ctx, matched...).Result()
			if err != nil {
				return deleted, apperrors.NewStoreDeleteError(s.Name(), err)
			}
			deleted += n
		}
		// 索引未同步时避免死循环
		if n == 0 && skipped == 0 {
			return deleted, nil
		}
	}
}

// keysOwnedBy 返回 echo_id 与给定值完全一致的键
func (s *RedisVectorStore) keysOwnedBy(ctx context.Context, keys []string, echoID string) ([]string, error) {
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGet(ctx, key, MetaEchoID)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	owned := make([]string, 0, len(keys))
	for i, cmd := range cmds {
		if cmd.Val() == echoID {
			owned = append(owned, keys[i])
		} else if cmd.Err() == nil {
			s.logger.Warn("redis delete skipped passage of another tenant",
				zap.String("key", keys[i]),
				zap.String("echo_id", echoID))
		}
	}
	return owned, nil
}

// deleteQuery 单个删除同时匹配 knowledge_id 与 echo_id，批量删除只匹配 knowledge_id
func deleteQuery(predicate DeletePredicate) string {
	ranges := make([]string, 0, len(predicate.KnowledgeIDs))
	for _, id := range predicate.KnowledgeIDs {
		ranges = append(ranges, fmt.Sprintf("@%s:[%d %d]", MetaKnowledgeID, id, id))
	}

	var query string
	if len(ranges) == 1 {
		query = ranges[0]
	} else {
		query = "(" + strings.Join(ranges, " | ") + ")"
	}
	if predicate.EchoID != "" {
		query += fmt.Sprintf(" @%s:{%s}", MetaEchoID, escapeTagValue(predicate.EchoID))
	}
	return query
}

// escapeTagValue 转义 TAG 查询中的特殊字符
func escapeTagValue(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		if strings.ContainsRune(",.<>{}[]\"':;!@#$%^&*()-+=~|/\\ ", r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// encodeFloat32 按小端序编码为 FLOAT32 向量
func encodeFloat32(vector []float32) []byte {
	buf := make([]byte, 4*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

type redisDoc struct {
	key    string
	fields map[string]string
}

func (d redisDoc) passage() Passage {
	metadata := make(map[string]interface{})
	if raw := d.fields[redisFieldMetadata]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &metadata)
	}
	for _, f := range []string{MetaUserID, MetaEchoID, MetaSourceName, MetaContentHash} {
		metadata[f] = d.fields[f]
	}
	if raw, ok := d.fields[MetaKnowledgeID]; ok && raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			metadata[MetaKnowledgeID] = id
		}
	}

	p := Passage{Text: d.fields[redisFieldContent], Metadata: metadata}
	if raw, ok := d.fields[redisFieldScore]; ok {
		if distance, err := strconv.ParseFloat(raw, 64); err == nil {
			p.Score = 1 - distance
		}
	}
	return p
}

// parseSearchReply 解析 RESP2 格式的 FT.SEARCH 结果：[total, key, [field, value, ...], ...]
func parseSearchReply(reply []interface{}) ([]redisDoc, int64, error) {
	if len(reply) == 0 {
		return nil, 0, fmt.Errorf("empty FT.SEARCH reply")
	}
	total, ok := reply[0].(int64)
	if !ok {
		return nil, 0, fmt.Errorf("unexpected FT.SEARCH total type %T", reply[0])
	}

	docs := make([]redisDoc, 0, (len(reply)-1)/2)
	for i := 1; i+1 < len(reply); i += 2 {
		key := fmt.Sprint(reply[i])
		pairs, ok := reply[i+1].([]interface{})
		if !ok {
			return nil, 0, fmt.Errorf("unexpected FT.SEARCH document type %T", reply[i+1])
		}
		fields := make(map[string]string, len(pairs)/2)
		for j := 0; j+1 < len(pairs); j += 2 {
			fields[fmt.Sprint(pairs[j])] = fmt.Sprint(pairs[j+1])
		}
		docs = append(docs, redisDoc{key: key, fields: fields})
	}
	return docs, total, nil
}

// parseKeysReply 解析 NOCONTENT 查询结果：[total, key1, key2, ...]
func parseKeysReply(reply []interface{}) ([]string, error) {
	if len(reply) == 0 {
		return nil, fmt.Errorf("empty FT.SEARCH reply")
	}
	if _, ok := reply[0].(int64); !ok {
		return nil, fmt.Errorf("unexpected FT.SEARCH total type %T", reply[0])
	}
	keys := make([]string, 0, len(reply)-1)
	for _, k := range reply[1:] {
		keys = append(keys, fmt.Sprint(k))
	}
	return keys, nil
}
