package knowledge

import (
	"errors"
	"strconv"
)

// 段落元数据中的固定字段
const (
	MetaUserID      = "user_id"
	MetaEchoID      = "echo_id"
	MetaSourceName  = "source_name"
	MetaContentHash = "content_hash"
	MetaChunkIndex  = "chunk_index"
	MetaKnowledgeID = "knowledge_id"
	MetaFileType    = "file_type"
)

// 入库状态
const (
	StatusSuccess   = "success"
	StatusDuplicate = "duplicate"
)

// ErrMissingTenantFilter 检索未携带 echo_id 过滤条件
var ErrMissingTenantFilter = errors.New("tenant filter requires a non-empty echo_id")

// Passage 知识段落，写入后不可变，与一条向量记录一一对应
type Passage struct {
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata"`
	Score    float64                `json:"score,omitempty"`
}

// EchoID 返回段落所属的 echo
func (p Passage) EchoID() string {
	v, _ := p.Metadata[MetaEchoID].(string)
	return v
}

// KnowledgeID 返回入库时写入的 knowledge_id，缺失时 ok 为 false
func (p Passage) KnowledgeID() (int64, bool) {
	return toInt64(p.Metadata[MetaKnowledgeID])
}

// MaxSourceNameLength source_name 的最大字符数
const MaxSourceNameLength = 200

// IngestRequest 入库请求
type IngestRequest struct {
	UserID     string                 `json:"user_id" validate:"required"`
	EchoID     string                 `json:"echo_id" validate:"required"`
	Content    string                 `json:"content" validate:"required,min=1,max=20000"`
	SourceName string                 `json:"source_name" validate:"required,min=1,max=200"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// IngestResult 入库结果，重复内容返回 duplicate 且 chunks 为 0
type IngestResult struct {
	Status string `json:"status"`
	Chunks int    `json:"chunks"`
}

// SearchRequest 检索请求
type SearchRequest struct {
	Query  string `json:"query" validate:"required"`
	EchoID string `json:"echo_id" validate:"required"`
	Limit  int    `json:"limit" validate:"gte=0"`
}

// DeleteRequest 按 knowledge_id 删除单个知识
type DeleteRequest struct {
	KnowledgeID int64  `json:"knowledge_id" validate:"required"`
	EchoID      string `json:"echo_id" validate:"required"`
	UserID      string `json:"user_id"`
}

// BatchDeleteRequest 批量删除
type BatchDeleteRequest struct {
	Items []DeleteRequest `json:"items" validate:"dive"`
}

// DeleteResult 删除结果，Deleted 为 -1 表示后端未返回删除数量
type DeleteResult struct {
	Status  string `json:"status"`
	Deleted int64  `json:"deleted"`
}

// TrainRequest 从对象存储下载文件并入库
type TrainRequest struct {
	KnowledgeID int64  `json:"knowledge_id" validate:"required"`
	UserID      string `json:"user_id" validate:"required"`
	EchoID      string `json:"echo_id" validate:"required"`
	FileURL     string `json:"file_url" validate:"required"`
	FileType    string `json:"file_type" validate:"required"`
	SourceName  string `json:"source_name" validate:"omitempty,max=200"`
}

// TenantFilter 检索必须携带的租户过滤条件
type TenantFilter struct {
	EchoID string
}

// Validate 检查租户过滤条件
func (f TenantFilter) Validate() error {
	if f.EchoID == "" {
		return ErrMissingTenantFilter
	}
	return nil
}

// DeletePredicate 删除条件；EchoID 为空时只按 knowledge_id 匹配（批量删除）
type DeletePredicate struct {
	KnowledgeIDs []int64
	EchoID       string
}

// Empty 没有任何 knowledge_id 时不执行删除
func (p DeletePredicate) Empty() bool {
	return len(p.KnowledgeIDs) == 0
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	case jsonNumber:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

type jsonNumber interface {
	Int64() (int64, error)
}
