package knowledge

import (
	"context"
	"time"
)

// 知识事件类型
const (
	EventIngested = "knowledge.ingested"
	EventDeleted  = "knowledge.deleted"
)

// Event 入库或删除成功后发布的事件
type Event struct {
	Type         string    `json:"type"`
	EchoID       string    `json:"echo_id,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	SourceName   string    `json:"source_name,omitempty"`
	ContentHash  string    `json:"content_hash,omitempty"`
	KnowledgeIDs []int64   `json:"knowledge_ids,omitempty"`
	Chunks       int       `json:"chunks,omitempty"`
	Deleted      int64     `json:"deleted,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// EventPublisher 事件发布接口，发布失败不影响请求结果
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// NoopPublisher 未启用消息队列时的占位实现
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, event Event) error {
	return nil
}
