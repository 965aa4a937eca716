package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/eatchicken1/frequency-ai-engine/internal/knowledge"
)

// EventPublisher 把知识事件写入Kafka，以echo_id为分区键保证同一智能体的事件有序
type EventPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewProducerConfig 生产者配置
func NewProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Timeout = 10 * time.Second
	return config
}

// NewEventPublisher 连接Kafka并创建事件发布者
func NewEventPublisher(brokers []string, topic string, logger *zap.Logger) (*EventPublisher, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("创建Kafka生产者失败: %w", err)
	}

	logger.Info("Kafka生产者初始化成功", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return NewEventPublisherWithProducer(producer, topic, logger), nil
}

// NewEventPublisherWithProducer 使用已有的producer
func NewEventPublisherWithProducer(producer sarama.SyncProducer, topic string, logger *zap.Logger) *EventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventPublisher{producer: producer, topic: topic, logger: logger}
}

// Publish 发送一条知识事件
func (p *EventPublisher) Publish(ctx context.Context, event knowledge.Event) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("Kafka生产者未初始化")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := p.message(event)
	if err != nil {
		return err
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("发送消息失败: %w", err)
	}

	p.logger.Debug("Kafka消息发送成功",
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.String("type", event.Type),
		zap.String("echo_id", event.EchoID))
	return nil
}

func (p *EventPublisher) message(event knowledge.Event) (*sarama.ProducerMessage, error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("序列化消息失败: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
			{Key: []byte("event_time"), Value: []byte(strconv.FormatInt(event.Timestamp.UnixMilli(), 10))},
		},
	}
	// 批量删除不带echo_id，交给分区器轮询
	if event.EchoID != "" {
		msg.Key = sarama.StringEncoder(event.EchoID)
	}
	return msg, nil
}

// Close 关闭生产者
func (p *EventPublisher) Close() error {
	if p != nil && p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
