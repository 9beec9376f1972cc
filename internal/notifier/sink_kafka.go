package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"safetysec-engine/internal/models"

	"github.com/segmentio/kafka-go"
)

// messageWriter kafka.Writer 的最小接口
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink 将通知写入 Kafka（以 monitor_id 作为 key）
type KafkaSink struct {
	writer messageWriter
}

// NewKafkaSink 创建 Kafka 出口
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

// Emit 写入一条通知
func (s *KafkaSink) Emit(ctx context.Context, n models.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(n.MonitorID),
		Value: payload,
		Time:  n.Timestamp,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(n.Type)},
			{Key: "alert_type", Value: []byte(n.AlertType)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write notification to kafka: %w", err)
	}
	return nil
}

// Close 关闭 writer
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
