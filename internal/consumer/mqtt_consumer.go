package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"safetysec-engine/internal/models"
	mqttcommon "safetysec-engine/pkg/common/mqtt"

	"go.uber.org/zap"
)

// 信号主题类型，实际主题为 {prefix}/{protected_id}/{kind}
const (
	TopicAccel     = "accel"
	TopicLocation  = "location"
	TopicPanic     = "panic"
	TopicCancel    = "cancel"
	TopicRecording = "recording"
)

var signalKinds = []string{TopicAccel, TopicLocation, TopicPanic, TopicCancel, TopicRecording}

// Subscriber MQTT 订阅接口
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// SignalTarget 传感器信号去向（引擎）
type SignalTarget interface {
	PushAccel(s models.AccelSample) bool
	PushLocation(f models.LocationFix) bool
	TriggerPanic(ctx context.Context, sig models.PanicSignal) error
}

// ControlTarget 取消与录像回调去向（生命周期）
type ControlTarget interface {
	RequestCancel(req models.CancelRequest) bool
	RecordingDone(done models.RecordingDone) bool
}

// MQTTConsumer MQTT 信号消费者
type MQTTConsumer struct {
	subscriber  Subscriber
	prefix      string
	protectedID string
	qos         byte
	signals     SignalTarget
	control     ControlTarget
	logger      *zap.Logger
}

// NewMQTTConsumer 创建 MQTT 消费者
func NewMQTTConsumer(
	subscriber Subscriber,
	prefix string,
	protectedID string,
	qos byte,
	signals SignalTarget,
	control ControlTarget,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		subscriber:  subscriber,
		prefix:      prefix,
		protectedID: protectedID,
		qos:         qos,
		signals:     signals,
		control:     control,
		logger:      logger,
	}
}

// Topic 构建主题
func (c *MQTTConsumer) Topic(kind string) string {
	return fmt.Sprintf("%s/%s/%s", c.prefix, c.protectedID, kind)
}

// Topics 订阅的全部主题
func (c *MQTTConsumer) Topics() []string {
	topics := make([]string, 0, len(signalKinds))
	for _, kind := range signalKinds {
		topics = append(topics, c.Topic(kind))
	}
	return topics
}

// Subscribe 订阅全部信号主题
func (c *MQTTConsumer) Subscribe() error {
	for _, topic := range c.Topics() {
		if err := c.subscriber.Subscribe(topic, c.qos, c.handleMessage); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}
	c.logger.Info("MQTT consumer subscribed", zap.Strings("topics", c.Topics()))
	return nil
}

// Start 订阅并阻塞直到 ctx 取消
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if err := c.Subscribe(); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// Stop 取消订阅
func (c *MQTTConsumer) Stop() error {
	if err := c.subscriber.Unsubscribe(c.Topics()...); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
		return err
	}
	c.logger.Info("MQTT consumer stopped")
	return nil
}

// handleMessage 按主题分发消息
func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	// 主题格式: {prefix}/{protected_id}/{kind}
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return fmt.Errorf("invalid topic format: %s", topic)
	}
	if parts[len(parts)-2] != c.protectedID {
		return fmt.Errorf("unexpected protected id in topic: %s", topic)
	}
	kind := parts[len(parts)-1]

	switch kind {
	case TopicAccel:
		samples, err := decodeBatch[models.AccelSample](payload)
		if err != nil {
			return fmt.Errorf("failed to decode accel payload: %w", err)
		}
		for _, s := range samples {
			if !c.signals.PushAccel(s) {
				c.logger.Debug("Accelerometer sample dropped, engine busy")
			}
		}
	case TopicLocation:
		fixes, err := decodeBatch[models.LocationFix](payload)
		if err != nil {
			return fmt.Errorf("failed to decode location payload: %w", err)
		}
		for _, f := range fixes {
			if !c.signals.PushLocation(f) {
				c.logger.Warn("Location fix dropped, engine busy")
			}
		}
	case TopicPanic:
		var sig models.PanicSignal
		if len(bytes.TrimSpace(payload)) > 0 {
			if err := json.Unmarshal(payload, &sig); err != nil {
				return fmt.Errorf("failed to decode panic payload: %w", err)
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.signals.TriggerPanic(ctx, sig); err != nil {
			return fmt.Errorf("failed to trigger panic: %w", err)
		}
	case TopicCancel:
		var req models.CancelRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("failed to decode cancel payload: %w", err)
		}
		if req.At.IsZero() {
			req.At = time.Now()
		}
		if !c.control.RequestCancel(req) {
			return fmt.Errorf("cancel request dropped")
		}
	case TopicRecording:
		var done models.RecordingDone
		if err := json.Unmarshal(payload, &done); err != nil {
			return fmt.Errorf("failed to decode recording payload: %w", err)
		}
		if done.BatchID == "" || done.VideoRef == "" {
			return fmt.Errorf("recording callback requires batch_id and video_ref")
		}
		if !c.control.RecordingDone(done) {
			return fmt.Errorf("recording callback dropped")
		}
	default:
		return fmt.Errorf("unknown signal topic: %s", topic)
	}
	return nil
}

// decodeBatch 支持单个对象或数组
func decodeBatch[T any](payload []byte) ([]T, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	var item T
	if err := json.Unmarshal(trimmed, &item); err != nil {
		return nil, err
	}
	return []T{item}, nil
}
