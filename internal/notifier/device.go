package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"safetysec-engine/internal/models"

	"go.uber.org/zap"
)

// Publisher MQTT 发布接口
type Publisher interface {
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
	IsConnected() bool
}

// DeviceCommand 下发到被监护人设备的指令
type DeviceCommand struct {
	Command   string          `json:"command"`
	BatchID   string          `json:"batch_id"`
	AlertID   string          `json:"alert_id"`
	AlertType models.RuleType `json:"alert_type"`
	IssuedAt  time.Time       `json:"issued_at"`
}

// LocalNotification 被监护人本机通知
type LocalNotification struct {
	BatchID   string          `json:"batch_id"`
	AlertType models.RuleType `json:"alert_type"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	IssuedAt  time.Time       `json:"issued_at"`
}

// DeviceChannel 通过 MQTT 触发设备侧副作用（录像、本机通知）
type DeviceChannel struct {
	publisher   Publisher
	prefix      string
	protectedID string
	qos         byte
	logger      *zap.Logger
}

// NewDeviceChannel 创建设备通道
func NewDeviceChannel(publisher Publisher, prefix, protectedID string, qos byte, logger *zap.Logger) *DeviceChannel {
	return &DeviceChannel{
		publisher:   publisher,
		prefix:      prefix,
		protectedID: protectedID,
		qos:         qos,
		logger:      logger,
	}
}

// CommandTopic 设备指令主题
func (c *DeviceChannel) CommandTopic() string {
	return fmt.Sprintf("%s/%s/command", c.prefix, c.protectedID)
}

// LocalNotificationTopic 本机通知主题
func (c *DeviceChannel) LocalNotificationTopic() string {
	return fmt.Sprintf("%s/%s/local-notification", c.prefix, c.protectedID)
}

// StartRecording 下发开始录像指令
func (c *DeviceChannel) StartRecording(ctx context.Context, batchID string, alert models.Alert) error {
	return c.publish(ctx, c.CommandTopic(), DeviceCommand{
		Command:   "start_recording",
		BatchID:   batchID,
		AlertID:   alert.ID,
		AlertType: alert.Type,
		IssuedAt:  time.Now(),
	})
}

// NotifyProtected 通知被监护人：报警已确认、正在录像
func (c *DeviceChannel) NotifyProtected(ctx context.Context, batchID string, alert models.Alert) error {
	return c.publish(ctx, c.LocalNotificationTopic(), LocalNotification{
		BatchID:   batchID,
		AlertType: alert.Type,
		Title:     "Alert sent",
		Message:   "Your monitors have been notified and recording has started.",
		IssuedAt:  time.Now(),
	})
}

func (c *DeviceChannel) publish(ctx context.Context, topic string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal device message: %w", err)
	}
	if !c.publisher.IsConnected() {
		// 自动重连期间消息会排队，直到确认或 ctx 超时
		c.logger.Warn("MQTT client disconnected, waiting for reconnect", zap.String("topic", topic))
	}
	if err := c.publisher.Publish(ctx, topic, c.qos, false, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	c.logger.Debug("Device message published", zap.String("topic", topic))
	return nil
}
