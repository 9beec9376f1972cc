package notifier

import (
	"context"
	"fmt"
	"time"

	"safetysec-engine/internal/models"

	"github.com/go-resty/resty/v2"
)

// WebhookSink 通过 HTTP POST 投递通知
type WebhookSink struct {
	client *resty.Client
	url    string
}

// NewWebhookSink 创建 Webhook 出口
// 重试由 Dispatcher 负责，这里不再设置 resty 重试
func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &WebhookSink{client: client, url: url}
}

// Emit 投递一条通知，非 2xx 视为失败
func (s *WebhookSink) Emit(ctx context.Context, n models.Notification) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", n.ID).
		SetBody(n).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("failed to post notification: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}
	return nil
}

// Close 无需释放资源
func (s *WebhookSink) Close() error { return nil }
