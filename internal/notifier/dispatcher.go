package notifier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"safetysec-engine/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrQueueFull 通知队列已满
var ErrQueueFull = errors.New("notification queue full")

// ErrDispatcherStopped Dispatcher 已停止
var ErrDispatcherStopped = errors.New("notification dispatcher stopped")

// DispatcherOptions 分发参数
type DispatcherOptions struct {
	Workers     int
	QueueSize   int
	RatePerSec  float64
	Burst       int
	MaxRetries  int
	RetryDelay  time.Duration
	EmitTimeout time.Duration
}

// DispatcherStats 分发统计
type DispatcherStats struct {
	Enqueued  int64
	Dropped   int64
	Delivered int64
	Failed    int64
}

// Dispatcher 通知分发：有界队列 + 工作池 + 限流
// 队列满时丢弃并记录错误日志，不阻塞调用方
type Dispatcher struct {
	sink    Sink
	opts    DispatcherOptions
	limiter *rate.Limiter
	logger  *zap.Logger

	now   func() time.Time
	newID func() string

	queue   chan models.Notification
	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup

	enqueued  atomic.Int64
	dropped   atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
}

// NewDispatcher 创建通知分发器
func NewDispatcher(sink Sink, opts DispatcherOptions, logger *zap.Logger) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 200 * time.Millisecond
	}
	if opts.EmitTimeout <= 0 {
		opts.EmitTimeout = 5 * time.Second
	}
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Dispatcher{
		sink:    sink,
		opts:    opts,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
		queue:   make(chan models.Notification, opts.QueueSize),
	}
}

// Start 启动工作池
func (d *Dispatcher) Start() {
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	d.logger.Info("Notification dispatcher started",
		zap.Int("workers", d.opts.Workers),
		zap.Int("queue_size", d.opts.QueueSize),
	)
}

// Stop 停止接收并等待队列中的通知发送完毕
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	if err := d.sink.Close(); err != nil {
		d.logger.Warn("Failed to close notification sink", zap.Error(err))
	}
	d.logger.Info("Notification dispatcher stopped", zap.Any("stats", d.Stats()))
}

// Publish 为每个监护人生成通知并入队，返回成功入队的数量
func (d *Dispatcher) Publish(alerts []models.Alert, protectedName string) int {
	queued := 0
	for _, n := range BuildNotifications(alerts, protectedName, d.now(), d.newID) {
		if err := d.Enqueue(n); err != nil {
			d.logger.Error("Notification dropped",
				zap.String("monitor_id", n.MonitorID),
				zap.String("alert_id", n.AlertID),
				zap.Error(err),
			)
			continue
		}
		queued++
	}
	return queued
}

// Enqueue 非阻塞入队
func (d *Dispatcher) Enqueue(n models.Notification) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		d.dropped.Add(1)
		return ErrDispatcherStopped
	}
	select {
	case d.queue <- n:
		d.enqueued.Add(1)
		return nil
	default:
		d.dropped.Add(1)
		return ErrQueueFull
	}
}

// Stats 获取统计
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Enqueued:  d.enqueued.Load(),
		Dropped:   d.dropped.Load(),
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for n := range d.queue {
		if err := d.deliver(n); err != nil {
			d.failed.Add(1)
			d.logger.Error("Failed to deliver notification",
				zap.Int("worker", id),
				zap.String("notification_id", n.ID),
				zap.String("monitor_id", n.MonitorID),
				zap.Error(err),
			)
			continue
		}
		d.delivered.Add(1)
	}
}

func (d *Dispatcher) deliver(n models.Notification) error {
	var lastErr error
	attempts := d.opts.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := d.limiter.Wait(context.Background()); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.EmitTimeout)
		err := d.sink.Emit(ctx, n)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		d.logger.Warn("Notification attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.String("notification_id", n.ID),
			zap.Error(err),
		)
		if attempt < attempts {
			time.Sleep(d.opts.RetryDelay * time.Duration(attempt))
		}
	}
	return lastErr
}
