package lifecycle

import (
	"context"
	"errors"
	"time"

	"safetysec-engine/internal/models"

	"go.uber.org/zap"
)

// Runner 生命周期的单一消费循环
// 候选、取消请求、录像回调和倒计时 tick 都在同一个 goroutine 中串行处理
type Runner struct {
	manager      *Manager
	candidates   chan models.Candidate
	cancels      chan models.CancelRequest
	videos       chan models.RecordingDone
	tickInterval time.Duration
	logger       *zap.Logger
	done         chan struct{}
}

// NewRunner 创建消费循环
func NewRunner(manager *Manager, queueSize int, tickInterval time.Duration, logger *zap.Logger) *Runner {
	if queueSize <= 0 {
		queueSize = 32
	}
	if tickInterval <= 0 {
		tickInterval = time.Second
	}
	return &Runner{
		manager:      manager,
		candidates:   make(chan models.Candidate, queueSize),
		cancels:      make(chan models.CancelRequest, 8),
		videos:       make(chan models.RecordingDone, 8),
		tickInterval: tickInterval,
		logger:       logger,
		done:         make(chan struct{}),
	}
}

// Submit 提交候选（非阻塞，队列满时丢弃）
func (r *Runner) Submit(c models.Candidate) bool {
	select {
	case r.candidates <- c:
		return true
	default:
		r.manager.metrics.add(func(m *Metrics) { m.DiscardedQueueFull++ })
		r.logger.Warn("Candidate queue full, candidate dropped",
			zap.String("rule_id", c.RuleID),
			zap.String("rule_type", string(c.RuleType)),
		)
		return false
	}
}

// RequestCancel 提交取消请求（非阻塞）
func (r *Runner) RequestCancel(req models.CancelRequest) bool {
	select {
	case r.cancels <- req:
		return true
	default:
		r.logger.Warn("Cancel queue full, request dropped", zap.String("cancelled_by", req.CancelledBy))
		return false
	}
}

// RecordingDone 提交录像完成回调（非阻塞）
func (r *Runner) RecordingDone(done models.RecordingDone) bool {
	select {
	case r.videos <- done:
		return true
	default:
		r.logger.Warn("Recording queue full, callback dropped", zap.String("batch_id", done.BatchID))
		return false
	}
}

// Metrics 获取指标快照
func (r *Runner) Metrics() Metrics {
	return r.manager.GetMetrics()
}

// Done 循环退出后关闭
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Start 启动消费循环，ctx 取消时放弃进行中的倒计时并返回
func (r *Runner) Start(ctx context.Context) error {
	defer close(r.done)

	var ticker *time.Ticker
	var tickC <-chan time.Time
	startTicker := func() {
		if ticker == nil {
			ticker = time.NewTicker(r.tickInterval)
			tickC = ticker.C
		}
	}
	stopTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker = nil
			tickC = nil
		}
	}
	defer stopTicker()

	r.logger.Info("Alert lifecycle runner started", zap.Duration("tick_interval", r.tickInterval))

	for {
		select {
		case <-ctx.Done():
			r.manager.Abandon()
			r.manager.WaitSideEffects()
			r.logger.Info("Alert lifecycle runner stopped")
			return nil

		case c := <-r.candidates:
			if r.trigger(ctx, c) == TriggerStarted {
				startTicker()
			}

		case req := <-r.cancels:
			cancelled, err := r.manager.Cancel(ctx, req)
			if err != nil {
				r.logger.Error("Alert cancellation failed", zap.Error(err))
			}
			if cancelled {
				stopTicker()
				if r.resumeDeferred(ctx) {
					startTicker()
				}
			}

		case <-tickC:
			if _, err := r.manager.Tick(ctx); err != nil {
				r.logger.Error("Alert activation failed", zap.Error(err))
			}
			if r.manager.State() == StateIdle {
				stopTicker()
				if r.resumeDeferred(ctx) {
					startTicker()
				}
			}

		case d := <-r.videos:
			if _, err := r.manager.AttachVideo(ctx, d.BatchID, d.VideoRef); err != nil {
				r.logger.Error("Failed to attach recording",
					zap.String("batch_id", d.BatchID),
					zap.Error(err),
				)
			}
		}
	}
}

func (r *Runner) trigger(ctx context.Context, c models.Candidate) TriggerResult {
	result, err := r.manager.Trigger(ctx, c)
	if err != nil {
		r.logger.Error("Alert trigger failed",
			zap.String("rule_id", c.RuleID),
			zap.Bool("persistence", errors.Is(err, ErrPersistence)),
			zap.Error(err),
		)
	}
	return result
}

// resumeDeferred 当前批次结束后处理被推迟的紧急按钮，返回是否进入新的倒计时
func (r *Runner) resumeDeferred(ctx context.Context) bool {
	c, ok := r.manager.TakeDeferred()
	if !ok {
		return false
	}
	r.logger.Info("Processing deferred panic button", zap.String("rule_id", c.RuleID))
	return r.trigger(ctx, c) == TriggerStarted
}
