package consumer

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"safetysec-engine/internal/evaluator"
	"safetysec-engine/internal/models"

	"go.uber.org/zap"
)

// CandidateSink 接收候选触发（生命周期消费循环）
type CandidateSink interface {
	Submit(c models.Candidate) bool
}

// Checkpointer 引擎检查点存储
type Checkpointer interface {
	SaveCheckpoint(ctx context.Context, protectedID string, cp EngineCheckpoint) error
	LoadCheckpoint(ctx context.Context, protectedID string) (*EngineCheckpoint, error)
}

// Snapshot 规则与时间窗口的不可变快照
type Snapshot struct {
	Rules   []models.Rule
	Windows []models.TimeWindow
	Version uint64
}

// EngineOptions 引擎参数
type EngineOptions struct {
	ProtectedID        string
	Location           *time.Location
	InactivityInterval time.Duration
	QueueSize          int
	MetricsInterval    time.Duration
	CheckpointTimeout  time.Duration
	// 检查点 SavedAt 早于该时长时视为停机过久，不恢复最后活动时间
	CheckpointMaxAge time.Duration
}

// Engine 信号处理引擎
// 最后活动时间、当前位置、规则快照只在 Start 的循环中修改
type Engine struct {
	opts        EngineOptions
	evaluator   *evaluator.Evaluator
	sink        CandidateSink
	checkpoints Checkpointer
	metrics     *Metrics
	logger      *zap.Logger
	now         func() time.Time

	accel    chan models.AccelSample
	location chan models.LocationFix
	panics   chan models.PanicSignal
	rules    chan []models.Rule
	windows  chan []models.TimeWindow
	done     chan struct{}

	snapshot atomic.Pointer[Snapshot]

	// 仅循环内访问
	lastActivity time.Time
	currentLoc   *models.GeoPoint
	armed        bool
}

// NewEngine 创建引擎
func NewEngine(opts EngineOptions, sink CandidateSink, checkpoints Checkpointer, logger *zap.Logger) *Engine {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.InactivityInterval <= 0 {
		opts.InactivityInterval = evaluator.InactivityCheckInterval
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.MetricsInterval <= 0 {
		opts.MetricsInterval = time.Minute
	}
	if opts.CheckpointTimeout <= 0 {
		opts.CheckpointTimeout = 2 * time.Second
	}
	if opts.CheckpointMaxAge <= 0 {
		opts.CheckpointMaxAge = 5 * opts.InactivityInterval
	}

	e := &Engine{
		opts:        opts,
		evaluator:   evaluator.NewEvaluator(logger),
		sink:        sink,
		checkpoints: checkpoints,
		metrics:     &Metrics{StartTime: time.Now()},
		logger:      logger,
		now:         time.Now,
		accel:       make(chan models.AccelSample, opts.QueueSize),
		location:    make(chan models.LocationFix, opts.QueueSize),
		panics:      make(chan models.PanicSignal, 8),
		rules:       make(chan []models.Rule),
		windows:     make(chan []models.TimeWindow),
		done:        make(chan struct{}),
		armed:       true,
	}
	e.snapshot.Store(&Snapshot{})
	return e
}

// PushAccel 提交加速度采样（非阻塞，缓冲区满时丢弃）
func (e *Engine) PushAccel(s models.AccelSample) bool {
	select {
	case e.accel <- s:
		return true
	default:
		e.metrics.update(func(m *Metrics) { m.SamplesDropped++ })
		return false
	}
}

// PushLocation 提交定位采样（非阻塞，缓冲区满时丢弃）
func (e *Engine) PushLocation(f models.LocationFix) bool {
	select {
	case e.location <- f:
		return true
	default:
		e.metrics.update(func(m *Metrics) { m.SamplesDropped++ })
		return false
	}
}

// TriggerPanic 手动紧急触发（不受时间窗口限制）
func (e *Engine) TriggerPanic(ctx context.Context, sig models.PanicSignal) error {
	select {
	case e.panics <- sig:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return errEngineStopped
	}
}

// UpdateRules 整体替换规则集
func (e *Engine) UpdateRules(ctx context.Context, rules []models.Rule) error {
	select {
	case e.rules <- rules:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return errEngineStopped
	}
}

// UpdateWindows 整体替换时间窗口
func (e *Engine) UpdateWindows(ctx context.Context, windows []models.TimeWindow) error {
	select {
	case e.windows <- windows:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return errEngineStopped
	}
}

var errEngineStopped = errors.New("engine stopped")

// Snapshot 当前规则/时间窗口快照（只读）
func (e *Engine) Snapshot() *Snapshot {
	return e.snapshot.Load()
}

// GetMetrics 获取指标快照
func (e *Engine) GetMetrics() Metrics {
	return e.metrics.GetSnapshot()
}

// Done 循环退出后关闭
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Start 启动引擎循环，ctx 取消时返回
func (e *Engine) Start(ctx context.Context) error {
	defer close(e.done)

	e.restore(ctx)

	inactivity := time.NewTicker(e.opts.InactivityInterval)
	defer inactivity.Stop()
	metricsTicker := time.NewTicker(e.opts.MetricsInterval)
	defer metricsTicker.Stop()

	e.logger.Info("Safety engine started",
		zap.String("protected_id", e.opts.ProtectedID),
		zap.Duration("inactivity_interval", e.opts.InactivityInterval),
		zap.String("timezone", e.opts.Location.String()),
	)

	for {
		select {
		case <-ctx.Done():
			e.reportMetrics()
			e.logger.Info("Safety engine stopped")
			return nil
		case s := <-e.accel:
			e.handleAccel(s)
		case f := <-e.location:
			e.handleLocation(f)
		case p := <-e.panics:
			e.handlePanic(p)
		case rules := <-e.rules:
			e.applyRules(rules)
		case windows := <-e.windows:
			e.applyWindows(windows)
		case <-inactivity.C:
			e.handleInactivity()
		case <-metricsTicker.C:
			e.reportMetrics()
		}
	}
}

// restore 从检查点恢复最后活动时间；没有检查点时以启动时间为准
func (e *Engine) restore(ctx context.Context) {
	e.lastActivity = e.now()
	if e.checkpoints == nil {
		return
	}

	rctx, cancel := context.WithTimeout(ctx, e.opts.CheckpointTimeout)
	defer cancel()
	cp, err := e.checkpoints.LoadCheckpoint(rctx, e.opts.ProtectedID)
	if err != nil {
		if !errors.Is(err, ErrStateNotFound) {
			e.logger.Warn("Failed to load engine checkpoint", zap.Error(err))
		}
		return
	}
	if age := e.lastActivity.Sub(cp.SavedAt); cp.SavedAt.IsZero() || age > e.opts.CheckpointMaxAge {
		e.logger.Info("Engine checkpoint too old, inactivity timer starts now",
			zap.Time("saved_at", cp.SavedAt),
			zap.Duration("max_age", e.opts.CheckpointMaxAge),
		)
	} else if !cp.LastActivity.IsZero() && cp.LastActivity.Before(e.lastActivity) {
		e.lastActivity = cp.LastActivity
	}
	if cp.Location != nil {
		loc := *cp.Location
		e.currentLoc = &loc
	}
	e.logger.Info("Engine checkpoint restored", zap.Time("last_activity", e.lastActivity))
}

// updateArmed 计算当前是否处于监控窗口；离开窗口时清除检测器历史
func (e *Engine) updateArmed(now time.Time) bool {
	armed := evaluator.IsArmed(now.In(e.opts.Location), e.snapshot.Load().Windows)
	if armed != e.armed {
		if !armed {
			e.evaluator.Reset()
		}
		e.logger.Info("Monitoring state changed", zap.Bool("armed", armed))
		e.armed = armed
	}
	return armed
}

func (e *Engine) handleAccel(s models.AccelSample) {
	now := e.now()
	if !e.updateArmed(now) {
		e.metrics.update(func(m *Metrics) { m.SamplesDisarmed++ })
		return
	}
	e.lastActivity = now
	e.metrics.update(func(m *Metrics) {
		m.AccelSamples++
		m.LastSampleTime = now
	})

	snap := e.snapshot.Load()
	e.submit(e.evaluator.EvaluateAccel(s, snap.Rules, e.currentLoc))
}

func (e *Engine) handleLocation(f models.LocationFix) {
	now := e.now()
	point := f.Point()
	e.currentLoc = &point

	if !e.updateArmed(now) {
		e.metrics.update(func(m *Metrics) { m.SamplesDisarmed++ })
		return
	}
	e.lastActivity = now
	e.metrics.update(func(m *Metrics) {
		m.LocationFixes++
		m.LastSampleTime = now
	})

	snap := e.snapshot.Load()
	e.submit(e.evaluator.EvaluateLocation(f, snap.Rules))
}

func (e *Engine) handlePanic(p models.PanicSignal) {
	at := p.At
	if at.IsZero() {
		at = e.now()
	}
	e.metrics.update(func(m *Metrics) { m.PanicTriggers++ })
	cand := e.evaluator.EvaluatePanic(at, e.opts.ProtectedID, e.snapshot.Load().Rules, e.currentLoc)
	e.logger.Warn("Panic triggered", zap.String("rule_id", cand.RuleID))
	e.submit([]models.Candidate{cand})
}

func (e *Engine) handleInactivity() {
	now := e.now()
	e.metrics.update(func(m *Metrics) { m.InactivityChecks++ })

	if e.updateArmed(now) {
		snap := e.snapshot.Load()
		e.submit(e.evaluator.EvaluateInactivity(now, e.lastActivity, snap.Rules, e.currentLoc))
	}
	e.saveCheckpoint(now)
}

// saveCheckpoint 异步写检查点，不阻塞采样循环
func (e *Engine) saveCheckpoint(now time.Time) {
	if e.checkpoints == nil {
		return
	}
	cp := EngineCheckpoint{LastActivity: e.lastActivity, SavedAt: now}
	if e.currentLoc != nil {
		loc := *e.currentLoc
		cp.Location = &loc
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.CheckpointTimeout)
		defer cancel()
		if err := e.checkpoints.SaveCheckpoint(ctx, e.opts.ProtectedID, cp); err != nil {
			e.metrics.update(func(m *Metrics) { m.CheckpointFailures++ })
			e.logger.Warn("Failed to save engine checkpoint", zap.Error(err))
		}
	}()
}

func (e *Engine) applyRules(rules []models.Rule) {
	prev := e.snapshot.Load()
	next := &Snapshot{
		Rules:   append([]models.Rule(nil), rules...),
		Windows: prev.Windows,
		Version: prev.Version + 1,
	}
	e.snapshot.Store(next)
	e.metrics.update(func(m *Metrics) { m.SnapshotUpdates++ })
	e.logger.Info("Rule set updated", zap.Int("rules", len(rules)), zap.Uint64("version", next.Version))
}

func (e *Engine) applyWindows(windows []models.TimeWindow) {
	prev := e.snapshot.Load()
	next := &Snapshot{
		Rules:   prev.Rules,
		Windows: append([]models.TimeWindow(nil), windows...),
		Version: prev.Version + 1,
	}
	e.snapshot.Store(next)
	e.metrics.update(func(m *Metrics) { m.SnapshotUpdates++ })
	e.logger.Info("Time windows updated", zap.Int("windows", len(windows)), zap.Uint64("version", next.Version))
}

func (e *Engine) submit(candidates []models.Candidate) {
	for _, c := range candidates {
		if e.sink.Submit(c) {
			e.metrics.update(func(m *Metrics) { m.CandidatesEmitted++ })
			continue
		}
		e.metrics.update(func(m *Metrics) { m.CandidatesDropped++ })
	}
}

func (e *Engine) reportMetrics() {
	m := e.metrics.GetSnapshot()
	e.logger.Info("Engine metrics",
		zap.Int64("accel_samples", m.AccelSamples),
		zap.Int64("location_fixes", m.LocationFixes),
		zap.Int64("samples_disarmed", m.SamplesDisarmed),
		zap.Int64("samples_dropped", m.SamplesDropped),
		zap.Int64("inactivity_checks", m.InactivityChecks),
		zap.Int64("candidates_emitted", m.CandidatesEmitted),
		zap.Int64("candidates_dropped", m.CandidatesDropped),
		zap.Int64("panic_triggers", m.PanicTriggers),
		zap.Int64("checkpoint_failures", m.CheckpointFailures),
		zap.Duration("uptime", time.Since(m.StartTime)),
	)
}
