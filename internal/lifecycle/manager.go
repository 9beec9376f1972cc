package lifecycle

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"safetysec-engine/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State 生命周期状态
type State int

const (
	StateIdle State = iota
	StateCountdown
)

func (s State) String() string {
	if s == StateCountdown {
		return "countdown"
	}
	return "idle"
}

// TriggerResult 候选触发的处理结果
type TriggerResult int

const (
	TriggerStarted    TriggerResult = iota // 已进入倒计时
	TriggerNoMonitors                      // 没有已批准的监护人，丢弃
	TriggerBusy                            // 已有报警在倒计时，丢弃
	TriggerFailed                          // 关系查询或全部记录写入失败
	TriggerDeferred                        // 紧急按钮在倒计时期间到达，当前批次结束后处理
)

// DefaultCountdownSeconds 取消倒计时
const DefaultCountdownSeconds = 10

// Options 管理器参数
type Options struct {
	ProtectedID      string
	CountdownSeconds int
	StoreTimeout     time.Duration
	ActiveBatchLimit int
	// 录像启动与本人通知的超时，二者在独立 goroutine 中执行
	SideEffectTimeout time.Duration
}

// batch 一次物理触发产生的一组报警（每个监护人一条）
type batch struct {
	id        string
	candidate models.Candidate
	alerts    []models.Alert
	remaining int
}

// Manager 报警生命周期状态机
// 非并发安全：只能由 Runner 的单一循环（或测试）调用
type Manager struct {
	opts      Options
	alerts    AlertStore
	relations RelationStore
	profiles  ProfileStore
	recorder  Recorder
	local     LocalNotifier
	fanout    FanOut
	metrics   *Metrics
	logger    *zap.Logger

	now   func() time.Time
	newID func() string

	state   State
	current *batch

	// 倒计时期间到达的紧急按钮，最多保留一个
	deferred *models.Candidate

	effects sync.WaitGroup

	// 已激活、等待录像回调的批次
	active      map[string]*batch
	activeOrder []string
}

// NewManager 创建生命周期管理器
func NewManager(
	opts Options,
	alerts AlertStore,
	relations RelationStore,
	profiles ProfileStore,
	recorder Recorder,
	local LocalNotifier,
	fanout FanOut,
	logger *zap.Logger,
) *Manager {
	if opts.CountdownSeconds <= 0 {
		opts.CountdownSeconds = DefaultCountdownSeconds
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	if opts.ActiveBatchLimit <= 0 {
		opts.ActiveBatchLimit = 16
	}
	if opts.SideEffectTimeout <= 0 {
		opts.SideEffectTimeout = 5 * time.Second
	}
	return &Manager{
		opts:      opts,
		alerts:    alerts,
		relations: relations,
		profiles:  profiles,
		recorder:  recorder,
		local:     local,
		fanout:    fanout,
		metrics:   &Metrics{StartTime: time.Now()},
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
		active:    map[string]*batch{},
	}
}

// State 当前状态
func (m *Manager) State() State { return m.state }

// Remaining 倒计时剩余秒数（Idle 时为 0）
func (m *Manager) Remaining() int {
	if m.current == nil {
		return 0
	}
	return m.current.remaining
}

// CurrentAlerts 当前倒计时批次的报警记录副本
func (m *Manager) CurrentAlerts() []models.Alert {
	if m.current == nil {
		return nil
	}
	return append([]models.Alert(nil), m.current.alerts...)
}

// GetMetrics 获取指标快照
func (m *Manager) GetMetrics() Metrics { return m.metrics.GetSnapshot() }

// Trigger 处理候选触发：为每个已批准的监护人写入一条 PENDING 记录并开始倒计时
// 部分记录写入失败时仍然开始倒计时，并返回 *PersistError
func (m *Manager) Trigger(ctx context.Context, cand models.Candidate) (TriggerResult, error) {
	if m.state == StateCountdown {
		if m.canDefer(cand) {
			m.deferred = &cand
			m.metrics.add(func(m *Metrics) { m.DeferredPanics++ })
			m.logger.Info("Panic button deferred until current countdown ends",
				zap.String("rule_id", cand.RuleID),
				zap.String("batch_id", m.current.id),
			)
			return TriggerDeferred, nil
		}
		m.metrics.add(func(m *Metrics) { m.DiscardedBusy++ })
		m.logger.Info("Candidate discarded, alert already in countdown",
			zap.String("rule_id", cand.RuleID),
			zap.String("rule_type", string(cand.RuleType)),
			zap.String("batch_id", m.current.id),
		)
		return TriggerBusy, nil
	}

	monitors, err := m.approvedMonitors(ctx)
	if err != nil {
		m.metrics.add(func(m *Metrics) { m.PersistenceFailures++ })
		return TriggerFailed, fmt.Errorf("failed to load approved monitors: %w", err)
	}
	if len(monitors) == 0 {
		m.metrics.add(func(m *Metrics) { m.DiscardedNoMonitors++ })
		m.logger.Info("Candidate discarded, no approved monitors",
			zap.String("rule_id", cand.RuleID),
			zap.String("rule_type", string(cand.RuleType)),
		)
		return TriggerNoMonitors, nil
	}

	b := &batch{id: m.newID(), candidate: cand, remaining: m.opts.CountdownSeconds}
	perr := newPersistError("create", b.id)
	createdAt := m.now()

	for _, monitorID := range monitors {
		alert := models.Alert{
			ID:          m.newID(),
			BatchID:     b.id,
			ProtectedID: m.opts.ProtectedID,
			MonitorID:   monitorID,
			RuleID:      cand.RuleID,
			Type:        cand.RuleType,
			Status:      models.AlertStatusPending,
			Location:    copyPoint(cand.Location),
			CreatedAt:   createdAt,
			Context:     copyContext(cand.Context),
		}

		sctx, cancel := context.WithTimeout(ctx, m.opts.StoreTimeout)
		id, err := m.alerts.Create(sctx, &alert)
		cancel()
		if err != nil {
			perr.add(monitorID, err)
			m.logger.Error("Failed to persist alert",
				zap.String("batch_id", b.id),
				zap.String("monitor_id", monitorID),
				zap.Error(err),
			)
			continue
		}
		if id != "" {
			alert.ID = id
		}
		b.alerts = append(b.alerts, alert)
	}

	created := int64(len(b.alerts))
	failed := int64(len(perr.Failed))
	m.metrics.add(func(m *Metrics) {
		m.AlertsCreated += created
		m.PersistenceFailures += failed
	})

	if len(b.alerts) == 0 {
		return TriggerFailed, perr
	}

	m.state = StateCountdown
	m.current = b
	m.metrics.add(func(mm *Metrics) {
		mm.CandidatesAccepted++
		mm.LastTriggerTime = createdAt
	})

	m.logger.Info("Alert countdown started",
		zap.String("batch_id", b.id),
		zap.String("rule_id", cand.RuleID),
		zap.String("rule_type", string(cand.RuleType)),
		zap.Int("records", len(b.alerts)),
		zap.Int("countdown", b.remaining),
	)

	return TriggerStarted, perr.orNil()
}

// Tick 倒计时前进一秒；归零时激活整组报警
// 返回是否在本次调用中完成激活
func (m *Manager) Tick(ctx context.Context) (bool, error) {
	if m.state != StateCountdown {
		return false, nil
	}

	m.current.remaining--
	if m.current.remaining > 0 {
		m.logger.Debug("Alert countdown tick",
			zap.String("batch_id", m.current.id),
			zap.Int("remaining", m.current.remaining),
		)
		return false, nil
	}

	return true, m.activate(ctx)
}

func (m *Manager) activate(ctx context.Context) error {
	b := m.current
	m.state = StateIdle
	m.current = nil

	perr := newPersistError("activate", b.id)
	var activated []models.Alert
	for i := range b.alerts {
		alert := &b.alerts[i]
		changed, err := m.updateStatus(ctx, models.StatusUpdate{
			AlertID: alert.ID,
			From:    models.AlertStatusPending,
			To:      models.AlertStatusActive,
		})
		if err != nil {
			perr.add(alert.MonitorID, err)
			m.logger.Error("Failed to activate alert",
				zap.String("batch_id", b.id),
				zap.String("alert_id", alert.ID),
				zap.Error(err),
			)
			continue
		}
		if !changed {
			m.logger.Info("Alert no longer pending, activation skipped",
				zap.String("batch_id", b.id),
				zap.String("alert_id", alert.ID),
			)
			continue
		}
		alert.Transition(models.AlertStatusActive)
		activated = append(activated, *alert)
	}

	activatedCount := int64(len(activated))
	failed := int64(len(perr.Failed))
	m.metrics.add(func(m *Metrics) {
		m.AlertsActivated += activatedCount
		m.PersistenceFailures += failed
	})

	if len(activated) == 0 {
		m.logger.Warn("Alert countdown expired with no activated records", zap.String("batch_id", b.id))
		return perr.orNil()
	}

	// 录像与本人通知每批只触发一次
	m.startSideEffects(b.id, activated[0])

	if m.fanout != nil {
		recipients := m.filterApproved(ctx, activated)
		queued := m.fanout.Publish(recipients, m.displayName(ctx))
		m.logger.Info("Alert activated",
			zap.String("batch_id", b.id),
			zap.Int("activated", len(activated)),
			zap.Int("notifications", queued),
		)
	}

	b.alerts = activated
	m.remember(b)

	return perr.orNil()
}

// Cancel 校验取消码，正确时将整组报警置为 CANCELLED 并回到 Idle
// 取消码错误或当前没有倒计时时返回 false
func (m *Manager) Cancel(ctx context.Context, req models.CancelRequest) (bool, error) {
	if m.state != StateCountdown {
		return false, nil
	}

	profile, err := m.profile(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to load cancellation code: %w", err)
	}
	if !codeMatches(req.Code, profile.CancellationCode) {
		m.metrics.add(func(m *Metrics) { m.CancelRejected++ })
		m.logger.Info("Cancellation rejected, code mismatch",
			zap.String("batch_id", m.current.id),
			zap.String("cancelled_by", req.CancelledBy),
		)
		return false, nil
	}

	b := m.current
	m.state = StateIdle
	m.current = nil

	cancelledAt := req.At
	if cancelledAt.IsZero() {
		cancelledAt = m.now()
	}
	cancelledBy := req.CancelledBy

	perr := newPersistError("cancel", b.id)
	var cancelled int64
	for i := range b.alerts {
		alert := &b.alerts[i]
		changed, err := m.updateStatus(ctx, models.StatusUpdate{
			AlertID:     alert.ID,
			From:        models.AlertStatusPending,
			To:          models.AlertStatusCancelled,
			CancelledAt: &cancelledAt,
			CancelledBy: &cancelledBy,
		})
		if err != nil {
			perr.add(alert.MonitorID, err)
			m.logger.Error("Failed to cancel alert",
				zap.String("batch_id", b.id),
				zap.String("alert_id", alert.ID),
				zap.Error(err),
			)
			continue
		}
		if !changed {
			continue
		}
		alert.Transition(models.AlertStatusCancelled)
		at, by := cancelledAt, cancelledBy
		alert.CancelledAt = &at
		alert.CancelledBy = &by
		cancelled++
	}

	failed := int64(len(perr.Failed))
	m.metrics.add(func(m *Metrics) {
		m.AlertsCancelled += cancelled
		m.PersistenceFailures += failed
	})

	m.logger.Info("Alert cancelled",
		zap.String("batch_id", b.id),
		zap.String("cancelled_by", cancelledBy),
		zap.Int64("records", cancelled),
	)

	return true, perr.orNil()
}

// AttachVideo 录像完成后为整组报警挂载录像引用
func (m *Manager) AttachVideo(ctx context.Context, batchID, videoRef string) (int, error) {
	b, ok := m.active[batchID]
	if !ok {
		// 重启后内存中没有批次，从存储中恢复已激活的记录
		loaded, err := m.loadActiveBatch(ctx, batchID)
		if err != nil {
			return 0, err
		}
		b = loaded
	}

	perr := newPersistError("attach_video", batchID)
	attached := 0
	for i := range b.alerts {
		alert := &b.alerts[i]
		if alert.VideoRecorded() {
			continue
		}
		sctx, cancel := context.WithTimeout(ctx, m.opts.StoreTimeout)
		changed, err := m.alerts.AttachVideo(sctx, alert.ID, videoRef)
		cancel()
		if err != nil {
			perr.add(alert.MonitorID, err)
			continue
		}
		if changed {
			ref := videoRef
			alert.VideoRef = &ref
			attached++
		}
	}

	if len(perr.Failed) == 0 {
		m.forget(batchID)
	}

	count := int64(attached)
	failed := int64(len(perr.Failed))
	m.metrics.add(func(m *Metrics) {
		m.VideosAttached += count
		m.PersistenceFailures += failed
	})

	m.logger.Info("Recording attached",
		zap.String("batch_id", batchID),
		zap.String("video_ref", videoRef),
		zap.Int("records", attached),
	)
	return attached, perr.orNil()
}

// TakeDeferred 取出被推迟的紧急按钮候选（仅 Idle 时）
func (m *Manager) TakeDeferred() (models.Candidate, bool) {
	if m.state != StateIdle || m.deferred == nil {
		return models.Candidate{}, false
	}
	c := *m.deferred
	m.deferred = nil
	return c, true
}

// WaitSideEffects 等待已启动的录像与本人通知结束
func (m *Manager) WaitSideEffects() {
	m.effects.Wait()
}

// Abandon 关闭时放弃进行中的倒计时，不强制任何终态
func (m *Manager) Abandon() {
	if m.deferred != nil {
		m.logger.Warn("Dropping deferred panic button", zap.String("rule_id", m.deferred.RuleID))
		m.deferred = nil
	}
	if m.state != StateCountdown {
		return
	}
	m.logger.Warn("Abandoning in-flight alert countdown",
		zap.String("batch_id", m.current.id),
		zap.Int("remaining", m.current.remaining),
	)
	m.state = StateIdle
	m.current = nil
}

// canDefer 倒计时期间只推迟紧急按钮，且当前批次不是紧急按钮
func (m *Manager) canDefer(cand models.Candidate) bool {
	return cand.RuleType == models.RuleTypePanicButton &&
		m.current.candidate.RuleType != models.RuleTypePanicButton &&
		m.deferred == nil
}

// startSideEffects 在独立 goroutine 中启动录像并通知本人，不阻塞状态机
func (m *Manager) startSideEffects(batchID string, alert models.Alert) {
	if m.recorder == nil && m.local == nil {
		return
	}
	m.effects.Add(1)
	go func() {
		defer m.effects.Done()
		if m.recorder != nil {
			m.withTimeout(func(ctx context.Context) {
				if err := m.recorder.StartRecording(ctx, batchID, alert); err != nil {
					m.logger.Error("Failed to start recording", zap.String("batch_id", batchID), zap.Error(err))
				}
			})
		}
		if m.local != nil {
			m.withTimeout(func(ctx context.Context) {
				if err := m.local.NotifyProtected(ctx, batchID, alert); err != nil {
					m.logger.Error("Failed to notify protected user", zap.String("batch_id", batchID), zap.Error(err))
				}
			})
		}
	}()
}

// withTimeout 每个副作用单独计时
func (m *Manager) withTimeout(f func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.SideEffectTimeout)
	defer cancel()
	f(ctx)
}

func (m *Manager) loadActiveBatch(ctx context.Context, batchID string) (*batch, error) {
	sctx, cancel := context.WithTimeout(ctx, m.opts.StoreTimeout)
	defer cancel()
	alerts, err := m.alerts.ListByBatch(sctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load alert batch %s: %w", batchID, err)
	}
	b := &batch{id: batchID}
	for _, a := range alerts {
		if a.Status == models.AlertStatusActive {
			b.alerts = append(b.alerts, a)
		}
	}
	if len(b.alerts) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBatch, batchID)
	}
	return b, nil
}

func (m *Manager) approvedMonitors(ctx context.Context) ([]string, error) {
	sctx, cancel := context.WithTimeout(ctx, m.opts.StoreTimeout)
	defer cancel()
	return m.relations.ApprovedMonitors(sctx, m.opts.ProtectedID)
}

func (m *Manager) profile(ctx context.Context) (*models.Profile, error) {
	sctx, cancel := context.WithTimeout(ctx, m.opts.StoreTimeout)
	defer cancel()
	return m.profiles.Profile(sctx, m.opts.ProtectedID)
}

func (m *Manager) updateStatus(ctx context.Context, update models.StatusUpdate) (bool, error) {
	sctx, cancel := context.WithTimeout(ctx, m.opts.StoreTimeout)
	defer cancel()
	return m.alerts.UpdateStatus(sctx, update)
}

func (m *Manager) displayName(ctx context.Context) string {
	profile, err := m.profile(ctx)
	if err != nil {
		m.logger.Warn("Failed to load protected profile for notifications", zap.Error(err))
		return ""
	}
	return profile.DisplayName
}

// filterApproved 只通知激活时仍为 APPROVED 的监护人；查询失败时通知全部
func (m *Manager) filterApproved(ctx context.Context, alerts []models.Alert) []models.Alert {
	monitors, err := m.approvedMonitors(ctx)
	if err != nil {
		m.logger.Warn("Failed to reload approved monitors, notifying all activated records", zap.Error(err))
		return alerts
	}
	approved := make(map[string]struct{}, len(monitors))
	for _, id := range monitors {
		approved[id] = struct{}{}
	}
	out := make([]models.Alert, 0, len(alerts))
	for _, a := range alerts {
		if _, ok := approved[a.MonitorID]; ok {
			out = append(out, a)
		}
	}
	return out
}

func (m *Manager) remember(b *batch) {
	m.active[b.id] = b
	m.activeOrder = append(m.activeOrder, b.id)
	for len(m.activeOrder) > m.opts.ActiveBatchLimit {
		oldest := m.activeOrder[0]
		m.activeOrder = m.activeOrder[1:]
		delete(m.active, oldest)
	}
}

func (m *Manager) forget(batchID string) {
	delete(m.active, batchID)
	for i, id := range m.activeOrder {
		if id == batchID {
			m.activeOrder = append(m.activeOrder[:i], m.activeOrder[i+1:]...)
			break
		}
	}
}

// codeMatches 精确匹配（区分大小写）；未设置取消码时永不匹配
func codeMatches(given, stored string) bool {
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(given), []byte(stored)) == 1
}

func copyPoint(p *models.GeoPoint) *models.GeoPoint {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

func copyContext(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
