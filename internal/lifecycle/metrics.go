package lifecycle

import (
	"sync"
	"time"
)

// Metrics 报警生命周期指标
type Metrics struct {
	mu sync.RWMutex

	CandidatesAccepted  int64 // 进入倒计时的候选
	DiscardedNoMonitors int64 // 没有已批准监护人
	DiscardedBusy       int64 // 已有报警在倒计时
	DeferredPanics      int64 // 倒计时期间推迟处理的紧急按钮
	DiscardedQueueFull  int64 // 候选队列已满
	AlertsCreated       int64 // 写入的报警记录
	AlertsActivated     int64
	AlertsCancelled     int64
	PersistenceFailures int64
	CancelRejected      int64 // 取消码错误
	VideosAttached      int64

	LastTriggerTime time.Time
	StartTime       time.Time
}

// GetSnapshot 获取指标快照（线程安全）
func (m *Metrics) GetSnapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		CandidatesAccepted:  m.CandidatesAccepted,
		DiscardedNoMonitors: m.DiscardedNoMonitors,
		DiscardedBusy:       m.DiscardedBusy,
		DeferredPanics:      m.DeferredPanics,
		DiscardedQueueFull:  m.DiscardedQueueFull,
		AlertsCreated:       m.AlertsCreated,
		AlertsActivated:     m.AlertsActivated,
		AlertsCancelled:     m.AlertsCancelled,
		PersistenceFailures: m.PersistenceFailures,
		CancelRejected:      m.CancelRejected,
		VideosAttached:      m.VideosAttached,
		LastTriggerTime:     m.LastTriggerTime,
		StartTime:           m.StartTime,
	}
}

func (m *Metrics) add(f func(m *Metrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f(m)
}
