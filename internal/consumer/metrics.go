package consumer

import (
	"sync"
	"time"
)

// Metrics 引擎监控指标
type Metrics struct {
	mu sync.RWMutex

	// 采样统计
	AccelSamples     int64 // 处理的加速度采样
	LocationFixes    int64 // 处理的定位采样
	SamplesDisarmed  int64 // 不在监控窗口内被丢弃
	SamplesDropped   int64 // 缓冲区满被丢弃
	InactivityChecks int64

	// 候选统计
	CandidatesEmitted int64
	CandidatesDropped int64 // 生命周期队列已满
	PanicTriggers     int64

	SnapshotUpdates    int64
	CheckpointFailures int64

	LastSampleTime time.Time
	StartTime      time.Time
}

// GetSnapshot 获取指标快照（线程安全）
func (m *Metrics) GetSnapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		AccelSamples:       m.AccelSamples,
		LocationFixes:      m.LocationFixes,
		SamplesDisarmed:    m.SamplesDisarmed,
		SamplesDropped:     m.SamplesDropped,
		InactivityChecks:   m.InactivityChecks,
		CandidatesEmitted:  m.CandidatesEmitted,
		CandidatesDropped:  m.CandidatesDropped,
		PanicTriggers:      m.PanicTriggers,
		SnapshotUpdates:    m.SnapshotUpdates,
		CheckpointFailures: m.CheckpointFailures,
		LastSampleTime:     m.LastSampleTime,
		StartTime:          m.StartTime,
	}
}

func (m *Metrics) update(f func(m *Metrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f(m)
}
