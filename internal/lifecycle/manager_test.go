package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"safetysec-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type harness struct {
	store     *fakeAlertStore
	relations *fakeRelations
	profiles  *fakeProfiles
	recorder  *MockRecorder
	local     *MockLocalNotifier
	fanout    *fakeFanOut
	manager   *Manager
}

func newHarness(t *testing.T, monitors ...string) *harness {
	t.Helper()
	h := &harness{
		store:     newFakeAlertStore(),
		relations: &fakeRelations{monitors: monitors},
		profiles:  &fakeProfiles{profile: models.Profile{ID: "p1", DisplayName: "Ana", CancellationCode: "4321"}},
		recorder:  &MockRecorder{},
		local:     &MockLocalNotifier{},
		fanout:    &fakeFanOut{},
	}
	h.manager = NewManager(
		Options{ProtectedID: "p1", CountdownSeconds: 10, StoreTimeout: time.Second},
		h.store, h.relations, h.profiles, h.recorder, h.local, h.fanout,
		zap.NewNop(),
	)
	t.Cleanup(h.manager.WaitSideEffects)
	return h
}

func fallCandidate() models.Candidate {
	return models.Candidate{
		RuleID:     "r1",
		RuleType:   models.RuleTypeFallDetection,
		Location:   &models.GeoPoint{Latitude: 38.7, Longitude: -9.1},
		Context:    map[string]interface{}{},
		DetectedAt: time.Now(),
	}
}

func tickN(t *testing.T, m *Manager, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := m.Tick(context.Background())
		require.NoError(t, err)
	}
}

func TestTrigger_NoApprovedMonitors(t *testing.T) {
	h := newHarness(t)

	result, err := h.manager.Trigger(context.Background(), fallCandidate())
	require.NoError(t, err)
	assert.Equal(t, TriggerNoMonitors, result)
	assert.Equal(t, StateIdle, h.manager.State())
	assert.Empty(t, h.store.all())
	assert.Equal(t, int64(1), h.manager.GetMetrics().DiscardedNoMonitors)
}

func TestTrigger_OnePendingAlertPerMonitor(t *testing.T) {
	h := newHarness(t, "m1", "m2", "m3")

	result, err := h.manager.Trigger(context.Background(), fallCandidate())
	require.NoError(t, err)
	assert.Equal(t, TriggerStarted, result)
	assert.Equal(t, StateCountdown, h.manager.State())
	assert.Equal(t, 10, h.manager.Remaining())

	alerts := h.store.all()
	require.Len(t, alerts, 3)
	batchID := alerts[0].BatchID
	seen := map[string]bool{}
	for _, a := range alerts {
		assert.Equal(t, models.AlertStatusPending, a.Status)
		assert.Equal(t, "p1", a.ProtectedID)
		assert.Equal(t, "r1", a.RuleID)
		assert.Equal(t, models.RuleTypeFallDetection, a.Type)
		assert.Equal(t, batchID, a.BatchID)
		require.NotNil(t, a.Location)
		assert.Equal(t, 38.7, a.Location.Latitude)
		seen[a.MonitorID] = true
	}
	assert.Equal(t, map[string]bool{"m1": true, "m2": true, "m3": true}, seen)
}

func TestCancel_CorrectCodeAtTickFive(t *testing.T) {
	h := newHarness(t, "m1", "m2")
	ctx := context.Background()

	_, err := h.manager.Trigger(ctx, fallCandidate())
	require.NoError(t, err)
	tickN(t, h.manager, 5)
	assert.Equal(t, 5, h.manager.Remaining())

	at := time.Date(2024, 6, 3, 12, 0, 5, 0, time.UTC)
	cancelled, err := h.manager.Cancel(ctx, models.CancelRequest{Code: "4321", CancelledBy: "p1", At: at})
	require.NoError(t, err)
	assert.True(t, cancelled)
	assert.Equal(t, StateIdle, h.manager.State())

	for _, a := range h.store.all() {
		assert.Equal(t, models.AlertStatusCancelled, a.Status)
		require.NotNil(t, a.CancelledAt)
		require.NotNil(t, a.CancelledBy)
		assert.Equal(t, at, *a.CancelledAt)
		assert.Equal(t, "p1", *a.CancelledBy)
	}

	// 取消后 tick 不再产生任何效果
	activated, err := h.manager.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, activated)
	h.recorder.AssertNotCalled(t, "StartRecording", mock.Anything, mock.Anything)
	assert.Empty(t, h.fanout.published())
}

func TestCancel_WrongCodeLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t, "m1")
	ctx := context.Background()

	_, err := h.manager.Trigger(ctx, fallCandidate())
	require.NoError(t, err)

	for i := 0; i < 9; i++ {
		for _, code := range []string{"1234", "", "43210", " 4321"} {
			cancelled, err := h.manager.Cancel(ctx, models.CancelRequest{Code: code, CancelledBy: "p1"})
			require.NoError(t, err)
			assert.False(t, cancelled)
		}
		assert.Equal(t, StateCountdown, h.manager.State())
		assert.Equal(t, 10-i, h.manager.Remaining())
		tickN(t, h.manager, 1)
	}

	for _, a := range h.store.all() {
		assert.Equal(t, models.AlertStatusPending, a.Status)
	}
	assert.Equal(t, int64(36), h.manager.GetMetrics().CancelRejected)
}

func TestCancel_CaseSensitive(t *testing.T) {
	h := newHarness(t, "m1")
	h.profiles.profile.CancellationCode = "AbC"

	_, err := h.manager.Trigger(context.Background(), fallCandidate())
	require.NoError(t, err)

	cancelled, err := h.manager.Cancel(context.Background(), models.CancelRequest{Code: "abc"})
	require.NoError(t, err)
	assert.False(t, cancelled)

	cancelled, err = h.manager.Cancel(context.Background(), models.CancelRequest{Code: "AbC"})
	require.NoError(t, err)
	assert.True(t, cancelled)
}

func TestCancel_EmptyStoredCodeNeverMatches(t *testing.T) {
	h := newHarness(t, "m1")
	h.profiles.profile.CancellationCode = ""

	_, err := h.manager.Trigger(context.Background(), fallCandidate())
	require.NoError(t, err)

	cancelled, err := h.manager.Cancel(context.Background(), models.CancelRequest{Code: ""})
	require.NoError(t, err)
	assert.False(t, cancelled)
	assert.Equal(t, StateCountdown, h.manager.State())
}

func TestCancel_WhenIdle(t *testing.T) {
	h := newHarness(t, "m1")

	cancelled, err := h.manager.Cancel(context.Background(), models.CancelRequest{Code: "4321"})
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestTick_ActivatesAtZero(t *testing.T) {
	h := newHarness(t, "m1", "m2")
	ctx := context.Background()
	h.recorder.On("StartRecording", mock.Anything, models.RuleTypeFallDetection).Return(nil).Once()
	h.local.On("NotifyProtected", mock.Anything, models.RuleTypeFallDetection).Return(nil).Once()

	_, err := h.manager.Trigger(ctx, fallCandidate())
	require.NoError(t, err)

	tickN(t, h.manager, 9)
	assert.Equal(t, StateCountdown, h.manager.State())
	for _, a := range h.store.all() {
		assert.Equal(t, models.AlertStatusPending, a.Status)
	}

	activated, err := h.manager.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, activated)
	assert.Equal(t, StateIdle, h.manager.State())

	for _, a := range h.store.all() {
		assert.Equal(t, models.AlertStatusActive, a.Status)
	}

	// 录像和本人通知各一次，监护人通知每人一条
	h.manager.WaitSideEffects()
	h.recorder.AssertNumberOfCalls(t, "StartRecording", 1)
	h.local.AssertNumberOfCalls(t, "NotifyProtected", 1)
	published := h.fanout.published()
	require.Len(t, published, 1)
	assert.Len(t, published[0], 2)
	assert.Equal(t, "Ana", h.fanout.names[0])

	m := h.manager.GetMetrics()
	assert.Equal(t, int64(2), m.AlertsCreated)
	assert.Equal(t, int64(2), m.AlertsActivated)
}

func TestTick_NotifiesOnlyMonitorsStillApproved(t *testing.T) {
	h := newHarness(t, "m1", "m2")
	ctx := context.Background()
	h.recorder.On("StartRecording", mock.Anything, mock.Anything).Return(nil)
	h.local.On("NotifyProtected", mock.Anything, mock.Anything).Return(errors.New("device offline"))

	_, err := h.manager.Trigger(ctx, fallCandidate())
	require.NoError(t, err)
	h.relations.set("m2")

	tickN(t, h.manager, 10)

	published := h.fanout.published()
	require.Len(t, published, 1)
	require.Len(t, published[0], 1)
	assert.Equal(t, "m2", published[0][0].MonitorID)
}

func TestTerminalAlertTransitionsAreNoops(t *testing.T) {
	h := newHarness(t, "m1", "m2")
	ctx := context.Background()

	_, err := h.manager.Trigger(ctx, fallCandidate())
	require.NoError(t, err)

	// 一条记录已被外部置为终态
	alerts := h.store.all()
	h.store.setStatus(alerts[0].ID, models.AlertStatusResolved)

	cancelled, err := h.manager.Cancel(ctx, models.CancelRequest{Code: "4321", CancelledBy: "p1"})
	require.NoError(t, err)
	assert.True(t, cancelled)

	after := h.store.all()
	assert.Equal(t, models.AlertStatusResolved, after[0].Status)
	assert.Nil(t, after[0].CancelledAt)
	assert.Equal(t, models.AlertStatusCancelled, after[1].Status)
	assert.Equal(t, int64(1), h.manager.GetMetrics().AlertsCancelled)
}

func TestTick_SkipsRecordsNoLongerPending(t *testing.T) {
	h := newHarness(t, "m1", "m2")
	ctx := context.Background()
	h.recorder.On("StartRecording", mock.Anything, mock.Anything).Return(nil)
	h.local.On("NotifyProtected", mock.Anything, mock.Anything).Return(nil)

	_, err := h.manager.Trigger(ctx, fallCandidate())
	require.NoError(t, err)
	alerts := h.store.all()
	h.store.setStatus(alerts[1].ID, models.AlertStatusCancelled)

	tickN(t, h.manager, 10)

	after := h.store.all()
	assert.Equal(t, models.AlertStatusActive, after[0].Status)
	assert.Equal(t, models.AlertStatusCancelled, after[1].Status)
	require.Len(t, h.fanout.published(), 1)
	assert.Len(t, h.fanout.published()[0], 1)
}

func TestTrigger_PartialPersistenceFailure(t *testing.T) {
	h := newHarness(t, "m1", "m2", "m3")
	h.store.failFor["m2"] = errStoreDown

	result, err := h.manager.Trigger(context.Background(), fallCandidate())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPersistence))
	assert.Equal(t, TriggerStarted, result)
	assert.Equal(t, StateCountdown, h.manager.State())

	var perr *PersistError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, []string{"m2"}, perr.FailedMonitors())
	assert.Contains(t, err.Error(), "store unavailable")

	assert.Len(t, h.store.all(), 2)
	assert.Len(t, h.manager.CurrentAlerts(), 2)
	assert.Equal(t, int64(1), h.manager.GetMetrics().PersistenceFailures)
}

func TestTrigger_AllPersistenceFailed(t *testing.T) {
	h := newHarness(t, "m1")
	h.store.failFor["m1"] = errStoreDown

	result, err := h.manager.Trigger(context.Background(), fallCandidate())
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, TriggerFailed, result)
	assert.Equal(t, StateIdle, h.manager.State())
}

func TestTrigger_RelationLookupFailure(t *testing.T) {
	h := newHarness(t, "m1")
	h.relations.err = errStoreDown

	result, err := h.manager.Trigger(context.Background(), fallCandidate())
	assert.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, TriggerFailed, result)
	assert.Equal(t, StateIdle, h.manager.State())
}

func TestTrigger_BusyDiscardsSecondCandidate(t *testing.T) {
	h := newHarness(t, "m1")
	ctx := context.Background()

	_, err := h.manager.Trigger(ctx, fallCandidate())
	require.NoError(t, err)

	result, err := h.manager.Trigger(ctx, models.Candidate{RuleID: "r2", RuleType: models.RuleTypeInactivity})
	require.NoError(t, err)
	assert.Equal(t, TriggerBusy, result)
	assert.Len(t, h.store.all(), 1)
	assert.Equal(t, int64(1), h.manager.GetMetrics().DiscardedBusy)
}

func TestTrigger_PanicDeferredDuringCountdown(t *testing.T) {
	h := newHarness(t, "m1", "m2")
	ctx := context.Background()

	_, err := h.manager.Trigger(ctx, fallCandidate())
	require.NoError(t, err)

	panicButton := models.Candidate{RuleID: "panic", RuleType: models.RuleTypePanicButton, Context: map[string]interface{}{}}
	result, err := h.manager.Trigger(ctx, panicButton)
	require.NoError(t, err)
	assert.Equal(t, TriggerDeferred, result)

	// 只保留一个
	result, err = h.manager.Trigger(ctx, panicButton)
	require.NoError(t, err)
	assert.Equal(t, TriggerBusy, result)
	assert.Len(t, h.store.all(), 2)

	// 倒计时期间不能取出
	_, ok := h.manager.TakeDeferred()
	assert.False(t, ok)

	cancelled, err := h.manager.Cancel(ctx, models.CancelRequest{Code: "4321", CancelledBy: "p1"})
	require.NoError(t, err)
	require.True(t, cancelled)

	deferred, ok := h.manager.TakeDeferred()
	require.True(t, ok)
	result, err = h.manager.Trigger(ctx, deferred)
	require.NoError(t, err)
	assert.Equal(t, TriggerStarted, result)
	for _, a := range h.manager.CurrentAlerts() {
		assert.Equal(t, models.RuleTypePanicButton, a.Type)
		assert.Equal(t, models.AlertStatusPending, a.Status)
	}

	_, ok = h.manager.TakeDeferred()
	assert.False(t, ok)

	m := h.manager.GetMetrics()
	assert.Equal(t, int64(1), m.DeferredPanics)
	assert.Equal(t, int64(1), m.DiscardedBusy)
}

func TestTrigger_PanicDuringPanicCountdownIsBusy(t *testing.T) {
	h := newHarness(t, "m1")
	ctx := context.Background()
	panicButton := models.Candidate{RuleID: "panic", RuleType: models.RuleTypePanicButton}

	_, err := h.manager.Trigger(ctx, panicButton)
	require.NoError(t, err)
	result, err := h.manager.Trigger(ctx, panicButton)
	require.NoError(t, err)
	assert.Equal(t, TriggerBusy, result)
}

func TestTick_ActivationFailureIsSurfaced(t *testing.T) {
	h := newHarness(t, "m1", "m2")
	ctx := context.Background()
	h.recorder.On("StartRecording", mock.Anything, mock.Anything).Return(nil)
	h.local.On("NotifyProtected", mock.Anything, mock.Anything).Return(nil)

	_, err := h.manager.Trigger(ctx, fallCandidate())
	require.NoError(t, err)
	alerts := h.store.all()
	h.store.updateErr[alerts[0].ID] = errStoreDown

	tickN(t, h.manager, 9)
	activated, err := h.manager.Tick(ctx)
	assert.True(t, activated)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, StateIdle, h.manager.State())
	assert.Equal(t, models.AlertStatusActive, h.store.all()[1].Status)
}

func TestAttachVideo(t *testing.T) {
	h := newHarness(t, "m1", "m2")
	ctx := context.Background()
	h.recorder.On("StartRecording", mock.Anything, mock.Anything).Return(nil)
	h.local.On("NotifyProtected", mock.Anything, mock.Anything).Return(nil)

	_, err := h.manager.Trigger(ctx, fallCandidate())
	require.NoError(t, err)
	batchID := h.manager.CurrentAlerts()[0].BatchID
	tickN(t, h.manager, 10)

	n, err := h.manager.AttachVideo(ctx, batchID, "videos/clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	for _, a := range h.store.all() {
		require.NotNil(t, a.VideoRef)
		assert.Equal(t, "videos/clip.mp4", *a.VideoRef)
	}

	// 重复回调不会覆盖已有录像
	n, err = h.manager.AttachVideo(ctx, batchID, "videos/other.mp4")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, "videos/clip.mp4", *h.store.all()[0].VideoRef)

	_, err = h.manager.AttachVideo(ctx, "missing-batch", "videos/x.mp4")
	assert.ErrorIs(t, err, ErrUnknownBatch)
}

func TestAttachVideo_AfterRestart(t *testing.T) {
	h := newHarness(t, "m1")
	ctx := context.Background()
	h.recorder.On("StartRecording", mock.Anything, mock.Anything).Return(nil)
	h.local.On("NotifyProtected", mock.Anything, mock.Anything).Return(nil)

	_, err := h.manager.Trigger(ctx, fallCandidate())
	require.NoError(t, err)
	tickN(t, h.manager, 10)
	batchID := h.store.all()[0].BatchID

	// 新的管理器实例共享同一个存储
	restarted := NewManager(Options{ProtectedID: "p1"}, h.store, h.relations, h.profiles, h.recorder, h.local, h.fanout, zap.NewNop())
	n, err := restarted.AttachVideo(ctx, batchID, "videos/late.mp4")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAbandon(t *testing.T) {
	h := newHarness(t, "m1")

	_, err := h.manager.Trigger(context.Background(), fallCandidate())
	require.NoError(t, err)
	_, err = h.manager.Trigger(context.Background(), models.Candidate{RuleID: "panic", RuleType: models.RuleTypePanicButton})
	require.NoError(t, err)
	h.manager.Abandon()

	_, ok := h.manager.TakeDeferred()
	assert.False(t, ok)
	assert.Equal(t, StateIdle, h.manager.State())
	assert.Equal(t, models.AlertStatusPending, h.store.all()[0].Status)
}
