package lifecycle

import (
	"context"
	"errors"
	"sync"

	"safetysec-engine/internal/models"

	"github.com/stretchr/testify/mock"
)

// fakeAlertStore 内存报警存储，按状态条件更新
type fakeAlertStore struct {
	mu        sync.Mutex
	alerts    map[string]*models.Alert
	order     []string
	failFor   map[string]error // monitor_id -> Create 错误
	updateErr map[string]error // alert_id -> UpdateStatus 错误
}

func newFakeAlertStore() *fakeAlertStore {
	return &fakeAlertStore{
		alerts:    map[string]*models.Alert{},
		failFor:   map[string]error{},
		updateErr: map[string]error{},
	}
}

func (s *fakeAlertStore) Create(_ context.Context, alert *models.Alert) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failFor[alert.MonitorID]; err != nil {
		return "", err
	}
	a := *alert
	s.alerts[a.ID] = &a
	s.order = append(s.order, a.ID)
	return a.ID, nil
}

func (s *fakeAlertStore) UpdateStatus(_ context.Context, u models.StatusUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.updateErr[u.AlertID]; err != nil {
		return false, err
	}
	a, ok := s.alerts[u.AlertID]
	if !ok || a.Status != u.From {
		return false, nil
	}
	a.Status = u.To
	a.CancelledAt = u.CancelledAt
	a.CancelledBy = u.CancelledBy
	return true, nil
}

func (s *fakeAlertStore) AttachVideo(_ context.Context, id, ref string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok || a.VideoRef != nil {
		return false, nil
	}
	a.VideoRef = &ref
	return true, nil
}

func (s *fakeAlertStore) ListByBatch(_ context.Context, batchID string) ([]models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Alert
	for _, id := range s.order {
		if a := s.alerts[id]; a.BatchID == batchID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *fakeAlertStore) setStatus(id string, status models.AlertStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[id].Status = status
}

func (s *fakeAlertStore) all() []models.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Alert, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.alerts[id])
	}
	return out
}

type fakeRelations struct {
	mu       sync.Mutex
	monitors []string
	err      error
}

func (f *fakeRelations) ApprovedMonitors(context.Context, string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.monitors...), f.err
}

func (f *fakeRelations) set(monitors ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.monitors = monitors
}

type fakeProfiles struct {
	profile models.Profile
	err     error
}

func (f *fakeProfiles) Profile(context.Context, string) (*models.Profile, error) {
	if f.err != nil {
		return nil, f.err
	}
	p := f.profile
	return &p, nil
}

// MockRecorder is a mock implementation of Recorder
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) StartRecording(ctx context.Context, batchID string, alert models.Alert) error {
	return m.Called(batchID, alert.Type).Error(0)
}

// MockLocalNotifier is a mock implementation of LocalNotifier
type MockLocalNotifier struct {
	mock.Mock
}

func (m *MockLocalNotifier) NotifyProtected(ctx context.Context, batchID string, alert models.Alert) error {
	return m.Called(batchID, alert.Type).Error(0)
}

type fakeFanOut struct {
	mu    sync.Mutex
	calls [][]models.Alert
	names []string
}

func (f *fakeFanOut) Publish(alerts []models.Alert, name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]models.Alert(nil), alerts...))
	f.names = append(f.names, name)
	return len(alerts)
}

func (f *fakeFanOut) published() [][]models.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]models.Alert(nil), f.calls...)
}

var errStoreDown = errors.New("store unavailable")
