package consumer

import (
	"context"
	"testing"
	"time"

	"safetysec-engine/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStateManager(t *testing.T) (*StateManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStateManager(client, "safetysec:state:", time.Hour, zap.NewNop()), mr
}

func TestStateManager_Checkpoint(t *testing.T) {
	sm, mr := newTestStateManager(t)
	ctx := context.Background()

	_, err := sm.LoadCheckpoint(ctx, "p1")
	assert.ErrorIs(t, err, ErrStateNotFound)

	last := time.Date(2024, 6, 3, 11, 29, 0, 0, time.UTC)
	cp := EngineCheckpoint{
		LastActivity: last,
		Location:     &models.GeoPoint{Latitude: 1, Longitude: 2},
		SavedAt:      last.Add(time.Minute),
	}
	require.NoError(t, sm.SaveCheckpoint(ctx, "p1", cp))

	assert.True(t, mr.Exists("safetysec:state:p1:checkpoint"))
	assert.Equal(t, time.Hour, mr.TTL("safetysec:state:p1:checkpoint"))

	got, err := sm.LoadCheckpoint(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, last.Equal(got.LastActivity))
	require.NotNil(t, got.Location)
	assert.Equal(t, 2.0, got.Location.Longitude)
}

func TestStateManager_GetStateInvalidJSON(t *testing.T) {
	sm, mr := newTestStateManager(t)
	require.NoError(t, mr.Set("safetysec:state:p1:checkpoint", "{broken"))

	_, err := sm.LoadCheckpoint(context.Background(), "p1")
	assert.ErrorContains(t, err, "unmarshal")
}
