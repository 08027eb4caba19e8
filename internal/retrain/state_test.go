package retrain

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/ZanzyTHEbar/beast-mode-ml/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStateStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retrain", "last-retrain.json")
	store := NewFileStateStore(path)
	ctx := context.Background()

	state, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, state)

	at := time.Date(2025, 3, 4, 5, 6, 7, 8_000_000, time.UTC)
	require.NoError(t, store.Set(ctx, NewState(at)))

	state, err = store.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, at.UnixMilli(), state.Timestamp)
	assert.Equal(t, "2025-03-04T05:06:07.008Z", state.Date)
	assert.True(t, at.Equal(state.Time()))

	require.NoError(t, os.WriteFile(path, []byte("{"), 0644))
	_, err = store.Get(ctx)
	assert.True(t, apperrors.Is(err, apperrors.CategoryPersistence))
}

func TestFileLease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retrain.lock")
	ctx := context.Background()
	lease := NewFileLease(path, time.Hour)

	release, err := lease.Acquire(ctx)
	require.NoError(t, err)

	_, err = NewFileLease(path, time.Hour).Acquire(ctx)
	assert.True(t, apperrors.Is(err, apperrors.CategoryConflict))

	require.NoError(t, release(ctx))
	assert.NoFileExists(t, path)

	again, err := lease.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestFileLease_TakesOverExpiredLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retrain.lock")
	ctx := context.Background()

	stale := NewFileLease(path, time.Minute)
	stale.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	staleRelease, err := stale.Acquire(ctx)
	require.NoError(t, err)

	release, err := NewFileLease(path, time.Minute).Acquire(ctx)
	require.NoError(t, err)

	assert.Error(t, staleRelease(ctx))
	assert.FileExists(t, path)
	require.NoError(t, release(ctx))
}
