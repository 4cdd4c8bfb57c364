package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylift/skylift/internal/core/domain"
)

// =============================================================================
// SQLiteStore Tests
// =============================================================================

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLoad_FreshDatabaseIsEmpty(t *testing.T) {
	store := newTestStore(t)

	cached, err := store.Load(t.Context())
	require.NoError(t, err)
	assert.Empty(t, cached.Layers)
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	cached := &domain.CachedState{
		Layers: map[string]domain.CachedLayer{
			"deps": {
				VersionARN: "arn:aws:lambda:eu-west-1:123456789012:layer:deps:3",
				ContentSHA: "abc123",
			},
		},
	}
	require.NoError(t, store.Save(ctx, cached))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, cached.Layers, loaded.Layers)
}

func TestSave_UpsertsNewerVersion(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, store.Save(ctx, &domain.CachedState{
		Layers: map[string]domain.CachedLayer{"deps": {VersionARN: "arn:...:layer:deps:3", ContentSHA: "aaa"}},
	}))
	require.NoError(t, store.Save(ctx, &domain.CachedState{
		Layers: map[string]domain.CachedLayer{"deps": {VersionARN: "arn:...:layer:deps:4", ContentSHA: "bbb"}},
	}))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "arn:...:layer:deps:4", loaded.Layers["deps"].VersionARN)
	assert.Equal(t, "bbb", loaded.Layers["deps"].ContentSHA)
}

func TestRunRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	last, err := store.LastRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	started := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordRun(ctx, domain.RunRecord{
		ID:         "run-1",
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Minute),
		Status:     "done",
	}))
	require.NoError(t, store.RecordRun(ctx, domain.RunRecord{
		ID:          "run-2",
		StartedAt:   started.Add(time.Hour),
		FinishedAt:  started.Add(time.Hour + time.Minute),
		Status:      "failed",
		FailedStage: "PROVISION_API",
	}))

	last, err = store.LastRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "run-2", last.ID)
	assert.Equal(t, "failed", last.Status)
	assert.Equal(t, "PROVISION_API", last.FailedStage)
	assert.Equal(t, started.Add(time.Hour), last.StartedAt)
}
