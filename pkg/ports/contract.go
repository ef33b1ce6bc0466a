package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/arbor/pkg/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSnapshotStoreContract runs a suite of tests to verify that a SnapshotStore
// implementation adheres to the defined interface contract.
func RunSnapshotStoreContract(t *testing.T, store SnapshotStore) {
	ctx := context.Background()
	key := "contract-test-" + time.Now().Format("20060102150405")

	newSnapshot := func() *domain.Snapshot {
		d := 1500 * time.Millisecond
		return &domain.Snapshot{
			ActiveStates: []uuid.UUID{uuid.New(), uuid.New()},
			History: []domain.HistoryEntry{{
				State:             uuid.New(),
				StateName:         "Idle",
				StartTime:         time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
				TimeInState:       2 * time.Second,
				ServerTimeInState: &d,
			}},
			SavedAt: time.Date(2024, 1, 2, 3, 4, 7, 0, time.UTC),
		}
	}

	t.Run("Save and Load", func(t *testing.T) {
		snap := newSnapshot()

		err := store.Save(ctx, key, snap)
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, key)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, snap.ActiveStates, loaded.ActiveStates)
		require.Len(t, loaded.History, 1)
		assert.Equal(t, "Idle", loaded.History[0].StateName)
		assert.Equal(t, 2*time.Second, loaded.History[0].TimeInState)
		require.NotNil(t, loaded.History[0].ServerTimeInState)
		assert.Equal(t, 1500*time.Millisecond, *loaded.History[0].ServerTimeInState)
		assert.True(t, snap.SavedAt.Equal(loaded.SavedAt))
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+key)
		assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		err := store.Save(ctx, key, newSnapshot())
		require.NoError(t, err)

		err = store.Delete(ctx, key)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, key)
		assert.ErrorIs(t, err, domain.ErrSnapshotNotFound, "Load after Delete should return ErrSnapshotNotFound")
	})

	t.Run("List", func(t *testing.T) {
		id1 := key + "-1"
		id2 := key + "-2"
		_ = store.Save(ctx, id1, newSnapshot())
		_ = store.Save(ctx, id2, newSnapshot())

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		keys, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, keys, id1)
		assert.Contains(t, keys, id2)
	})
}
