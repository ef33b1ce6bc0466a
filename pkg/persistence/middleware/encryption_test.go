package middleware_test

import (
	"context"
	"crypto/rand"
	"io"
	"testing"
	"time"

	"github.com/aretw0/arbor/pkg/adapters/memory"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/persistence/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) []byte {
	k := make([]byte, 32)
	_, err := io.ReadFull(rand.Reader, k)
	require.NoError(t, err)
	return k
}

func sampleSnapshot() *domain.Snapshot {
	return &domain.Snapshot{
		ActiveStates: []uuid.UUID{uuid.New(), uuid.New()},
		History: []domain.HistoryEntry{
			{State: uuid.New(), StateName: "Patrol", TimeInState: time.Second},
		},
		SavedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	underlying := memory.NewStore()
	secure := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})(underlying)
	ctx := context.Background()
	original := sampleSnapshot()

	require.NoError(t, secure.Save(ctx, "guard-1", original))

	stored, err := underlying.Load(ctx, "guard-1")
	require.NoError(t, err)
	assert.Empty(t, stored.ActiveStates, "active states are hidden")
	assert.Empty(t, stored.History)
	assert.NotEmpty(t, stored.Sealed)
	assert.Equal(t, original.SavedAt, stored.SavedAt)

	loaded, err := secure.Load(ctx, "guard-1")
	require.NoError(t, err)
	assert.Equal(t, original.ActiveStates, loaded.ActiveStates)
	assert.Equal(t, original.History, loaded.History)
	assert.Empty(t, loaded.Sealed)

	keys, err := secure.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"guard-1"}, keys)
	require.NoError(t, secure.Delete(ctx, "guard-1"))
	_, err = secure.Load(ctx, "guard-1")
	assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	underlying := memory.NewStore()
	oldKey := generateKey(t)
	newKey := generateKey(t)
	ctx := context.Background()

	secureOld := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: oldKey})(underlying)
	require.NoError(t, secureOld.Save(ctx, "rotation", sampleSnapshot()))

	secureNew := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    newKey,
		FallbackKeys: [][]byte{oldKey},
	})(underlying)
	loaded, err := secureNew.Load(ctx, "rotation")
	require.NoError(t, err, "fallback key decrypts old snapshots")

	require.NoError(t, secureNew.Save(ctx, "rotation", loaded))
	_, err = secureOld.Load(ctx, "rotation")
	assert.Error(t, err, "snapshots sealed with the new key are unreadable with the old one")
}

func TestEncryptionMiddleware_RejectsPlainSnapshots(t *testing.T) {
	underlying := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, underlying.Save(ctx, "plain", sampleSnapshot()))

	secure := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})(underlying)
	_, err := secure.Load(ctx, "plain")
	assert.ErrorContains(t, err, "missing encrypted data envelope")
}

func TestEncryptionMiddleware_InvalidKey(t *testing.T) {
	assert.Panics(t, func() {
		middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short-key")})
	})
}
