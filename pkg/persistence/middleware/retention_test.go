package middleware_test

import (
	"context"
	"testing"

	"github.com/aretw0/arbor/pkg/adapters/memory"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/persistence/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetentionMiddleware_TrimsOldestHistory(t *testing.T) {
	underlying := memory.NewStore()
	store := middleware.NewRetentionMiddleware(2)(underlying)
	ctx := context.Background()

	snap := sampleSnapshot()
	snap.History = []domain.HistoryEntry{{StateName: "A"}, {StateName: "B"}, {StateName: "C"}}
	require.NoError(t, store.Save(ctx, "k", snap))
	assert.Len(t, snap.History, 3, "caller snapshot is untouched")

	loaded, err := store.Load(ctx, "k")
	require.NoError(t, err)
	require.Len(t, loaded.History, 2)
	assert.Equal(t, "B", loaded.History[0].StateName)
	assert.Equal(t, "C", loaded.History[1].StateName)
	assert.Equal(t, snap.ActiveStates, loaded.ActiveStates)
}

func TestChain_RetentionBeforeEncryption(t *testing.T) {
	underlying := memory.NewStore()
	key := generateKey(t)
	store := middleware.Chain(underlying,
		middleware.NewRetentionMiddleware(0),
		middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key}),
	)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "k", sampleSnapshot()))
	raw, err := underlying.Load(ctx, "k")
	require.NoError(t, err)
	assert.NotEmpty(t, raw.Sealed)

	loaded, err := store.Load(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, loaded.History)
	assert.Len(t, loaded.ActiveStates, 2)
}
