package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/arbor/pkg/adapters/memory"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/ports"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	store := memory.NewStore()
	ports.RunSnapshotStoreContract(t, store)
}

func TestMemoryStore_Isolation(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	snap := &domain.Snapshot{ActiveStates: []uuid.UUID{uuid.New()}}
	require.NoError(t, store.Save(ctx, "k", snap))

	snap.ActiveStates[0] = uuid.Nil
	loaded, err := store.Load(ctx, "k")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, loaded.ActiveStates[0], "stored copy is not aliased")
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := memory.NewBus()
	ctx := context.Background()

	var first, second []uuid.UUID
	cancel1, err := bus.Subscribe(ctx, func(_ context.Context, ev *domain.TransitionTakenEvent) {
		first = append(first, ev.EventID)
	})
	require.NoError(t, err)
	_, err = bus.Subscribe(ctx, func(_ context.Context, ev *domain.TransitionTakenEvent) {
		second = append(second, ev.EventID)
	})
	require.NoError(t, err)

	ev1 := &domain.TransitionTakenEvent{EventID: uuid.New()}
	require.NoError(t, bus.Publish(ctx, ev1))
	require.NoError(t, cancel1())
	require.NoError(t, cancel1())

	ev2 := &domain.TransitionTakenEvent{EventID: uuid.New()}
	require.NoError(t, bus.Publish(ctx, ev2))

	assert.Equal(t, []uuid.UUID{ev1.EventID}, first)
	assert.Equal(t, []uuid.UUID{ev1.EventID, ev2.EventID}, second)
}

func TestLocker_Exclusive(t *testing.T) {
	l := memory.NewLocker()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "k", time.Second)
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(short, "k", time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := l.Lock(ctx, "other", time.Second)
	require.NoError(t, err, "keys are independent")
	require.NoError(t, other(ctx))

	acquired := make(chan struct{})
	go func() {
		u, err := l.Lock(ctx, "k", time.Second)
		if err == nil {
			_ = u(ctx)
		}
		close(acquired)
	}()
	require.NoError(t, unlock(ctx))
	require.NoError(t, unlock(ctx), "double unlock is harmless")
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never acquired the released lock")
	}
}
