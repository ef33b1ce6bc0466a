package runtime_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/arbor/internal/runtime"
	"github.com/aretw0/arbor/internal/testutils"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/graph"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopback records published events and lets the test deliver them by hand.
type loopback struct {
	mu     sync.Mutex
	events []*domain.TransitionTakenEvent
	err    error
}

func (l *loopback) Publish(_ context.Context, ev *domain.TransitionTakenEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return l.err
}

func (l *loopback) Subscribe(context.Context, func(context.Context, *domain.TransitionTakenEvent)) (func() error, error) {
	return func() error { return nil }, nil
}

func doorGraph(t *testing.T, flag *testutils.Flag) *graph.Graph {
	b := graph.NewBuilder("Door")
	root := b.Root()
	closed := root.State("Closed")
	open := root.State("Open")
	locked := root.State("Locked")
	root.Initial(closed)
	root.Transition(closed, open, graph.WithTransitionBehavior(flag))
	root.Transition(open, locked, graph.Always())
	return build(t, b)
}

func TestReplication_AuthorityToObserver(t *testing.T) {
	clock := testutils.NewFakeClock()
	flag := &testutils.Flag{}
	g := doorGraph(t, flag)
	wire := &loopback{}

	authority, _ := startInstance(t, g, runtime.WithClock(clock), runtime.WithReplicator(wire))
	observer, obsEvents := startInstance(t, g, runtime.WithAuthority(false, false))
	ctx := context.Background()

	flag.Set(true)
	require.NoError(t, observer.Update(ctx, time.Millisecond))
	assert.Equal(t, []string{"Closed"}, activeNames(observer), "observer never evaluates")

	clock.Advance(2 * time.Second)
	require.NoError(t, authority.Update(ctx, time.Millisecond))
	require.Len(t, wire.events, 2, "every hop is published")

	for _, ev := range wire.events {
		require.NoError(t, observer.ApplyReplicatedTransition(ctx, ev))
	}
	assert.Equal(t, activeNames(authority), activeNames(observer))
	assert.Equal(t, historyNames(authority), historyNames(observer))
	require.Len(t, obsEvents.taken, 2)
	assert.Equal(t, wire.events[0].EventID, obsEvents.taken[0].EventID)

	info, ok := observer.FindTransition(wire.events[0].Transition)
	require.True(t, ok)
	require.NotNil(t, info.LastNetworkTimestamp)
	assert.Equal(t, wire.events[0].Timestamp, *info.LastNetworkTimestamp, "server stamp comes from the authority")

	h := observer.History()
	require.Len(t, h, 2)
	require.NotNil(t, h[1].ServerTimeInState, "Open was entered through a stamped transition")
	assert.Equal(t, time.Duration(0), *h[1].ServerTimeInState)
}

func TestReplication_DuplicateEventsIgnored(t *testing.T) {
	flag := &testutils.Flag{}
	g := doorGraph(t, flag)
	wire := &loopback{}

	authority, _ := startInstance(t, g, runtime.WithReplicator(wire))
	observer, obsEvents := startInstance(t, g, runtime.WithAuthority(false, false))
	ctx := context.Background()

	flag.Set(true)
	require.NoError(t, authority.Update(ctx, time.Millisecond))
	require.NotEmpty(t, wire.events)

	first := wire.events[0]
	require.NoError(t, observer.ApplyReplicatedTransition(ctx, first))
	require.NoError(t, observer.ApplyReplicatedTransition(ctx, first))
	assert.Len(t, obsEvents.taken, 1)

	require.NoError(t, authority.ApplyReplicatedTransition(ctx, first), "own events coming back are ignored")
}

func TestReplication_RejectsUnknownAndInactive(t *testing.T) {
	flag := &testutils.Flag{}
	g := doorGraph(t, flag)
	observer, _ := startInstance(t, g, runtime.WithAuthority(false, false))
	ctx := context.Background()

	err := observer.ApplyReplicatedTransition(ctx, &domain.TransitionTakenEvent{
		EventID:    uuid.New(),
		Transition: uuid.New(),
	})
	assert.ErrorIs(t, err, domain.ErrUnknownGUID)

	require.NoError(t, observer.Stop(ctx))
	err = observer.ApplyReplicatedTransition(ctx, &domain.TransitionTakenEvent{EventID: uuid.New()})
	assert.ErrorIs(t, err, domain.ErrNotActive)
}

func TestReplication_PendingWithoutTakeAuthority(t *testing.T) {
	flag := &testutils.Flag{}
	g := doorGraph(t, flag)
	wire := &loopback{}
	peer, ev := startInstance(t, g, runtime.WithAuthority(true, false), runtime.WithReplicator(wire))
	ctx := context.Background()

	flag.Set(true)
	require.NoError(t, peer.Update(ctx, time.Millisecond))

	assert.Equal(t, []string{"Closed"}, activeNames(peer))
	require.Len(t, ev.pending, 1)
	assert.Equal(t, stateGUID(t, g, "Door/Open"), ev.pending[0].To)
	assert.Empty(t, wire.events)
	assert.False(t, peer.TakeTransitionChain(ctx, *ev.pending[0]))

	peer.SetAuthority(true, true)
	assert.True(t, peer.CanTakeTransitionsLocally())
	require.True(t, peer.TakeTransitionChain(ctx, *ev.pending[0]))
	assert.Equal(t, []string{"Open"}, activeNames(peer))
	assert.Len(t, wire.events, 1)
}

func TestReplication_PublishFailureDoesNotBlockCommit(t *testing.T) {
	flag := &testutils.Flag{}
	g := doorGraph(t, flag)
	wire := &loopback{err: errors.New("broker down")}
	authority, _ := startInstance(t, g, runtime.WithReplicator(wire))

	flag.Set(true)
	require.NoError(t, authority.Update(context.Background(), time.Millisecond))
	assert.Equal(t, []string{"Locked"}, activeNames(authority))
}

func TestReplication_RejectsTransitionsOfInactiveMachines(t *testing.T) {
	b := graph.NewBuilder("Root")
	root := b.Root()
	idle := root.State("Idle")
	m := root.Machine("M")
	x := m.State("X")
	y := m.State("Y")
	m.Initial(x)
	root.Initial(idle)
	enter := root.Transition(idle, m.ID(), graph.EventDriven(), graph.Always())
	xy := m.Transition(x, y, graph.EventDriven(), graph.Always())
	yx := m.Transition(y, x, graph.EventDriven(), graph.Always())
	g := build(t, b)

	ctx := context.Background()
	replicated := func(ids ...domain.TransitionID) *domain.TransitionTakenEvent {
		ev := &domain.TransitionTakenEvent{EventID: uuid.New(), Transition: transitionGUID(g, ids[0])}
		for _, id := range ids {
			ev.Chain = append(ev.Chain, transitionGUID(g, id))
		}
		return ev
	}

	observer, obsEvents := startInstance(t, g, runtime.WithAuthority(false, false))
	err := observer.ApplyReplicatedTransition(ctx, replicated(xy))
	assert.ErrorIs(t, err, domain.ErrTransitionRejected)
	assert.Empty(t, obsEvents.taken)
	assert.False(t, observer.IsStateActive(stateGUID(t, g, "Root/M/Y")), "no state starts inside an inactive machine")

	authority, _ := startInstance(t, g)
	assert.False(t, authority.TakeTransitionChain(ctx, domain.TransitionChain{Transitions: []uuid.UUID{transitionGUID(g, xy)}}))
	assert.False(t, authority.ProcessTransition(ctx, transitionGUID(g, xy), uuid.Nil, uuid.Nil, uuid.Nil, 0))
	assert.Equal(t, []string{"Idle"}, activeNames(authority))

	require.NoError(t, observer.ApplyReplicatedTransition(ctx, replicated(enter)))
	assert.Equal(t, []string{"M", "X"}, activeNames(observer), "entering the machine starts only its initial state")

	assert.ErrorIs(t, observer.ApplyReplicatedTransition(ctx, replicated(enter, xy)), domain.ErrTransitionRejected, "chain crosses machines")
	assert.ErrorIs(t, observer.ApplyReplicatedTransition(ctx, replicated(xy, xy)), domain.ErrTransitionRejected, "chain does not connect")
	assert.ErrorIs(t, observer.ApplyReplicatedTransition(ctx, replicated(xy, yx)), domain.ErrTransitionRejected, "intermediate hop is not a conduit")
	assert.Equal(t, []string{"M", "X"}, activeNames(observer))

	require.NoError(t, observer.ApplyReplicatedTransition(ctx, replicated(xy)))
	assert.Equal(t, []string{"M", "Y"}, activeNames(observer))
}
