package arbor_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/arbor"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/graph"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doorGraph(t *testing.T) *graph.Graph {
	t.Helper()
	b := graph.NewBuilder("Door")
	root := b.Root()
	closed := root.State("Closed")
	open := root.State("Open")
	root.Initial(closed)
	root.Transition(closed, open, graph.Always())
	g, err := b.Build()
	require.NoError(t, err)
	return g
}

func TestNew_RequiresGraph(t *testing.T) {
	_, err := arbor.New(nil)
	assert.ErrorIs(t, err, arbor.ErrNilGraph)
}

func TestFacade_Lifecycle(t *testing.T) {
	var taken int
	inst, err := arbor.New(doorGraph(t),
		arbor.WithLogger(slogt.New(t)),
		arbor.WithHistoryMaxCount(5),
		arbor.WithLifecycleHooks(domain.LifecycleHooks{
			OnTransitionTaken: func(context.Context, *domain.TransitionTakenEvent) { taken++ },
		}),
	)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, inst.Initialize(ctx, nil))
	require.NoError(t, inst.Start(ctx))
	require.NoError(t, inst.Update(ctx, 10*time.Millisecond))

	states := inst.ActiveStates()
	require.Len(t, states, 1)
	assert.Equal(t, "Open", states[0].Name)
	assert.Equal(t, 1, taken)
	assert.Equal(t, 5, inst.HistoryMaxCount())
	assert.True(t, inst.IsInEndState())

	require.NoError(t, inst.Shutdown(ctx))
	assert.Equal(t, domain.StatusUninitialized, inst.Status())
}

func TestMainQueue_Drain(t *testing.T) {
	q := arbor.NewMainQueue()
	var order []int
	q.Post(func() {
		order = append(order, 1)
		q.Post(func() { order = append(order, 3) })
	})
	q.Post(func() { order = append(order, 2) })
	q.Post(nil)

	assert.Equal(t, 2, q.Len())
	select {
	case <-q.Ready():
	default:
		t.Fatal("expected ready signal after Post")
	}

	assert.Equal(t, 3, q.Drain(), "work posted while draining runs in the same call")
	assert.Equal(t, []int{1, 2, 3}, order)
	assert.Equal(t, 0, q.Drain())
}

func TestRunner_StopsAtEndState(t *testing.T) {
	inst, err := arbor.New(doorGraph(t))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, inst.Initialize(ctx, nil))
	require.NoError(t, inst.Start(ctx))

	q := arbor.NewMainQueue()
	drained := false
	q.Post(func() { drained = true })

	r := arbor.NewRunner()
	r.Interval = time.Millisecond
	r.Queue = q
	r.StopOnEndState = true

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, r.Run(ctx, inst))

	assert.True(t, drained)
	assert.Equal(t, domain.StatusInitialized, inst.Status(), "runner stops the instance")
}

func TestRunner_Cancel(t *testing.T) {
	b := graph.NewBuilder("Idle")
	root := b.Root()
	root.Initial(root.State("Wait"))
	g, err := b.Build()
	require.NoError(t, err)

	inst, err := arbor.New(g)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, inst.Initialize(ctx, nil))
	require.NoError(t, inst.Start(ctx))

	ticks := 0
	r := arbor.NewRunner()
	r.Interval = time.Millisecond
	r.BeforeTick = func(context.Context, *arbor.Instance) { ticks++ }

	ctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	require.NoError(t, r.Run(ctx, inst))
	assert.Positive(t, ticks)
	assert.False(t, inst.IsActive())
}

func TestRunner_RequiresActiveInstance(t *testing.T) {
	inst, err := arbor.New(doorGraph(t))
	require.NoError(t, err)
	assert.ErrorIs(t, arbor.NewRunner().Run(context.Background(), inst), domain.ErrNotActive)
}
