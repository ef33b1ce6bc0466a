package runtime_test

import (
	"context"
	"sync"
	"testing"

	"github.com/aretw0/arbor/internal/runtime"
	"github.com/aretw0/arbor/internal/testutils"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/graph"
	"github.com/google/uuid"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"
)

// events collects lifecycle hook output.
type events struct {
	mu       sync.Mutex
	taken    []*domain.TransitionTakenEvent
	pending  []*domain.TransitionChain
	started  []string
	ended    []string
	updates  []*domain.UpdateEvent
	stopped  int
	launched int
}

func (e *events) hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStarted: func(context.Context) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.launched++
		},
		OnStopped: func(context.Context) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.stopped++
		},
		OnStateStarted: func(_ context.Context, ev *domain.StateEvent) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.started = append(e.started, ev.Name)
		},
		OnStateEnded: func(_ context.Context, ev *domain.StateEvent) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.ended = append(e.ended, ev.Name)
		},
		OnTransitionTaken: func(_ context.Context, ev *domain.TransitionTakenEvent) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.taken = append(e.taken, ev)
		},
		OnTransitionPending: func(_ context.Context, ch *domain.TransitionChain) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.pending = append(e.pending, ch)
		},
		OnUpdated: func(_ context.Context, ev *domain.UpdateEvent) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.updates = append(e.updates, ev)
		},
	}
}

func newInstance(t *testing.T, g *graph.Graph, opts ...runtime.Option) (*runtime.Instance, *events) {
	t.Helper()
	ev := &events{}
	opts = append([]runtime.Option{
		runtime.WithLogger(slogt.New(t)),
		runtime.WithLifecycleHooks(ev.hooks()),
	}, opts...)
	return runtime.New(g, opts...), ev
}

func startInstance(t *testing.T, g *graph.Graph, opts ...runtime.Option) (*runtime.Instance, *events) {
	t.Helper()
	inst, ev := newInstance(t, g, opts...)
	ctx := context.Background()
	require.NoError(t, inst.Initialize(ctx, nil))
	require.NoError(t, inst.Start(ctx))
	return inst, ev
}

func build(t *testing.T, b *graph.Builder) *graph.Graph {
	t.Helper()
	g, err := b.Build()
	require.NoError(t, err)
	return g
}

func stateGUID(t *testing.T, g *graph.Graph, path string) uuid.UUID {
	t.Helper()
	id, ok := g.StateByPath(path)
	require.True(t, ok, "no state %s", path)
	return g.State(id).GUID
}

func transitionGUID(g *graph.Graph, id domain.TransitionID) uuid.UUID {
	return g.Transition(id).GUID
}

func historyNames(inst *runtime.Instance) []string {
	var out []string
	for _, e := range inst.History() {
		out = append(out, e.StateName)
	}
	return out
}

func activeNames(inst *runtime.Instance) []string {
	var out []string
	for _, s := range inst.ActiveStates() {
		out = append(out, s.Name)
	}
	return out
}

// queue is a main-thread dispatcher drained explicitly by the test.
type queue struct {
	mu  sync.Mutex
	fns []func()
}

func (q *queue) Post(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.fns = append(q.fns, fn)
}

func (q *queue) Drain() int {
	q.mu.Lock()
	fns := q.fns
	q.fns = nil
	q.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

func recorder(name string, log *[]string) *testutils.Recorder {
	return &testutils.Recorder{Name: name, Log: log}
}
