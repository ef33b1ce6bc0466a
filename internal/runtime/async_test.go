package runtime_test

import (
	"context"
	"testing"

	"github.com/alitto/pond/v2"
	"github.com/aretw0/arbor/internal/runtime"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

// initProbe records which node initializations ran and whether they claim thread safety.
type initProbe struct {
	threadSafe bool
	calls      *atomic.Int32
	block      bool
	entered    chan struct{}
}

func (p *initProbe) InitThreadSafe() bool { return p.threadSafe }

func (p *initProbe) OnNodeInitialized(hc domain.HookContext) {
	p.calls.Inc()
	if p.block {
		close(p.entered)
		<-hc.Context().Done()
	}
}

func asyncGraph(t *testing.T, safe, unsafe *initProbe) *graph.Graph {
	b := graph.NewBuilder("Root")
	root := b.Root()
	a := root.State("A", graph.WithBehavior(safe))
	bb := root.State("B", graph.WithBehavior(unsafe))
	root.Initial(a)
	root.Transition(a, bb, graph.Always())
	return build(t, b)
}

func TestAsync_FinishPhaseOnDispatcher(t *testing.T) {
	safe := &initProbe{threadSafe: true, calls: atomic.NewInt32(0)}
	unsafe := &initProbe{threadSafe: false, calls: atomic.NewInt32(0)}
	pool := pond.NewPool(2)
	defer pool.StopAndWait()
	q := &queue{}

	inst, _ := newInstance(t, asyncGraph(t, safe, unsafe),
		runtime.WithPool(pool), runtime.WithDispatcher(q))
	ctx := context.Background()

	completed := false
	require.NoError(t, inst.InitializeAsync(ctx, nil, func() { completed = true }))
	assert.ErrorIs(t, inst.Initialize(ctx, nil), domain.ErrAsyncInitInProgress)

	require.NoError(t, inst.WaitForAsyncInitializationTask())
	assert.Equal(t, int32(1), safe.calls.Load(), "thread-safe init runs on the worker")
	assert.Equal(t, int32(0), unsafe.calls.Load(), "unsafe init waits for the finish phase")
	assert.False(t, inst.IsInitialized())

	require.Equal(t, 1, q.Drain())
	assert.Equal(t, int32(1), unsafe.calls.Load())
	assert.True(t, completed)
	assert.True(t, inst.IsInitialized())

	require.NoError(t, inst.Start(ctx))
	assert.Equal(t, []string{"A"}, activeNames(inst))
}

func TestAsync_InlineFinishWithoutDispatcher(t *testing.T) {
	safe := &initProbe{threadSafe: true, calls: atomic.NewInt32(0)}
	unsafe := &initProbe{threadSafe: false, calls: atomic.NewInt32(0)}
	pool := pond.NewPool(1)
	defer pool.StopAndWait()

	inst, _ := newInstance(t, asyncGraph(t, safe, unsafe), runtime.WithPool(pool))
	done := make(chan struct{})
	require.NoError(t, inst.InitializeAsync(context.Background(), nil, func() { close(done) }))
	<-done

	assert.True(t, inst.IsInitialized())
	assert.Equal(t, int32(1), unsafe.calls.Load())
}

func TestAsync_Cancel(t *testing.T) {
	blocker := &initProbe{threadSafe: true, calls: atomic.NewInt32(0), block: true, entered: make(chan struct{})}
	other := &initProbe{threadSafe: false, calls: atomic.NewInt32(0)}
	pool := pond.NewPool(1)
	defer pool.StopAndWait()
	q := &queue{}

	inst, _ := newInstance(t, asyncGraph(t, blocker, other),
		runtime.WithPool(pool), runtime.WithDispatcher(q))
	ctx := context.Background()

	completed := false
	require.NoError(t, inst.InitializeAsync(ctx, nil, func() { completed = true }))
	<-blocker.entered

	inst.CancelAsyncInitialization()
	assert.Equal(t, 0, q.Drain(), "canceled work never reaches the finish phase")
	assert.False(t, completed)
	assert.Equal(t, domain.StatusUninitialized, inst.Status())
	assert.Equal(t, int32(0), other.calls.Load())

	inst.CancelAsyncInitialization()
	blocker.block = false
	require.NoError(t, inst.Initialize(ctx, nil), "instance is reusable after cancel")
	assert.Equal(t, int32(1), other.calls.Load())
}
