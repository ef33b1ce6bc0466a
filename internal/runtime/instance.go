package runtime

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/aretw0/arbor/internal/logging"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/graph"
	"github.com/aretw0/arbor/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// Instance is a running copy of a compiled graph. The graph stays immutable; every
// mutable bit (activity, timers, stacks, child instances of reference states) lives
// in the instance arena.
//
// An Instance is not safe for concurrent use. Drive it from one goroutine, or wrap it
// with session.Manager when several callers share it.
type Instance struct {
	graph *graph.Graph
	top   *Instance

	// Set on child instances created for reference states.
	parent *Instance
	site   domain.StateID
	ns     uuid.UUID

	a *arena

	// The fields below are only used on the top instance.
	status          *atomic.Int32
	hostCtx         any
	logger          *slog.Logger
	hooks           domain.LifecycleHooks
	clock           domain.Clock
	history         *history
	maxCascade      int
	evaluateLocally bool
	takeLocally     bool
	replicator      ports.Replicator
	replicationKey  string
	dispatcher      ports.Dispatcher
	pool            pond.Pool
	resolver        func(name string) (*graph.Graph, bool)
	redirects       map[uuid.UUID]uuid.UUID
	index           *guidIndex

	overrides        map[stateRef][]domain.StateID
	loadedFromStates bool

	commitDepth    int
	waitingForStop bool
	restartPending bool

	// busy counts the public calls currently walking the arena.
	busy            int
	shutdownPending bool
	applied        *recentIDs

	asyncMu sync.Mutex
	async   *asyncInit
}

type arena struct {
	states          []stateRuntime
	transitions     []transitionRuntime
	stateGUIDs      []uuid.UUID
	transitionGUIDs []uuid.UUID
	children        map[domain.StateID]*Instance
}

type stateRuntime struct {
	active      bool
	startTime   time.Time
	timeInState time.Duration
	serverStart *time.Time

	prevState      domain.StateID
	prevTransition domain.TransitionID

	// Machine body.
	activeChildren []domain.StateID
	reuse          []domain.StateID
	committing     bool

	// Replaced, never mutated in place, so hooks iterating the old slice are unaffected.
	stack []any
}

type transitionRuntime struct {
	canEvaluate          bool
	lastTaken            time.Time
	lastNetworkTimestamp *time.Time
}

type stateRef struct {
	in *Instance
	id domain.StateID
}

type transitionRef struct {
	in *Instance
	id domain.TransitionID
}

// New creates an uninitialized instance of g.
func New(g *graph.Graph, opts ...Option) *Instance {
	in := &Instance{
		graph:           g,
		site:            domain.NoState,
		status:          atomic.NewInt32(int32(domain.StatusUninitialized)),
		logger:          logging.NewNop(),
		clock:           domain.SystemClock,
		history:         newHistory(DefaultHistoryMaxCount),
		maxCascade:      DefaultMaxCascadeDepth,
		evaluateLocally: true,
		takeLocally:     true,
		applied:         newRecentIDs(128),
	}
	in.top = in
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Graph returns the compiled graph the instance runs.
func (in *Instance) Graph() *graph.Graph { return in.graph }

// Status reports the lifecycle phase.
func (in *Instance) Status() domain.Status { return domain.Status(in.top.status.Load()) }

// IsInitialized reports whether the arena is built and the instance can be started.
func (in *Instance) IsInitialized() bool {
	s := in.Status()
	return s == domain.StatusInitialized || s == domain.StatusActive
}

// IsActive reports whether the root machine is running.
func (in *Instance) IsActive() bool { return in.Status() == domain.StatusActive }

// HostContext returns the object supplied at initialization.
func (in *Instance) HostContext() any { return in.top.hostCtx }

// Logger returns the instance logger.
func (in *Instance) Logger() *slog.Logger { return in.top.logger }

func (in *Instance) setStatus(s domain.Status) { in.top.status.Store(int32(s)) }

// Initialize builds the runtime arena, resolves references and runs node initialization
// hooks synchronously.
func (in *Instance) Initialize(ctx context.Context, hostCtx any) error {
	if in.IsInitialized() {
		in.logger.Warn("initialize ignored", "graph", in.graph.Name(), "err", domain.ErrAlreadyInitialized)
		return domain.ErrAlreadyInitialized
	}
	if in.asyncPending() {
		return domain.ErrAsyncInitInProgress
	}
	in.hostCtx = hostCtx
	if in.hooks.OnPreInitialize != nil {
		in.hooks.OnPreInitialize(ctx)
	}

	if _, err := in.construct(ctx, false); err != nil {
		in.a, in.index = nil, nil
		in.logger.Error("initialize failed", "graph", in.graph.Name(), "err", err)
		return err
	}

	in.setStatus(domain.StatusInitialized)
	if in.hooks.OnPostInitialize != nil {
		in.hooks.OnPostInitialize(ctx)
	}
	return nil
}

// Start activates the root machine and its initial states. It does not evaluate
// transitions; the first Update does.
func (in *Instance) Start(ctx context.Context) error {
	switch in.Status() {
	case domain.StatusUninitialized:
		in.logger.Warn("start ignored", "graph", in.graph.Name(), "err", domain.ErrNotInitialized)
		return domain.ErrNotInitialized
	case domain.StatusActive:
		in.logger.Warn("start ignored", "graph", in.graph.Name(), "err", domain.ErrAlreadyActive)
		return domain.ErrAlreadyActive
	case domain.StatusShuttingDown:
		return domain.ErrShuttingDown
	}

	in.setStatus(domain.StatusActive)
	in.eachNode(ctx, func(b any, hc *hookContext) {
		if s, ok := b.(domain.RootStarter); ok {
			s.OnRootStateMachineStart(hc)
		}
	})
	in.tryStartState(ctx, in.graph.Root(), domain.NoState, domain.NoTransition, nil)
	in.logger.Debug("instance started", "graph", in.graph.Name())
	if in.hooks.OnStarted != nil {
		in.hooks.OnStarted(ctx)
	}
	return nil
}

// Update advances active states by delta: update hooks run depth-first, then every
// active state evaluates its transitions and takes what passes.
func (in *Instance) Update(ctx context.Context, delta time.Duration) error {
	if !in.IsActive() {
		in.logger.Warn("update ignored", "graph", in.graph.Name(), "err", domain.ErrNotActive)
		return domain.ErrNotActive
	}
	in.enter()
	defer in.leave(ctx)

	started := in.clock.Now()
	p := &pass{delta: delta}
	root := in.graph.Root()
	in.updateState(ctx, root, p)
	in.evaluateBody(ctx, root, p)
	if in.hooks.OnUpdated != nil {
		in.hooks.OnUpdated(ctx, &domain.UpdateEvent{
			Delta:            delta,
			Started:          started,
			Finished:         in.clock.Now(),
			TransitionsTaken: p.taken,
		})
	}
	return nil
}

// Stop ends every active state and the root machine. Inside a transition commit the
// stop is deferred until the outermost commit returns.
func (in *Instance) Stop(ctx context.Context) error {
	switch in.Status() {
	case domain.StatusUninitialized:
		return domain.ErrNotInitialized
	case domain.StatusInitialized, domain.StatusShuttingDown:
		return nil
	}
	if in.commitDepth > 0 {
		in.waitingForStop = true
		return nil
	}
	in.stopNow(ctx)
	return nil
}

// enter and leave bracket the public calls that walk the arena. A Shutdown requested
// in between runs when the outermost call leaves.
func (in *Instance) enter() { in.top.busy++ }

func (in *Instance) leave(ctx context.Context) {
	top := in.top
	top.busy--
	if top.busy == 0 && top.shutdownPending {
		_ = top.Shutdown(ctx)
	}
}

// IsWaitingForStop reports whether a Stop was requested during a commit.
func (in *Instance) IsWaitingForStop() bool { return in.top.waitingForStop }

func (in *Instance) stopNow(ctx context.Context) {
	in.waitingForStop = false
	in.endState(ctx, in.graph.Root())
	in.eachNode(ctx, func(b any, hc *hookContext) {
		if s, ok := b.(domain.RootStopper); ok {
			s.OnRootStateMachineStop(hc)
		}
	})
	in.overrides = nil
	in.loadedFromStates = false
	in.history.clear()
	in.setStatus(domain.StatusInitialized)
	in.logger.Debug("instance stopped", "graph", in.graph.Name())
	if in.hooks.OnStopped != nil {
		in.hooks.OnStopped(ctx)
	}

	if in.restartPending {
		in.restartPending = false
		_ = in.Start(ctx)
	}
}

// Restart stops and starts the instance. Machines with ReuseCurrentState resume their
// previous children.
func (in *Instance) Restart(ctx context.Context) error {
	if err := in.Stop(ctx); err != nil {
		return err
	}
	if in.waitingForStop {
		in.restartPending = true
		return nil
	}
	return in.Start(ctx)
}

// Shutdown stops the instance, cancels a pending async initialization, runs node
// shutdown hooks and releases the arena. The instance can be initialized again.
//
// Called from a hook while an update or commit is running, Shutdown stops the instance
// as Stop would and releases the arena once the outermost call returns.
func (in *Instance) Shutdown(ctx context.Context) error {
	if in.busy > 0 {
		in.shutdownPending = true
		in.logger.Debug("shutdown deferred", "graph", in.graph.Name())
		return in.Stop(ctx)
	}
	in.shutdownPending = false
	if in.IsActive() {
		in.commitDepth = 0
		in.stopNow(ctx)
	}
	in.CancelAsyncInitialization()
	if in.a == nil {
		return nil
	}

	in.setStatus(domain.StatusShuttingDown)
	in.eachNode(ctx, func(b any, hc *hookContext) {
		if s, ok := b.(domain.NodeShutdowner); ok {
			s.OnNodeShutdown(hc)
		}
	})
	in.a, in.index = nil, nil
	in.applied.reset()
	in.setStatus(domain.StatusUninitialized)
	in.logger.Debug("instance shut down", "graph", in.graph.Name())
	return nil
}

// construct builds the arena tree and the GUID index, then runs node initialization
// hooks. In async mode, behaviors that are not init-thread-safe are returned as
// deferred calls for the finish phase.
func (in *Instance) construct(ctx context.Context, async bool) ([]func(), error) {
	idx := newGUIDIndex()
	if err := in.buildArena(ctx, idx, nil); err != nil {
		return nil, err
	}
	in.index = idx

	var deferred []func()
	var canceled bool
	in.eachNode(ctx, func(b any, hc *hookContext) {
		if canceled {
			return
		}
		if ctx.Err() != nil {
			canceled = true
			return
		}
		ni, ok := b.(domain.NodeInitializer)
		if !ok {
			return
		}
		if async && !initThreadSafe(b) {
			deferred = append(deferred, func() { ni.OnNodeInitialized(hc) })
			return
		}
		ni.OnNodeInitialized(hc)
	})
	if canceled {
		return nil, domain.ErrInitCanceled
	}
	return deferred, nil
}

func initThreadSafe(b any) bool {
	ts, ok := b.(domain.InitThreadSafety)
	return !ok || ts.InitThreadSafe()
}

func (in *Instance) buildArena(ctx context.Context, idx *guidIndex, ancestors []*graph.Graph) error {
	if ctx.Err() != nil {
		return domain.ErrInitCanceled
	}
	g := in.graph
	if slices.Contains(ancestors, g) {
		return &referenceCycleError{graph: g.Name()}
	}
	ancestors = append(ancestors, g)

	a := &arena{
		states:          make([]stateRuntime, g.NumStates()),
		transitions:     make([]transitionRuntime, g.NumTransitions()),
		stateGUIDs:      make([]uuid.UUID, g.NumStates()),
		transitionGUIDs: make([]uuid.UUID, g.NumTransitions()),
		children:        make(map[domain.StateID]*Instance),
	}
	in.a = a

	for i := range a.states {
		id := domain.StateID(i)
		gs := g.State(id)
		a.states[i] = stateRuntime{
			prevState:      domain.NoState,
			prevTransition: domain.NoTransition,
			stack:          slices.Clone(gs.Stack),
		}
		a.stateGUIDs[i] = in.localGUID(gs.GUID)
		if gs.Kind == graph.KindLink {
			continue
		}
		idx.states[a.stateGUIDs[i]] = stateRef{in, id}
	}
	for i := range a.transitions {
		id := domain.TransitionID(i)
		gt := g.Transition(id)
		a.transitions[i] = transitionRuntime{canEvaluate: gt.CanEvaluate}
		a.transitionGUIDs[i] = in.localGUID(gt.GUID)
		idx.transitions[a.transitionGUIDs[i]] = transitionRef{in, id}
	}

	for i := range a.states {
		id := domain.StateID(i)
		gs := g.State(id)
		if gs.Kind != graph.KindReference {
			continue
		}
		ref := gs.Ref
		if ref == nil && in.top.resolver != nil {
			ref, _ = in.top.resolver(gs.RefName)
		}
		if ref == nil {
			return &unresolvedReferenceError{path: gs.Path, name: gs.RefName}
		}
		child := &Instance{
			graph:  ref,
			top:    in.top,
			parent: in,
			site:   id,
			ns:     a.stateGUIDs[i],
		}
		if err := child.buildArena(ctx, idx, ancestors); err != nil {
			return err
		}
		a.children[id] = child
	}
	return nil
}

func (in *Instance) localGUID(id uuid.UUID) uuid.UUID {
	if in.ns == uuid.Nil {
		return id
	}
	return graph.Rebase(in.ns, id)
}

// eachNode visits the behaviors of every state and transition, depth-first through
// reference states.
func (in *Instance) eachNode(ctx context.Context, fn func(b any, hc *hookContext)) {
	if in.a == nil {
		return
	}
	for i := range in.a.states {
		id := domain.StateID(i)
		gs := in.graph.State(id)
		if gs.Kind == graph.KindLink {
			continue
		}
		hc := in.stateHookContext(ctx, id)
		eachBehavior(gs.Behavior, in.a.states[i].stack, func(b any) { fn(b, hc) })
		if gs.Kind == graph.KindReference {
			if child := in.a.children[id]; child != nil {
				child.eachNode(ctx, fn)
			}
		}
	}
	for i := range in.a.transitions {
		id := domain.TransitionID(i)
		gt := in.graph.Transition(id)
		hc := in.transitionHookContext(ctx, id)
		eachBehavior(gt.Behavior, gt.Stack, func(b any) { fn(b, hc) })
	}
}
