package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/graph"
	"github.com/google/uuid"
)

// hookContext implements domain.HookContext for one node. Transition hooks carry the
// source state so timers refer to the state being left.
type hookContext struct {
	ctx        context.Context
	in         *Instance
	state      domain.StateID
	transition domain.TransitionID
}

var _ domain.HookContext = (*hookContext)(nil)

func (in *Instance) stateHookContext(ctx context.Context, id domain.StateID) *hookContext {
	return &hookContext{ctx: ctx, in: in, state: id, transition: domain.NoTransition}
}

func (in *Instance) transitionHookContext(ctx context.Context, id domain.TransitionID) *hookContext {
	return &hookContext{ctx: ctx, in: in, state: in.graph.Transition(id).From, transition: id}
}

func (hc *hookContext) Context() context.Context { return hc.ctx }

func (hc *hookContext) HostContext() any { return hc.in.top.hostCtx }

func (hc *hookContext) Logger() *slog.Logger { return hc.in.top.logger }

func (hc *hookContext) NodeGUID() uuid.UUID {
	if hc.transition.Valid() {
		return hc.in.a.transitionGUIDs[hc.transition]
	}
	return hc.in.a.stateGUIDs[hc.state]
}

func (hc *hookContext) NodeName() string {
	if hc.transition.Valid() {
		return hc.in.graph.Transition(hc.transition).Path
	}
	return hc.in.graph.State(hc.state).Name
}

func (hc *hookContext) TimeInState() time.Duration {
	if !hc.state.Valid() {
		return 0
	}
	return hc.in.a.states[hc.state].timeInState
}

func (hc *hookContext) ServerTimeInState() (time.Duration, bool) {
	if !hc.state.Valid() {
		return 0, false
	}
	start := hc.in.a.states[hc.state].serverStart
	if start == nil {
		return 0, false
	}
	return hc.in.top.clock.Now().Sub(*start), true
}

func (hc *hookContext) PreviousState() (uuid.UUID, bool) {
	if !hc.state.Valid() {
		return uuid.Nil, false
	}
	prev := hc.in.a.states[hc.state].prevState
	if !prev.Valid() {
		return uuid.Nil, false
	}
	return hc.in.a.stateGUIDs[prev], true
}

// eachBehavior calls fn for the primary behavior, then for the stack in index order.
func eachBehavior(primary any, stack []any, fn func(b any)) {
	if primary != nil {
		fn(primary)
	}
	for _, b := range stack {
		if b != nil {
			fn(b)
		}
	}
}

// conditionResult combines every condition source of a node. ok is false when the
// node has no condition source at all.
func conditionResult(hc domain.HookContext, fn domain.ConditionFunc, primary any, stack []any, mode graph.StackMode) (pass, ok bool) {
	var sources []func() bool
	if fn != nil {
		sources = append(sources, func() bool { return fn(hc) })
	}
	if c, isCond := primary.(domain.TransitionConditioner); isCond {
		sources = append(sources, func() bool { return c.CanEnterTransition(hc) })
	}
	for _, b := range stack {
		if c, isCond := b.(domain.TransitionConditioner); isCond {
			sources = append(sources, func() bool { return c.CanEnterTransition(hc) })
		}
	}
	if len(sources) == 0 {
		return false, false
	}

	if mode == graph.StackOr {
		for _, src := range sources {
			if src() {
				return true, true
			}
		}
		return false, true
	}
	for _, src := range sources {
		if !src() {
			return false, true
		}
	}
	return true, true
}

func (in *Instance) fireStateBegin(ctx context.Context, id domain.StateID) {
	hc := in.stateHookContext(ctx, id)
	eachBehavior(in.graph.State(id).Behavior, in.a.states[id].stack, func(b any) {
		if s, ok := b.(domain.StateBeginner); ok {
			s.OnStateBegin(hc)
		}
	})
}

func (in *Instance) fireStateBeginPost(ctx context.Context, id domain.StateID) {
	hc := in.stateHookContext(ctx, id)
	eachBehavior(in.graph.State(id).Behavior, in.a.states[id].stack, func(b any) {
		if s, ok := b.(domain.StateBeginPoster); ok {
			s.OnStateBeginPost(hc)
		}
	})
}

func (in *Instance) fireStateUpdate(ctx context.Context, id domain.StateID, delta time.Duration) {
	hc := in.stateHookContext(ctx, id)
	eachBehavior(in.graph.State(id).Behavior, in.a.states[id].stack, func(b any) {
		if s, ok := b.(domain.StateUpdater); ok {
			s.OnStateUpdate(hc, delta)
		}
	})
}

func (in *Instance) fireStateEnd(ctx context.Context, id domain.StateID) {
	hc := in.stateHookContext(ctx, id)
	eachBehavior(in.graph.State(id).Behavior, in.a.states[id].stack, func(b any) {
		if s, ok := b.(domain.StateEnder); ok {
			s.OnStateEnd(hc)
		}
	})
}

func (in *Instance) fireTransitionEntered(ctx context.Context, id domain.TransitionID) {
	hc := in.transitionHookContext(ctx, id)
	gt := in.graph.Transition(id)
	eachBehavior(gt.Behavior, gt.Stack, func(b any) {
		if s, ok := b.(domain.TransitionEnterer); ok {
			s.OnTransitionEntered(hc)
		}
	})
}

func (in *Instance) stateEvent(id domain.StateID) *domain.StateEvent {
	return &domain.StateEvent{
		GUID:      in.a.stateGUIDs[id],
		Name:      in.graph.State(id).Name,
		Timestamp: in.top.clock.Now(),
	}
}
