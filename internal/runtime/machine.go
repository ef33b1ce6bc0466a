package runtime

import (
	"context"
	"slices"
	"time"

	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/graph"
)

// tryStartState activates id. An active state is only entered again when it allows
// parallel reentry. shouldTake reports whether the state may evaluate its transitions
// in the current update.
func (in *Instance) tryStartState(ctx context.Context, id domain.StateID, prev domain.StateID, via domain.TransitionID, stamp *time.Time) (started, shouldTake bool) {
	gs := in.graph.State(id)
	rt := &in.a.states[id]
	if gs.Kind == graph.KindLink {
		return false, false
	}
	reentry := rt.active
	if reentry && !gs.Policy.AllowParallelReentry {
		return false, false
	}

	rt.active = true
	rt.startTime = in.top.clock.Now()
	rt.timeInState = 0
	rt.serverStart = nil
	if stamp != nil {
		ts := *stamp
		rt.serverStart = &ts
	}
	rt.prevState = prev
	rt.prevTransition = via
	if !reentry && gs.Owner.Valid() {
		owner := &in.a.states[gs.Owner]
		owner.activeChildren = append(owner.activeChildren, id)
	}

	in.fireStateBegin(ctx, id)
	switch gs.Kind {
	case graph.KindMachine:
		in.enterBody(ctx, id)
	case graph.KindReference:
		if child := in.a.children[id]; child != nil {
			child.tryStartState(ctx, child.graph.Root(), domain.NoState, domain.NoTransition, nil)
		}
	}
	in.fireStateBeginPost(ctx, id)

	if in.top.hooks.OnStateStarted != nil {
		in.top.hooks.OnStateStarted(ctx, in.stateEvent(id))
	}
	return true, !gs.Policy.DisableSameTickEvaluation
}

// endState deactivates id after ending its body, if it has one.
func (in *Instance) endState(ctx context.Context, id domain.StateID) {
	gs := in.graph.State(id)
	rt := &in.a.states[id]
	if !rt.active {
		return
	}

	switch gs.Kind {
	case graph.KindMachine:
		in.exitBody(ctx, id)
	case graph.KindReference:
		if child := in.a.children[id]; child != nil {
			child.endState(ctx, child.graph.Root())
		}
	}
	in.fireStateEnd(ctx, id)

	rt.active = false
	if gs.Owner.Valid() {
		owner := &in.a.states[gs.Owner]
		owner.activeChildren = slices.DeleteFunc(owner.activeChildren, func(c domain.StateID) bool { return c == id })
	}
	if in.top.hooks.OnStateEnded != nil {
		in.top.hooks.OnStateEnded(ctx, in.stateEvent(id))
	}
}

// enterBody starts the children of machine m. Loaded overrides win over reused
// children, which win over the declared initial states.
func (in *Instance) enterBody(ctx context.Context, m domain.StateID) {
	gs := in.graph.State(m)
	rt := &in.a.states[m]

	targets := gs.InitialStates
	if ov := in.top.overrides[stateRef{in, m}]; len(ov) > 0 {
		targets = ov
	} else if gs.MachinePolicy.ReuseCurrentState && len(rt.reuse) > 0 {
		if !gs.MachinePolicy.ReuseIfNotEndState || !in.anyEndState(rt.reuse) {
			targets = rt.reuse
		}
	}
	rt.reuse = nil

	for _, c := range slices.Clone(targets) {
		in.tryStartState(ctx, c, domain.NoState, domain.NoTransition, nil)
	}
}

func (in *Instance) exitBody(ctx context.Context, m domain.StateID) {
	gs := in.graph.State(m)
	rt := &in.a.states[m]
	active := slices.Clone(rt.activeChildren)
	if gs.MachinePolicy.ReuseCurrentState {
		rt.reuse = active
	}
	for _, c := range active {
		in.endState(ctx, c)
	}
}

func (in *Instance) anyEndState(ids []domain.StateID) bool {
	for _, id := range ids {
		if in.isEndState(id) {
			return true
		}
	}
	return false
}

// body returns the instance and machine holding the children of a machine or
// reference state.
func (in *Instance) body(id domain.StateID) (*Instance, domain.StateID) {
	if in.graph.State(id).Kind == graph.KindReference {
		if child := in.a.children[id]; child != nil {
			return child, child.graph.Root()
		}
	}
	return in, id
}

// isEndState applies the structural end-state flag, and for machines waiting on their
// body, requires every active leaf to be an end state as well.
func (in *Instance) isEndState(id domain.StateID) bool {
	gs := in.graph.State(id)
	if !gs.EndState {
		return false
	}
	if gs.IsMachine() && gs.MachinePolicy.WaitForEndState {
		return in.leavesAtEnd(id)
	}
	return true
}

// canLeave reports whether the transitions of id may be evaluated.
func (in *Instance) canLeave(id domain.StateID) bool {
	gs := in.graph.State(id)
	if gs.IsMachine() && gs.MachinePolicy.WaitForEndState {
		return in.leavesAtEnd(id)
	}
	return true
}

func (in *Instance) leavesAtEnd(m domain.StateID) bool {
	bi, bm := in.body(m)
	children := bi.a.states[bm].activeChildren
	if len(children) == 0 {
		return false
	}
	for _, c := range children {
		if !bi.leafAtEnd(c) {
			return false
		}
	}
	return true
}

func (in *Instance) leafAtEnd(id domain.StateID) bool {
	if in.graph.State(id).IsMachine() {
		bi, bm := in.body(id)
		if len(bi.a.states[bm].activeChildren) > 0 {
			return in.leavesAtEnd(id)
		}
	}
	return in.isEndState(id)
}

// editStack swaps the behavior stack of a state for a modified copy.
func (in *Instance) editStack(id domain.StateID, fn func(stack []any) []any) {
	rt := &in.a.states[id]
	rt.stack = fn(slices.Clone(rt.stack))
}
