package runtime

import (
	"context"
	"slices"

	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/graph"
	"github.com/google/uuid"
)

// chain is an ordered list of transitions. Every element but the last ends in a conduit.
type chain []domain.TransitionID

// findChains walks the outgoing transitions of s in priority order. Scanning stops at
// the first passing transition that does not run in parallel.
func (in *Instance) findChains(ctx context.Context, s domain.StateID, mode evalMode) []chain {
	var out []chain
	for _, tid := range in.graph.State(s).Outgoing {
		if !in.eligible(tid, mode) {
			continue
		}
		ch, ok := in.resolve(ctx, tid, mode, nil)
		if !ok {
			continue
		}
		out = append(out, ch)
		if !in.graph.Transition(tid).RunParallel {
			break
		}
	}
	return out
}

// eligible applies the static and runtime gates that precede condition evaluation.
func (in *Instance) eligible(tid domain.TransitionID, mode evalMode) bool {
	gt := in.graph.Transition(tid)
	if gt.AlwaysFalse {
		return false
	}
	rt := &in.a.transitions[tid]
	switch mode {
	case evalTick:
		if !rt.canEvaluate {
			return false
		}
	case evalStart:
		if !rt.canEvaluate || !gt.CanEvalWithStartState {
			return false
		}
	case evalEvent:
		if !gt.CanEvaluateFromEvent {
			return false
		}
	}
	if in.a.states[gt.To].active && !gt.EvalIfNextStateActive && !gt.RunParallel {
		return false
	}
	return true
}

// resolve evaluates tid and, when it leads into a conduit that participates in the
// chain, extends the chain through the conduit's first passing outgoing transition.
func (in *Instance) resolve(ctx context.Context, tid domain.TransitionID, mode evalMode, visited []domain.StateID) (chain, bool) {
	if !in.transitionPasses(ctx, tid) {
		return nil, false
	}
	gt := in.graph.Transition(tid)
	dest := in.graph.State(gt.To)
	if dest.Kind != graph.KindConduit {
		return chain{tid}, true
	}
	if !in.conduitPasses(ctx, gt.To) {
		return nil, false
	}
	if !dest.EvalWithTransitions {
		return chain{tid}, true
	}
	if slices.Contains(visited, gt.To) {
		return nil, false
	}
	visited = append(visited, gt.To)

	next := mode
	if next == evalStart {
		next = evalTick
	}
	for _, out := range dest.Outgoing {
		if !in.eligible(out, next) {
			continue
		}
		rest, ok := in.resolve(ctx, out, next, visited)
		if ok {
			return append(chain{tid}, rest...), true
		}
	}
	return nil, false
}

func (in *Instance) transitionPasses(ctx context.Context, tid domain.TransitionID) bool {
	gt := in.graph.Transition(tid)
	if gt.AlwaysTrue {
		return true
	}
	if gt.AlwaysFalse {
		return false
	}
	pass, _ := conditionResult(in.transitionHookContext(ctx, tid), gt.Condition, gt.Behavior, gt.Stack, gt.StackMode)
	return pass
}

// conduitPasses evaluates the conduit's own condition. A conduit without any condition
// source never passes.
func (in *Instance) conduitPasses(ctx context.Context, s domain.StateID) bool {
	gs := in.graph.State(s)
	pass, _ := conditionResult(in.stateHookContext(ctx, s), gs.Condition, gs.Behavior, in.a.states[s].stack, graph.StackAnd)
	return pass
}

func (in *Instance) publicChain(ch chain) *domain.TransitionChain {
	out := &domain.TransitionChain{Transitions: make([]uuid.UUID, len(ch))}
	for i, tid := range ch {
		out.Transitions[i] = in.a.transitionGUIDs[tid]
	}
	out.From = in.a.stateGUIDs[in.graph.Transition(ch[0]).From]
	out.To = in.a.stateGUIDs[in.graph.Transition(ch[len(ch)-1]).To]
	return out
}
