package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/graph"
	"github.com/google/uuid"
)

// SetAuthority changes whether this peer evaluates and takes transitions locally.
func (in *Instance) SetAuthority(evaluate, take bool) {
	in.top.evaluateLocally = evaluate
	in.top.takeLocally = take
}

// CanEvaluateTransitionsLocally reports whether this peer evaluates conditions.
func (in *Instance) CanEvaluateTransitionsLocally() bool { return in.top.evaluateLocally }

// CanTakeTransitionsLocally reports whether this peer commits transitions.
func (in *Instance) CanTakeTransitionsLocally() bool { return in.top.takeLocally }

// CanProcessExternalTransition reports whether the machine would accept a commit now.
// uuid.Nil selects the root machine.
func (in *Instance) CanProcessExternalTransition(machine uuid.UUID) bool {
	if !in.IsActive() {
		return false
	}
	if machine == uuid.Nil {
		return in.canProcess(in.graph.Root())
	}
	ref, ok := in.lookupState(machine)
	if !ok || !ref.in.graph.State(ref.id).IsMachine() {
		return false
	}
	bi, bm := ref.in.body(ref.id)
	return bi.canProcess(bm)
}

// ProcessTransition commits one transition without evaluating its condition. A nil
// from or to falls back to the transition's own endpoints; a non-nil sourceOverride is
// recorded as the destination's previous state. delta is credited to the source before
// it is recorded.
func (in *Instance) ProcessTransition(ctx context.Context, transition, from, to, sourceOverride uuid.UUID, delta time.Duration) bool {
	if !in.IsActive() {
		in.logger.Warn("process transition ignored", "transition", transition, "err", domain.ErrNotActive)
		return false
	}
	if !in.takeLocally {
		in.logger.Warn("process transition ignored", "transition", transition, "err", domain.ErrNotAuthoritative)
		return false
	}
	tref, ok := in.lookupTransition(transition)
	if !ok {
		in.logger.Warn("process transition ignored", "transition", transition, "err", domain.ErrUnknownGUID)
		return false
	}
	ti := tref.in
	gt := ti.graph.Transition(tref.id)

	fromID, toID := gt.From, gt.To
	if from != uuid.Nil {
		ref, ok := in.lookupState(from)
		if !ok || ref.in != ti {
			return false
		}
		fromID = ref.id
	}
	if to != uuid.Nil {
		ref, ok := in.lookupState(to)
		if !ok || ref.in != ti {
			return false
		}
		toID = ref.id
	}

	in.enter()
	defer in.leave(ctx)

	o := commitOpts{delta: delta}
	if sourceOverride != uuid.Nil {
		if ref, ok := in.lookupState(sourceOverride); ok && ref.in == ti {
			o.override, o.hasOverride = ref.id, true
		}
	}
	return ti.processTransition(ctx, chain{tref.id}, fromID, toID, o).ok
}

// EvaluateAndFindTransitionChain evaluates one transition out-of-band and returns the
// chain it would take, conduits included. Nothing is committed.
func (in *Instance) EvaluateAndFindTransitionChain(ctx context.Context, transition uuid.UUID, requirePreviousStateActive bool) (domain.TransitionChain, bool) {
	if !in.IsActive() || !in.evaluateLocally {
		return domain.TransitionChain{}, false
	}
	tref, ok := in.lookupTransition(transition)
	if !ok {
		return domain.TransitionChain{}, false
	}
	ti := tref.in
	gt := ti.graph.Transition(tref.id)
	if requirePreviousStateActive && !ti.a.states[gt.From].active {
		return domain.TransitionChain{}, false
	}
	if !ti.eligible(tref.id, evalEvent) {
		return domain.TransitionChain{}, false
	}
	ch, ok := ti.resolve(ctx, tref.id, evalEvent, nil)
	if !ok {
		return domain.TransitionChain{}, false
	}
	return *ti.publicChain(ch), true
}

// TakeTransitionChain commits a chain previously returned by
// EvaluateAndFindTransitionChain. Conditions are not evaluated again.
func (in *Instance) TakeTransitionChain(ctx context.Context, tc domain.TransitionChain) bool {
	if !in.IsActive() {
		in.logger.Warn("take chain ignored", "err", domain.ErrNotActive)
		return false
	}
	if !in.takeLocally {
		in.logger.Warn("take chain ignored", "err", domain.ErrNotAuthoritative)
		return false
	}
	ti, ch, err := in.resolveChain(tc.Transitions)
	if err != nil {
		in.logger.Warn("take chain ignored", "err", err)
		return false
	}
	in.enter()
	defer in.leave(ctx)
	return ti.commit(ctx, ch, commitOpts{}).ok
}

// EvaluateFromEvent evaluates one transition on behalf of a host event and takes it when
// it passes. The source state must be active. States started by the commit evaluate
// their own transitions as they would inside an update.
func (in *Instance) EvaluateFromEvent(ctx context.Context, transition uuid.UUID) bool {
	if !in.IsActive() || !in.evaluateLocally {
		return false
	}
	tref, ok := in.lookupTransition(transition)
	if !ok {
		in.logger.Debug("event for unknown transition", "transition", transition)
		return false
	}
	ti := tref.in
	gt := ti.graph.Transition(tref.id)
	if !ti.a.states[gt.From].active || !ti.canLeave(gt.From) || !ti.eligible(tref.id, evalEvent) {
		return false
	}
	in.enter()
	defer in.leave(ctx)

	ch, ok := ti.resolve(ctx, tref.id, evalEvent, nil)
	if !ok {
		return false
	}
	if !in.takeLocally {
		if in.hooks.OnTransitionPending != nil {
			in.hooks.OnTransitionPending(ctx, ti.publicChain(ch))
		}
		return false
	}

	res := ti.commit(ctx, ch, commitOpts{})
	if !res.ok {
		return false
	}
	if res.shouldTake && !(res.to == gt.From && !gt.RunParallel) {
		ti.cascade(ctx, res.to, 1, &pass{taken: 1})
	}
	return true
}

// SetCanEvaluate toggles polled evaluation of one transition at runtime.
func (in *Instance) SetCanEvaluate(transition uuid.UUID, canEvaluate bool) bool {
	tref, ok := in.lookupTransition(transition)
	if !ok {
		return false
	}
	tref.in.a.transitions[tref.id].canEvaluate = canEvaluate
	return true
}

// ApplyReplicatedTransition commits a transition chosen by the authority. Conditions and
// the local authority flags are ignored; the event timestamp becomes the server stamp.
// Events that were already applied are ignored.
func (in *Instance) ApplyReplicatedTransition(ctx context.Context, ev *domain.TransitionTakenEvent) error {
	if !in.IsActive() {
		return domain.ErrNotActive
	}
	if ev.EventID != uuid.Nil && in.applied.contains(ev.EventID) {
		return nil
	}
	ids := ev.Chain
	if len(ids) == 0 {
		ids = []uuid.UUID{ev.Transition}
	}
	ti, ch, err := in.resolveChain(ids)
	if err != nil {
		return err
	}

	in.enter()
	defer in.leave(ctx)

	ts := ev.Timestamp
	res := ti.commit(ctx, ch, commitOpts{stamp: &ts, replicated: true, eventID: ev.EventID})
	if !res.ok {
		return fmt.Errorf("%w: %s", domain.ErrTransitionRejected, ev.Transition)
	}
	return nil
}

// resolveChain maps transition GUIDs to one instance-local chain. Every hop must start
// where the previous one ended, every hop but the last must end in a conduit, and all of
// them must belong to the same machine.
func (in *Instance) resolveChain(ids []uuid.UUID) (*Instance, chain, error) {
	if len(ids) == 0 {
		return nil, nil, fmt.Errorf("%w: empty chain", domain.ErrUnknownGUID)
	}
	var owner *Instance
	ch := make(chain, 0, len(ids))
	for _, id := range ids {
		ref, ok := in.lookupTransition(id)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", domain.ErrUnknownGUID, id)
		}
		if owner != nil && ref.in != owner {
			return nil, nil, fmt.Errorf("%w: chain crosses instances at %s", domain.ErrUnknownGUID, id)
		}
		owner = ref.in
		ch = append(ch, ref.id)
	}

	g := owner.graph
	first := g.Transition(ch[0])
	for i := 1; i < len(ch); i++ {
		prev, cur := g.Transition(ch[i-1]), g.Transition(ch[i])
		switch {
		case cur.Owner != first.Owner:
			return nil, nil, fmt.Errorf("%w: chain crosses machines at %s", domain.ErrTransitionRejected, ids[i])
		case prev.To != cur.From:
			return nil, nil, fmt.Errorf("%w: chain breaks at %s", domain.ErrTransitionRejected, ids[i])
		case g.State(prev.To).Kind != graph.KindConduit:
			return nil, nil, fmt.Errorf("%w: chain continues past %s", domain.ErrTransitionRejected, g.State(prev.To).Path)
		}
	}
	return owner, ch, nil
}
