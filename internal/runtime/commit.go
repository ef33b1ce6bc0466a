package runtime

import (
	"context"
	"time"

	"github.com/aretw0/arbor/pkg/domain"
	"github.com/google/uuid"
)

type commitOpts struct {
	// override replaces the source as the recorded previous state of the destination.
	override    domain.StateID
	hasOverride bool
	// delta is credited to the source before it is recorded in the history.
	delta time.Duration
	// stamp is the authority timestamp; nil stamps with the local clock.
	stamp *time.Time
	// replicated commits are applied on behalf of the authority and never republished.
	replicated bool
	eventID    uuid.UUID
}

type commitResult struct {
	ok         bool
	shouldTake bool
	to         domain.StateID
}

func (in *Instance) commit(ctx context.Context, ch chain, o commitOpts) commitResult {
	from := in.graph.Transition(ch[0]).From
	to := in.graph.Transition(ch[len(ch)-1]).To
	return in.processTransition(ctx, ch, from, to, o)
}

// canProcess reports whether machine m accepts a commit right now. The machine must be
// active; one that is already committing refuses, which keeps hooks from re-entering
// the same body.
func (in *Instance) canProcess(m domain.StateID) bool {
	top := in.top
	if !top.IsActive() || top.waitingForStop {
		return false
	}
	mrt := &in.a.states[m]
	return mrt.active && !mrt.committing
}

// processTransition is the single commit point: it ends the source, marks the chain
// taken, starts the destination and records the change.
func (in *Instance) processTransition(ctx context.Context, ch chain, from, to domain.StateID, o commitOpts) commitResult {
	top := in.top
	if !to.Valid() {
		return commitResult{}
	}
	m := in.graph.Transition(ch[0]).Owner
	if !in.canProcess(m) {
		top.logger.Debug("transition refused",
			"transition", in.graph.Transition(ch[0]).Path,
			"machine_active", in.a.states[m].active,
			"committing", in.a.states[m].committing,
			"waiting_for_stop", top.waitingForStop)
		return commitResult{}
	}

	mrt := &in.a.states[m]
	mrt.committing = true
	top.commitDepth++
	defer func() {
		mrt.committing = false
		top.commitDepth--
		if top.commitDepth == 0 && top.waitingForStop {
			top.stopNow(ctx)
		}
	}()

	now := top.clock.Now()
	stamp := now
	if o.stamp != nil {
		stamp = *o.stamp
	}

	departed := false
	var entry domain.HistoryEntry
	if from.Valid() {
		frt := &in.a.states[from]
		frt.timeInState += o.delta
		if frt.active && !in.graph.State(from).Policy.StayActiveOnStateChange {
			in.endState(ctx, from)
			departed = true
			entry = in.historyEntry(from, stamp)
		}
	}

	for _, tid := range ch {
		rt := &in.a.transitions[tid]
		rt.lastTaken = now
		ts := stamp
		rt.lastNetworkTimestamp = &ts
		in.fireTransitionEntered(ctx, tid)
	}

	prev := from
	if o.hasOverride {
		prev = o.override
	}
	_, shouldTake := in.tryStartState(ctx, to, prev, ch[len(ch)-1], &stamp)

	in.recordTransition(ctx, ch, from, to, stamp, departed, entry, o)
	return commitResult{ok: true, shouldTake: shouldTake, to: to}
}

func (in *Instance) historyEntry(id domain.StateID, stamp time.Time) domain.HistoryEntry {
	rt := &in.a.states[id]
	e := domain.HistoryEntry{
		State:       in.a.stateGUIDs[id],
		StateName:   in.graph.State(id).Name,
		StartTime:   rt.startTime,
		TimeInState: rt.timeInState,
	}
	if rt.serverStart != nil {
		d := stamp.Sub(*rt.serverStart)
		e.ServerTimeInState = &d
	}
	return e
}

func (in *Instance) recordTransition(ctx context.Context, ch chain, from, to domain.StateID, stamp time.Time, departed bool, entry domain.HistoryEntry, o commitOpts) {
	top := in.top
	if departed && !in.graph.State(from).Policy.ExcludeFromHistory {
		top.history.add(entry)
	}

	var fromGUID uuid.UUID
	var fromName string
	if from.Valid() {
		fromGUID = in.a.stateGUIDs[from]
		fromName = in.graph.State(from).Name
	}
	toGUID := in.a.stateGUIDs[to]

	if top.hooks.OnStateChanged != nil {
		top.hooks.OnStateChanged(ctx, &domain.StateChangedEvent{
			From:      fromGUID,
			FromName:  fromName,
			To:        toGUID,
			ToName:    in.graph.State(to).Name,
			Timestamp: stamp,
		})
	}

	eventID := o.eventID
	if eventID == uuid.Nil {
		eventID = uuid.New()
	}
	ev := &domain.TransitionTakenEvent{
		EventID:    eventID,
		Instance:   top.replicationKey,
		Transition: in.a.transitionGUIDs[ch[0]],
		Chain:      make([]uuid.UUID, len(ch)),
		From:       fromGUID,
		To:         toGUID,
		Timestamp:  stamp,
	}
	for i, tid := range ch {
		ev.Chain[i] = in.a.transitionGUIDs[tid]
	}
	top.applied.add(eventID)

	if top.hooks.OnTransitionTaken != nil {
		top.hooks.OnTransitionTaken(ctx, ev)
	}
	if top.replicator != nil && !o.replicated {
		if err := top.replicator.Publish(ctx, ev); err != nil {
			top.logger.Warn("replicate transition failed", "transition", ev.Transition, "err", err)
		}
	}
}
