package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TransitionTakenEvent is emitted by the authority for every committed transition chain.
// It is the unit that crosses the replication boundary.
type TransitionTakenEvent struct {
	EventID uuid.UUID `json:"event_id"`
	// Instance is the replication key of the publishing instance. Observers route the
	// event to the instance attached under the same key.
	Instance string `json:"instance,omitempty"`
	// Transition is the first transition of the chain.
	Transition uuid.UUID `json:"transition"`
	// Chain lists every transition of the chain in order, conduits included.
	Chain     []uuid.UUID `json:"chain"`
	From      uuid.UUID   `json:"from"`
	To        uuid.UUID   `json:"to"`
	Timestamp time.Time   `json:"timestamp"`
}

// StateChangedEvent reports a committed switch between two states.
type StateChangedEvent struct {
	From      uuid.UUID `json:"from"`
	FromName  string    `json:"from_name"`
	To        uuid.UUID `json:"to"`
	ToName    string    `json:"to_name"`
	Timestamp time.Time `json:"timestamp"`
}

// StateEvent reports a single state starting or ending.
type StateEvent struct {
	GUID      uuid.UUID `json:"guid"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}

// UpdateEvent describes one completed Update pass.
type UpdateEvent struct {
	Delta            time.Duration
	Started          time.Time
	Finished         time.Time
	TransitionsTaken int
}

// TransitionChain is a discovered, not yet committed sequence of transitions.
type TransitionChain struct {
	Transitions []uuid.UUID `json:"transitions"`
	From        uuid.UUID   `json:"from"`
	To          uuid.UUID   `json:"to"`
}

// LifecycleHooks defines callbacks for instance observability.
type LifecycleHooks struct {
	OnPreInitialize   func(context.Context)
	OnPostInitialize  func(context.Context)
	OnStarted         func(context.Context)
	OnStopped         func(context.Context)
	OnStateStarted    func(context.Context, *StateEvent)
	OnStateEnded      func(context.Context, *StateEvent)
	OnStateChanged    func(context.Context, *StateChangedEvent)
	OnTransitionTaken func(context.Context, *TransitionTakenEvent)

	// OnTransitionPending receives chains found by a peer that may evaluate but not commit.
	OnTransitionPending func(context.Context, *TransitionChain)
	OnUpdated           func(context.Context, *UpdateEvent)
}

// ChainHooks composes several hook sets; callbacks run in argument order.
func ChainHooks(sets ...LifecycleHooks) LifecycleHooks {
	var out LifecycleHooks
	for _, h := range sets {
		out.OnPreInitialize = chain1(out.OnPreInitialize, h.OnPreInitialize)
		out.OnPostInitialize = chain1(out.OnPostInitialize, h.OnPostInitialize)
		out.OnStarted = chain1(out.OnStarted, h.OnStarted)
		out.OnStopped = chain1(out.OnStopped, h.OnStopped)
		out.OnStateStarted = chain2(out.OnStateStarted, h.OnStateStarted)
		out.OnStateEnded = chain2(out.OnStateEnded, h.OnStateEnded)
		out.OnStateChanged = chain2(out.OnStateChanged, h.OnStateChanged)
		out.OnTransitionTaken = chain2(out.OnTransitionTaken, h.OnTransitionTaken)
		out.OnTransitionPending = chain2(out.OnTransitionPending, h.OnTransitionPending)
		out.OnUpdated = chain2(out.OnUpdated, h.OnUpdated)
	}
	return out
}

func chain1(a, b func(context.Context)) func(context.Context) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context) {
		a(ctx)
		b(ctx)
	}
}

func chain2[E any](a, b func(context.Context, E)) func(context.Context, E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}
