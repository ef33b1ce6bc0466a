package domain

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// HookContext is handed to every behavior hook. It exposes the node the behavior is
// attached to and the opaque host context supplied at Initialize.
type HookContext interface {
	// Context is the context.Context of the call that triggered the hook.
	Context() context.Context
	// HostContext is the engine-unowned object supplied at Initialize.
	HostContext() any
	NodeGUID() uuid.UUID
	NodeName() string
	// TimeInState is the accumulated update time of the state, or of the source state
	// when the hook belongs to a transition.
	TimeInState() time.Duration
	// ServerTimeInState is measured from the authority's timestamp of the transition that
	// entered the state. It is absent when the state was not entered through a stamped transition.
	ServerTimeInState() (time.Duration, bool)
	// PreviousState is the state active before this one was entered.
	PreviousState() (uuid.UUID, bool)
	Logger() *slog.Logger
}

// Behavior objects are host-defined values attached to nodes. The engine probes each
// value for the capability interfaces below; a missing capability is a silent no-op.

type StateBeginner interface {
	OnStateBegin(hc HookContext)
}

// StateBeginPoster fires after the primary and every stacked begin hook have run.
type StateBeginPoster interface {
	OnStateBeginPost(hc HookContext)
}

type StateUpdater interface {
	OnStateUpdate(hc HookContext, delta time.Duration)
}

type StateEnder interface {
	OnStateEnd(hc HookContext)
}

// TransitionConditioner supplies the boolean condition of a transition or conduit.
type TransitionConditioner interface {
	CanEnterTransition(hc HookContext) bool
}

type TransitionEnterer interface {
	OnTransitionEntered(hc HookContext)
}

type NodeInitializer interface {
	OnNodeInitialized(hc HookContext)
}

type NodeShutdowner interface {
	OnNodeShutdown(hc HookContext)
}

type RootStarter interface {
	OnRootStateMachineStart(hc HookContext)
}

type RootStopper interface {
	OnRootStateMachineStop(hc HookContext)
}

// InitThreadSafety lets a behavior opt out of initialization on the async worker.
// Behaviors reporting false are initialized in the finish phase instead.
type InitThreadSafety interface {
	InitThreadSafe() bool
}

// ConditionFunc adapts a function to TransitionConditioner.
type ConditionFunc func(hc HookContext) bool

// CanEnterTransition calls f.
func (f ConditionFunc) CanEnterTransition(hc HookContext) bool { return f(hc) }

// StateFuncs bundles optional state hooks. Nil fields are skipped.
type StateFuncs struct {
	Begin     func(hc HookContext)
	BeginPost func(hc HookContext)
	Update    func(hc HookContext, delta time.Duration)
	End       func(hc HookContext)
}

func (f StateFuncs) OnStateBegin(hc HookContext) {
	if f.Begin != nil {
		f.Begin(hc)
	}
}

func (f StateFuncs) OnStateBeginPost(hc HookContext) {
	if f.BeginPost != nil {
		f.BeginPost(hc)
	}
}

func (f StateFuncs) OnStateUpdate(hc HookContext, delta time.Duration) {
	if f.Update != nil {
		f.Update(hc, delta)
	}
}

func (f StateFuncs) OnStateEnd(hc HookContext) {
	if f.End != nil {
		f.End(hc)
	}
}
