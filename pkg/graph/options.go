package graph

import "github.com/aretw0/arbor/pkg/domain"

// StateOption configures a state, conduit, machine or reference slot.
type StateOption func(*State)

// WithBehavior attaches the primary behavior object.
func WithBehavior(b any) StateOption {
	return func(s *State) {
		s.Behavior = b
	}
}

// WithStack appends stacked behavior objects, invoked after the primary in index order.
func WithStack(bs ...any) StateOption {
	return func(s *State) {
		s.Stack = append(s.Stack, bs...)
	}
}

// StayActiveOnStateChange keeps the state active after one of its transitions is taken.
func StayActiveOnStateChange() StateOption {
	return func(s *State) {
		s.Policy.StayActiveOnStateChange = true
	}
}

// AllowParallelReentry re-runs begin hooks when the state is entered while active.
func AllowParallelReentry() StateOption {
	return func(s *State) {
		s.Policy.AllowParallelReentry = true
	}
}

// DisableSameTickEvaluation defers transition evaluation of a freshly started state
// to the next update.
func DisableSameTickEvaluation() StateOption {
	return func(s *State) {
		s.Policy.DisableSameTickEvaluation = true
	}
}

// DisableTickTransitionEvaluation limits the state to event-driven transition evaluation.
func DisableTickTransitionEvaluation() StateOption {
	return func(s *State) {
		s.Policy.DisableTickTransitionEvaluation = true
	}
}

// ExcludeFromHistory keeps departures from this state out of the history.
func ExcludeFromHistory() StateOption {
	return func(s *State) {
		s.Policy.ExcludeFromHistory = true
	}
}

// EvalWithTransitions makes a conduit part of the surrounding chain instead of a
// state that is entered on its own.
func EvalWithTransitions() StateOption {
	return func(s *State) {
		s.EvalWithTransitions = true
	}
}

// WaitForEndState keeps a nested machine from leaving until its active leaves are end states.
func WaitForEndState() StateOption {
	return func(s *State) {
		s.MachinePolicy.WaitForEndState = true
	}
}

// ReuseCurrentState resumes the previously active children when a machine restarts.
func ReuseCurrentState() StateOption {
	return func(s *State) {
		s.MachinePolicy.ReuseCurrentState = true
	}
}

// ReuseIfNotEndState resumes previous children only when none of them was an end state.
func ReuseIfNotEndState() StateOption {
	return func(s *State) {
		s.MachinePolicy.ReuseCurrentState = true
		s.MachinePolicy.ReuseIfNotEndState = true
	}
}

// TransitionOption configures a transition.
type TransitionOption func(*Transition)

// Priority sets the evaluation order; lower evaluates first.
func Priority(p int) TransitionOption {
	return func(t *Transition) {
		t.Priority = p
	}
}

// Always makes the transition pass unconditionally.
func Always() TransitionOption {
	return func(t *Transition) {
		t.AlwaysTrue = true
	}
}

// When sets the transition condition.
func When(fn func(hc domain.HookContext) bool) TransitionOption {
	return func(t *Transition) {
		t.Condition = fn
	}
}

// WithTransitionBehavior attaches the primary transition behavior.
func WithTransitionBehavior(b any) TransitionOption {
	return func(t *Transition) {
		t.Behavior = b
	}
}

// WithTransitionStack appends stacked transition behaviors.
func WithTransitionStack(mode StackMode, bs ...any) TransitionOption {
	return func(t *Transition) {
		t.StackMode = mode
		t.Stack = append(t.Stack, bs...)
	}
}

// RunParallel lets evaluation continue past this transition when it passes.
func RunParallel() TransitionOption {
	return func(t *Transition) {
		t.RunParallel = true
	}
}

// SkipIfNextStateActive skips the transition while its destination is active.
func SkipIfNextStateActive() TransitionOption {
	return func(t *Transition) {
		t.EvalIfNextStateActive = false
	}
}

// NoEvalWithStartState prevents evaluation in the update that started the source state.
func NoEvalWithStartState() TransitionOption {
	return func(t *Transition) {
		t.CanEvalWithStartState = false
	}
}

// EventDriven disables polled evaluation; the transition is only evaluated from events.
func EventDriven() TransitionOption {
	return func(t *Transition) {
		t.CanEvaluate = false
		t.CanEvaluateFromEvent = true
	}
}

// NoEventEvaluation ignores event-driven evaluation requests for the transition.
func NoEventEvaluation() TransitionOption {
	return func(t *Transition) {
		t.CanEvaluateFromEvent = false
	}
}
