package graph

import (
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/google/uuid"
)

// Kind classifies a state slot.
type Kind uint8

const (
	KindState Kind = iota
	// KindConduit gates a transition chain with an extra condition.
	KindConduit
	// KindMachine owns a nested set of states and transitions.
	KindMachine
	// KindReference substitutes the root machine of another graph for this state.
	KindReference
	// KindLink is a construction-time placeholder; transitions into it are retargeted.
	KindLink
)

func (k Kind) String() string {
	switch k {
	case KindState:
		return "state"
	case KindConduit:
		return "conduit"
	case KindMachine:
		return "machine"
	case KindReference:
		return "reference"
	case KindLink:
		return "link"
	}
	return "unknown"
}

// StatePolicy controls activation behavior of a single state.
type StatePolicy struct {
	// StayActiveOnStateChange keeps the source active when one of its transitions is taken.
	StayActiveOnStateChange bool
	// AllowParallelReentry re-runs the begin hooks when an active state is entered again.
	AllowParallelReentry bool
	// DisableSameTickEvaluation stops a freshly started state from evaluating its
	// transitions in the same update call.
	DisableSameTickEvaluation bool
	// DisableTickTransitionEvaluation restricts the state to event-driven evaluation.
	DisableTickTransitionEvaluation bool
	ExcludeFromHistory              bool
}

// MachinePolicy controls how a nested machine starts and when it may leave.
type MachinePolicy struct {
	WaitForEndState    bool
	ReuseCurrentState  bool
	ReuseIfNotEndState bool
}

// StackMode selects how stacked transition conditions combine.
type StackMode uint8

const (
	StackAnd StackMode = iota
	StackOr
)

// State is one slot of the state arena. Read-only after Build.
type State struct {
	ID    domain.StateID
	GUID  uuid.UUID
	Name  string
	Path  string
	Kind  Kind
	Owner domain.StateID

	Behavior any
	Stack    []any
	Policy   StatePolicy

	// Condition gates a conduit. Nil means the conduit has no logic of its own.
	Condition           domain.ConditionFunc
	EvalWithTransitions bool

	// Machine data, set for KindMachine.
	States        []domain.StateID
	Transitions   []domain.TransitionID
	InitialStates []domain.StateID
	MachinePolicy MachinePolicy

	// Reference data, set for KindReference. RefName is resolved at Initialize
	// when Ref is nil.
	Ref     *Graph
	RefName string

	// LinkTarget is set for KindLink.
	LinkTarget domain.StateID

	// Outgoing is sorted by ascending priority.
	Outgoing []domain.TransitionID
	Incoming []domain.TransitionID
	Initial  bool
	EndState bool
}

// IsMachine reports whether the state has a body of child states.
func (s *State) IsMachine() bool { return s.Kind == KindMachine || s.Kind == KindReference }

// Transition is one slot of the transition arena. Read-only after Build.
type Transition struct {
	ID       domain.TransitionID
	GUID     uuid.UUID
	Path     string
	From     domain.StateID
	To       domain.StateID
	Owner    domain.StateID
	Priority int

	Behavior  any
	Stack     []any
	StackMode StackMode
	Condition domain.ConditionFunc

	CanEvaluate           bool
	CanEvaluateFromEvent  bool
	CanEvalWithStartState bool
	RunParallel           bool
	EvalIfNextStateActive bool
	AlwaysTrue            bool
	// AlwaysFalse is computed: no condition source is attached and AlwaysTrue is unset.
	AlwaysFalse   bool
	FromAnyState  bool
	FromLinkState bool

	order int
}

// Graph is a compiled, immutable state machine graph.
type Graph struct {
	name        string
	states      []State
	transitions []Transition
	root        domain.StateID
	byGUID      map[uuid.UUID]int
}

// Name is the root machine name.
func (g *Graph) Name() string { return g.name }

// Root is the root machine handle.
func (g *Graph) Root() domain.StateID { return g.root }

// NumStates returns the size of the state arena.
func (g *Graph) NumStates() int { return len(g.states) }

// NumTransitions returns the size of the transition arena.
func (g *Graph) NumTransitions() int { return len(g.transitions) }

// State returns the slot for id. It panics on an out-of-range handle, like a slice index.
func (g *Graph) State(id domain.StateID) *State { return &g.states[id] }

// Transition returns the slot for id.
func (g *Graph) Transition(id domain.TransitionID) *Transition { return &g.transitions[id] }

// StateByGUID finds a state by path identifier.
func (g *Graph) StateByGUID(id uuid.UUID) (domain.StateID, bool) {
	idx, ok := g.byGUID[id]
	if !ok || idx < 0 {
		return domain.NoState, false
	}
	return domain.StateID(idx), true
}

// TransitionByGUID finds a transition by path identifier.
func (g *Graph) TransitionByGUID(id uuid.UUID) (domain.TransitionID, bool) {
	idx, ok := g.byGUID[id]
	if !ok || idx >= 0 {
		return domain.NoTransition, false
	}
	return domain.TransitionID(-idx - 1), true
}

// StateByPath finds a state by its slash-joined path ("Root/Combat/Attack").
func (g *Graph) StateByPath(path string) (domain.StateID, bool) {
	return g.StateByGUID(PathGUID(uuid.Nil, path))
}

// TransitionBetween returns the first transition from one state to another.
func (g *Graph) TransitionBetween(from, to domain.StateID) (domain.TransitionID, bool) {
	for _, tid := range g.states[from].Outgoing {
		if g.transitions[tid].To == to {
			return tid, true
		}
	}
	return domain.NoTransition, false
}

// Ancestors walks the owner chain of id, nearest first, excluding id itself.
func (g *Graph) Ancestors(id domain.StateID) []domain.StateID {
	var out []domain.StateID
	for cur := g.states[id].Owner; cur.Valid(); cur = g.states[cur].Owner {
		out = append(out, cur)
	}
	return out
}
