package runtime

import (
	"maps"
	"slices"
	"time"

	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/graph"
	"github.com/google/uuid"
)

// guidIndex flattens every node of the instance tree, references included.
type guidIndex struct {
	states      map[uuid.UUID]stateRef
	transitions map[uuid.UUID]transitionRef
}

func newGUIDIndex() *guidIndex {
	return &guidIndex{
		states:      make(map[uuid.UUID]stateRef),
		transitions: make(map[uuid.UUID]transitionRef),
	}
}

// SetGUIDRedirects replaces the redirect table. Redirects are chased on lookup only;
// the flattened maps are never rewritten.
func (in *Instance) SetGUIDRedirects(redirects map[uuid.UUID]uuid.UUID) {
	in.top.redirects = maps.Clone(redirects)
}

func (in *Instance) redirect(id uuid.UUID) uuid.UUID {
	for range maxRedirectHops {
		next, ok := in.top.redirects[id]
		if !ok || next == id {
			break
		}
		id = next
	}
	return id
}

func (in *Instance) lookupState(id uuid.UUID) (stateRef, bool) {
	idx := in.top.index
	if idx == nil {
		return stateRef{}, false
	}
	if ref, ok := idx.states[id]; ok {
		return ref, true
	}
	ref, ok := idx.states[in.redirect(id)]
	return ref, ok
}

func (in *Instance) lookupTransition(id uuid.UUID) (transitionRef, bool) {
	idx := in.top.index
	if idx == nil {
		return transitionRef{}, false
	}
	if ref, ok := idx.transitions[id]; ok {
		return ref, true
	}
	ref, ok := idx.transitions[in.redirect(id)]
	return ref, ok
}

// StateInfo is a read-only view of one state of a running instance.
type StateInfo struct {
	GUID        uuid.UUID
	Name        string
	Path        string
	Kind        graph.Kind
	Active      bool
	EndState    bool
	StartTime   time.Time
	TimeInState time.Duration
	Previous    uuid.UUID
}

// TransitionInfo is a read-only view of one transition of a running instance.
type TransitionInfo struct {
	GUID                 uuid.UUID
	Path                 string
	From                 uuid.UUID
	To                   uuid.UUID
	Priority             int
	CanEvaluate          bool
	LastTaken            time.Time
	LastNetworkTimestamp *time.Time
}

// FindState looks a state up by GUID, following redirects.
func (in *Instance) FindState(id uuid.UUID) (StateInfo, bool) {
	ref, ok := in.lookupState(id)
	if !ok {
		return StateInfo{}, false
	}
	return ref.in.stateInfo(ref.id), true
}

func (in *Instance) stateInfo(id domain.StateID) StateInfo {
	gs := in.graph.State(id)
	rt := &in.a.states[id]
	info := StateInfo{
		GUID:        in.a.stateGUIDs[id],
		Name:        gs.Name,
		Path:        gs.Path,
		Kind:        gs.Kind,
		Active:      rt.active,
		EndState:    in.isEndState(id),
		StartTime:   rt.startTime,
		TimeInState: rt.timeInState,
	}
	if rt.prevState.Valid() {
		info.Previous = in.a.stateGUIDs[rt.prevState]
	}
	return info
}

// FindTransition looks a transition up by GUID, following redirects.
func (in *Instance) FindTransition(id uuid.UUID) (TransitionInfo, bool) {
	ref, ok := in.lookupTransition(id)
	if !ok {
		return TransitionInfo{}, false
	}
	ti := ref.in
	gt := ti.graph.Transition(ref.id)
	rt := &ti.a.transitions[ref.id]
	info := TransitionInfo{
		GUID:        ti.a.transitionGUIDs[ref.id],
		Path:        gt.Path,
		From:        ti.a.stateGUIDs[gt.From],
		To:          ti.a.stateGUIDs[gt.To],
		Priority:    gt.Priority,
		CanEvaluate: rt.canEvaluate,
		LastTaken:   rt.lastTaken,
	}
	if rt.lastNetworkTimestamp != nil {
		ts := *rt.lastNetworkTimestamp
		info.LastNetworkTimestamp = &ts
	}
	return info, true
}

// IsStateActive reports whether the state is active. Unknown GUIDs are inactive.
func (in *Instance) IsStateActive(id uuid.UUID) bool {
	ref, ok := in.lookupState(id)
	return ok && ref.in.a.states[ref.id].active
}

// IsInEndState reports whether every active leaf of the root machine is an end state.
func (in *Instance) IsInEndState() bool {
	if !in.IsActive() {
		return false
	}
	return in.leavesAtEnd(in.graph.Root())
}

// ActiveStateGUIDs lists active states depth-first in activation order, excluding the root.
func (in *Instance) ActiveStateGUIDs() []uuid.UUID {
	if !in.IsActive() {
		return nil
	}
	var out []uuid.UUID
	in.collectActive(in.graph.Root(), &out)
	return out
}

// ActiveStates is ActiveStateGUIDs with state details.
func (in *Instance) ActiveStates() []StateInfo {
	var out []StateInfo
	for _, id := range in.ActiveStateGUIDs() {
		if info, ok := in.FindState(id); ok {
			out = append(out, info)
		}
	}
	return out
}

func (in *Instance) collectActive(m domain.StateID, out *[]uuid.UUID) {
	bi, bm := in.body(m)
	for _, c := range bi.a.states[bm].activeChildren {
		*out = append(*out, bi.a.stateGUIDs[c])
		if bi.graph.State(c).IsMachine() {
			bi.collectActive(c, out)
		}
	}
}

// AddStackBehavior appends a behavior to a state's stack at runtime.
func (in *Instance) AddStackBehavior(state uuid.UUID, b any) bool {
	ref, ok := in.lookupState(state)
	if !ok || b == nil {
		return false
	}
	ref.in.editStack(ref.id, func(stack []any) []any { return append(stack, b) })
	return true
}

// RemoveStackBehavior removes the stacked behavior at index.
func (in *Instance) RemoveStackBehavior(state uuid.UUID, index int) bool {
	ref, ok := in.lookupState(state)
	if !ok {
		return false
	}
	if index < 0 || index >= len(ref.in.a.states[ref.id].stack) {
		return false
	}
	ref.in.editStack(ref.id, func(stack []any) []any { return slices.Delete(stack, index, index+1) })
	return true
}

// StackBehaviors returns a copy of a state's behavior stack.
func (in *Instance) StackBehaviors(state uuid.UUID) []any {
	ref, ok := in.lookupState(state)
	if !ok {
		return nil
	}
	return slices.Clone(ref.in.a.states[ref.id].stack)
}
