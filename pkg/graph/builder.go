package graph

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/aretw0/arbor/pkg/domain"
	"github.com/google/uuid"
)

// anyStateOrder pushes expanded any-state transitions behind regular ones of equal priority.
const anyStateOrder = 1 << 20

type anyStateDecl struct {
	machine domain.StateID
	to      domain.StateID
	exclude []domain.StateID
	opts    []TransitionOption
}

// Builder assembles a Graph. Handles returned by the builder stay valid in the built graph.
type Builder struct {
	g        *Graph
	anyState []anyStateDecl
	errs     []error
	built    bool
}

// MachineBuilder adds children to one machine of the graph under construction.
type MachineBuilder struct {
	b  *Builder
	id domain.StateID
}

// NewBuilder starts a graph whose root machine is called rootName.
func NewBuilder(rootName string, opts ...StateOption) *Builder {
	b := &Builder{g: &Graph{name: rootName}}
	b.g.root = b.addState(domain.NoState, rootName, KindMachine, opts)
	return b
}

// Root returns the builder of the root machine.
func (b *Builder) Root() *MachineBuilder {
	return &MachineBuilder{b: b, id: b.g.root}
}

func (b *Builder) addState(owner domain.StateID, name string, kind Kind, opts []StateOption) domain.StateID {
	id := domain.StateID(len(b.g.states))
	path := name
	if owner.Valid() {
		path = b.g.states[owner].Path + "/" + name
	}
	s := State{
		ID:         id,
		GUID:       PathGUID(uuid.Nil, path),
		Name:       name,
		Path:       path,
		Kind:       kind,
		Owner:      owner,
		LinkTarget: domain.NoState,
	}
	for _, opt := range opts {
		opt(&s)
	}
	b.g.states = append(b.g.states, s)
	if owner.Valid() && kind != KindLink {
		b.g.states[owner].States = append(b.g.states[owner].States, id)
	}
	if name == "" {
		b.errs = append(b.errs, &IntegrityError{Path: path, Reason: "empty state name"})
	}
	return id
}

// ID is the handle of the machine being built.
func (m *MachineBuilder) ID() domain.StateID { return m.id }

// State adds a plain state.
func (m *MachineBuilder) State(name string, opts ...StateOption) domain.StateID {
	return m.b.addState(m.id, name, KindState, opts)
}

// Conduit adds a conduit gated by cond. A nil cond with no conditioner behavior never passes.
func (m *MachineBuilder) Conduit(name string, cond func(domain.HookContext) bool, opts ...StateOption) domain.StateID {
	id := m.b.addState(m.id, name, KindConduit, opts)
	if cond != nil {
		m.b.g.states[id].Condition = cond
	}
	return id
}

// Machine adds a nested state machine and returns its builder.
func (m *MachineBuilder) Machine(name string, opts ...StateOption) *MachineBuilder {
	return &MachineBuilder{b: m.b, id: m.b.addState(m.id, name, KindMachine, opts)}
}

// Reference adds a state that runs the root machine of ref as a child instance.
func (m *MachineBuilder) Reference(name string, ref *Graph, opts ...StateOption) domain.StateID {
	id := m.b.addState(m.id, name, KindReference, opts)
	m.b.g.states[id].Ref = ref
	return id
}

// ReferenceByName adds a reference resolved by name when the instance initializes.
func (m *MachineBuilder) ReferenceByName(name, refName string, opts ...StateOption) domain.StateID {
	id := m.b.addState(m.id, name, KindReference, opts)
	m.b.g.states[id].RefName = refName
	return id
}

// Link adds a placeholder that stands for target. Transitions into the link are
// redirected to target at Build.
func (m *MachineBuilder) Link(name string, target domain.StateID) domain.StateID {
	id := m.b.addState(m.id, name, KindLink, nil)
	m.b.g.states[id].LinkTarget = target
	return id
}

// Initial marks the entry states of the machine. More than one entry models parallel entry.
func (m *MachineBuilder) Initial(ids ...domain.StateID) *MachineBuilder {
	ms := &m.b.g.states[m.id]
	ms.InitialStates = append(ms.InitialStates, ids...)
	return m
}

// Transition adds a directed edge between two children of this machine.
func (m *MachineBuilder) Transition(from, to domain.StateID, opts ...TransitionOption) domain.TransitionID {
	id := domain.TransitionID(len(m.b.g.transitions))
	t := Transition{
		ID:                    id,
		From:                  from,
		To:                    to,
		Owner:                 m.id,
		CanEvaluate:           true,
		CanEvaluateFromEvent:  true,
		CanEvalWithStartState: true,
		EvalIfNextStateActive: true,
		order:                 int(id),
	}
	for _, opt := range opts {
		opt(&t)
	}
	m.b.g.transitions = append(m.b.g.transitions, t)
	return id
}

// AnyState declares a transition to `to` from every state of this machine except the
// excluded ones and `to` itself. It is expanded at Build.
func (m *MachineBuilder) AnyState(to domain.StateID, exclude []domain.StateID, opts ...TransitionOption) {
	m.b.anyState = append(m.b.anyState, anyStateDecl{
		machine: m.id,
		to:      to,
		exclude: exclude,
		opts:    opts,
	})
}

// Build validates the graph, expands link and any-state declarations, computes
// priorities, path identifiers and end-state flags.
func (b *Builder) Build() (*Graph, error) {
	if b.built {
		return nil, fmt.Errorf("graph %q already built", b.g.name)
	}
	b.built = true
	g := b.g
	errs := slices.Clone(b.errs)

	errs = append(errs, b.resolveLinks()...)
	errs = append(errs, b.expandAnyStates()...)
	errs = append(errs, b.validate()...)
	if len(errs) > 0 {
		return nil, &AggregateError{Errors: errs}
	}

	b.index()
	if err := b.assignGUIDs(); err != nil {
		return nil, err
	}
	return g, nil
}

func (b *Builder) resolveLinks() []error {
	g := b.g
	var errs []error
	for i := range g.states {
		s := &g.states[i]
		if s.Kind != KindLink {
			continue
		}
		if !b.validState(s.LinkTarget) {
			errs = append(errs, &IntegrityError{Path: s.Path, Reason: "link target does not exist"})
			continue
		}
		target := &g.states[s.LinkTarget]
		if target.Owner != s.Owner || target.Kind == KindLink {
			errs = append(errs, &IntegrityError{Path: s.Path, Reason: "link target must be a sibling state"})
		}
	}
	for i := range g.transitions {
		t := &g.transitions[i]
		if b.validState(t.From) && g.states[t.From].Kind == KindLink {
			errs = append(errs, &IntegrityError{Path: g.states[t.From].Path, Reason: "link states cannot have outgoing transitions"})
		}
		if b.validState(t.To) && g.states[t.To].Kind == KindLink {
			t.To = g.states[t.To].LinkTarget
			t.FromLinkState = true
		}
	}
	return errs
}

func (b *Builder) expandAnyStates() []error {
	g := b.g
	var errs []error
	for n, decl := range b.anyState {
		if !b.validState(decl.to) || g.states[decl.to].Owner != decl.machine {
			errs = append(errs, &IntegrityError{Path: g.states[decl.machine].Path, Reason: "any-state destination is not a child of the machine"})
			continue
		}
		for _, src := range g.states[decl.machine].States {
			s := &g.states[src]
			if src == decl.to || s.Kind == KindConduit || slices.Contains(decl.exclude, src) {
				continue
			}
			id := domain.TransitionID(len(g.transitions))
			t := Transition{
				ID:                    id,
				From:                  src,
				To:                    decl.to,
				Owner:                 decl.machine,
				CanEvaluate:           true,
				CanEvaluateFromEvent:  true,
				CanEvalWithStartState: true,
				EvalIfNextStateActive: true,
				order:                 anyStateOrder*(n+1) + int(id),
			}
			for _, opt := range decl.opts {
				opt(&t)
			}
			t.FromAnyState = true
			g.transitions = append(g.transitions, t)
		}
	}
	return errs
}

func (b *Builder) validState(id domain.StateID) bool {
	return id.Valid() && int(id) < len(b.g.states)
}

func (b *Builder) validate() []error {
	g := b.g
	var errs []error
	for i := range g.transitions {
		t := &g.transitions[i]
		owner := g.states[t.Owner].Path
		if !b.validState(t.From) || !b.validState(t.To) {
			errs = append(errs, &IntegrityError{Path: owner, Reason: fmt.Sprintf("transition %d has a missing endpoint", i)})
			continue
		}
		if g.states[t.From].Owner != t.Owner || g.states[t.To].Owner != t.Owner {
			errs = append(errs, &IntegrityError{
				Path:   owner,
				Reason: fmt.Sprintf("transition %s -> %s crosses machine scope", g.states[t.From].Name, g.states[t.To].Name),
			})
		}
	}
	for i := range g.states {
		s := &g.states[i]
		switch s.Kind {
		case KindMachine:
			if len(s.States) > 0 && len(s.InitialStates) == 0 {
				errs = append(errs, &IntegrityError{Path: s.Path, Reason: "machine has no initial state"})
			}
			for _, init := range s.InitialStates {
				if !b.validState(init) || g.states[init].Owner != s.ID {
					errs = append(errs, &IntegrityError{Path: s.Path, Reason: "initial state is not a child of the machine"})
					continue
				}
				if k := g.states[init].Kind; k == KindConduit || k == KindLink {
					errs = append(errs, &IntegrityError{Path: g.states[init].Path, Reason: k.String() + " cannot be an initial state"})
				}
			}
		case KindReference:
			if s.Ref == nil && s.RefName == "" {
				errs = append(errs, &IntegrityError{Path: s.Path, Reason: "reference has no graph"})
			}
		}
	}
	return errs
}

func (b *Builder) index() {
	g := b.g
	for i := range g.transitions {
		t := &g.transitions[i]
		t.AlwaysFalse = !t.AlwaysTrue && t.Condition == nil && !hasConditioner(t.Behavior, t.Stack)
		g.states[t.From].Outgoing = append(g.states[t.From].Outgoing, t.ID)
		g.states[t.To].Incoming = append(g.states[t.To].Incoming, t.ID)
	}
	for i := range g.states {
		s := &g.states[i]
		slices.SortStableFunc(s.Outgoing, func(a, c domain.TransitionID) int {
			ta, tc := &g.transitions[a], &g.transitions[c]
			if ta.Priority != tc.Priority {
				return cmp.Compare(ta.Priority, tc.Priority)
			}
			return cmp.Compare(ta.order, tc.order)
		})
		if s.Kind == KindMachine {
			for _, init := range s.InitialStates {
				g.states[init].Initial = true
			}
			for j := range g.transitions {
				if g.transitions[j].Owner == s.ID {
					s.Transitions = append(s.Transitions, g.transitions[j].ID)
				}
			}
		}
	}
	for i := range g.states {
		s := &g.states[i]
		if s.Kind == KindLink || !s.Owner.Valid() {
			continue
		}
		hasInput := s.Initial || len(s.Incoming) > 0
		deadEnd := true
		for _, tid := range s.Outgoing {
			t := &g.transitions[tid]
			if t.To != s.ID && !t.AlwaysFalse {
				deadEnd = false
				break
			}
		}
		s.EndState = hasInput && deadEnd
	}
}

func (b *Builder) assignGUIDs() error {
	g := b.g
	g.byGUID = make(map[uuid.UUID]int, len(g.states)+len(g.transitions))
	var errs []error
	for i := range g.states {
		s := &g.states[i]
		if _, dup := g.byGUID[s.GUID]; dup {
			errs = append(errs, &IntegrityError{Path: s.Path, Reason: "duplicate path"})
			continue
		}
		g.byGUID[s.GUID] = i
	}
	pairs := make(map[[2]domain.StateID]int)
	for i := range g.transitions {
		t := &g.transitions[i]
		key := [2]domain.StateID{t.From, t.To}
		n := pairs[key]
		pairs[key] = n + 1
		t.Path = fmt.Sprintf("%s->%s#%d", g.states[t.From].Path, g.states[t.To].Path, n)
		t.GUID = PathGUID(uuid.Nil, t.Path)
		g.byGUID[t.GUID] = -i - 1
	}
	if len(errs) > 0 {
		return &AggregateError{Errors: errs}
	}
	return nil
}

func hasConditioner(primary any, stack []any) bool {
	if _, ok := primary.(domain.TransitionConditioner); ok {
		return true
	}
	for _, b := range stack {
		if _, ok := b.(domain.TransitionConditioner); ok {
			return true
		}
	}
	return false
}
