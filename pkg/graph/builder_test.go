package graph_test

import (
	"errors"
	"math"
	"testing"

	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/graph"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cond(domain.HookContext) bool { return true }

func TestBuilder_PrioritySort(t *testing.T) {
	b := graph.NewBuilder("Root")
	root := b.Root()
	s := root.State("S")
	a := root.State("A")
	c := root.State("C")
	d := root.State("D")
	root.Initial(s)
	ta := root.Transition(s, a, graph.When(cond), graph.Priority(3))
	tc := root.Transition(s, c, graph.When(cond), graph.Priority(1))
	td := root.Transition(s, d, graph.When(cond), graph.Priority(1))

	g, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, []domain.TransitionID{tc, td, ta}, g.State(s).Outgoing, "equal priorities keep declaration order")
	assert.Equal(t, []domain.TransitionID{ta, tc, td}, g.State(root.ID()).Transitions)
}

func TestBuilder_PrioritySortExtremes(t *testing.T) {
	b := graph.NewBuilder("Root")
	root := b.Root()
	s := root.State("S")
	low := root.State("Low")
	high := root.State("High")
	root.Initial(s)
	last := root.Transition(s, low, graph.When(cond), graph.Priority(math.MaxInt))
	first := root.Transition(s, high, graph.When(cond), graph.Priority(math.MinInt))

	g, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, []domain.TransitionID{first, last}, g.State(s).Outgoing)
}

func TestBuilder_AlwaysFalseAndEndStates(t *testing.T) {
	b := graph.NewBuilder("Root")
	root := b.Root()
	a := root.State("A")
	loop := root.State("Loop")
	dead := root.State("Dead")
	orphan := root.State("Orphan")
	root.Initial(a)
	tNever := root.Transition(a, dead)
	root.Transition(a, loop, graph.When(cond))
	root.Transition(loop, loop, graph.Always())

	g, err := b.Build()
	require.NoError(t, err)

	assert.True(t, g.Transition(tNever).AlwaysFalse, "no condition source")
	assert.False(t, g.State(a).EndState)
	assert.True(t, g.State(loop).EndState, "self loops do not leave the state")
	assert.True(t, g.State(dead).EndState)
	assert.False(t, g.State(orphan).EndState, "unreachable states are not end states")
	assert.False(t, g.State(g.Root()).EndState)
	assert.True(t, g.State(a).Initial)
}

func TestBuilder_AnyState(t *testing.T) {
	b := graph.NewBuilder("Root")
	root := b.Root()
	a := root.State("A")
	bb := root.State("B")
	skip := root.State("Skip")
	gate := root.Conduit("Gate", cond)
	alarm := root.State("Alarm")
	root.Initial(a)
	regular := root.Transition(a, bb, graph.When(cond))
	root.AnyState(alarm, []domain.StateID{skip}, graph.When(cond))

	g, err := b.Build()
	require.NoError(t, err)

	for _, src := range []domain.StateID{a, bb} {
		tid, ok := g.TransitionBetween(src, alarm)
		require.True(t, ok, "missing any-state transition from %s", g.State(src).Name)
		assert.True(t, g.Transition(tid).FromAnyState)
	}
	for _, src := range []domain.StateID{skip, gate, alarm} {
		_, ok := g.TransitionBetween(src, alarm)
		assert.False(t, ok, "unexpected any-state transition from %s", g.State(src).Name)
	}
	assert.Equal(t, regular, g.State(a).Outgoing[0], "any-state transitions sort after regular ones of equal priority")
}

func TestBuilder_LinkRetargets(t *testing.T) {
	b := graph.NewBuilder("Root")
	root := b.Root()
	a := root.State("A")
	bb := root.State("B")
	link := root.Link("ToA", a)
	root.Initial(a)
	root.Transition(a, bb, graph.When(cond))
	back := root.Transition(bb, link, graph.Always())

	g, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, a, g.Transition(back).To)
	assert.True(t, g.Transition(back).FromLinkState)
	assert.NotContains(t, g.State(root.ID()).States, link)
}

func TestBuilder_IntegrityErrors(t *testing.T) {
	b := graph.NewBuilder("Root")
	root := b.Root()
	a := root.State("A")
	sub := root.Machine("Sub")
	x := sub.State("X")
	link := root.Link("L", a)
	c := root.Conduit("C", nil)
	root.Initial(c)
	root.Transition(a, x, graph.Always())
	root.Transition(link, a, graph.Always())
	root.Reference("Ref", nil)

	_, err := b.Build()
	require.Error(t, err)

	var agg *graph.AggregateError
	require.True(t, errors.As(err, &agg))
	errs := graph.IntegrityErrors(err)
	assert.GreaterOrEqual(t, len(errs), 5)

	var paths []string
	for _, e := range errs {
		var ie *graph.IntegrityError
		require.True(t, errors.As(e, &ie))
		paths = append(paths, ie.Path)
	}
	assert.Contains(t, paths, "Root/Sub", "machine without initial state")
	assert.Contains(t, paths, "Root/C", "conduit as initial state")
	assert.Contains(t, paths, "Root/L", "link with outgoing transition")
	assert.Contains(t, paths, "Root/Ref", "reference without graph")
	assert.Contains(t, paths, "Root", "transition crossing machine scope")
}

func TestBuilder_DuplicatePath(t *testing.T) {
	b := graph.NewBuilder("Root")
	root := b.Root()
	a := root.State("A")
	root.State("A")
	root.Initial(a)

	_, err := b.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate path")
}

func TestBuilder_BuildTwice(t *testing.T) {
	b := graph.NewBuilder("Root")
	_, err := b.Build()
	require.NoError(t, err)
	_, err = b.Build()
	assert.Error(t, err)
}

func TestBuilder_StableGUIDs(t *testing.T) {
	mk := func() *graph.Graph {
		b := graph.NewBuilder("Root")
		root := b.Root()
		a := root.State("A")
		sub := root.Machine("Sub")
		x := sub.State("X")
		sub.Initial(x)
		root.Initial(a)
		root.Transition(a, sub.ID(), graph.Always())
		root.Transition(a, sub.ID(), graph.Always())
		g, err := b.Build()
		require.NoError(t, err)
		return g
	}
	g1, g2 := mk(), mk()

	for i := range g1.NumStates() {
		id := domain.StateID(i)
		assert.Equal(t, g1.State(id).GUID, g2.State(id).GUID)
	}
	for i := range g1.NumTransitions() {
		id := domain.TransitionID(i)
		assert.Equal(t, g1.Transition(id).GUID, g2.Transition(id).GUID)
	}

	id, ok := g1.StateByPath("Root/Sub/X")
	require.True(t, ok)
	assert.Equal(t, "X", g1.State(id).Name)
	assert.Equal(t, graph.PathGUID(uuid.Nil, "Root/Sub/X"), g1.State(id).GUID)

	assert.Equal(t, "Root/A->Root/Sub#0", g1.Transition(0).Path)
	assert.Equal(t, "Root/A->Root/Sub#1", g1.Transition(1).Path)
	tid, ok := g1.TransitionByGUID(g1.Transition(1).GUID)
	require.True(t, ok)
	assert.Equal(t, domain.TransitionID(1), tid)

	_, ok = g1.StateByGUID(g1.Transition(1).GUID)
	assert.False(t, ok, "transition identifiers are not states")
	assert.Equal(t, []domain.StateID{id - 1, g1.Root()}, g1.Ancestors(id))
}

func TestRebase(t *testing.T) {
	site1, site2 := uuid.New(), uuid.New()
	id := graph.PathGUID(uuid.Nil, "Door/Closed")
	assert.NotEqual(t, graph.Rebase(site1, id), graph.Rebase(site2, id))
	assert.Equal(t, graph.Rebase(site1, id), graph.Rebase(site1, id))
}
