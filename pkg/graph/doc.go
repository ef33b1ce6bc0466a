/*
Package graph holds the compiled form of a hierarchical state machine.

A Graph is an arena of states and transitions addressed by small integer handles
(domain.StateID, domain.TransitionID). Owner and endpoint references are plain handles,
never pointers, so a Graph can be shared by any number of runtime instances.

Graphs are produced by a Builder:

	b := graph.NewBuilder("Door")
	root := b.Root()
	closed := root.State("Closed")
	open := root.State("Open")
	root.Initial(closed)
	root.Transition(closed, open, graph.When(isUnlocked))
	root.Transition(open, closed, graph.Always())
	g, err := b.Build()

Build expands construction-time patterns (any-state fan-out, link states), sorts
outgoing transitions by priority, derives deterministic path identifiers and computes
end-state flags. Integrity problems are reported together as an *AggregateError.
*/
package graph
