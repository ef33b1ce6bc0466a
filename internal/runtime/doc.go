/*
Package runtime executes compiled graphs.

An Instance pairs an immutable *graph.Graph with parallel runtime slices: activity,
timers, behavior stacks and one child Instance per reference state. All handles are
arena indices; GUIDs are only used at the API boundary and are resolved through a
flattened index built at initialization.

The per-update flow is:

	Update(delta)
	  -> update hooks, depth-first through nested machines
	  -> evaluate each active state: find passing chains by priority
	  -> commit each chain (end source, start destination, record)
	  -> cascade into states started by the commit, bounded by MaxCascadeDepth

Commits are the only place where activity changes during an update. A machine that is
committing refuses further commits, and Stop requested inside a commit is deferred until
the outermost commit returns.
*/
package runtime
