/*
Package arbor is a hierarchical, parallel finite state machine runtime for hosts that
drive their logic from a frame or tick loop: game servers, simulations, device
controllers and long-running automation.

It separates the compiled graph (Structure) from the running instance (State) and from
the code attached to states and transitions (Behavior). A graph is built once with
pkg/graph and shared by any number of instances; each instance keeps its own activity,
timers, history and transition stamps.

# Concept

A graph is a tree of machines. Every machine owns states, conduits (condition-only
gates that chain transitions) and transitions. A state may itself be a machine, or a
reference to the root machine of another graph. Several children of one machine can be
active at once: a machine with two initial states runs both branches in parallel.

Each Update call:

  - runs the update hooks of active states, depth-first,
  - evaluates the outgoing transitions of every active state by priority,
  - commits the first passing chain (and every parallel one before it),
  - lets freshly started states evaluate in the same update, bounded by the cascade guard.

# Key Features

  - Deterministic GUIDs: every state and transition has a stable identifier derived from
    its path, so snapshots and replicated events survive process restarts.
  - Authority model: one peer evaluates and commits; observers apply the replicated
    TransitionTakenEvent stream (see pkg/adapters/redis).
  - Bounded history, GUID redirects for renamed nodes and snapshot resume.
  - Asynchronous initialization on a worker pool with a main-thread finish phase.

# Usage

	b := graph.NewBuilder("Door")
	root := b.Root()
	closed := root.State("Closed")
	open := root.State("Open")
	root.Initial(closed)
	root.Transition(closed, open, graph.When(func(hc domain.HookContext) bool {
		return hc.TimeInState() > time.Second
	}))
	g, err := b.Build()
	if err != nil {
		log.Fatal(err)
	}

	inst, err := arbor.New(g, arbor.WithLogger(slog.Default()))
	if err != nil {
		log.Fatal(err)
	}
	ctx := context.Background()
	_ = inst.Initialize(ctx, nil)
	_ = inst.Start(ctx)

	for range time.Tick(50 * time.Millisecond) {
		_ = inst.Update(ctx, 50*time.Millisecond)
	}

Hosts without a loop of their own can use Runner, which also drains a MainQueue.
*/
package arbor
