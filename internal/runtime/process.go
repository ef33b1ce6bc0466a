package runtime

import (
	"context"
	"slices"
	"time"

	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/graph"
	"github.com/google/uuid"
)

type evalMode uint8

const (
	// evalTick is the regular per-update evaluation.
	evalTick evalMode = iota
	// evalStart evaluates a state in the update that started it.
	evalStart
	// evalEvent evaluates on behalf of a host event.
	evalEvent
)

// pass carries the arguments of one ProcessStates call through the recursion.
type pass struct {
	delta      time.Duration
	skipUpdate bool
	hint       stateRef
	scope      *stateRef
	taken      int
}

// ProcessArgs tunes a ProcessStates call.
type ProcessArgs struct {
	Delta time.Duration
	// SkipStateUpdate evaluates transitions without running update hooks.
	SkipStateUpdate bool
	// ActiveHint restricts its owning machine to that one active state.
	ActiveHint uuid.UUID
	// Scope restricts processing to one branch: its ancestors and descendants.
	Scope uuid.UUID
}

// ProcessStates runs one update and evaluation pass over the root machine. It reports
// whether any transition was taken.
func (in *Instance) ProcessStates(ctx context.Context, args ProcessArgs) bool {
	if !in.IsActive() {
		in.logger.Warn("process states ignored", "graph", in.graph.Name(), "err", domain.ErrNotActive)
		return false
	}
	p := &pass{delta: args.Delta, skipUpdate: args.SkipStateUpdate}
	if args.ActiveHint != uuid.Nil {
		if ref, ok := in.lookupState(args.ActiveHint); ok {
			p.hint = ref
		}
	}
	if args.Scope != uuid.Nil {
		ref, ok := in.lookupState(args.Scope)
		if !ok {
			in.logger.Debug("unknown process scope", "scope", args.Scope)
			return false
		}
		p.scope = &ref
	}

	in.enter()
	defer in.leave(ctx)

	root := in.graph.Root()
	if !p.skipUpdate {
		in.updateState(ctx, root, p)
	}
	in.evaluateBody(ctx, root, p)
	return p.taken > 0
}

// visiting lists the active children of machine m this pass visits.
func (in *Instance) visiting(m domain.StateID, p *pass) []domain.StateID {
	out := slices.Clone(in.a.states[m].activeChildren)
	if p.hint.in == in && slices.Contains(out, p.hint.id) {
		out = []domain.StateID{p.hint.id}
	}
	return out
}

// updateState advances the timer of s and runs its update hooks, then does the same
// for every active state below it. Nothing is evaluated here.
func (in *Instance) updateState(ctx context.Context, s domain.StateID, p *pass) {
	rt := &in.a.states[s]
	rt.timeInState += p.delta
	in.fireStateUpdate(ctx, s, p.delta)

	switch in.graph.State(s).Kind {
	case graph.KindMachine:
		for _, c := range in.visiting(s, p) {
			if in.a.states[c].active && p.allows(in, c) {
				in.updateState(ctx, c, p)
			}
		}
	case graph.KindReference:
		if child := in.a.children[s]; child != nil {
			child.updateState(ctx, child.graph.Root(), p)
		}
	}
}

// evaluateBody evaluates the active children of machine m, deepest bodies first.
func (in *Instance) evaluateBody(ctx context.Context, m domain.StateID, p *pass) {
	if !in.a.states[m].active {
		return
	}
	snapshot := in.visiting(m, p)
	for _, s := range snapshot {
		if !in.a.states[s].active || !p.allows(in, s) || !in.graph.State(s).IsMachine() {
			continue
		}
		bi, bm := in.body(s)
		if bi.graph.State(bm).Kind == graph.KindMachine {
			bi.evaluateBody(ctx, bm, p)
		}
	}
	for _, s := range snapshot {
		in.evaluateState(ctx, s, evalTick, 0, p)
	}
}

// evaluateState finds the passing transition chains of an active state and, when this
// peer may take transitions, commits them and cascades into newly started states.
func (in *Instance) evaluateState(ctx context.Context, s domain.StateID, mode evalMode, depth int, p *pass) bool {
	if !in.a.states[s].active || !p.allows(in, s) {
		return false
	}
	top := in.top
	if !top.evaluateLocally {
		return false
	}
	gs := in.graph.State(s)
	if mode == evalTick && gs.Policy.DisableTickTransitionEvaluation {
		return false
	}
	if !in.canLeave(s) {
		return false
	}

	chains := in.findChains(ctx, s, mode)
	if len(chains) == 0 {
		return false
	}
	if !top.takeLocally {
		if top.hooks.OnTransitionPending != nil {
			for _, ch := range chains {
				top.hooks.OnTransitionPending(ctx, in.publicChain(ch))
			}
		}
		return false
	}
	return in.commitChains(ctx, s, chains, depth, p)
}

type cascadeItem struct {
	dest     domain.StateID
	parallel bool
}

func (in *Instance) commitChains(ctx context.Context, s domain.StateID, chains []chain, depth int, p *pass) bool {
	taken := false
	var started []cascadeItem
	for _, ch := range chains {
		// The update hooks already credited this pass's delta to the source.
		res := in.commit(ctx, ch, commitOpts{override: domain.NoState})
		if !res.ok {
			continue
		}
		taken = true
		p.taken++
		if res.shouldTake {
			started = append(started, cascadeItem{
				dest:     res.to,
				parallel: in.graph.Transition(ch[0]).RunParallel,
			})
		}
	}

	for _, it := range started {
		// A state re-entering itself waits for the next update.
		if it.dest == s && !it.parallel {
			continue
		}
		in.cascade(ctx, it.dest, depth+1, p)
	}
	return taken
}

// cascade evaluates a state started during this pass, children first.
func (in *Instance) cascade(ctx context.Context, s domain.StateID, depth int, p *pass) {
	if depth > in.top.maxCascade {
		in.top.logger.Warn("transition cascade depth exceeded",
			"state", in.graph.State(s).Path, "depth", depth, "max", in.top.maxCascade)
		return
	}
	if !in.a.states[s].active {
		return
	}
	if in.graph.State(s).IsMachine() {
		bi, bm := in.body(s)
		for _, c := range slices.Clone(bi.a.states[bm].activeChildren) {
			if !bi.graph.State(c).Policy.DisableSameTickEvaluation {
				bi.cascade(ctx, c, depth, p)
			}
		}
	}
	in.evaluateState(ctx, s, evalStart, depth, p)
}

// allows applies the branch scope: only states on the path to the scope, or below it,
// are processed.
func (p *pass) allows(in *Instance, s domain.StateID) bool {
	if p.scope == nil {
		return true
	}
	here := stateRef{in, s}
	if here == *p.scope {
		return true
	}
	return slices.Contains(p.scope.in.ancestry(p.scope.id), here) ||
		slices.Contains(in.ancestry(s), *p.scope)
}

// ancestry lists s and every state above it, crossing reference boundaries.
func (in *Instance) ancestry(s domain.StateID) []stateRef {
	var out []stateRef
	cur, id := in, s
	for cur != nil {
		for ; id.Valid(); id = cur.graph.State(id).Owner {
			out = append(out, stateRef{cur, id})
		}
		id = cur.site
		cur = cur.parent
	}
	return out
}
