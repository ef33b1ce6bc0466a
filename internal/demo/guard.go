// Package demo holds the sample graph driven by the arbor CLI.
package demo

import (
	"time"

	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/graph"
)

// Timings of the guard graph, in update time.
const (
	PatrolTime = 300 * time.Millisecond
	CombatTime = 400 * time.Millisecond
	StanceTime = 100 * time.Millisecond
)

// Shift is the host context of a guard instance. Rounds bounds how many patrols end
// in combat; zero keeps the guard on duty forever.
type Shift struct {
	Rounds  int
	Patrols int
}

func (s *Shift) onDuty() bool {
	return s.Rounds <= 0 || s.Patrols <= s.Rounds
}

func shiftOf(hc domain.HookContext) (*Shift, bool) {
	s, ok := hc.HostContext().(*Shift)
	return s, ok
}

// patrolCounter counts patrol rounds on the shift.
type patrolCounter struct{}

func (patrolCounter) OnStateBegin(hc domain.HookContext) {
	if s, ok := shiftOf(hc); ok {
		s.Patrols++
		hc.Logger().Debug("patrol started", "round", s.Patrols)
	}
}

func after(d time.Duration) graph.TransitionOption {
	return graph.When(func(hc domain.HookContext) bool {
		return hc.TimeInState() >= d
	})
}

// Guard builds the demo graph:
//
//	Patrol -> Spotted (conduit) -> Combat { Attack <-> Defend } -> Patrol
//	Patrol -> OffDuty once the shift is over
func Guard() (*graph.Graph, error) {
	b := graph.NewBuilder("Guard")
	root := b.Root()

	patrol := root.State("Patrol", graph.WithBehavior(patrolCounter{}))
	spotted := root.Conduit("Spotted", func(hc domain.HookContext) bool {
		s, ok := shiftOf(hc)
		return !ok || s.onDuty()
	}, graph.EvalWithTransitions())
	offDuty := root.State("OffDuty")

	combat := root.Machine("Combat")
	attack := combat.State("Attack")
	defend := combat.State("Defend")
	combat.Initial(attack)
	combat.Transition(attack, defend, after(StanceTime))
	combat.Transition(defend, attack, after(StanceTime))

	root.Initial(patrol)
	root.Transition(patrol, spotted, after(PatrolTime))
	root.Transition(spotted, combat.ID(), graph.Always())
	root.Transition(patrol, offDuty, after(PatrolTime), graph.Priority(1))
	root.Transition(combat.ID(), patrol, after(CombatTime))

	return b.Build()
}
