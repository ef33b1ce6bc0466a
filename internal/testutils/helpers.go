package testutils

import (
	"sync"
	"time"

	"github.com/aretw0/arbor/pkg/domain"
)

// FakeClock is a manually advanced domain.Clock.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock returns a clock frozen at a fixed instant.
func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Recorder is a behavior that implements every state and node hook and appends
// "<hook>:<node>" to a shared log.
type Recorder struct {
	Name string
	Log  *[]string
}

// NewLog returns an empty log for recorders.
func NewLog() *[]string {
	l := make([]string, 0, 16)
	return &l
}

func (r *Recorder) add(hook string) { *r.Log = append(*r.Log, hook+":"+r.Name) }

func (r *Recorder) OnStateBegin(domain.HookContext) { r.add("begin") }
func (r *Recorder) OnStateBeginPost(domain.HookContext) { r.add("post") }
func (r *Recorder) OnStateUpdate(domain.HookContext, time.Duration) { r.add("update") }
func (r *Recorder) OnStateEnd(domain.HookContext) { r.add("end") }
func (r *Recorder) OnTransitionEntered(domain.HookContext) { r.add("entered") }
func (r *Recorder) OnNodeInitialized(domain.HookContext) { r.add("init") }
func (r *Recorder) OnNodeShutdown(domain.HookContext) { r.add("shutdown") }
func (r *Recorder) OnRootStateMachineStart(domain.HookContext) { r.add("root-start") }
func (r *Recorder) OnRootStateMachineStop(domain.HookContext) { r.add("root-stop") }

// Count returns how often entry appears in log.
func Count(log []string, entry string) int {
	n := 0
	for _, e := range log {
		if e == entry {
			n++
		}
	}
	return n
}

// Flag is a switchable condition.
type Flag struct {
	mu sync.Mutex
	on bool
}

func (f *Flag) Set(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.on = on
}

func (f *Flag) CanEnterTransition(domain.HookContext) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on
}
