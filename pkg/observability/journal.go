package observability

import (
	"context"
	"slices"
	"sync"

	"github.com/aretw0/arbor/pkg/domain"
)

// DefaultJournalSize is the number of state changes a Journal keeps.
const DefaultJournalSize = 256

// Journal keeps the most recent state changes of one instance. Safe for concurrent use,
// so introspection endpoints can read while the owning goroutine updates.
type Journal struct {
	mu      sync.RWMutex
	size    int
	events  []domain.StateChangedEvent
	watches []chan domain.StateChangedEvent
}

// NewJournal creates a journal holding up to size events (DefaultJournalSize when <= 0).
func NewJournal(size int) *Journal {
	if size <= 0 {
		size = DefaultJournalSize
	}
	return &Journal{size: size}
}

// Hooks returns the lifecycle hooks that feed the journal.
func (j *Journal) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStateChanged: func(_ context.Context, e *domain.StateChangedEvent) {
			j.add(*e)
		},
	}
}

func (j *Journal) add(e domain.StateChangedEvent) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.events = append(j.events, e)
	if over := len(j.events) - j.size; over > 0 {
		j.events = slices.Delete(j.events, 0, over)
	}
	for _, ch := range j.watches {
		select {
		case ch <- e:
		default:
			// slow watchers miss events; Events still has them
		}
	}
}

// Events returns the recorded state changes, oldest first.
func (j *Journal) Events() []domain.StateChangedEvent {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return slices.Clone(j.events)
}

// Watch streams new state changes until ctx is done.
func (j *Journal) Watch(ctx context.Context) <-chan domain.StateChangedEvent {
	ch := make(chan domain.StateChangedEvent, 16)

	j.mu.Lock()
	j.watches = append(j.watches, ch)
	j.mu.Unlock()

	go func() {
		<-ctx.Done()
		j.mu.Lock()
		j.watches = slices.DeleteFunc(j.watches, func(c chan domain.StateChangedEvent) bool { return c == ch })
		j.mu.Unlock()
		close(ch)
	}()
	return ch
}
