package memory

import (
	"context"
	"sync"

	"github.com/aretw0/arbor/pkg/domain"
)

// Bus implements ports.Replicator inside one process. Published events are delivered
// synchronously to every subscriber, in subscription order, on the publishing goroutine.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(context.Context, *domain.TransitionTakenEvent)
	order  []int
}

// NewBus creates a bus with no subscribers.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(context.Context, *domain.TransitionTakenEvent))}
}

// Publish delivers ev to every current subscriber.
func (b *Bus) Publish(ctx context.Context, ev *domain.TransitionTakenEvent) error {
	b.mu.RLock()
	handlers := make([]func(context.Context, *domain.TransitionTakenEvent), 0, len(b.order))
	for _, id := range b.order {
		handlers = append(handlers, b.subs[id])
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(ctx, ev)
	}
	return nil
}

// Subscribe registers fn until the returned cancel function is called.
func (b *Bus) Subscribe(ctx context.Context, fn func(context.Context, *domain.TransitionTakenEvent)) (func() error, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.order = append(b.order, id)

	return func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; !ok {
			return nil
		}
		delete(b.subs, id)
		for i, v := range b.order {
			if v == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
		return nil
	}, nil
}
