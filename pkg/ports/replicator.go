package ports

import (
	"context"

	"github.com/aretw0/arbor/pkg/domain"
)

// Replicator carries committed transitions from the authority to its observers.
//
// The authority publishes every transition it commits; observers apply the received
// events with Instance.ApplyReplicatedTransition. Delivery is at-least-once; the
// runtime ignores event IDs it has already applied.
type Replicator interface {
	Publish(ctx context.Context, ev *domain.TransitionTakenEvent) error

	// Subscribe delivers events to fn until ctx is canceled or the returned
	// close function is called.
	Subscribe(ctx context.Context, fn func(context.Context, *domain.TransitionTakenEvent)) (func() error, error)
}
