package arbor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aretw0/arbor/internal/logging"
	"github.com/aretw0/arbor/pkg/domain"
)

// DefaultTickInterval is the update period used when a Runner has none configured.
const DefaultTickInterval = 50 * time.Millisecond

// Runner drives an instance at a fixed tick rate on the calling goroutine.
// This allows hosts without their own frame loop (CLIs, servers, tests) to run a graph.
type Runner struct {
	Interval time.Duration
	// Queue is drained before every tick and whenever work is posted to it.
	Queue  *MainQueue
	Clock  domain.Clock
	Logger *slog.Logger
	// StopOnEndState ends the loop once every active leaf is an end state.
	StopOnEndState bool
	// BeforeTick runs on the loop goroutine ahead of each Update.
	BeforeTick func(ctx context.Context, inst *Instance)
}

// NewRunner creates a Runner with the default tick interval and wall clock.
func NewRunner() *Runner {
	return &Runner{
		Interval: DefaultTickInterval,
		Clock:    domain.SystemClock,
		Logger:   logging.NewNop(),
	}
}

// Run ticks inst until ctx is canceled or, with StopOnEndState, the graph settles.
// The instance is stopped before Run returns. A canceled context is not an error.
func (r *Runner) Run(ctx context.Context, inst *Instance) error {
	if inst == nil {
		return ErrNilGraph
	}
	if !inst.IsActive() {
		return domain.ErrNotActive
	}

	interval := r.Interval
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	clock := r.Clock
	if clock == nil {
		clock = domain.SystemClock
	}
	logger := r.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	var ready <-chan struct{}
	if r.Queue != nil {
		ready = r.Queue.Ready()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := clock.Now()
	for {
		select {
		case <-ctx.Done():
			logger.Debug("runner canceled", "graph", inst.Graph().Name())
			return inst.Stop(context.WithoutCancel(ctx))
		case <-ready:
			r.Queue.Drain()
		case <-ticker.C:
			if r.Queue != nil {
				r.Queue.Drain()
			}
			if r.BeforeTick != nil {
				r.BeforeTick(ctx, inst)
			}
			now := clock.Now()
			if err := inst.Update(ctx, now.Sub(last)); err != nil {
				if errors.Is(err, domain.ErrNotActive) {
					logger.Debug("runner finished, instance no longer active", "graph", inst.Graph().Name())
					return nil
				}
				return err
			}
			last = now

			if r.StopOnEndState && inst.IsInEndState() {
				logger.Debug("runner reached end state", "graph", inst.Graph().Name())
				return inst.Stop(ctx)
			}
		}
	}
}
