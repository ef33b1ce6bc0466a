package runtime

import (
	"log/slog"

	"github.com/alitto/pond/v2"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/graph"
	"github.com/aretw0/arbor/pkg/ports"
	"github.com/google/uuid"
)

const (
	// DefaultHistoryMaxCount bounds the history when no limit is configured.
	DefaultHistoryMaxCount = 20
	// DefaultMaxCascadeDepth bounds same-update transition cascades.
	DefaultMaxCascadeDepth = 32

	maxRedirectHops = 16
)

// Option configures an Instance.
type Option func(*Instance)

// WithLogger sets the structured logger. Hooks receive the same logger.
func WithLogger(logger *slog.Logger) Option {
	return func(in *Instance) {
		if logger != nil {
			in.logger = logger
		}
	}
}

// WithLifecycleHooks registers observability hooks. Repeated use chains the hook sets.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(in *Instance) {
		in.hooks = domain.ChainHooks(in.hooks, hooks)
	}
}

// WithClock replaces the wall clock used for start times and transition stamps.
func WithClock(c domain.Clock) Option {
	return func(in *Instance) {
		if c != nil {
			in.clock = c
		}
	}
}

// WithHistoryMaxCount bounds the history. Zero disables recording;
// domain.HistoryUnbounded keeps every entry.
func WithHistoryMaxCount(n int) Option {
	return func(in *Instance) {
		in.history.setMax(n)
	}
}

// WithMaxCascadeDepth bounds how many hops a single update may cascade through.
func WithMaxCascadeDepth(n int) Option {
	return func(in *Instance) {
		if n > 0 {
			in.maxCascade = n
		}
	}
}

// WithAuthority sets whether this instance evaluates and takes transitions locally.
// An instance that evaluates but may not take reports found chains through
// OnTransitionPending; one that does neither only applies replicated transitions.
func WithAuthority(evaluate, take bool) Option {
	return func(in *Instance) {
		in.evaluateLocally = evaluate
		in.takeLocally = take
	}
}

// WithReplicator publishes every locally committed transition.
func WithReplicator(r ports.Replicator) Option {
	return func(in *Instance) {
		in.replicator = r
	}
}

// WithReplicationKey stamps key on every transition event so observers can route it to
// the matching instance when several instances share one replicator.
func WithReplicationKey(key string) Option {
	return func(in *Instance) {
		in.replicationKey = key
	}
}

// WithDispatcher routes the finish phase of InitializeAsync to the owning thread.
func WithDispatcher(d ports.Dispatcher) Option {
	return func(in *Instance) {
		in.dispatcher = d
	}
}

// WithPool runs asynchronous initialization on the given worker pool.
func WithPool(p pond.Pool) Option {
	return func(in *Instance) {
		in.pool = p
	}
}

// WithGUIDRedirects maps retired identifiers to their replacements.
func WithGUIDRedirects(redirects map[uuid.UUID]uuid.UUID) Option {
	return func(in *Instance) {
		in.SetGUIDRedirects(redirects)
	}
}

// WithReferenceResolver resolves reference states that were declared by name.
func WithReferenceResolver(fn func(name string) (*graph.Graph, bool)) Option {
	return func(in *Instance) {
		in.resolver = fn
	}
}
