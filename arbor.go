package arbor

import (
	"errors"
	"log/slog"

	"github.com/alitto/pond/v2"
	"github.com/aretw0/arbor/internal/runtime"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/graph"
	"github.com/aretw0/arbor/pkg/ports"
	"github.com/google/uuid"
)

// Version is the current release of the Arbor module.
const Version = "0.4.0"

// Instance is a running copy of a compiled graph.
type Instance = runtime.Instance

// ProcessArgs tunes a manual Instance.ProcessStates call.
type ProcessArgs = runtime.ProcessArgs

// StateInfo and TransitionInfo are the read-only views returned by lookups.
type (
	StateInfo      = runtime.StateInfo
	TransitionInfo = runtime.TransitionInfo
)

// Option defines a functional option for configuring an Instance.
type Option = runtime.Option

const (
	DefaultHistoryMaxCount = runtime.DefaultHistoryMaxCount
	DefaultMaxCascadeDepth = runtime.DefaultMaxCascadeDepth
)

// ErrNilGraph is returned by New when no graph is given.
var ErrNilGraph = errors.New("arbor: graph is required")

// New creates an uninitialized instance of a compiled graph.
// Call Initialize (or InitializeAsync) and Start before driving it with Update.
func New(g *graph.Graph, opts ...Option) (*Instance, error) {
	if g == nil {
		return nil, ErrNilGraph
	}
	return runtime.New(g, opts...), nil
}

// WithLogger sets a custom structured logger for the instance.
// Behavior hooks receive the same logger through their HookContext.
func WithLogger(logger *slog.Logger) Option {
	return runtime.WithLogger(logger)
}

// WithLifecycleHooks registers observability hooks. Repeated use chains the hook sets.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return runtime.WithLifecycleHooks(hooks)
}

// WithClock replaces the wall clock used for start times and transition stamps.
func WithClock(c domain.Clock) Option {
	return runtime.WithClock(c)
}

// WithHistoryMaxCount bounds the transition history (default 20).
// Zero disables recording and domain.HistoryUnbounded keeps every entry.
func WithHistoryMaxCount(n int) Option {
	return runtime.WithHistoryMaxCount(n)
}

// WithMaxCascadeDepth bounds how many hops a single update may cascade through (default 32).
func WithMaxCascadeDepth(n int) Option {
	return runtime.WithMaxCascadeDepth(n)
}

// WithAuthority sets whether the instance evaluates and takes transitions locally.
func WithAuthority(evaluate, take bool) Option {
	return runtime.WithAuthority(evaluate, take)
}

// WithReplicator publishes every locally committed transition through r.
func WithReplicator(r ports.Replicator) Option {
	return runtime.WithReplicator(r)
}

// WithReplicationKey stamps key on published transitions so observers can route them.
func WithReplicationKey(key string) Option {
	return runtime.WithReplicationKey(key)
}

// WithDispatcher routes the finish phase of InitializeAsync to the owning thread.
// A *MainQueue is the usual choice.
func WithDispatcher(d ports.Dispatcher) Option {
	return runtime.WithDispatcher(d)
}

// WithPool runs asynchronous initialization on the given worker pool instead of
// the shared default pool.
func WithPool(p pond.Pool) Option {
	return runtime.WithPool(p)
}

// WithGUIDRedirects maps retired identifiers to their replacements.
func WithGUIDRedirects(redirects map[uuid.UUID]uuid.UUID) Option {
	return runtime.WithGUIDRedirects(redirects)
}

// WithReferenceResolver resolves reference states declared by name.
// registry.Registry.Resolve fits this signature.
func WithReferenceResolver(fn func(name string) (*graph.Graph, bool)) Option {
	return runtime.WithReferenceResolver(fn)
}
