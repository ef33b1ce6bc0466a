package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"log/slog"

	"github.com/aretw0/arbor"
	"github.com/aretw0/arbor/internal/logging"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/ports"
)

var (
	// ErrInstanceNotFound is returned when no instance is attached under the key.
	ErrInstanceNotFound = errors.New("instance not found")
	// ErrInstanceExists is returned by Attach when the key is taken.
	ErrInstanceExists = errors.New("instance already attached")
)

// DefaultLockTTL bounds how long a distributed lock survives a crashed holder.
const DefaultLockTTL = 30 * time.Second

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager serializes access to live instances and checkpoints them to a snapshot store.
// An Instance is not re-entrant, so every operation on an attached instance goes
// through the per-key lock. Unused locks are reference counted and garbage collected.
type Manager struct {
	store ports.SnapshotStore

	mu        sync.Mutex            // Global lock for the maps
	locks     map[string]*lockEntry // Map of active locks
	instances map[string]*arbor.Instance

	locker  ports.DistributedLocker // Optional distributed locker
	lockTTL time.Duration
	logger  *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the expiry of distributed locks.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Manager backed by the given snapshot store.
func NewManager(store ports.SnapshotStore, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		locks:     make(map[string]*lockEntry),
		instances: make(map[string]*arbor.Instance),
		lockTTL:   DefaultLockTTL,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(key) after unlocking.
func (m *Manager) acquire(key string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[key]
	if !exists {
		entry = &lockEntry{}
		m.locks[key] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[key]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, key)
	}
}

// Attach registers a live instance under key.
func (m *Manager) Attach(key string, inst *arbor.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.instances[key]; ok {
		return fmt.Errorf("%w: %s", ErrInstanceExists, key)
	}
	m.instances[key] = inst
	return nil
}

// Detach unregisters the instance under key and returns it. The instance keeps running.
func (m *Manager) Detach(key string) (*arbor.Instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[key]
	delete(m.instances, key)
	return inst, ok
}

// Instance returns the instance attached under key. Callers that drive it must go
// through Do.
func (m *Manager) Instance(key string) (*arbor.Instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[key]
	return inst, ok
}

// Keys lists the attached instances in lexical order.
func (m *Manager) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.instances))
	for k := range m.instances {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Do runs fn with exclusive access to the instance attached under key.
func (m *Manager) Do(ctx context.Context, key string, fn func(context.Context, *arbor.Instance) error) error {
	return m.WithLock(ctx, key, func(ctx context.Context) error {
		inst, ok := m.Instance(key)
		if !ok {
			return fmt.Errorf("%w: %s", ErrInstanceNotFound, key)
		}
		return fn(ctx, inst)
	})
}

// Update advances the instance under key by delta.
func (m *Manager) Update(ctx context.Context, key string, delta time.Duration) error {
	return m.Do(ctx, key, func(ctx context.Context, inst *arbor.Instance) error {
		return inst.Update(ctx, delta)
	})
}

// ApplyReplicated routes a replicated transition to the instance attached under the
// event's Instance key.
func (m *Manager) ApplyReplicated(ctx context.Context, ev *domain.TransitionTakenEvent) error {
	if ev.Instance == "" {
		return fmt.Errorf("%w: event %s has no instance key", ErrInstanceNotFound, ev.EventID)
	}
	return m.Do(ctx, ev.Instance, func(ctx context.Context, inst *arbor.Instance) error {
		return inst.ApplyReplicatedTransition(ctx, ev)
	})
}

// Checkpoint saves a snapshot of the running instance under the same key.
func (m *Manager) Checkpoint(ctx context.Context, key string) error {
	return m.Do(ctx, key, func(ctx context.Context, inst *arbor.Instance) error {
		if !inst.IsActive() {
			return domain.ErrNotActive
		}
		if err := m.store.Save(ctx, key, inst.Snapshot(ctx)); err != nil {
			return fmt.Errorf("failed to checkpoint %s: %w", key, err)
		}
		return nil
	})
}

// Restore restarts the instance from its last checkpoint. A running instance is
// stopped first; an uninitialized one is an error.
func (m *Manager) Restore(ctx context.Context, key string) error {
	return m.Do(ctx, key, func(ctx context.Context, inst *arbor.Instance) error {
		snap, err := m.store.Load(ctx, key)
		if err != nil {
			return err
		}
		if err := inst.Stop(ctx); err != nil {
			return err
		}
		if err := inst.LoadFromSnapshot(snap); err != nil {
			return fmt.Errorf("failed to restore %s: %w", key, err)
		}
		return inst.Start(ctx)
	})
}

// Load retrieves a snapshot from the store.
func (m *Manager) Load(ctx context.Context, key string) (*domain.Snapshot, error) {
	var snap *domain.Snapshot
	err := m.WithLock(ctx, key, func(ctx context.Context) error {
		var err error
		snap, err = m.store.Load(ctx, key)
		return err
	})
	return snap, err
}

// Save persists a snapshot.
func (m *Manager) Save(ctx context.Context, key string, snap *domain.Snapshot) error {
	return m.WithLock(ctx, key, func(ctx context.Context) error {
		return m.store.Save(ctx, key, snap)
	})
}

// Delete removes the snapshot from the store.
func (m *Manager) Delete(ctx context.Context, key string) error {
	return m.WithLock(ctx, key, func(ctx context.Context) error {
		return m.store.Delete(ctx, key)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Store returns the underlying snapshot store.
func (m *Manager) Store() ports.SnapshotStore {
	return m.store
}

// WithLock executes a function while holding the lock for the key.
func (m *Manager) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	entry := m.acquire(key)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(key)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, key, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"key", key,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}
