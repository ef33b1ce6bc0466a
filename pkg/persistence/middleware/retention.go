package middleware

import (
	"context"
	"slices"

	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/ports"
)

type retentionMiddleware struct {
	next       ports.SnapshotStore
	maxHistory int
}

// NewRetentionMiddleware creates a middleware that keeps only the newest maxHistory
// history entries of every saved snapshot. Active states are never touched.
func NewRetentionMiddleware(maxHistory int) Middleware {
	if maxHistory < 0 {
		maxHistory = 0
	}
	return func(next ports.SnapshotStore) ports.SnapshotStore {
		return &retentionMiddleware{next: next, maxHistory: maxHistory}
	}
}

func (m *retentionMiddleware) Save(ctx context.Context, key string, snap *domain.Snapshot) error {
	over := len(snap.History) - m.maxHistory
	if over <= 0 {
		return m.next.Save(ctx, key, snap)
	}
	// Copy so the caller's snapshot is left intact.
	trimmed := *snap
	trimmed.History = slices.Clone(snap.History[over:])
	return m.next.Save(ctx, key, &trimmed)
}

func (m *retentionMiddleware) Load(ctx context.Context, key string) (*domain.Snapshot, error) {
	return m.next.Load(ctx, key)
}

func (m *retentionMiddleware) Delete(ctx context.Context, key string) error {
	return m.next.Delete(ctx, key)
}

func (m *retentionMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}
