package ports

import (
	"context"

	"github.com/aretw0/arbor/pkg/domain"
)

// SnapshotStore persists instance snapshots so a stopped instance can be resumed
// through LoadFromSnapshot, possibly on another process.
type SnapshotStore interface {
	// Save persists the snapshot for a given key.
	Save(ctx context.Context, key string, snap *domain.Snapshot) error

	// Load retrieves the snapshot for a given key.
	// Returns domain.ErrSnapshotNotFound if the key does not exist.
	Load(ctx context.Context, key string) (*domain.Snapshot, error)

	// Delete removes the snapshot for a given key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns every stored key.
	List(ctx context.Context) ([]string, error)
}
