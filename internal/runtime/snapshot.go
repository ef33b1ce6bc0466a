package runtime

import (
	"context"
	"slices"

	"github.com/aretw0/arbor/pkg/domain"
	"github.com/google/uuid"
)

// LoadFromStates makes the next Start activate the given states, and every machine on
// their path, instead of the declared initial states. Unknown GUIDs are skipped.
// Overrides are consumed by Stop.
func (in *Instance) LoadFromStates(states []uuid.UUID) error {
	switch in.Status() {
	case domain.StatusUninitialized:
		return domain.ErrNotInitialized
	case domain.StatusActive:
		return domain.ErrAlreadyActive
	}

	overrides := make(map[stateRef][]domain.StateID)
	for _, id := range states {
		ref, ok := in.lookupState(id)
		if !ok {
			in.logger.Warn("load state skipped", "state", id, "err", domain.ErrUnknownGUID)
			continue
		}
		path := ref.in.ancestry(ref.id)
		for i := 0; i+1 < len(path); i++ {
			child, owner := path[i], path[i+1]
			if child.in != owner.in {
				// The root of a referenced graph starts with its reference state.
				continue
			}
			if !slices.Contains(overrides[owner], child.id) {
				overrides[owner] = append(overrides[owner], child.id)
			}
		}
	}
	in.overrides = overrides
	in.loadedFromStates = len(overrides) > 0
	return nil
}

// LoadFromSnapshot restores the active states and history captured by Snapshot.
func (in *Instance) LoadFromSnapshot(snap *domain.Snapshot) error {
	if err := in.LoadFromStates(snap.ActiveStates); err != nil {
		return err
	}
	in.history.replace(snap.History)
	return nil
}

// AreInitialStatesSetFromLoad reports whether the next Start uses loaded states.
func (in *Instance) AreInitialStatesSetFromLoad() bool { return in.top.loadedFromStates }

// Snapshot captures the active states and history of a running instance.
func (in *Instance) Snapshot(_ context.Context) *domain.Snapshot {
	return &domain.Snapshot{
		ActiveStates: in.ActiveStateGUIDs(),
		History:      in.History(),
		SavedAt:      in.clock.Now(),
	}
}
