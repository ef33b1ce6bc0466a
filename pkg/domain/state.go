package domain

import (
	"time"

	"github.com/google/uuid"
)

// HistoryEntry records one departure from a state.
type HistoryEntry struct {
	State     uuid.UUID `json:"state"`
	StateName string    `json:"state_name"`
	StartTime time.Time `json:"start_time"`
	// TimeInState is the update time accumulated while the state was active.
	TimeInState time.Duration `json:"time_in_state"`
	// ServerTimeInState is the duration measured between the authority timestamps of the
	// entering and departing transitions. Nil when either timestamp is unknown.
	ServerTimeInState *time.Duration `json:"server_time_in_state,omitempty"`
}

// Snapshot captures what is needed to resume an instance later.
type Snapshot struct {
	ActiveStates []uuid.UUID    `json:"active_states"`
	History      []HistoryEntry `json:"history,omitempty"`
	SavedAt      time.Time      `json:"saved_at"`
	// Sealed carries an encrypted snapshot written by an encrypting store. The other
	// fields are empty in that case.
	Sealed []byte `json:"sealed,omitempty"`
}

// Status is the lifecycle phase of an instance.
type Status int32

const (
	StatusUninitialized Status = iota
	StatusInitialized
	StatusActive
	StatusShuttingDown
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusInitialized:
		return "initialized"
	case StatusActive:
		return "active"
	case StatusShuttingDown:
		return "shutting_down"
	}
	return "unknown"
}
