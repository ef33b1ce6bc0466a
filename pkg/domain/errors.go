package domain

import "errors"

// Lifecycle precondition violations. They are returned (and logged) instead of panicking,
// since they are recoverable host mistakes inside a real-time loop.
var (
	ErrNotInitialized      = errors.New("instance not initialized")
	ErrAlreadyInitialized  = errors.New("instance already initialized")
	ErrAlreadyActive       = errors.New("instance already started")
	ErrNotActive           = errors.New("instance not active")
	ErrShuttingDown        = errors.New("instance shutting down")
	ErrAsyncInitInProgress = errors.New("async initialization in progress")
	ErrInitCanceled        = errors.New("initialization canceled")
)

// ErrReferenceCycle is returned when referenced graphs form a cycle.
var ErrReferenceCycle = errors.New("state machine reference cycle")

// ErrUnknownGUID is returned when a path identifier has no node in the flattened map.
var ErrUnknownGUID = errors.New("unknown path identifier")

// ErrNotAuthoritative is returned when a peer without state-change authority tries to commit.
var ErrNotAuthoritative = errors.New("instance has no authority to take transitions")

// ErrTransitionRejected is returned when a replicated transition could not be committed.
var ErrTransitionRejected = errors.New("transition rejected")

// ErrSnapshotNotFound is returned when a snapshot ID cannot be found in the store.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// ErrUnresolvedReference is returned when a reference state names a graph no resolver knows.
var ErrUnresolvedReference = errors.New("unresolved state machine reference")
