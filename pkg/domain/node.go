package domain

import "time"

// StateID is the arena index of a state inside one compiled graph.
type StateID int32

// TransitionID is the arena index of a transition inside one compiled graph.
type TransitionID int32

const (
	// NoState marks an absent state handle (root owner, missing override, ...).
	NoState StateID = -1
	// NoTransition marks an absent transition handle.
	NoTransition TransitionID = -1
)

// Valid reports whether the handle refers to a slot.
func (id StateID) Valid() bool { return id >= 0 }

// Valid reports whether the handle refers to a slot.
func (id TransitionID) Valid() bool { return id >= 0 }

// HistoryUnbounded disables trimming of the state history.
const HistoryUnbounded = -1

// Clock is the time source used for start timestamps and taken-transition stamps.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now returns the current time.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)
