package runtime

import (
	"slices"

	"github.com/aretw0/arbor/pkg/domain"
	"github.com/google/uuid"
)

// history keeps departures, oldest first. max == domain.HistoryUnbounded never trims;
// max == 0 records nothing.
type history struct {
	entries []domain.HistoryEntry
	max     int
}

func newHistory(limit int) *history {
	return &history{max: limit}
}

func (h *history) setMax(limit int) {
	if limit < 0 {
		limit = domain.HistoryUnbounded
	}
	h.max = limit
	h.trim()
}

func (h *history) add(e domain.HistoryEntry) {
	if h.max == 0 {
		return
	}
	h.entries = append(h.entries, e)
	h.trim()
}

func (h *history) trim() {
	if h.max == domain.HistoryUnbounded || len(h.entries) <= h.max {
		return
	}
	h.entries = slices.Delete(h.entries, 0, len(h.entries)-h.max)
}

func (h *history) replace(entries []domain.HistoryEntry) {
	h.entries = slices.Clone(entries)
	h.trim()
}

func (h *history) clear() { h.entries = nil }

func (h *history) list() []domain.HistoryEntry { return slices.Clone(h.entries) }

// History returns the recorded departures, oldest first.
func (in *Instance) History() []domain.HistoryEntry { return in.top.history.list() }

// HistoryMaxCount returns the history bound.
func (in *Instance) HistoryMaxCount() int { return in.top.history.max }

// SetHistoryMaxCount changes the history bound and trims existing entries.
func (in *Instance) SetHistoryMaxCount(limit int) { in.top.history.setMax(limit) }

// recentIDs remembers the last n applied transition events.
type recentIDs struct {
	ring []uuid.UUID
	set  map[uuid.UUID]struct{}
	next int
}

func newRecentIDs(n int) *recentIDs {
	return &recentIDs{ring: make([]uuid.UUID, n), set: make(map[uuid.UUID]struct{}, n)}
}

func (r *recentIDs) contains(id uuid.UUID) bool {
	_, ok := r.set[id]
	return ok
}

func (r *recentIDs) add(id uuid.UUID) {
	if r.contains(id) {
		return
	}
	if old := r.ring[r.next]; old != uuid.Nil {
		delete(r.set, old)
	}
	r.ring[r.next] = id
	r.set[id] = struct{}{}
	r.next = (r.next + 1) % len(r.ring)
}

func (r *recentIDs) reset() {
	clear(r.ring)
	clear(r.set)
	r.next = 0
}
