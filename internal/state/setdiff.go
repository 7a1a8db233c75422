package state

import (
	"cmp"
	"slices"
)

// Set is a membership snapshot of entity identifiers.
type Set[K comparable] map[K]struct{}

// NewSet builds a set from ids.
func NewSet[K comparable](ids ...K) Set[K] {
	s := make(Set[K], len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s Set[K]) Has(id K) bool {
	_, ok := s[id]
	return ok
}

// Diff returns current minus previous and previous minus current, sorted.
func Diff[K cmp.Ordered](previous, current Set[K]) (added, removed []K) {
	for id := range current {
		if !previous.Has(id) {
			added = append(added, id)
		}
	}
	for id := range previous {
		if !current.Has(id) {
			removed = append(removed, id)
		}
	}
	slices.Sort(added)
	slices.Sort(removed)
	return added, removed
}

// Snapshot retains the last-seen membership of one collection.
type Snapshot[K cmp.Ordered] struct {
	prev   Set[K]
	primed bool
}

// Replace diffs current against the retained snapshot and then stores current.
// The first call only records a baseline and reports baseline=true.
func (s *Snapshot[K]) Replace(current Set[K]) (added, removed []K, baseline bool) {
	if current == nil {
		current = Set[K]{}
	}
	if !s.primed {
		s.prev = current
		s.primed = true
		return nil, nil, true
	}
	added, removed = Diff(s.prev, current)
	s.prev = current
	return added, removed, false
}

// Len returns the size of the retained snapshot.
func (s *Snapshot[K]) Len() int { return len(s.prev) }
