package state

import (
	"sort"
	"time"
)

// Point is a single timestamped reading kept by a RollingHistory.
type Point[T any] struct {
	Value T
	At    time.Time
}

// RollingHistory keeps readings no older than maxAge in a fixed ring.
// Appends must arrive with non-decreasing timestamps.
type RollingHistory[T any] struct {
	maxAge time.Duration
	buf    []Point[T]
	head   int
	size   int
}

// CapacityFor sizes a ring able to hold maxAge worth of samples taken every interval.
func CapacityFor(maxAge, interval time.Duration) int {
	if interval <= 0 {
		return 64
	}
	return int(maxAge/interval) + 2
}

// NewRollingHistory builds a history bounded by both age and capacity.
func NewRollingHistory[T any](maxAge time.Duration, capacity int) *RollingHistory[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RollingHistory[T]{maxAge: maxAge, buf: make([]Point[T], capacity)}
}

// Append stores v at time at, evicting expired entries from the head first.
// When the ring is full the oldest entry is overwritten.
func (h *RollingHistory[T]) Append(v T, at time.Time) {
	h.evict(at)
	if h.size == len(h.buf) {
		h.drop()
	}
	h.buf[(h.head+h.size)%len(h.buf)] = Point[T]{Value: v, At: at}
	h.size++
}

func (h *RollingHistory[T]) evict(now time.Time) {
	if h.maxAge <= 0 {
		return
	}
	cutoff := now.Add(-h.maxAge)
	for h.size > 0 && !h.buf[h.head].At.After(cutoff) {
		h.drop()
	}
}

func (h *RollingHistory[T]) drop() {
	var zero Point[T]
	h.buf[h.head] = zero
	h.head = (h.head + 1) % len(h.buf)
	h.size--
}

// Len returns the number of retained points.
func (h *RollingHistory[T]) Len() int { return h.size }

func (h *RollingHistory[T]) at(i int) Point[T] {
	return h.buf[(h.head+i)%len(h.buf)]
}

// Latest returns the newest point.
func (h *RollingHistory[T]) Latest() (Point[T], bool) {
	if h.size == 0 {
		return Point[T]{}, false
	}
	return h.at(h.size - 1), true
}

// Before returns the most recent point strictly older than cutoff.
func (h *RollingHistory[T]) Before(cutoff time.Time) (Point[T], bool) {
	idx := sort.Search(h.size, func(i int) bool {
		return !h.at(i).At.Before(cutoff)
	})
	if idx == 0 {
		return Point[T]{}, false
	}
	return h.at(idx - 1), true
}

// Points returns a copy of the retained points, oldest first.
func (h *RollingHistory[T]) Points() []Point[T] {
	out := make([]Point[T], h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.at(i)
	}
	return out
}
