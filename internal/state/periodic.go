package state

import (
	"strings"
	"time"
)

// DueSince reports whether more than interval elapsed since lastFired.
func DueSince(lastFired, now time.Time, interval time.Duration) bool {
	return now.Sub(lastFired) > interval
}

// PeriodicGate fires a content-independent action once per interval.
type PeriodicGate struct {
	interval  time.Duration
	lastFired time.Time
}

// NewPeriodicGate builds a gate that is due immediately unless Start is called.
func NewPeriodicGate(interval time.Duration) *PeriodicGate {
	return &PeriodicGate{interval: interval}
}

// Start sets the timer origin without firing.
func (g *PeriodicGate) Start(now time.Time) { g.lastFired = now }

// Due reports whether the interval has elapsed.
func (g *PeriodicGate) Due(now time.Time) bool {
	return DueSince(g.lastFired, now, g.interval)
}

// Fired resets the timer to now, whatever the action produced.
func (g *PeriodicGate) Fired(now time.Time) { g.lastFired = now }

// LastFired returns the timer origin.
func (g *PeriodicGate) LastFired() time.Time { return g.lastFired }

// Novel reports whether content carries none of the "nothing to report" markers.
func Novel(content string, markers []string) bool {
	if strings.TrimSpace(content) == "" {
		return false
	}
	for _, m := range markers {
		if m != "" && strings.Contains(content, m) {
			return false
		}
	}
	return true
}
