package state

import (
	"sync"
	"time"
)

// sweepEvery spaces out the scans that drop expired keys.
const sweepEvery = 10 * time.Minute

type firing struct {
	at     time.Time
	window time.Duration
}

// CooldownGate suppresses repeated emissions under the same key within a window.
// Keys whose window has passed are swept, so per-entity keys do not pile up.
type CooldownGate struct {
	mu        sync.Mutex
	lastFired map[string]firing
	nextSweep time.Time
}

// NewCooldownGate builds an empty gate.
func NewCooldownGate() *CooldownGate {
	return &CooldownGate{lastFired: make(map[string]firing)}
}

// TryAcquire returns true and records now when key never fired or last fired
// more than window ago.
func (g *CooldownGate) TryAcquire(key string, now time.Time, window time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sweep(now)
	if last, ok := g.lastFired[key]; ok && now.Sub(last.at) <= window {
		return false
	}
	g.lastFired[key] = firing{at: now, window: window}
	return true
}

// sweep drops keys that can no longer hold anything back. An expired entry
// and a missing one acquire the same way.
func (g *CooldownGate) sweep(now time.Time) {
	if now.Before(g.nextSweep) {
		return
	}
	for key, f := range g.lastFired {
		if now.Sub(f.at) > f.window {
			delete(g.lastFired, key)
		}
	}
	g.nextSweep = now.Add(sweepEvery)
}

// LastFired returns when key was last let through.
func (g *CooldownGate) LastFired(key string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	last, ok := g.lastFired[key]
	return last.at, ok
}

// Len returns the number of keys still tracked.
func (g *CooldownGate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.lastFired)
}
