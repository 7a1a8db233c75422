package state

import (
	"strconv"
	"testing"
	"time"
)

func TestCooldownGateExclusivity(t *testing.T) {
	gate := NewCooldownGate()
	start := time.Unix(1_700_000_000, 0)
	window := 300 * time.Second

	if !gate.TryAcquire("fee", start, window) {
		t.Fatal("first transition must pass")
	}
	if gate.TryAcquire("fee", start.Add(2*time.Minute), window) {
		t.Fatal("second transition inside the window must be suppressed")
	}
	if gate.TryAcquire("fee", start.Add(window), window) {
		t.Fatal("exactly one window later is still inside the window")
	}
	if !gate.TryAcquire("fee", start.Add(window+time.Second), window) {
		t.Fatal("transition after the window must pass")
	}

	last, ok := gate.LastFired("fee")
	if !ok || !last.Equal(start.Add(window+time.Second)) {
		t.Fatalf("unexpected last fired %v", last)
	}
}

func TestCooldownGateKeysAreIndependent(t *testing.T) {
	gate := NewCooldownGate()
	now := time.Unix(1_700_000_000, 0)
	if !gate.TryAcquire("disk:/", now, time.Hour) || !gate.TryAcquire("disk:/mnt/hdd", now, time.Hour) {
		t.Fatal("distinct keys must not block each other")
	}
}

func TestCooldownGateSweepsExpiredKeys(t *testing.T) {
	gate := NewCooldownGate()
	start := time.Unix(1_700_000_000, 0)
	for i := 0; i < 500; i++ {
		key := "ln.invoice:" + strconv.Itoa(i)
		if !gate.TryAcquire(key, start.Add(time.Duration(i)*time.Second), time.Minute) {
			t.Fatalf("%s must pass", key)
		}
	}
	if !gate.TryAcquire("fee", start, 24*time.Hour) {
		t.Fatal("fee must pass")
	}

	later := start.Add(time.Hour)
	if !gate.TryAcquire("ln.invoice:new", later, time.Minute) {
		t.Fatal("new key must pass")
	}
	if n := gate.Len(); n != 2 {
		t.Fatalf("expired keys must be swept, %d left", n)
	}
	if gate.TryAcquire("fee", later, 24*time.Hour) {
		t.Fatal("sweeping must keep keys still inside their window")
	}
	if !gate.TryAcquire("ln.invoice:7", later, time.Minute) {
		t.Fatal("a swept key acquires like a fresh one")
	}
}
