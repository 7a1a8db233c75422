package state

import (
	"testing"
	"time"
)

func TestRollingHistoryEvictsByAge(t *testing.T) {
	h := NewRollingHistory[int](time.Hour, 100)
	t0 := time.Unix(1_700_000_000, 0)
	for i := 0; i < 20; i++ {
		h.Append(i, t0.Add(time.Duration(i)*5*time.Minute))
	}

	// newest is t0+95m, so everything at or before t0+35m is gone
	if h.Len() != 12 {
		t.Fatalf("want 12 points, got %d", h.Len())
	}
	first := h.Points()[0]
	if first.Value != 8 {
		t.Fatalf("oldest retained value should be 8, got %d", first.Value)
	}
}

func TestRollingHistoryOverwritesWhenFull(t *testing.T) {
	h := NewRollingHistory[int](0, 3)
	t0 := time.Unix(1_700_000_000, 0)
	for i := 0; i < 5; i++ {
		h.Append(i, t0.Add(time.Duration(i)*time.Second))
	}
	pts := h.Points()
	if len(pts) != 3 || pts[0].Value != 2 || pts[2].Value != 4 {
		t.Fatalf("unexpected ring contents %+v", pts)
	}
	latest, ok := h.Latest()
	if !ok || latest.Value != 4 {
		t.Fatalf("unexpected latest %+v", latest)
	}
}

func TestRollingHistoryBefore(t *testing.T) {
	h := NewRollingHistory[int](4*time.Hour, CapacityFor(4*time.Hour, 5*time.Minute))
	t0 := time.Unix(1_700_000_000, 0)
	for i := 0; i < 30; i++ {
		h.Append(i, t0.Add(time.Duration(i)*5*time.Minute))
	}

	now := t0.Add(29 * 5 * time.Minute)
	p, ok := h.Before(now.Add(-120 * time.Minute))
	if !ok {
		t.Fatal("expected a sample older than the lookback")
	}
	// cutoff lands exactly on sample 5; the newest strictly older one is 4
	if p.Value != 4 {
		t.Fatalf("want sample 4, got %d", p.Value)
	}

	if _, ok := h.Before(t0); ok {
		t.Fatal("nothing is older than the first sample")
	}
}
