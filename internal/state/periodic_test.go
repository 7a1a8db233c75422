package state

import (
	"testing"
	"time"
)

func TestPeriodicGate(t *testing.T) {
	g := NewPeriodicGate(24 * time.Hour)
	t0 := time.Unix(1_700_000_000, 0)

	if !g.Due(t0) {
		t.Fatal("a never-started gate is due")
	}

	g.Start(t0)
	if g.Due(t0.Add(23 * time.Hour)) {
		t.Fatal("gate must wait for the interval")
	}
	fire := t0.Add(24*time.Hour + time.Second)
	if !g.Due(fire) {
		t.Fatal("gate must be due after the interval")
	}
	g.Fired(fire)
	if g.Due(fire.Add(time.Hour)) {
		t.Fatal("firing must reset the timer")
	}
}

func TestNovel(t *testing.T) {
	markers := []string{"Contextual Analysis Failed", "NO SIGNIFICANT MACRO UPDATE"}
	if Novel("NO SIGNIFICANT MACRO UPDATE today", markers) {
		t.Fatal("sentinel content is not novel")
	}
	if Novel("   ", markers) {
		t.Fatal("blank content is not novel")
	}
	if !Novel("DXY fell sharply after CPI print", markers) {
		t.Fatal("real content is novel")
	}
}
