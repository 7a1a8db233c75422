package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/rs/zerolog"
)

func TestRunContinuesAfterErrorsAndPanics(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clk := fakeclock.NewFakeClock(start)
	s := New(Options{Name: "host", Interval: time.Minute, Immediate: true}, clk, zerolog.Nop())

	ticks := make(chan time.Time, 8)
	calls := 0
	tick := func(_ context.Context, at time.Time) error {
		calls++
		ticks <- at
		switch calls {
		case 1:
			return errors.New("ssh timeout")
		case 2:
			panic("parser bug")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, tick) }()

	if at := waitTick(t, ticks); !at.Equal(start) {
		t.Fatalf("first tick must run immediately at %v, got %v", start, at)
	}

	clk.WaitForWatcherAndIncrement(time.Minute)
	if at := waitTick(t, ticks); !at.Equal(start.Add(time.Minute)) {
		t.Fatalf("second tick at %v", at)
	}

	clk.WaitForWatcherAndIncrement(time.Minute)
	if at := waitTick(t, ticks); !at.Equal(start.Add(2 * time.Minute)) {
		t.Fatalf("loop must survive a panicking tick, third tick at %v", at)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("want context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestNextTickAligned(t *testing.T) {
	s := New(Options{Interval: 5 * time.Minute, AlignToStart: true}, fakeclock.NewFakeClock(time.Now()), zerolog.Nop())
	now := time.Date(2025, 1, 1, 12, 3, 10, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(time.Date(2025, 1, 1, 12, 5, 0, 0, time.UTC)) {
		t.Fatalf("got %v", got)
	}
	if got := s.bucketStart(now); !got.Equal(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("got %v", got)
	}
}

func TestNewRejectsZeroInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("zero interval must panic")
		}
	}()
	New(Options{}, nil, zerolog.Nop())
}

func waitTick(t *testing.T, ticks <-chan time.Time) time.Time {
	t.Helper()
	select {
	case at := <-ticks:
		return at
	case <-time.After(2 * time.Second):
		t.Fatal("tick did not run")
		return time.Time{}
	}
}
