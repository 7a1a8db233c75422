package scheduler

import (
	"context"
	"fmt"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog"
)

// TickFunc is invoked once per iteration with the iteration's timestamp.
type TickFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Name         string
	Interval     time.Duration
	AlignToStart bool
	Immediate    bool
	StartupDelay time.Duration
}

// Scheduler drives one polling loop.
type Scheduler struct {
	opts   Options
	clock  clock.Clock
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, clk clock.Clock, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	if clk == nil {
		clk = clock.NewClock()
	}
	name := opts.Name
	if name == "" {
		name = "default"
	}
	return &Scheduler{
		opts:   opts,
		clock:  clk,
		logger: logger.With().Str("component", "scheduler").Str("loop", name).Logger(),
	}
}

// Run blocks, invoking tick every interval until ctx is cancelled. Errors and
// panics of a tick are logged and the loop continues.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := s.sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	if s.opts.Immediate {
		s.runTick(ctx, tick, s.bucketStart(s.clock.Now().UTC()))
	}

	next := s.nextTick(s.clock.Now().UTC())
	for {
		delay := next.Sub(s.clock.Now())
		if delay < 0 {
			next = s.nextTick(s.clock.Now().UTC())
			delay = next.Sub(s.clock.Now())
		}

		s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}

		s.runTick(ctx, tick, s.bucketStart(next))

		if s.opts.AlignToStart {
			next = next.Add(s.opts.Interval)
		} else {
			next = s.clock.Now().UTC().Add(s.opts.Interval)
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context, tick TickFunc, at time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Err(fmt.Errorf("panic: %v", r)).Time("at", at).Msg("tick panicked")
		}
	}()

	s.logger.Debug().Time("at", at).Msg("executing scheduled tick")
	if err := tick(ctx, at); err != nil {
		s.logger.Error().Err(err).Time("at", at).Msg("tick execution failed")
	}
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) error {
	timer := s.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C():
		return nil
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
