package service

import (
	"context"
	"fmt"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"nodesentinel/internal/alerting"
	"nodesentinel/internal/config"
	"nodesentinel/internal/faults"
	"nodesentinel/internal/logging"
	"nodesentinel/internal/metrics"
	"nodesentinel/internal/scheduler"
	"nodesentinel/internal/state"
)

// Router is the only way a monitor delivers an alert.
type Router interface {
	Route(ctx context.Context, ev alerting.Event)
}

// Service runs one polling loop per metric family.
type Service struct {
	market    *MarketMonitor
	host      *HostMonitor
	lightning *LightningMonitor

	sched  config.SchedulerConfig
	clock  clock.Clock
	logger zerolog.Logger
}

// New wires the monitors that have collaborators. Nil monitors are skipped.
func New(cfg *config.Config, market *MarketMonitor, host *HostMonitor, ln *LightningMonitor, clk clock.Clock, logger zerolog.Logger) *Service {
	if clk == nil {
		clk = clock.NewClock()
	}
	return &Service{
		market:    market,
		host:      host,
		lightning: ln,
		sched:     cfg.Scheduler,
		clock:     clk,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// Run blocks until ctx is cancelled. A failing iteration never stops its
// loop or any other loop.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	loops := 0

	if s.market != nil {
		loops++
		sched := scheduler.New(scheduler.Options{
			Name:         "market",
			Interval:     s.sched.MarketInterval,
			AlignToStart: true,
			Immediate:    true,
			StartupDelay: s.sched.StartupDelay,
		}, s.clock, s.logger)
		g.Go(func() error {
			defer s.market.Wait()
			return sched.Run(ctx, s.market.Tick)
		})
	}
	if s.host != nil {
		loops++
		sched := scheduler.New(scheduler.Options{
			Name:         "host",
			Interval:     s.sched.HostInterval,
			Immediate:    true,
			StartupDelay: s.sched.StartupDelay,
		}, s.clock, s.logger)
		g.Go(func() error { return sched.Run(ctx, s.host.Tick) })
	}
	if s.lightning != nil {
		loops++
		sched := scheduler.New(scheduler.Options{
			Name:         "lightning",
			Interval:     s.sched.LightningInterval,
			Immediate:    true,
			StartupDelay: s.sched.StartupDelay,
		}, s.clock, s.logger)
		g.Go(func() error { return sched.Run(ctx, s.lightning.Tick) })
	}

	if loops == 0 {
		return fmt.Errorf("no monitor configured")
	}
	s.logger.Info().Int("loops", loops).Msg("monitors started")
	return g.Wait()
}

// emitter passes every decision through the shared cooldown gate before routing.
type emitter struct {
	gate   *state.CooldownGate
	router Router
	logger zerolog.Logger
}

func newEmitter(gate *state.CooldownGate, router Router, logger zerolog.Logger) *emitter {
	if gate == nil {
		gate = state.NewCooldownGate()
	}
	return &emitter{gate: gate, router: router, logger: logger}
}

// emit reports whether ev cleared the gate and was handed to the router.
func (e *emitter) emit(ctx context.Context, ev alerting.Event, window time.Duration) bool {
	if !e.gate.TryAcquire(ev.Key, ev.Timestamp, window) {
		metrics.AlertsSuppressed.WithLabelValues(alerting.Family(ev.Key)).Inc()
		e.logger.Debug().Str("key", ev.Key).Dur("window", window).Msg("alert held by cooldown")
		return false
	}
	e.router.Route(ctx, ev)
	return true
}

// sampleFailed logs and counts a failed collaborator call.
func sampleFailed(logger zerolog.Logger, source string, err error) {
	err = faults.Sampling(source, err)
	metrics.SamplingFailures.WithLabelValues(source, faults.KindOf(err).String()).Inc()
	logging.Failure(logger, err).Msg("sampling failed, state left unchanged")
}
