package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog"

	"nodesentinel/internal/alerting"
	"nodesentinel/internal/config"
	"nodesentinel/internal/logging"
	"nodesentinel/internal/metrics"
	"nodesentinel/internal/remote"
	"nodesentinel/internal/state"
)

// Alert keys owned by the host loop. Disk and service keys carry a suffix.
const (
	KeyCPU         = "host.cpu"
	KeyRAM         = "host.ram"
	KeyLoad        = "host.load"
	recoverySuffix = ".recovery"
	diskKeyPrefix  = "disk:"
	unitKeyPrefix  = "service:"
)

// HostMonitor watches hardware usage, disks and systemd units of the node.
type HostMonitor struct {
	sampler remote.Sampler
	emitter *emitter
	clock   clock.Clock
	logger  zerolog.Logger

	th       config.HostThresholds
	mounts   []string
	units    []string
	cooldown time.Duration
	span     time.Duration

	cpu  *state.Debouncer
	ram  *state.Debouncer
	load *state.Debouncer

	lastStatus map[string]remote.ServiceStatus
}

// NewHostMonitor builds the host loop.
func NewHostMonitor(cfg *config.Config, sampler remote.Sampler, router Router, gate *state.CooldownGate, clk clock.Clock, logger zerolog.Logger) *HostMonitor {
	if clk == nil {
		clk = clock.NewClock()
	}
	th := cfg.Thresholds.Host
	logger = logger.With().Str("component", "host_monitor").Logger()
	return &HostMonitor{
		sampler:    sampler,
		emitter:    newEmitter(gate, router, logger),
		clock:      clk,
		logger:     logger,
		th:         th,
		mounts:     cfg.Host.Mounts,
		units:      cfg.Host.Services,
		cooldown:   cfg.Alerting.Cooldown,
		span:       time.Duration(th.Persistence) * cfg.Scheduler.HostInterval,
		cpu:        state.NewDebouncer(th.Persistence),
		ram:        state.NewDebouncer(th.Persistence),
		load:       state.NewDebouncer(th.Persistence),
		lastStatus: make(map[string]remote.ServiceStatus),
	}
}

// Tick samples the host once. Each part fails on its own.
func (h *HostMonitor) Tick(ctx context.Context, _ time.Time) error {
	h.checkHardware(ctx)
	if len(h.mounts) > 0 {
		h.checkDisks(ctx)
	}
	if len(h.units) > 0 {
		h.checkServices(ctx)
	}
	return nil
}

func (h *HostMonitor) checkHardware(ctx context.Context) {
	hw, err := h.sampler.Hardware(ctx)
	if err != nil {
		sampleFailed(h.logger, "hardware", err)
		return
	}
	for _, p := range hw.Problems {
		logging.Failure(h.logger, p).Msg("degraded hardware reading")
	}
	now := h.clock.Now()

	if hw.HasCPU {
		metrics.HostUsage.WithLabelValues("cpu_pct").Set(hw.CPUPct)
		h.debounce(ctx, now, KeyCPU, h.cpu, hw.CPUPct >= h.th.CPUPct,
			fmt.Sprintf("🚨 *CPU NODE: %.1f%%* (above %.0f%% for %s!)", hw.CPUPct, h.th.CPUPct, spanText(h.span)),
			fmt.Sprintf("✅ *ALARM RECOVERY:* Node CPU returned to %.1f%% (below threshold)", hw.CPUPct))
	}
	if hw.HasRAM {
		metrics.HostUsage.WithLabelValues("ram_pct").Set(hw.RAMPct)
		h.debounce(ctx, now, KeyRAM, h.ram, hw.RAMPct >= h.th.RAMPct,
			fmt.Sprintf("🚨 *RAM NODE: %.1f%%* (above %.0f%% for %s!)", hw.RAMPct, h.th.RAMPct, spanText(h.span)),
			fmt.Sprintf("✅ *ALARM RECOVERY:* Node RAM returned to %.1f%% (below threshold)", hw.RAMPct))
	}
	if hw.HasLoad {
		perCore := hw.LoadPerCore()
		metrics.HostUsage.WithLabelValues("load_per_core").Set(perCore)
		h.debounce(ctx, now, KeyLoad, h.load, perCore >= h.th.LoadPerCore,
			fmt.Sprintf("⚠️ *Load NODE: %.2f* (P/Core %.2f high for %s!)", hw.Load1, perCore, spanText(h.span)),
			fmt.Sprintf("✅ *ALARM RECOVERY:* Node load per core returned to %.2f", perCore))
	}
}

func (h *HostMonitor) debounce(ctx context.Context, now time.Time, key string, d *state.Debouncer, over bool, rise, recovery string) {
	decision := d.Update(over)
	if decision.Rise {
		if h.emitter.emit(ctx, alerting.NewEvent(alerting.SeverityWarning, key, rise, now), h.cooldown) {
			d.Arm()
		}
	}
	if decision.Recover {
		if h.emitter.emit(ctx, alerting.NewEvent(alerting.SeverityRecovery, key+recoverySuffix, recovery, now), h.cooldown) {
			d.Disarm()
		}
	}
}

func (h *HostMonitor) checkDisks(ctx context.Context) {
	disks, err := h.sampler.Disks(ctx, h.mounts)
	if err != nil {
		sampleFailed(h.logger, "disk", err)
		return
	}
	now := h.clock.Now()
	for _, d := range disks {
		metrics.DiskUsedPercent.WithLabelValues(d.Mount).Set(d.UsedPct)
		if d.UsedPct < h.th.DiskPct {
			continue
		}
		msg := fmt.Sprintf("⚠️ *Disk NODE %s: %.0f%%* used (%s / %s)",
			d.Mount, d.UsedPct, remote.HumanBytes(d.UsedBytes), remote.HumanBytes(d.TotalBytes))
		h.emitter.emit(ctx, alerting.NewEvent(alerting.SeverityWarning, diskKeyPrefix+d.Mount, msg, now), h.cooldown)
	}
}

func (h *HostMonitor) checkServices(ctx context.Context) {
	statuses, err := h.sampler.Services(ctx, h.units)
	if err != nil {
		sampleFailed(h.logger, "systemctl", err)
		return
	}
	now := h.clock.Now()
	for _, unit := range h.units {
		cur, ok := statuses[unit]
		if !ok {
			cur = remote.StatusUnknown
		}
		active := 0.0
		if cur == remote.StatusActive {
			active = 1
		}
		metrics.ServiceActive.WithLabelValues(unit).Set(active)
		h.transition(ctx, now, unit, cur)
	}
}

// transition stores cur as the unit's status unless the alert it warrants
// was held back by the cooldown; the change is then seen again next cycle.
func (h *HostMonitor) transition(ctx context.Context, now time.Time, unit string, cur remote.ServiceStatus) {
	prev, seen := h.lastStatus[unit]
	if !seen {
		prev = remote.StatusUnknown
	}
	if cur == prev {
		return
	}

	var ev *alerting.Event
	switch {
	case cur.Down():
		e := alerting.NewEvent(alerting.SeverityCritical, unitKeyPrefix+unit,
			fmt.Sprintf("🔥 *SERVICE DOWN!* %s is now *%s*.\n%s", unitLabel(unit), cur, remedy(unit)), now)
		ev = &e
	case cur == remote.StatusActive && prev != remote.StatusUnknown:
		e := alerting.NewEvent(alerting.SeverityRecovery, unitKeyPrefix+unit,
			fmt.Sprintf("✅ *SERVICE UP!* %s is *ACTIVE* again.", unitLabel(unit)), now)
		ev = &e
	}

	if ev != nil && !h.emitter.emit(ctx, *ev, h.cooldown) {
		return
	}
	h.logger.Info().Str("unit", unit).Str("from", string(prev)).Str("to", string(cur)).Msg("service status changed")
	h.lastStatus[unit] = cur
}

func unitName(unit string) string {
	switch unit {
	case "lnd":
		return "LND"
	case "bitcoin", "bitcoind":
		return "Bitcoin Core"
	default:
		return unit
	}
}

func unitLabel(unit string) string {
	if name := unitName(unit); name != unit {
		return fmt.Sprintf("%s (%s)", name, unit)
	}
	return unit
}

func remedy(unit string) string {
	cmds := []string{"/diagnose"}
	if c := RestartCommand(unit); c != "" {
		cmds = append(cmds, "/"+c)
	}
	return "Run " + strings.Join(cmds, " and ") + " to resolve."
}

// RestartCommand names the bot command that restarts unit, if any.
func RestartCommand(unit string) string {
	switch unit {
	case "lnd":
		return "restartlnd"
	case "bitcoin", "bitcoind":
		return "restartbtc"
	default:
		return ""
	}
}
