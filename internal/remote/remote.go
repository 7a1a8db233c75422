package remote

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Runner executes a shell command on the node and returns its trimmed stdout.
type Runner interface {
	Run(ctx context.Context, command string) (string, error)
}

// Sampler produces hardware, disk and service samples.
type Sampler interface {
	Hardware(ctx context.Context) (HardwareSample, error)
	Disks(ctx context.Context, mounts []string) ([]DiskUsage, error)
	Services(ctx context.Context, units []string) (map[string]ServiceStatus, error)
}

// HardwareSample is one reading of CPU, memory and load. Sub-metrics that
// could not be parsed are flagged missing and listed in Problems.
type HardwareSample struct {
	CPUPct   float64
	RAMPct   float64
	RAMUsed  uint64
	RAMTotal uint64
	Load1    float64
	Load5    float64
	Load15   float64
	Uptime   string
	Cores    int

	HasCPU  bool
	HasRAM  bool
	HasLoad bool

	Problems []error
}

// LoadPerCore divides the 1 minute load by the core count.
func (s HardwareSample) LoadPerCore() float64 {
	if s.Cores <= 0 {
		return s.Load1
	}
	return s.Load1 / float64(s.Cores)
}

// Report renders the sample for chat output. Missing parts read n/a.
func (s HardwareSample) Report() string {
	var lines []string
	if s.HasCPU {
		lines = append(lines, fmt.Sprintf("⚡ CPU: *%.1f%%*", s.CPUPct))
	} else {
		lines = append(lines, "⚡ CPU: n/a")
	}
	if s.HasRAM {
		lines = append(lines, fmt.Sprintf("🧠 RAM: *%.0f%%* (%s / %s)", s.RAMPct, HumanBytes(s.RAMUsed), HumanBytes(s.RAMTotal)))
	} else {
		lines = append(lines, "🧠 RAM: n/a")
	}
	if s.HasLoad {
		lines = append(lines, fmt.Sprintf("🚦 Load (1/5/15): %.2f %.2f %.2f | P/Core: *%.2f*", s.Load1, s.Load5, s.Load15, s.LoadPerCore()))
	} else {
		lines = append(lines, "🚦 Load (1/5/15): n/a | P/Core: n/a")
	}
	uptime := s.Uptime
	if uptime == "" {
		uptime = "n/a"
	}
	lines = append(lines, "⬆️ Uptime: "+uptime)
	for _, p := range s.Problems {
		lines = append(lines, "⚠️ "+p.Error())
	}
	return strings.Join(lines, "\n")
}

// DiskUsage is the df reading of one mount.
type DiskUsage struct {
	Mount      string
	UsedPct    float64
	UsedBytes  uint64
	TotalBytes uint64
}

// ServiceStatus is the upper-cased systemctl is-active token.
type ServiceStatus string

const (
	StatusActive   ServiceStatus = "ACTIVE"
	StatusInactive ServiceStatus = "INACTIVE"
	StatusFailed   ServiceStatus = "FAILED"
	StatusUnknown  ServiceStatus = "UNKNOWN"
)

// Down reports whether the unit is stopped or crashed.
func (s ServiceStatus) Down() bool {
	return s == StatusInactive || s == StatusFailed
}

// Per-command deadlines. Heavy commands get more room than status probes.
const (
	ConnectTimeout  = 5 * time.Second
	DefaultTimeout  = 20 * time.Second
	SnapshotTimeout = 10 * time.Second
	ProbeTimeout    = 5 * time.Second
	RestartTimeout  = 30 * time.Second
	ScanTimeout     = 120 * time.Second
)

const scanCommandPrefix = "for i in "

// TimeoutFor picks the deadline for command; fallback applies to anything unrecognised.
func TimeoutFor(command string, fallback time.Duration) time.Duration {
	cmd := strings.TrimSpace(command)
	cmd = strings.TrimPrefix(cmd, "sudo ")
	switch {
	case strings.HasPrefix(cmd, "top"), strings.HasPrefix(cmd, "df"):
		return SnapshotTimeout
	case strings.HasPrefix(cmd, "uptime"), strings.HasPrefix(cmd, "nproc"), strings.HasPrefix(cmd, "systemctl is-active"):
		return ProbeTimeout
	case strings.HasPrefix(cmd, "systemctl restart"):
		return RestartTimeout
	case strings.HasPrefix(cmd, scanCommandPrefix):
		return ScanTimeout
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultTimeout
}

// HumanBytes formats n with a binary unit suffix.
func HumanBytes(n uint64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	v := float64(n)
	for _, u := range units {
		if v < 1024 {
			return fmt.Sprintf("%.0f%s", v, u)
		}
		v /= 1024
	}
	return fmt.Sprintf("%.0fPB", v)
}
