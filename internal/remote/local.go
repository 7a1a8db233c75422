package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"nodesentinel/internal/faults"
)

const cpuSampleWindow = 500 * time.Millisecond

// LocalSampler reads hardware counters of this machine through gopsutil.
// Service probes and restarts still go through the embedded command sampler.
type LocalSampler struct {
	*CommandSampler
}

// NewLocalSampler builds the local backend.
func NewLocalSampler(runner Runner, defaultCores int) *LocalSampler {
	return &LocalSampler{CommandSampler: NewCommandSampler(runner, defaultCores)}
}

// Hardware reads CPU, memory, load and uptime. Only a failed memory read is a
// sampling failure.
func (l *LocalSampler) Hardware(ctx context.Context) (HardwareSample, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return HardwareSample{}, faults.Sampling("gopsutil", fmt.Errorf("memory stats: %w", err))
	}
	sample := HardwareSample{
		RAMPct:   vm.UsedPercent,
		RAMUsed:  vm.Used,
		RAMTotal: vm.Total,
		HasRAM:   true,
		Cores:    l.defaultCores,
	}

	if pct, err := cpu.PercentWithContext(ctx, cpuSampleWindow, false); err != nil || len(pct) == 0 {
		sample.Problems = append(sample.Problems, faults.Parse("gopsutil", fmt.Errorf("cpu percent: %v", err)))
	} else {
		sample.CPUPct = pct[0]
		sample.HasCPU = true
	}

	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		sample.Cores = n
	}

	if avg, err := load.AvgWithContext(ctx); err != nil {
		sample.Problems = append(sample.Problems, faults.Parse("gopsutil", fmt.Errorf("load average: %w", err)))
	} else {
		sample.Load1, sample.Load5, sample.Load15 = avg.Load1, avg.Load5, avg.Load15
		sample.HasLoad = true
	}

	if secs, err := host.UptimeWithContext(ctx); err == nil {
		sample.Uptime = formatUptime(time.Duration(secs) * time.Second)
	}
	return sample, nil
}

// Disks reads usage of each mount. Mounts that cannot be read are skipped.
func (l *LocalSampler) Disks(ctx context.Context, mounts []string) ([]DiskUsage, error) {
	var disks []DiskUsage
	var lastErr error
	for _, m := range mounts {
		u, err := disk.UsageWithContext(ctx, m)
		if err != nil {
			lastErr = err
			continue
		}
		disks = append(disks, DiskUsage{
			Mount:      m,
			UsedPct:    u.UsedPercent,
			UsedBytes:  u.Used,
			TotalBytes: u.Total,
		})
	}
	if len(disks) == 0 && lastErr != nil {
		return nil, faults.Sampling("gopsutil", fmt.Errorf("disk usage: %w", lastErr))
	}
	return disks, nil
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%d d, %d:%02d", days, hours, minutes)
	}
	return fmt.Sprintf("%d:%02d", hours, minutes)
}

var (
	_ Sampler    = (*LocalSampler)(nil)
	_ Controller = (*LocalSampler)(nil)
)
