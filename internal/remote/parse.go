package remote

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"nodesentinel/internal/faults"
)

var (
	cpuIdleRe    = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*id`)
	memFieldRe   = regexp.MustCompile(`(\d+(?:\.\d+)?)k?\s+(total|free|used)`)
	loadRe       = regexp.MustCompile(`load averages?:\s+(\d+[.,]\d+),?\s+(\d+[.,]\d+),?\s+(\d+[.,]\d+)`)
	uptimeUserRe = regexp.MustCompile(`up\s+(.*?),\s+\d+\s+users?`)
	uptimeLoadRe = regexp.MustCompile(`up\s+(.*?),\s+load`)
)

// CPUAndMemory is what one top -bn1 snapshot yields.
type CPUAndMemory struct {
	CPUPct   float64
	RAMUsed  uint64
	RAMTotal uint64
	HasCPU   bool
	HasRAM   bool
}

// RAMPct is used over total memory in percent.
func (c CPUAndMemory) RAMPct() float64 {
	if c.RAMTotal == 0 {
		return 0
	}
	return float64(c.RAMUsed) / float64(c.RAMTotal) * 100
}

// ParseTop reads CPU idle and memory totals from top batch output. Both the
// MiB and KiB/kB memory line formats are understood.
func ParseTop(out string) (CPUAndMemory, []error) {
	var (
		res      CPUAndMemory
		problems []error
		cpuLine  string
		memLine  string
	)
	for _, line := range strings.Split(out, "\n") {
		if cpuLine == "" && (strings.Contains(line, "Cpu(s)") || strings.Contains(line, "Cpu:")) {
			cpuLine = line
		}
		if memLine == "" && strings.Contains(line, "Mem") && !strings.Contains(line, "Swap") {
			memLine = line
		}
	}

	if m := cpuIdleRe.FindStringSubmatch(cpuLine); m != nil {
		idle, err := parseFloat(m[1])
		if err == nil {
			res.CPUPct = 100 - idle
			res.HasCPU = true
		}
	}
	if !res.HasCPU {
		problems = append(problems, faults.Parse("top", errors.New("cpu idle line not found")))
	}

	if memLine != "" {
		fields := map[string]float64{}
		for _, m := range memFieldRe.FindAllStringSubmatch(memLine, -1) {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				fields[m[2]] = v
			}
		}
		total, okTotal := fields["total"]
		used, okUsed := fields["used"]
		if okTotal && okUsed && total > 0 {
			unit := memUnit(memLine)
			res.RAMTotal = uint64(total * unit)
			res.RAMUsed = uint64(used * unit)
			res.HasRAM = true
		}
	}
	if !res.HasRAM {
		problems = append(problems, faults.Parse("top", errors.New("memory line not found")))
	}
	return res, problems
}

func memUnit(line string) float64 {
	switch {
	case strings.Contains(line, "GiB"):
		return 1 << 30
	case strings.Contains(line, "MiB"):
		return 1 << 20
	default:
		return 1 << 10
	}
}

// LoadAndUptime is what uptime yields.
type LoadAndUptime struct {
	Load1, Load5, Load15 float64
	Uptime               string
}

// ParseUptime reads load averages and the humanised uptime.
func ParseUptime(out string) (LoadAndUptime, error) {
	var res LoadAndUptime
	m := loadRe.FindStringSubmatch(out)
	if m == nil {
		return res, faults.Parse("uptime", fmt.Errorf("no load average in %q", strings.TrimSpace(out)))
	}
	res.Load1, _ = parseFloat(m[1])
	res.Load5, _ = parseFloat(m[2])
	res.Load15, _ = parseFloat(m[3])

	if u := uptimeUserRe.FindStringSubmatch(out); u != nil {
		res.Uptime = shortenUptime(u[1])
	} else if u := uptimeLoadRe.FindStringSubmatch(out); u != nil {
		res.Uptime = shortenUptime(u[1])
	}
	return res, nil
}

func shortenUptime(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ReplaceAll(s, "days", "d")
	return strings.ReplaceAll(s, "day", "d")
}

// ParseNproc reads the core count, falling back to def.
func ParseNproc(out string, def int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil || n <= 0 {
		return def, faults.Parse("nproc", fmt.Errorf("unexpected output %q", strings.TrimSpace(out)))
	}
	return n, nil
}

// ParseDF reads POSIX df -P -k output. Rows that do not parse are skipped.
func ParseDF(out string) ([]DiskUsage, error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return nil, faults.Parse("df", errors.New("incomplete output (mount not found)"))
	}
	var disks []DiskUsage
	for _, line := range lines[1:] {
		f := strings.Fields(line)
		if len(f) < 6 {
			continue
		}
		totalKB, errTotal := strconv.ParseUint(f[1], 10, 64)
		usedKB, errUsed := strconv.ParseUint(f[2], 10, 64)
		pct, errPct := strconv.ParseFloat(strings.TrimSuffix(f[4], "%"), 64)
		if errTotal != nil || errUsed != nil || errPct != nil {
			continue
		}
		disks = append(disks, DiskUsage{
			Mount:      strings.Join(f[5:], " "),
			UsedPct:    pct,
			UsedBytes:  usedKB * 1024,
			TotalBytes: totalKB * 1024,
		})
	}
	if len(disks) == 0 {
		return nil, faults.Parse("df", errors.New("no usable rows"))
	}
	return disks, nil
}

// ParseServiceStatuses maps systemctl is-active tokens onto units in order.
// Units without a token are UNKNOWN.
func ParseServiceStatuses(out string, units []string) map[string]ServiceStatus {
	tokens := strings.Fields(out)
	statuses := make(map[string]ServiceStatus, len(units))
	for i, unit := range units {
		status := StatusUnknown
		if i < len(tokens) {
			status = ServiceStatus(strings.ToUpper(tokens[i]))
		}
		statuses[unit] = status
	}
	return statuses
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
}
