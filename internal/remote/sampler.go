package remote

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var unitNameRe = regexp.MustCompile(`^[A-Za-z0-9@._-]+$`)

// Controller runs privileged maintenance on node services and the node's LAN.
type Controller interface {
	Restart(ctx context.Context, unit string) (string, error)
	Diagnose(ctx context.Context, unit string) (string, error)
	Scan(ctx context.Context, subnet string) ([]string, error)
}

// CommandSampler derives samples from shell commands executed by a Runner.
type CommandSampler struct {
	runner       Runner
	defaultCores int
}

// NewCommandSampler wraps runner. defaultCores is used when nproc fails.
func NewCommandSampler(runner Runner, defaultCores int) *CommandSampler {
	if defaultCores <= 0 {
		defaultCores = 2
	}
	return &CommandSampler{runner: runner, defaultCores: defaultCores}
}

// Hardware samples CPU, memory, load and uptime. Only a failed top is a
// sampling failure; uptime and nproc problems degrade the sample.
func (s *CommandSampler) Hardware(ctx context.Context) (HardwareSample, error) {
	topOut, err := s.runner.Run(ctx, "top -bn1")
	if err != nil {
		return HardwareSample{}, err
	}

	cm, problems := ParseTop(topOut)
	sample := HardwareSample{
		CPUPct:   cm.CPUPct,
		RAMPct:   cm.RAMPct(),
		RAMUsed:  cm.RAMUsed,
		RAMTotal: cm.RAMTotal,
		HasCPU:   cm.HasCPU,
		HasRAM:   cm.HasRAM,
		Cores:    s.defaultCores,
		Problems: problems,
	}

	if out, err := s.runner.Run(ctx, "nproc"); err != nil {
		sample.Problems = append(sample.Problems, err)
	} else if cores, err := ParseNproc(out, s.defaultCores); err != nil {
		sample.Problems = append(sample.Problems, err)
	} else {
		sample.Cores = cores
	}

	upOut, err := s.runner.Run(ctx, "uptime")
	if err != nil {
		sample.Problems = append(sample.Problems, err)
		return sample, nil
	}
	lu, err := ParseUptime(upOut)
	if err != nil {
		sample.Problems = append(sample.Problems, err)
		return sample, nil
	}
	sample.Load1, sample.Load5, sample.Load15 = lu.Load1, lu.Load5, lu.Load15
	sample.Uptime = lu.Uptime
	sample.HasLoad = true
	return sample, nil
}

// Disks runs df for the given mounts.
func (s *CommandSampler) Disks(ctx context.Context, mounts []string) ([]DiskUsage, error) {
	for _, m := range mounts {
		if strings.ContainsAny(m, "'\"`$;&|<>\n") {
			return nil, fmt.Errorf("refusing mount path %q", m)
		}
	}
	out, err := s.runner.Run(ctx, "df -P -k "+strings.Join(mounts, " "))
	var exitErr *ExitError
	if err != nil && !(errors.As(err, &exitErr) && out != "") {
		return nil, err
	}
	return ParseDF(out)
}

// Services queries systemctl is-active. A non-zero exit with output still
// counts, since is-active exits 3 whenever a unit is down.
func (s *CommandSampler) Services(ctx context.Context, units []string) (map[string]ServiceStatus, error) {
	if err := validUnits(units); err != nil {
		return nil, err
	}
	out, err := s.runner.Run(ctx, "systemctl is-active "+strings.Join(units, " "))
	var exitErr *ExitError
	if err != nil && !(errors.As(err, &exitErr) && out != "") {
		return nil, err
	}
	return ParseServiceStatuses(out, units), nil
}

// Restart restarts unit through sudo systemctl.
func (s *CommandSampler) Restart(ctx context.Context, unit string) (string, error) {
	if err := validUnits([]string{unit}); err != nil {
		return "", err
	}
	return s.runner.Run(ctx, "sudo systemctl restart "+unit)
}

// Diagnose returns the Active: line of systemctl status for unit.
func (s *CommandSampler) Diagnose(ctx context.Context, unit string) (string, error) {
	if err := validUnits([]string{unit}); err != nil {
		return "", err
	}
	out, err := s.runner.Run(ctx, "systemctl status "+unit+" | grep 'Active:'")
	var exitErr *ExitError
	if err != nil && !(errors.As(err, &exitErr) && out != "") {
		return "", err
	}
	return out, nil
}

// Scan ping-sweeps subnet.1 to subnet.254 from the node and returns the
// addresses that answered. subnet is the first three octets, e.g. "10.21.10".
func (s *CommandSampler) Scan(ctx context.Context, subnet string) ([]string, error) {
	if err := ValidSubnet(subnet); err != nil {
		return nil, err
	}
	out, err := s.runner.Run(ctx, scanCommandPrefix+fmt.Sprintf(
		"$(seq 1 254); do (ping -c 1 -W 1 %s.$i | grep 'bytes from' | awk '{print $4}' &); done; wait", subnet))
	if err != nil {
		return nil, err
	}
	var hosts []string
	for _, line := range strings.Split(out, "\n") {
		if host := strings.TrimSuffix(strings.TrimSpace(line), ":"); host != "" {
			hosts = append(hosts, host)
		}
	}
	return hosts, nil
}

// ValidSubnet accepts exactly three dotted octets.
func ValidSubnet(subnet string) error {
	parts := strings.Split(subnet, ".")
	if len(parts) != 3 {
		return fmt.Errorf("invalid subnet %q: want three octets", subnet)
	}
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 || p != strconv.Itoa(n) {
			return fmt.Errorf("invalid subnet %q", subnet)
		}
	}
	return nil
}

func validUnits(units []string) error {
	for _, u := range units {
		if !unitNameRe.MatchString(u) {
			return fmt.Errorf("invalid unit name %q", u)
		}
	}
	return nil
}

var (
	_ Sampler    = (*CommandSampler)(nil)
	_ Controller = (*CommandSampler)(nil)
)
