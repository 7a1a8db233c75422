package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"nodesentinel/internal/faults"
)

// ExecRunner runs commands on this machine through sh -c.
type ExecRunner struct {
	fallback time.Duration
	logger   zerolog.Logger
}

// NewExecRunner builds a local runner.
func NewExecRunner(fallback time.Duration, logger zerolog.Logger) *ExecRunner {
	return &ExecRunner{fallback: fallback, logger: logger.With().Str("component", "exec_runner").Logger()}
}

// Run executes command with the same deadlines as the SSH runner.
func (r *ExecRunner) Run(ctx context.Context, command string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, TimeoutFor(command, r.fallback))
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug().Str("command", command).Msg("executing local command")

	err := cmd.Run()
	out := strings.TrimSpace(stdout.String())
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return "", faults.Sampling("exec", fmt.Errorf("command %q: %w", command, ctx.Err()))
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out, faults.Sampling("exec", &ExitError{
			Command: command,
			Status:  exitErr.ExitCode(),
			Stdout:  out,
			Stderr:  stderr.String(),
		})
	}
	return "", faults.Sampling("exec", fmt.Errorf("command %q: %w", command, err))
}

var _ Runner = (*ExecRunner)(nil)
