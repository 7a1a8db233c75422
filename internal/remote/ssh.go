package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"nodesentinel/internal/faults"
)

// ExitError is a command that ran but exited non-zero. Stdout is kept since
// some probes (systemctl is-active) report through the exit code.
type ExitError struct {
	Command string
	Status  int
	Stdout  string
	Stderr  string
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = "unknown error"
	}
	return fmt.Sprintf("command %q exited with code %d: %s", e.Command, e.Status, msg)
}

// SSHOptions describe the node login.
type SSHOptions struct {
	User           string
	Host           string
	Port           int
	KeyPath        string
	KnownHosts     string
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
}

// SSHRunner runs commands over a cached SSH connection.
type SSHRunner struct {
	opts   SSHOptions
	config *ssh.ClientConfig
	addr   string
	logger zerolog.Logger

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSHRunner loads the private key and known_hosts file. No connection is
// made until the first command.
func NewSSHRunner(opts SSHOptions, logger zerolog.Logger) (*SSHRunner, error) {
	if opts.Host == "" || opts.User == "" {
		return nil, errors.New("ssh host and user are required")
	}
	if opts.Port == 0 {
		opts.Port = 22
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = ConnectTimeout
	}

	signer, err := loadSigner(opts.KeyPath)
	if err != nil {
		return nil, err
	}

	knownHostsPath := opts.KnownHosts
	if knownHostsPath == "" {
		knownHostsPath = filepath.Join(homeDir(), ".ssh", "known_hosts")
	}
	hostKeys, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", knownHostsPath, err)
	}

	return &SSHRunner{
		opts: opts,
		config: &ssh.ClientConfig{
			User:            opts.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeys,
			Timeout:         opts.ConnectTimeout,
		},
		addr:   net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		logger: logger.With().Str("component", "ssh_runner").Str("host", opts.Host).Logger(),
	}, nil
}

// Run executes command with the deadline TimeoutFor assigns to it. Transport
// errors and timeouts are sampling failures.
func (r *SSHRunner) Run(ctx context.Context, command string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, TimeoutFor(command, r.opts.CommandTimeout))
	defer cancel()

	client, err := r.getClient(ctx)
	if err != nil {
		return "", faults.Sampling("ssh", err)
	}

	session, err := client.NewSession()
	if err != nil {
		r.dropClient(client)
		return "", faults.Sampling("ssh", fmt.Errorf("open session: %w", err))
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	r.logger.Debug().Str("command", command).Msg("executing remote command")

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return "", faults.Sampling("ssh", fmt.Errorf("command %q: %w", command, ctx.Err()))
	case err := <-done:
		out := strings.TrimSpace(stdout.String())
		if err == nil {
			return out, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return out, faults.Sampling("ssh", &ExitError{
				Command: command,
				Status:  exitErr.ExitStatus(),
				Stdout:  out,
				Stderr:  stderr.String(),
			})
		}
		r.dropClient(client)
		return "", faults.Sampling("ssh", fmt.Errorf("command %q: %w", command, err))
	}
}

// Close tears down the cached connection.
func (r *SSHRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}

func (r *SSHRunner) getClient(ctx context.Context) (*ssh.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return r.client, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, r.opts.ConnectTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", r.addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", r.addr, err)
	}
	if deadline, ok := dialCtx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, r.addr, r.config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", r.addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	r.client = ssh.NewClient(c, chans, reqs)
	r.logger.Info().Msg("ssh connection established")
	return r.client, nil
}

func (r *SSHRunner) dropClient(stale *ssh.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == stale {
		_ = r.client.Close()
		r.client = nil
	}
}

func loadSigner(path string) (ssh.Signer, error) {
	candidates := []string{path}
	if path == "" {
		home := homeDir()
		candidates = []string{
			filepath.Join(home, ".ssh", "id_ed25519"),
			filepath.Join(home, ".ssh", "id_rsa"),
		}
	}
	var lastErr error
	for _, p := range candidates {
		raw, err := os.ReadFile(p)
		if err != nil {
			lastErr = err
			continue
		}
		signer, err := ssh.ParsePrivateKey(raw)
		if err != nil {
			return nil, fmt.Errorf("parse private key %s: %w", p, err)
		}
		return signer, nil
	}
	return nil, fmt.Errorf("load private key: %w", lastErr)
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

var _ Runner = (*SSHRunner)(nil)
