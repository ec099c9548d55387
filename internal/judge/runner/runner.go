// Package runner executes a compiled submission and captures its output.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"codejudge/internal/judge/process"
)

const (
	DefaultTimeout     = 5 * time.Second
	DefaultOutputLimit = 1 << 20

	truncatedMarker = "\n[output truncated]"
)

// Config bounds one program run.
type Config struct {
	Timeout     time.Duration `yaml:"timeout"`
	OutputLimit int           `yaml:"outputLimit"`
	// Launcher, when set, is prepended to the command line. The launcher is
	// expected to exec the remaining arguments after applying its limits.
	Launcher []string `yaml:"launcher"`
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.OutputLimit <= 0 {
		c.OutputLimit = DefaultOutputLimit
	}
}

// LaunchError means the program never started.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string { return fmt.Sprintf("launch failed: %v", e.Err) }
func (e *LaunchError) Unwrap() error { return e.Err }

// RuntimeError means the program started and exited unsuccessfully.
type RuntimeError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *RuntimeError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("exit status %d", e.ExitCode)
	}
	return e.Err.Error()
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// Detail is the captured stderr, or the exit description when stderr is empty.
func (e *RuntimeError) Detail() string {
	if strings.TrimSpace(e.Stderr) == "" {
		return e.Error()
	}
	return e.Stderr
}

// TimeoutError means the program was killed at its deadline.
type TimeoutError struct {
	Limit  time.Duration
	Stderr string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("killed after %s", e.Limit)
}

// ErrCanceled is returned when the caller's context ends before the program does.
var ErrCanceled = errors.New("run canceled")

// Runner launches executables with piped output and a deadline.
type Runner struct {
	cfg Config
}

// New creates a runner.
func New(cfg Config) *Runner {
	cfg.applyDefaults()
	return &Runner{cfg: cfg}
}

// Run executes exe. Stdin reads inputPath when it is non-empty and is empty otherwise.
// On success it returns stdout with invalid UTF-8 replaced.
func (r *Runner) Run(ctx context.Context, exe, inputPath string) (string, error) {
	argv := append(append([]string{}, r.cfg.Launcher...), exe)

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	process.Configure(cmd)

	if inputPath != "" {
		in, err := os.Open(inputPath)
		if err != nil {
			return "", &LaunchError{Err: fmt.Errorf("open input: %w", err)}
		}
		defer func() { _ = in.Close() }()
		cmd.Stdin = in
	}
	stdout := process.NewLimitedBuffer(r.cfg.OutputLimit)
	stderr := process.NewLimitedBuffer(r.cfg.OutputLimit)

	child, err := process.Start(cmd, stdout, stderr)
	if err != nil {
		return "", &LaunchError{Err: err}
	}
	// Background children are killed when the program exits.
	waitErr := child.Wait()

	switch {
	case waitErr == nil, exitedCleanly(waitErr, cmd.ProcessState) && runCtx.Err() == nil:
		return decode(stdout), nil
	case ctx.Err() != nil:
		return "", fmt.Errorf("%w: %v", ErrCanceled, ctx.Err())
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return "", &TimeoutError{Limit: r.cfg.Timeout, Stderr: decode(stderr)}
	default:
		return "", &RuntimeError{
			ExitCode: process.ExitCode(waitErr, cmd.ProcessState),
			Stderr:   decode(stderr),
			Err:      waitErr,
		}
	}
}

// exitedCleanly covers a zero exit reported together with a pipe that stayed
// open past the wait delay.
func exitedCleanly(err error, state *os.ProcessState) bool {
	return errors.Is(err, exec.ErrWaitDelay) && state != nil && state.Success()
}

func decode(b *process.LimitedBuffer) string {
	out := strings.ToValidUTF8(string(b.Bytes()), "\uFFFD")
	if b.Truncated() {
		out += truncatedMarker
	}
	return out
}
