// Package toolchain persists submitted source and drives the external compiler.
package toolchain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"codejudge/internal/judge/process"
	appErr "codejudge/pkg/errors"

	"github.com/google/shlex"
)

const (
	DefaultCompileCommand   = "g++ {src} -o {bin} -std=c++17 {extraFlags}"
	DefaultCompileTimeout   = 30 * time.Second
	DefaultDiagnosticsLimit = 64 << 10
)

// Config controls how sources are compiled.
type Config struct {
	// CompileCommand is a shell-like template; {src}, {bin} and {extraFlags} are expanded per job.
	CompileCommand   string        `yaml:"compileCommand"`
	ExtraFlags       []string      `yaml:"extraFlags"`
	Timeout          time.Duration `yaml:"timeout"`
	DiagnosticsLimit int           `yaml:"diagnosticsLimit"`
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.CompileCommand) == "" {
		c.CompileCommand = DefaultCompileCommand
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultCompileTimeout
	}
	if c.DiagnosticsLimit <= 0 {
		c.DiagnosticsLimit = DefaultDiagnosticsLimit
	}
}

// CompileError reports a failed compilation. Diagnostics holds the captured
// compiler stderr, possibly truncated.
type CompileError struct {
	ExitCode    int
	Diagnostics string
	TimedOut    bool
	Err         error
}

func (e *CompileError) Error() string {
	switch {
	case e.TimedOut:
		return "compiler time limit exceeded"
	case e.ExitCode < 0 && e.Err != nil:
		return fmt.Sprintf("compiler could not run: %v", e.Err)
	default:
		return fmt.Sprintf("compiler exited with code %d", e.ExitCode)
	}
}

func (e *CompileError) Unwrap() error { return e.Err }

// Detail is the human-readable failure text, diagnostics included.
func (e *CompileError) Detail() string {
	diag := strings.TrimRight(e.Diagnostics, "\n")
	if diag == "" {
		return e.Error()
	}
	return e.Error() + "\n" + diag
}

// Toolchain writes sources and compiles them.
type Toolchain struct {
	cfg    Config
	argv   []string
	stdout io.Writer
	stderr io.Writer
}

// New parses the compile template. Compiler output is streamed to stdout and
// stderr (the service's own streams when nil).
func New(cfg Config, stdout, stderr io.Writer) (*Toolchain, error) {
	cfg.applyDefaults()
	argv, err := shlex.Split(cfg.CompileCommand)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ConfigInvalid, "parse compile command failed")
	}
	if len(argv) == 0 {
		return nil, appErr.New(appErr.ConfigInvalid).WithMessage("compile command is empty")
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return &Toolchain{cfg: cfg, argv: argv, stdout: stdout, stderr: stderr}, nil
}

// Write stores code at path, creating missing parent directories.
func (t *Toolchain) Write(code, path string) error {
	if path == "" {
		return appErr.ValidationError("source_path", "required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return appErr.Wrapf(err, appErr.WriteFailed, "create source dir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		return appErr.Wrapf(err, appErr.WriteFailed, "write source failed: %v", err)
	}
	return nil
}

// Compile builds src into out. Any non-zero exit, signal or timeout is a *CompileError.
func (t *Toolchain) Compile(ctx context.Context, src, out string) error {
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return &CompileError{ExitCode: -1, Err: fmt.Errorf("create output dir: %w", err)}
	}
	argv := t.Command(src, out)

	compileCtx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	diag := process.NewLimitedBuffer(t.cfg.DiagnosticsLimit)
	cmd := exec.CommandContext(compileCtx, argv[0], argv[1:]...)
	process.Configure(cmd)

	child, err := process.Start(cmd, t.stdout, io.MultiWriter(t.stderr, diag))
	if err == nil {
		// Leftover compiler helpers are killed with the group.
		err = child.Wait()
	}
	if err == nil {
		return nil
	}
	compileErr := &CompileError{
		ExitCode:    process.ExitCode(err, cmd.ProcessState),
		Diagnostics: string(diag.Bytes()),
		Err:         err,
	}
	if errors.Is(compileCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		compileErr.TimedOut = true
	}
	if diag.Truncated() {
		compileErr.Diagnostics += "\n[diagnostics truncated]"
	}
	return compileErr
}

// Command expands the compile template for one job.
func (t *Toolchain) Command(src, out string) []string {
	argv := make([]string, 0, len(t.argv)+len(t.cfg.ExtraFlags))
	for _, tok := range t.argv {
		if tok == "{extraFlags}" {
			argv = append(argv, t.cfg.ExtraFlags...)
			continue
		}
		tok = strings.ReplaceAll(tok, "{src}", src)
		tok = strings.ReplaceAll(tok, "{bin}", out)
		argv = append(argv, tok)
	}
	return argv
}
