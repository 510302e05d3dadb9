package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Default values for Config.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultGracefulTimeout = 5 * time.Second

	// maxOutputLines bounds the output tail kept in Result.
	maxOutputLines = 64

	// maxLineLength truncates a single captured line.
	maxLineLength = 512
)

// Errors returned by Run.
var (
	ErrInvalidConfig = errors.New("invalid process config")
	ErrTimeout       = errors.New("process timed out")
	ErrExitStatus    = errors.New("process exited with non-zero status")
)

// Config describes a one-shot command.
type Config struct {
	// Name identifies the command in logs.
	Name string

	// Binary is the executable path.
	Binary string

	// Args are passed to the binary.
	Args []string

	// Env is appended to the current environment.
	Env []string

	// WorkDir is the working directory (empty = inherit).
	WorkDir string

	// Timeout bounds the whole run. Zero means DefaultTimeout.
	Timeout time.Duration

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration
}

// Result reports how a run ended.
type Result struct {
	// ExitCode is the process exit status, or -1 if it was killed by a signal
	// or never started.
	ExitCode int

	// Duration is the wall time from start to exit.
	Duration time.Duration

	// Output is the tail of combined stdout/stderr, one entry per line.
	Output []string

	// TimedOut is set when the run was stopped by Timeout.
	TimedOut bool
}

// Logger defines the logging interface for the runner.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Runner executes a single command to completion.
type Runner struct {
	config Config
	logger Logger
}

// NewRunner creates a runner, filling zero durations with defaults.
func NewRunner(cfg Config) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = DefaultGracefulTimeout
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Binary
	}
	return &Runner{config: cfg, logger: noopLogger{}}
}

// SetLogger sets the logger for the runner.
func (r *Runner) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Run executes the command with the given config. See Runner.Run.
func Run(ctx context.Context, cfg Config, logger Logger) (Result, error) {
	r := NewRunner(cfg)
	r.SetLogger(logger)
	return r.Run(ctx)
}

// Run starts the command in its own process group and waits for it to exit.
//
// When Timeout expires or ctx is cancelled, the whole group receives SIGTERM,
// then SIGKILL after GracefulTimeout.
//
// Returns:
//   - ErrTimeout if the timeout fired
//   - ctx.Err() if the context was cancelled
//   - ErrExitStatus if the command exited non-zero
//   - a start error if the binary could not be executed
func (r *Runner) Run(ctx context.Context) (Result, error) {
	res := Result{ExitCode: -1}
	if r.config.Binary == "" {
		return res, fmt.Errorf("%w: binary is required", ErrInvalidConfig)
	}

	out := newTail(maxOutputLines)
	cmd := exec.Command(r.config.Binary, r.config.Args...) //nolint:gosec // Binary comes from operator config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if r.config.Env != nil {
		cmd.Env = append(os.Environ(), r.config.Env...)
	}
	if r.config.WorkDir != "" {
		cmd.Dir = r.config.WorkDir
	}
	stdout := &lineWriter{stream: "stdout", name: r.config.Name, tail: out, logger: r.logger}
	stderr := &lineWriter{stream: "stderr", name: r.config.Name, tail: out, logger: r.logger}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	r.logger.Info("running process",
		"name", r.config.Name,
		"binary", r.config.Binary,
		"args", r.config.Args,
		"timeout", r.config.Timeout,
	)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return res, fmt.Errorf("starting %s: %w", r.config.Name, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(r.config.Timeout)
	defer timer.Stop()

	var waitErr, stopErr error
	select {
	case waitErr = <-done:
	case <-timer.C:
		res.TimedOut = true
		r.logger.Warn("process timed out", "name", r.config.Name, "timeout", r.config.Timeout)
		waitErr = r.terminate(cmd.Process.Pid, done)
		stopErr = fmt.Errorf("%s after %s: %w", r.config.Name, r.config.Timeout, ErrTimeout)
	case <-ctx.Done():
		r.logger.Warn("process cancelled", "name", r.config.Name)
		waitErr = r.terminate(cmd.Process.Pid, done)
		stopErr = ctx.Err()
	}

	res.Duration = time.Since(start)
	stdout.flush()
	stderr.flush()
	res.Output = out.lines()
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	r.logger.Info("process exited",
		"name", r.config.Name,
		"exit_code", res.ExitCode,
		"duration", res.Duration,
	)

	if stopErr != nil {
		return res, stopErr
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return res, fmt.Errorf("%s: exit code %d: %w", r.config.Name, res.ExitCode, ErrExitStatus)
	}
	if waitErr != nil {
		return res, fmt.Errorf("waiting for %s: %w", r.config.Name, waitErr)
	}
	return res, nil
}

// terminate signals the process group and waits for the leader to exit.
func (r *Runner) terminate(pid int, done <-chan error) error {
	// Negative PID addresses the process group created via Setpgid.
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		r.logger.Warn("failed to send SIGTERM to process group", "name", r.config.Name, "error", err)
	}

	select {
	case err := <-done:
		return err
	case <-time.After(r.config.GracefulTimeout):
		r.logger.Warn("graceful stop timeout, sending SIGKILL",
			"name", r.config.Name,
			"timeout", r.config.GracefulTimeout,
		)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		r.logger.Error("failed to kill process group", "name", r.config.Name, "error", err)
	}
	return <-done
}

// tail keeps the last n complete lines written by either stream.
type tail struct {
	mu  sync.Mutex
	max int
	buf []string
}

func newTail(n int) *tail {
	return &tail{max: n}
}

func (t *tail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.buf) == t.max {
		t.buf = append(t.buf[:0], t.buf[1:]...)
	}
	t.buf = append(t.buf, line)
}

func (t *tail) lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.buf...)
}

// lineWriter splits a stream into lines, logging and recording each one.
// exec.Cmd copies each stream from a single goroutine, so partial is unguarded.
type lineWriter struct {
	stream  string
	name    string
	tail    *tail
	logger  Logger
	partial []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.emit(w.partial[:i])
		w.partial = w.partial[i+1:]
	}
	if len(w.partial) > maxLineLength {
		w.emit(w.partial)
		w.partial = nil
	}
	return len(p), nil
}

// flush emits an unterminated final line. Call only after Wait returns.
func (w *lineWriter) flush() {
	if len(w.partial) > 0 {
		w.emit(w.partial)
		w.partial = nil
	}
}

func (w *lineWriter) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) > maxLineLength {
		line = line[:maxLineLength]
	}
	s := string(line)
	w.tail.add(s)
	w.logger.Debug("process output", "name", w.name, "stream", w.stream, "output", s)
}
