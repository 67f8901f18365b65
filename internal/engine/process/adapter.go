// Package process provides engine subprocess execution and output streaming.
//
// The Adapter owns exactly one engine process for the lifetime of a session.
// It spawns the process with attached stdin/stdout/stderr pipes, streams
// output chunks to callbacks as they arrive, retains a bounded tail of
// stderr for failure reports, and reports the exit code exactly once.
//
// Lifecycle:
//  1. Start() - spawns the process, attaches pipes, returns immediately
//  2. Background goroutines - stream stdout/stderr, wait for exit
//  3. Terminate() - SIGTERM to the process group, escalates to SIGKILL
//     after the grace period
package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/PeterSaffarian/replit-propertyrecommender/internal/common/errors"
	"github.com/PeterSaffarian/replit-propertyrecommender/internal/common/logger"
)

// Options configure a single engine process.
type Options struct {
	// SessionID identifies the owning session in logs and errors.
	SessionID string

	// Command is the engine executable.
	Command string

	// Args are passed to the command verbatim.
	Args []string

	// WorkDir is the process working directory.
	WorkDir string

	// Env holds extra variables merged over the parent environment.
	Env map[string]string

	// TerminateGrace is how long Terminate waits after SIGTERM before SIGKILL.
	TerminateGrace time.Duration

	// StderrTailBytes bounds the retained stderr tail.
	StderrTailBytes int
}

// Callbacks receive process output and the exit notification.
// OnExit is invoked exactly once, after both output streams have drained.
type Callbacks struct {
	OnStdout func(chunk []byte)
	OnStderr func(chunk []byte)
	OnExit   func(exitCode int)
}

// Adapter manages one engine subprocess.
//
// Thread-safe: Write and Terminate can be called concurrently with the
// background streaming goroutines.
type Adapter struct {
	opts   Options
	cb     Callbacks
	logger *logger.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	started  bool
	exited   bool
	exitCode int

	stderrTail *tailBuffer
	done       chan struct{}
	readers    sync.WaitGroup
	termOnce   sync.Once
}

// NewAdapter creates an adapter for one engine process. The process is not
// spawned until Start is called.
func NewAdapter(opts Options, cb Callbacks, log *logger.Logger) *Adapter {
	if opts.TerminateGrace <= 0 {
		opts.TerminateGrace = 5 * time.Second
	}
	if opts.StderrTailBytes <= 0 {
		opts.StderrTailBytes = 8192
	}
	return &Adapter{
		opts:       opts,
		cb:         cb,
		logger:     log.WithFields(zap.String("component", "engine-process"), zap.String("session_id", opts.SessionID)),
		stderrTail: newTailBuffer(opts.StderrTailBytes),
		done:       make(chan struct{}),
	}
}

// Start spawns the engine process and returns immediately.
//
// The process gets its own process group (Setpgid) so Terminate can kill
// the entire subprocess tree. Three background goroutines stream stdout,
// stream stderr, and wait for exit; wait() is the sole authority for the
// exit notification.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return apperrors.Conflict(fmt.Sprintf("engine process for session '%s' already started", a.opts.SessionID))
	}

	cmd := exec.CommandContext(ctx, a.opts.Command, a.opts.Args...)
	if a.opts.WorkDir != "" {
		cmd.Dir = a.opts.WorkDir
	}
	cmd.Env = mergeEnv(a.opts.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return apperrors.SpawnError(a.opts.Command, fmt.Errorf("failed to attach stdin: %w", err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return apperrors.SpawnError(a.opts.Command, fmt.Errorf("failed to attach stdout: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return apperrors.SpawnError(a.opts.Command, fmt.Errorf("failed to attach stderr: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return apperrors.SpawnError(a.opts.Command, err)
	}

	a.cmd = cmd
	a.stdin = stdin
	a.started = true

	a.logger.Debug("engine process started",
		zap.String("command", a.opts.Command),
		zap.Strings("args", a.opts.Args),
		zap.String("work_dir", a.opts.WorkDir),
		zap.Int("pid", cmd.Process.Pid),
	)

	a.readers.Add(2)
	go a.readOutput(stdout, "stdout", a.cb.OnStdout, false)
	go a.readOutput(stderr, "stderr", a.cb.OnStderr, true)
	go a.wait()

	return nil
}

// Write sends one line to the engine's stdin. A trailing newline is added
// if the text does not already end with one.
func (a *Adapter) Write(line string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started || a.exited || a.stdin == nil {
		return apperrors.ProcessNotRunning(a.opts.SessionID)
	}

	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	if _, err := io.WriteString(a.stdin, line); err != nil {
		return apperrors.Wrap(err, "failed to write to engine stdin")
	}
	return nil
}

// Terminate stops the engine process: SIGTERM to the process group, then
// SIGKILL after the grace period or when ctx expires. Safe to call more
// than once and after the process has already exited.
func (a *Adapter) Terminate(ctx context.Context) error {
	a.mu.Lock()
	cmd := a.cmd
	exited := a.exited || !a.started
	a.mu.Unlock()

	if exited || cmd == nil || cmd.Process == nil {
		return nil
	}

	a.termOnce.Do(func() {
		pgid, err := syscall.Getpgid(cmd.Process.Pid)
		if err == nil {
			_ = syscall.Kill(-pgid, syscall.SIGTERM)
		} else {
			_ = cmd.Process.Signal(syscall.SIGTERM)
		}

		go func() {
			select {
			case <-a.done:
				return
			case <-ctx.Done():
			case <-time.After(a.opts.TerminateGrace):
			}
			if err == nil {
				_ = syscall.Kill(-pgid, syscall.SIGKILL)
			} else {
				_ = cmd.Process.Kill()
			}
		}()
	})

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the process has started and not yet exited.
func (a *Adapter) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.started && !a.exited
}

// ExitCode returns the exit code once the process has exited.
func (a *Adapter) ExitCode() (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.exited {
		return 0, false
	}
	return a.exitCode, true
}

// Done returns a channel closed after the exit notification has been delivered.
func (a *Adapter) Done() <-chan struct{} {
	return a.done
}

// StderrTail returns the retained trailing stderr output, trimmed.
func (a *Adapter) StderrTail() string {
	return strings.TrimSpace(a.stderrTail.String())
}

func (a *Adapter) readOutput(reader io.ReadCloser, stream string, cb func([]byte), isStderr bool) {
	defer a.readers.Done()
	defer func() { _ = reader.Close() }()

	buf := bufio.NewReader(reader)
	data := make([]byte, 4096)
	for {
		n, err := buf.Read(data)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, data[:n])
			if isStderr {
				a.stderrTail.Write(chunk)
			}
			if cb != nil {
				cb(chunk)
			}
		}
		if err != nil {
			if err != io.EOF {
				a.logger.Debug("engine output read error",
					zap.String("stream", stream),
					zap.Error(err))
			}
			return
		}
	}
}

// wait blocks until the process exits, drains both output streams, then
// records the exit code and delivers the single exit notification.
func (a *Adapter) wait() {
	// Drain both output streams before Wait: cmd.Wait closes the
	// stdout/stderr pipes, discarding any output not yet read.
	a.readers.Wait()

	err := a.cmd.Wait()

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			if waitStatus, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				exitCode = waitStatus.ExitStatus()
			} else {
				exitCode = 1
			}
		} else {
			exitCode = 1
		}
	}

	a.mu.Lock()
	a.exited = true
	a.exitCode = exitCode
	if a.stdin != nil {
		_ = a.stdin.Close()
	}
	a.mu.Unlock()

	a.logger.Debug("engine process exited",
		zap.Int("exit_code", exitCode),
		zap.Error(err),
	)

	if a.cb.OnExit != nil {
		a.cb.OnExit(exitCode)
	}
	close(a.done)
}

// tailBuffer retains the last maxBytes of written data.
type tailBuffer struct {
	mu       sync.Mutex
	maxBytes int
	data     []byte
}

func newTailBuffer(maxBytes int) *tailBuffer {
	return &tailBuffer{maxBytes: maxBytes}
}

func (b *tailBuffer) Write(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, p...)
	if over := len(b.data) - b.maxBytes; over > 0 {
		b.data = b.data[over:]
	}
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}

// mergeEnv merges custom environment variables over the parent environment,
// returning KEY=VALUE pairs for exec.Cmd.Env.
func mergeEnv(env map[string]string) []string {
	base := make(map[string]string, len(os.Environ())+len(env))

	for _, entry := range os.Environ() {
		if eq := strings.IndexByte(entry, '='); eq >= 0 {
			base[entry[:eq]] = entry[eq+1:]
		}
	}

	for k, v := range env {
		base[k] = v
	}

	merged := make([]string, 0, len(base))
	for k, v := range base {
		merged = append(merged, fmt.Sprintf("%s=%s", k, v))
	}
	return merged
}
