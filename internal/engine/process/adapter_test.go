package process

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "github.com/PeterSaffarian/replit-propertyrecommender/internal/common/errors"
	"github.com/PeterSaffarian/replit-propertyrecommender/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  "error",
		Format: "json",
	})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return log
}

type outputCollector struct {
	mu     sync.Mutex
	stdout strings.Builder
	stderr strings.Builder
	exits  []int
}

func (c *outputCollector) callbacks() Callbacks {
	return Callbacks{
		OnStdout: func(chunk []byte) {
			c.mu.Lock()
			c.stdout.Write(chunk)
			c.mu.Unlock()
		},
		OnStderr: func(chunk []byte) {
			c.mu.Lock()
			c.stderr.Write(chunk)
			c.mu.Unlock()
		},
		OnExit: func(code int) {
			c.mu.Lock()
			c.exits = append(c.exits, code)
			c.mu.Unlock()
		},
	}
}

func (c *outputCollector) stdoutString() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stdout.String()
}

func (c *outputCollector) exitCodes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, len(c.exits))
	copy(out, c.exits)
	return out
}

func shellAdapter(t *testing.T, script string, collector *outputCollector) *Adapter {
	t.Helper()
	return NewAdapter(Options{
		SessionID: "session-1",
		Command:   "sh",
		Args:      []string{"-c", script},
	}, collector.callbacks(), newTestLogger(t))
}

func waitDone(t *testing.T, a *Adapter) {
	t.Helper()
	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit in time")
	}
}

func TestAdapterCapturesStdoutAndExit(t *testing.T) {
	collector := &outputCollector{}
	adapter := shellAdapter(t, "printf 'hello'", collector)

	if err := adapter.Start(context.Background()); err != nil {
		t.Fatalf("failed to start process: %v", err)
	}
	waitDone(t, adapter)

	if got := collector.stdoutString(); !strings.Contains(got, "hello") {
		t.Fatalf("expected stdout to contain 'hello', got %q", got)
	}
	if codes := collector.exitCodes(); len(codes) != 1 || codes[0] != 0 {
		t.Fatalf("expected exactly one exit notification with code 0, got %v", codes)
	}
	if code, ok := adapter.ExitCode(); !ok || code != 0 {
		t.Fatalf("expected recorded exit code 0, got %d (recorded=%v)", code, ok)
	}
}

func TestAdapterWriteReachesStdin(t *testing.T) {
	collector := &outputCollector{}
	adapter := shellAdapter(t, "read line; printf 'got:%s' \"$line\"", collector)

	if err := adapter.Start(context.Background()); err != nil {
		t.Fatalf("failed to start process: %v", err)
	}
	if err := adapter.Write("budget is 500k"); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	waitDone(t, adapter)

	if got := collector.stdoutString(); !strings.Contains(got, "got:budget is 500k") {
		t.Fatalf("stdin line did not round-trip, stdout %q", got)
	}
}

func TestAdapterNonZeroExitRetainsStderrTail(t *testing.T) {
	collector := &outputCollector{}
	adapter := shellAdapter(t, "echo 'API key invalid' >&2; exit 2", collector)

	if err := adapter.Start(context.Background()); err != nil {
		t.Fatalf("failed to start process: %v", err)
	}
	waitDone(t, adapter)

	if codes := collector.exitCodes(); len(codes) != 1 || codes[0] != 2 {
		t.Fatalf("expected exit code 2, got %v", codes)
	}
	if tail := adapter.StderrTail(); !strings.Contains(tail, "API key invalid") {
		t.Fatalf("expected stderr tail to contain failure reason, got %q", tail)
	}
}

func TestAdapterWriteAfterExit(t *testing.T) {
	collector := &outputCollector{}
	adapter := shellAdapter(t, "true", collector)

	if err := adapter.Start(context.Background()); err != nil {
		t.Fatalf("failed to start process: %v", err)
	}
	waitDone(t, adapter)

	err := adapter.Write("anyone there?")
	if err == nil {
		t.Fatal("expected write after exit to fail")
	}
	if apperrors.Code(err) != apperrors.ErrCodeProcessNotRunning {
		t.Fatalf("expected PROCESS_NOT_RUNNING, got %v", err)
	}
}

func TestAdapterSpawnFailure(t *testing.T) {
	collector := &outputCollector{}
	adapter := NewAdapter(Options{
		SessionID: "session-1",
		Command:   "/nonexistent/engine-binary",
	}, collector.callbacks(), newTestLogger(t))

	err := adapter.Start(context.Background())
	if err == nil {
		t.Fatal("expected spawn to fail")
	}
	if apperrors.Code(err) != apperrors.ErrCodeSpawnError {
		t.Fatalf("expected SPAWN_ERROR, got %v", err)
	}
}

func TestAdapterTerminateStopsProcess(t *testing.T) {
	collector := &outputCollector{}
	adapter := NewAdapter(Options{
		SessionID:      "session-1",
		Command:        "sh",
		Args:           []string{"-c", "sleep 30"},
		TerminateGrace: 500 * time.Millisecond,
	}, collector.callbacks(), newTestLogger(t))

	if err := adapter.Start(context.Background()); err != nil {
		t.Fatalf("failed to start process: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := adapter.Terminate(ctx); err != nil {
		t.Fatalf("terminate failed: %v", err)
	}
	// Second call after exit is a no-op.
	if err := adapter.Terminate(ctx); err != nil {
		t.Fatalf("repeated terminate failed: %v", err)
	}

	if codes := collector.exitCodes(); len(codes) != 1 {
		t.Fatalf("expected exactly one exit notification, got %v", codes)
	}
	if adapter.Running() {
		t.Fatal("adapter still reports running after terminate")
	}
}

func TestTailBufferKeepsOnlyTrailingBytes(t *testing.T) {
	tail := newTailBuffer(10)
	tail.Write([]byte("0123456789"))
	tail.Write([]byte("ABCDE"))

	if got := tail.String(); got != "56789ABCDE" {
		t.Fatalf("expected trailing 10 bytes, got %q", got)
	}
}
