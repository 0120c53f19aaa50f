package supervisor

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.olrik.dev/devwatch/internal/core"
)

// quietLogger silences slog for the duration of a test
func quietLogger(t *testing.T) {
	t.Helper()
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
}

// syncBuffer is a goroutine-safe bytes.Buffer for capturing supervisor output
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// waitFor polls cond until it holds or the timeout expires
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// testConfig returns a configuration rooted in a temp dir with a long-lived
// dummy server and no watchers; tests add the watchers they need.
func testConfig(t *testing.T) *core.Configuration {
	t.Helper()
	return &core.Configuration{
		ConfigPath: t.TempDir(),
		Server: core.ServerConfig{
			Command: "sleep",
			Entry:   "60",
		},
	}
}

// shWatcher builds a watcher config running the given shell script
func shWatcher(name, tag, trigger, killLabel, script string) core.WatcherConfig {
	return core.WatcherConfig{
		Name:      name,
		Tag:       tag,
		Dir:       ".",
		Command:   []string{"sh", "-c", script},
		Trigger:   trigger,
		KillLabel: killLabel,
	}
}

// startSupervisor runs the supervisor in the background and returns it plus
// a channel carrying the eventual exit code. The session is stopped and
// drained in test cleanup if the test did not already do so.
func startSupervisor(t *testing.T, cfg *core.Configuration, args []string, out *syncBuffer) (*Supervisor, chan int) {
	t.Helper()

	s := New(cfg, args)
	s.out = out
	s.errOut = out

	codeChan := make(chan int, 1)
	done := make(chan struct{})
	go func() {
		codeChan <- s.Run()
		close(done)
	}()

	t.Cleanup(func() {
		s.RequestStop()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	})

	return s, codeChan
}

// serverPid reads the server slot under the supervisor's lock
func serverPid(s *Supervisor) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverPid
}
