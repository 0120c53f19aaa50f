package supervisor

import (
	"strings"
	"testing"
	"time"

	"go.olrik.dev/devwatch/internal/core"
)

func TestWatcherStderrPassthrough(t *testing.T) {
	quietLogger(t)

	cfg := testConfig(t)
	cfg.Watchers = []core.WatcherConfig{
		shWatcher("tsc", "tsc", "Watching for file changes", "tsc",
			`echo "to stderr" 1>&2; echo "to stdout"; sleep 60`),
	}

	out := &syncBuffer{}
	startSupervisor(t, cfg, nil, out)

	// stdout arrives tagged, stderr verbatim
	waitFor(t, 5*time.Second, func() bool {
		return strings.Contains(out.String(), "[tsc] to stdout")
	}, "tagged stdout")
	waitFor(t, 5*time.Second, func() bool {
		return strings.Contains(out.String(), "to stderr")
	}, "stderr passthrough")
	if strings.Contains(out.String(), "[tsc] to stderr") {
		t.Error("stderr line was tagged as stdout")
	}
}

func TestWatcherUnderPTY(t *testing.T) {
	quietLogger(t)

	cfg := testConfig(t)
	cfg.PTY = true
	cfg.Watchers = []core.WatcherConfig{
		shWatcher("vscode", "vscode", "Finished compilation", "vs code watcher",
			`echo "Finished compilation"; sleep 60`),
	}

	out := &syncBuffer{}
	s, _ := startSupervisor(t, cfg, nil, out)

	// Trigger matching works the same over a pseudo-terminal
	waitFor(t, 5*time.Second, func() bool {
		return strings.Contains(out.String(), "[vscode] Finished compilation")
	}, "pty trigger echo")
	waitFor(t, 5*time.Second, func() bool { return serverPid(s) != 0 }, "server spawn")
}

func TestSpawnWatcherBadCommand(t *testing.T) {
	quietLogger(t)

	cfg := testConfig(t)
	cfg.Watchers = []core.WatcherConfig{
		{
			Name:      "vscode",
			Tag:       "vscode",
			Dir:       ".",
			Command:   []string{"/nonexistent/binary"},
			Trigger:   "Finished compilation",
			KillLabel: "vs code watcher",
		},
	}

	out := &syncBuffer{}
	s := New(cfg, nil)
	s.out = out
	s.errOut = out

	code := s.Run()
	if code != 1 {
		t.Errorf("expected exit code 1 on startup failure, got %d", code)
	}
	if !strings.Contains(out.String(), "killing watch") {
		t.Error("expected teardown to run after startup failure")
	}
}
