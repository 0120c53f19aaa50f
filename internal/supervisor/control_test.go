package supervisor

import (
	"bufio"
	"encoding/json"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"go.olrik.dev/devwatch/internal/core"
	"go.olrik.dev/devwatch/internal/db"
)

func waitForSocket(t *testing.T, cfg *core.Configuration) {
	t.Helper()
	waitFor(t, 5*time.Second, func() bool {
		_, err := os.Stat(cfg.SocketPath())
		return err == nil
	}, "control socket")
}

func TestControlStatus(t *testing.T) {
	quietLogger(t)

	cfg := testConfig(t)
	cfg.Watchers = []core.WatcherConfig{
		shWatcher("vscode", "vscode", "Finished compilation", "vs code watcher",
			`echo "Finished compilation"; sleep 60`),
	}

	out := &syncBuffer{}
	s, _ := startSupervisor(t, cfg, nil, out)
	waitForSocket(t, cfg)
	waitFor(t, 5*time.Second, func() bool { return serverPid(s) != 0 }, "server spawn")

	response, err := SendCommandTo(cfg.SocketPath(), "STATUS")
	if err != nil {
		t.Fatalf("STATUS failed: %v", err)
	}

	raw, _ := json.Marshal(response.Data)
	var status Status
	if err := json.Unmarshal(raw, &status); err != nil {
		t.Fatalf("could not decode status payload: %v", err)
	}

	if status.Pid != os.Getpid() {
		t.Errorf("expected supervisor pid %d, got %d", os.Getpid(), status.Pid)
	}
	if len(status.Watchers) != 1 {
		t.Fatalf("expected 1 watcher in status, got %d", len(status.Watchers))
	}
	if status.Watchers[0].Name != "vscode" || status.Watchers[0].Pid == 0 {
		t.Errorf("unexpected watcher status: %+v", status.Watchers[0])
	}
	if status.Server == nil || status.Server.Pid != serverPid(s) {
		t.Errorf("expected server status with pid %d, got %+v", serverPid(s), status.Server)
	}
}

func TestControlVersion(t *testing.T) {
	quietLogger(t)

	cfg := testConfig(t)
	out := &syncBuffer{}
	startSupervisor(t, cfg, nil, out)
	waitForSocket(t, cfg)

	response, err := SendCommandTo(cfg.SocketPath(), "VERSION")
	if err != nil {
		t.Fatalf("VERSION failed: %v", err)
	}

	raw, _ := json.Marshal(response.Data)
	var payload map[string]string
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("could not decode version payload: %v", err)
	}
	if payload["version"] == "" {
		t.Error("expected a version string in the payload")
	}
}

func TestControlEvents(t *testing.T) {
	quietLogger(t)

	cfg := testConfig(t)
	cfg.Watchers = []core.WatcherConfig{
		shWatcher("tsc", "tsc", "Watching for file changes", "tsc", `sleep 60`),
	}

	out := &syncBuffer{}
	startSupervisor(t, cfg, nil, out)
	waitForSocket(t, cfg)

	response, err := SendCommandTo(cfg.SocketPath(), "EVENTS 10")
	if err != nil {
		t.Fatalf("EVENTS failed: %v", err)
	}

	raw, _ := json.Marshal(response.Data)
	var events []db.Event
	if err := json.Unmarshal(raw, &events); err != nil {
		t.Fatalf("could not decode events payload: %v", err)
	}

	// Session start and watcher start were journaled
	sources := make(map[string]bool)
	for _, ev := range events {
		sources[ev.Source] = true
	}
	if !sources["watch"] || !sources["tsc"] {
		t.Errorf("expected journal entries for watch and tsc, got sources %v", sources)
	}
}

func TestControlStop(t *testing.T) {
	quietLogger(t)

	cfg := testConfig(t)
	out := &syncBuffer{}
	_, codeChan := startSupervisor(t, cfg, nil, out)
	waitForSocket(t, cfg)

	response, err := SendCommandTo(cfg.SocketPath(), "STOP")
	if err != nil {
		t.Fatalf("STOP failed: %v", err)
	}
	if len(response.Messages) == 0 {
		t.Error("expected an acknowledgement message")
	}

	select {
	case code := <-codeChan:
		if code != 0 {
			t.Errorf("expected exit code 0 after STOP, got %d", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not exit after STOP")
	}

	// Socket and pid file are removed on teardown
	waitFor(t, 2*time.Second, func() bool {
		_, err := os.Stat(cfg.SocketPath())
		return os.IsNotExist(err)
	}, "socket removal")
	if _, err := os.Stat(cfg.PIDFilePath()); !os.IsNotExist(err) {
		t.Error("expected pid file to be removed")
	}
}

func TestControlUnknownCommand(t *testing.T) {
	quietLogger(t)

	cfg := testConfig(t)
	out := &syncBuffer{}
	startSupervisor(t, cfg, nil, out)
	waitForSocket(t, cfg)

	response, err := SendCommandTo(cfg.SocketPath(), "BOGUS")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if len(response.Messages) == 0 || response.Messages[0].Status != "ERROR" {
		t.Errorf("expected an ERROR message, got %+v", response.Messages)
	}
}

func TestControlLogsStream(t *testing.T) {
	quietLogger(t)

	cfg := testConfig(t)
	cfg.Watchers = []core.WatcherConfig{
		shWatcher("tsc", "tsc", "Watching for file changes", "tsc",
			`echo "history line"; sleep 0.3; echo "live line"; sleep 60`),
	}

	out := &syncBuffer{}
	startSupervisor(t, cfg, nil, out)
	waitForSocket(t, cfg)

	waitFor(t, 5*time.Second, func() bool {
		return strings.Contains(out.String(), "[tsc] history line")
	}, "history line echo")

	conn, err := net.Dial("unix", cfg.SocketPath())
	if err != nil {
		t.Fatalf("could not dial control socket: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("LOGS 100\n")); err != nil {
		t.Fatalf("could not send LOGS: %v", err)
	}

	scanner := bufio.NewScanner(conn)
	var streamed []string
	deadline := time.After(5 * time.Second)
	lines := make(chan string, 100)
	go func() {
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	sawHistory, sawLive := false, false
	for !(sawHistory && sawLive) {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatalf("stream closed early, got: %v", streamed)
			}
			streamed = append(streamed, line)
			if strings.Contains(line, "history line") {
				sawHistory = true
			}
			if strings.Contains(line, "live line") {
				sawLive = true
			}
		case <-deadline:
			t.Fatalf("timed out waiting for streamed lines, got: %v", streamed)
		}
	}
}
