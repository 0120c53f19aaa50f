package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sys/unix"

	"go.olrik.dev/devwatch/internal/core"
	"go.olrik.dev/devwatch/internal/db"
)

// Supervisor owns the lifecycle of the build watcher subprocesses and the
// single restartable application server process. All mutable state, the
// server slot included, is owned by the Run loop; watcher pumps and control
// connections communicate with it exclusively through the events channel.
type Supervisor struct {
	cfg  *core.Configuration
	args []string // passthrough arguments for the server process

	out    io.Writer // tagged echo and status lines
	errOut io.Writer // subprocess stderr passthrough and fatal errors

	events   chan any
	watchers []*WatcherProcess

	// Server slot. Written only by the Run loop; mu guards reads from
	// control connections.
	server    *exec.Cmd
	serverPid int
	mu        sync.Mutex

	stopOnce  sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	listener  net.Listener
	database  *db.DB
	logFeed   *LogBroadcaster
	startTime time.Time
}

// Line and exit notifications delivered to the Run loop. Per-subprocess
// ordering is preserved by each pump goroutine; interleaving across
// subprocesses is whatever the channel sees.

type lineEvent struct {
	tag     string
	trigger string
	trimmed string
	raw     string
}

type watcherExitEvent struct {
	watcher *WatcherProcess
	code    int
	err     error
}

type serverExitEvent struct {
	pid int
	err error
}

type stopRequest struct {
	code int
}

// New creates a supervisor for the given configuration. args are forwarded
// unchanged to every server process spawn.
func New(cfg *core.Configuration, args []string) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		cfg:     cfg,
		args:    args,
		out:     os.Stdout,
		errOut:  os.Stderr,
		events:  make(chan any, 256),
		logFeed: NewLogBroadcaster(1000),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Run starts all watchers and processes events until a shutdown trigger
// arrives. Returns the process exit code: 0 for signal or STOP shutdown, the
// watcher's exit code when a watcher dies on its own, 1 on startup failure.
func (s *Supervisor) Run() int {
	s.startTime = time.Now()

	// Event journal is best-effort; the supervisor runs without it
	if database, err := db.Open(s.cfg.DatabasePath()); err != nil {
		slog.Error("Failed to open event journal", "error", err, "path", s.cfg.DatabasePath())
	} else {
		s.database = database
		s.logJournal("watch", "start", fmt.Sprintf("version: %s, PID: %d", core.FormatVersion(core.Version), os.Getpid()))
	}

	if err := s.startControl(); err != nil {
		slog.Error("Failed to start control socket", "error", err)
	}

	// Register before spawning so a signal during startup still tears down
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, unix.SIGINT, unix.SIGTERM)
	defer signal.Stop(sigChan)

	for i := range s.cfg.Watchers {
		w, err := s.spawnWatcher(&s.cfg.Watchers[i])
		if err != nil {
			fmt.Fprintf(s.errOut, "%v\n", err)
			s.cleanup(1)
			return 1
		}
		s.mu.Lock()
		s.watchers = append(s.watchers, w)
		s.mu.Unlock()
	}

	s.watchConfigFile()

	for {
		select {
		case sig := <-sigChan:
			slog.Info("Shutdown signal received", "signal", sig)
			s.cleanup(0)
			return 0

		case ev := <-s.events:
			switch ev := ev.(type) {
			case lineEvent:
				if ev.trimmed != "" {
					s.echo(fmt.Sprintf("[%s] %s", ev.tag, ev.raw))
				}
				if ev.trigger != "" && strings.Contains(ev.trimmed, ev.trigger) {
					s.restartServer()
				}

			case watcherExitEvent:
				// Watchers run until killed; an exit on their own is fatal
				// for the whole session.
				slog.Error("Watcher exited unexpectedly",
					"watcher", ev.watcher.Name,
					"code", ev.code,
					"error", ev.err)
				s.logJournal(ev.watcher.Name, "exit", fmt.Sprintf("code: %d", ev.code))
				s.cleanup(ev.code)
				return ev.code

			case serverExitEvent:
				// Informational only. A fresh instance arrives with the
				// next trigger; no proactive respawn.
				s.echo(fmt.Sprintf("server exited %d", ev.pid))
				s.logJournal("server", "exit", fmt.Sprintf("PID: %d", ev.pid))

			case stopRequest:
				slog.Info("Stop requested over control socket")
				s.cleanup(ev.code)
				return ev.code
			}
		}
	}
}

// RequestStop asks the Run loop to tear everything down with exit code 0.
func (s *Supervisor) RequestStop() {
	select {
	case s.events <- stopRequest{code: 0}:
	case <-s.ctx.Done():
	}
}

// restartServer kills the current server slot occupant, if any, then spawns
// a fresh one. Runs only on the Run loop goroutine, so the kill and spawn of
// one invocation never interleave with another.
func (s *Supervisor) restartServer() {
	s.mu.Lock()
	prev := s.server
	prevPid := s.serverPid
	s.mu.Unlock()

	if prev != nil && prev.Process != nil {
		slog.Debug("Killing previous server before restart", "pid", prevPid)
		killProcess(prev.Process, unix.SIGTERM)
		s.logJournal("server", "stop", fmt.Sprintf("PID: %d (replaced)", prevPid))
	}

	argv := append([]string{}, s.cfg.Server.Args...)
	argv = append(argv, s.cfg.Server.Entry)
	argv = append(argv, s.args...)

	cmd := exec.Command(s.cfg.Server.Command, argv...)
	cmd.Env = os.Environ()
	cmd.Stderr = s.errOut
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		slog.Error("Failed to create server stdout pipe", "error", err)
		return
	}

	if err := cmd.Start(); err != nil {
		slog.Error("Failed to start server", "error", err)
		s.logJournal("server", "start_failed", err.Error())
		s.mu.Lock()
		s.server = nil
		s.serverPid = 0
		s.mu.Unlock()
		return
	}

	pid := cmd.Process.Pid
	s.mu.Lock()
	s.server = cmd
	s.serverPid = pid
	s.mu.Unlock()

	s.echo(fmt.Sprintf("server started %d", pid))
	s.logJournal("server", "start", fmt.Sprintf("PID: %d", pid))

	// Drain stdout through the line reader, then reap. The exit
	// notification is informational and never triggers teardown.
	go func() {
		s.pumpLines("server", "", stdout)
		err := cmd.Wait()
		select {
		case s.events <- serverExitEvent{pid: pid, err: err}:
		case <-s.ctx.Done():
		}
	}()
}

// cleanup tears everything down exactly once: detach the pumps first so
// teardown feeds no further events into the loop, then signal every
// subprocess, then release the control socket and journal.
func (s *Supervisor) cleanup(code int) {
	s.stopOnce.Do(func() {
		s.cancel()

		for _, w := range s.watchers {
			s.echo("killing " + w.KillLabel)
			killProcess(w.Process(), unix.SIGTERM)
			s.logJournal(w.Name, "stop", fmt.Sprintf("PID: %d", w.Pid))
		}

		s.mu.Lock()
		server := s.server
		serverPid := s.serverPid
		s.mu.Unlock()
		if server != nil && server.Process != nil {
			s.echo("killing server")
			killProcess(server.Process, unix.SIGTERM)
			s.logJournal("server", "stop", fmt.Sprintf("PID: %d", serverPid))
		}

		if s.listener != nil {
			s.listener.Close()
		}
		os.Remove(s.cfg.SocketPath())
		os.Remove(s.cfg.PIDFilePath())

		if s.database != nil {
			s.logJournal("watch", "stop", fmt.Sprintf("exit code: %d", code))
			if err := s.database.Flush(); err != nil {
				slog.Error("Failed to flush event journal", "error", err)
			}
			if err := s.database.Close(); err != nil {
				slog.Error("Failed to close event journal", "error", err)
			}
		}

		s.echo("killing watch")
	})
}

// echo writes a line to the supervisor's stdout and the attached log feed
func (s *Supervisor) echo(line string) {
	fmt.Fprintln(s.out, line)
	s.logFeed.Broadcast(line + "\n")
}

// pumpLines feeds one subprocess output stream into the event loop,
// preserving the stream's own ordering.
func (s *Supervisor) pumpLines(tag, trigger string, r io.Reader) {
	forEachLine(r, func(trimmed, raw string) {
		select {
		case s.events <- lineEvent{tag: tag, trigger: trigger, trimmed: trimmed, raw: raw}:
		case <-s.ctx.Done():
		}
	})
}

func (s *Supervisor) logJournal(source, eventType, details string) {
	if s.database == nil {
		return
	}
	if err := s.database.LogEvent(source, eventType, details); err != nil {
		slog.Error("Failed to journal event", "error", err)
	}
}

// killProcess signals the process group so build tool children receive the
// signal too, falling back to the process itself. Tolerates handles whose
// process has already exited.
func killProcess(process *os.Process, sig unix.Signal) {
	if process == nil {
		return
	}
	if err := unix.Kill(-process.Pid, sig); err != nil {
		if err := process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
			slog.Debug("Failed to signal process", "pid", process.Pid, "error", err)
		}
	}
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
	}
	return 1
}

// watchConfigFile watches the configuration file and logs a notice on
// change. The watcher set is fixed for the lifetime of the session, so
// changes apply on the next run rather than hot-reloading.
func (s *Supervisor) watchConfigFile() {
	configPath := s.cfg.ConfigFilePath()
	if _, err := os.Stat(configPath); err != nil {
		return // no config file, nothing to watch
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("Failed to create config file watcher", "error", err)
		return
	}
	if err := watcher.Add(configPath); err != nil {
		slog.Error("Failed to watch config file", "error", err, "path", configPath)
		watcher.Close()
		return
	}

	var notifyTimer *time.Timer
	var notifyMu sync.Mutex

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-s.ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				// Editors using atomic writes remove the original from the
				// watch list; re-add after rename/remove/create.
				if event.Op&(fsnotify.Rename|fsnotify.Remove|fsnotify.Create) != 0 {
					watcher.Remove(configPath)
					if err := watcher.Add(configPath); err != nil {
						slog.Debug("Failed to re-add config watch", "error", err)
					}
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				notifyMu.Lock()
				if notifyTimer != nil {
					notifyTimer.Stop()
				}
				notifyTimer = time.AfterFunc(500*time.Millisecond, func() {
					slog.Info("Configuration file changed; changes take effect on the next watch run", "file", configPath)
				})
				notifyMu.Unlock()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Config file watcher error", "error", err)
			}
		}
	}()
}

// writePIDFile records the supervisor's own pid for operator tooling
func (s *Supervisor) writePIDFile() {
	os.WriteFile(s.cfg.PIDFilePath(), []byte(strconv.Itoa(os.Getpid())), 0o644)
}
