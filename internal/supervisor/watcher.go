package supervisor

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"

	"go.olrik.dev/devwatch/internal/core"
)

// WatcherProcess is a handle to one spawned build watcher. Watchers are never
// restarted individually; the handle is created once at startup and killed
// exactly once during cleanup.
type WatcherProcess struct {
	Name      string
	Tag       string
	Dir       string
	Trigger   string
	KillLabel string
	Cmd       *exec.Cmd
	Pid       int
	StartTime time.Time

	ptyFile *os.File // set when running under a pseudo-terminal
}

// Process returns the underlying os.Process handle, or nil before start
func (w *WatcherProcess) Process() *os.Process {
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Process
}

// spawnWatcher starts one build watcher in its configured directory, wires
// its stdout through the line reader into the event loop, and forwards its
// stderr verbatim. Under PTY mode the tool sees a terminal (keeping colored
// output) and stdout/stderr arrive merged on the terminal device.
func (s *Supervisor) spawnWatcher(cfg *core.WatcherConfig) (*WatcherProcess, error) {
	cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
	cmd.Dir = cfg.Dir
	cmd.Env = os.Environ()

	var lines io.Reader
	var ptyFile *os.File

	if s.cfg.PTY {
		f, err := pty.Start(cmd)
		if err != nil {
			return nil, fmt.Errorf("failed to start %s watcher under pty: %w", cfg.Name, err)
		}
		ptyFile = f
		lines = f
	} else {
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout pipe for %s watcher: %w", cfg.Name, err)
		}
		cmd.Stderr = s.errOut
		// Own process group so cleanup can signal the tool's children too
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("failed to start %s watcher: %w", cfg.Name, err)
		}
		lines = stdout
	}

	w := &WatcherProcess{
		Name:      cfg.Name,
		Tag:       cfg.Tag,
		Dir:       cfg.Dir,
		Trigger:   cfg.Trigger,
		KillLabel: cfg.KillLabel,
		Cmd:       cmd,
		Pid:       cmd.Process.Pid,
		StartTime: time.Now(),
		ptyFile:   ptyFile,
	}

	slog.Info("Watcher started", "name", cfg.Name, "pid", w.Pid, "dir", cfg.Dir)
	s.logJournal(cfg.Name, "start", fmt.Sprintf("PID: %d", w.Pid))

	// Drain lines until the stream closes, then reap and report the exit.
	// Context cancellation during cleanup detaches the notification, so a
	// kill we issued ourselves never re-enters the loop as an exit event.
	go func() {
		s.pumpLines(cfg.Tag, cfg.Trigger, lines)
		err := cmd.Wait()
		if ptyFile != nil {
			ptyFile.Close()
		}
		select {
		case s.events <- watcherExitEvent{watcher: w, code: exitCodeOf(err), err: err}:
		case <-s.ctx.Done():
		}
	}()

	return w, nil
}
