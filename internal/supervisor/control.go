package supervisor

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"go.olrik.dev/devwatch/internal/core"
)

// ProcessStatus describes one managed subprocess for the STATUS command
type ProcessStatus struct {
	Name       string    `json:"name"`
	Tag        string    `json:"tag,omitempty"`
	Pid        int       `json:"pid"`
	StartTime  time.Time `json:"start_time"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
}

// Status is the STATUS command payload
type Status struct {
	Pid       int             `json:"pid"`
	Version   string          `json:"version"`
	StartTime time.Time       `json:"start_time"`
	Watchers  []ProcessStatus `json:"watchers"`
	Server    *ProcessStatus  `json:"server,omitempty"`
}

// startControl creates the unix control socket, recovering from a stale
// socket file left by a previous run, and writes the pid file.
func (s *Supervisor) startControl() error {
	socketPath := s.cfg.SocketPath()

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		if _, statErr := os.Stat(socketPath); statErr == nil {
			// Socket file exists; see whether a supervisor is actually behind it
			conn, dialErr := net.Dial("unix", socketPath)
			if dialErr == nil {
				conn.Close()
				return fmt.Errorf("another watch session is already running on %s", socketPath)
			}
			slog.Info("Removing stale socket file", "path", socketPath)
			if removeErr := os.Remove(socketPath); removeErr != nil {
				return fmt.Errorf("could not remove stale socket: %w", removeErr)
			}
			listener, err = net.Listen("unix", socketPath)
		}
		if err != nil {
			return fmt.Errorf("could not create control socket: %w", err)
		}
	}

	s.writePIDFile()
	s.listener = listener
	slog.Debug("Control socket listening", "path", socketPath)

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return // listener closed during cleanup
			}
			go s.handleConnection(conn)
		}
	}()

	return nil
}

func (s *Supervisor) handleConnection(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return
	}

	parts := strings.Fields(scanner.Text())
	if len(parts) == 0 {
		return
	}
	command, args := parts[0], parts[1:]

	var response Response
	switch command {
	case "STATUS":
		response.AddData(s.gatherStatus())

	case "VERSION":
		response.AddData(map[string]string{"version": core.FormatVersion(core.Version)})

	case "EVENTS":
		limit := 20
		if len(args) > 0 {
			if n, err := strconv.Atoi(args[0]); err == nil && n > 0 {
				limit = n
			}
		}
		if s.database == nil {
			response.AddMessage("Event journal is not available", "WARN")
			break
		}
		events, err := s.database.RecentEvents(limit)
		if err != nil {
			response.AddMessage(fmt.Sprintf("Failed to read events: %v", err), "ERROR")
			break
		}
		response.AddData(events)

	case "LOGS":
		lines := 20
		if len(args) > 0 {
			if n, err := strconv.Atoi(args[0]); err == nil && n >= 0 {
				lines = n
			}
		}
		s.streamLogs(conn, lines)
		return // streaming command, no JSON response

	case "STOP":
		response.AddMessage("Shutting down watch session", "INFO")
		conn.Write([]byte(response.ToJSON()))
		s.RequestStop()
		return

	default:
		response.AddMessage(fmt.Sprintf("Unknown command: %s", command), "ERROR")
	}

	conn.Write([]byte(response.ToJSON()))
}

// gatherStatus collects per-process resource usage for every managed child
func (s *Supervisor) gatherStatus() Status {
	status := Status{
		Pid:       os.Getpid(),
		Version:   core.FormatVersion(core.Version),
		StartTime: s.startTime,
	}

	s.mu.Lock()
	watchers := append([]*WatcherProcess(nil), s.watchers...)
	s.mu.Unlock()

	for _, w := range watchers {
		ps := ProcessStatus{
			Name:      w.Name,
			Tag:       w.Tag,
			Pid:       w.Pid,
			StartTime: w.StartTime,
		}
		fillUsage(&ps)
		status.Watchers = append(status.Watchers, ps)
	}

	s.mu.Lock()
	serverPid := s.serverPid
	hasServer := s.server != nil
	s.mu.Unlock()
	if hasServer {
		ps := ProcessStatus{Name: "server", Pid: serverPid}
		fillUsage(&ps)
		status.Server = &ps
	}

	return status
}

// fillUsage is best-effort; a process that just exited simply reports zeros
func fillUsage(ps *ProcessStatus) {
	proc, err := process.NewProcess(int32(ps.Pid))
	if err != nil {
		return
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		ps.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		ps.MemoryRSS = mem.RSS
	}
}

// streamLogs replays recent history and then follows the tagged output feed
// until the client disconnects or the supervisor shuts down.
func (s *Supervisor) streamLogs(conn net.Conn, historyLines int) {
	logChan, history := s.logFeed.SubscribeWithHistory(historyLines)
	defer s.logFeed.Unsubscribe(logChan)

	for _, line := range history {
		if _, err := conn.Write([]byte(line)); err != nil {
			return
		}
	}

	// Detect client disconnect
	done := make(chan bool)
	go func() {
		reader := bufio.NewReader(conn)
		io.Copy(io.Discard, reader)
		done <- true
	}()

	for {
		select {
		case line, ok := <-logChan:
			if !ok {
				return
			}
			if _, err := conn.Write([]byte(line)); err != nil {
				return
			}
		case <-done:
			return
		case <-s.ctx.Done():
			return
		}
	}
}
