package supervisor

import (
	"encoding/json"
	"fmt"
	"io"
	"net"

	"go.olrik.dev/devwatch/internal/core"
)

// SendCommand connects to the running supervisor, sends a command, and
// returns the parsed response.
func SendCommand(command string) (Response, error) {
	return SendCommandTo(core.Config.SocketPath(), command)
}

// SendCommandTo sends a command over the given control socket.
func SendCommandTo(socketPath, command string) (Response, error) {
	response := Response{}

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return response, err
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(command + "\n")); err != nil {
		return response, fmt.Errorf("failed to send command to supervisor: %w", err)
	}
	bytes, err := io.ReadAll(conn)
	if err != nil {
		return response, fmt.Errorf("failed to read response from supervisor: %w", err)
	}

	if err := json.Unmarshal(bytes, &response); err != nil {
		return response, fmt.Errorf("failed to parse response from supervisor: %w", err)
	}

	return response, nil
}
