package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"go.olrik.dev/devwatch/internal/core"
	"go.olrik.dev/devwatch/internal/supervisor"
)

func NewLogsCommand() *cobra.Command {
	var lines int

	logsCmd := &cobra.Command{
		Use:     "logs",
		Aliases: []string{"log"},
		Short:   "Stream the tagged watcher output of the running session",
		Long: `Stream the tagged watcher output feed of the running watch session.

Press Ctrl+C to exit. Shows recent history on connect, then follows live
output until the session ends or you disconnect.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if _, err := supervisor.SendCommand("STATUS"); err != nil {
				slog.Error("No watch session is running")
				os.Exit(1)
			}

			conn, err := net.Dial("unix", core.Config.SocketPath())
			if err != nil {
				slog.Error(fmt.Sprintf("Failed to connect to watch session: %v", err))
				os.Exit(1)
			}
			defer conn.Close()

			if _, err := conn.Write([]byte(fmt.Sprintf("LOGS %d\n", lines))); err != nil {
				slog.Error(fmt.Sprintf("Failed to send logs command: %v", err))
				os.Exit(1)
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigChan
				conn.Close()
			}()

			io.Copy(os.Stdout, conn)
		},
	}
	logsCmd.Flags().IntVarP(&lines, "lines", "L", 20, "history lines to show on connect")

	return logsCmd
}
