package cmd

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"go.olrik.dev/devwatch/internal/supervisor"
)

func NewStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "stop",
		Short:   "Stop the running watch session",
		Long:    `Stop the running watch session, tearing down every watcher and the server.`,
		Aliases: []string{"shutdown", "quit"},
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			response, err := supervisor.SendCommand("STOP")
			if err != nil {
				slog.Warn("No watch session is running")
				return
			}
			response.LogMessages()

			// Poll briefly until the session is actually gone
			maxWait := 5 * time.Second
			pollInterval := 100 * time.Millisecond
			for elapsed := time.Duration(0); elapsed < maxWait; elapsed += pollInterval {
				time.Sleep(pollInterval)
				if _, err := supervisor.SendCommand("STATUS"); err != nil {
					slog.Debug("Watch session shutdown confirmed")
					return
				}
			}
			slog.Warn("Watch session did not shut down within timeout, but stop command was sent")
		},
	}
}
