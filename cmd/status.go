package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"go.olrik.dev/devwatch/internal/supervisor"
)

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show the running watch session",
		Aliases: []string{"st"},
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			response, err := supervisor.SendCommand("STATUS")
			if err != nil {
				slog.Info("No watch session is running")
				return
			}

			// Data arrives as generic JSON; round-trip into the typed status
			var status supervisor.Status
			raw, err := json.Marshal(response.Data)
			if err == nil {
				err = json.Unmarshal(raw, &status)
			}
			if err != nil {
				slog.Error(fmt.Sprintf("Failed to parse status response: %v", err))
				return
			}

			fmt.Printf("watch session: pid %d, version %s, up %s\n",
				status.Pid, status.Version, time.Since(status.StartTime).Round(time.Second))
			for _, w := range status.Watchers {
				fmt.Printf("  %-8s pid %-7d cpu %5.1f%%  rss %s\n",
					w.Name, w.Pid, w.CPUPercent, formatBytes(w.MemoryRSS))
			}
			if status.Server != nil {
				fmt.Printf("  %-8s pid %-7d cpu %5.1f%%  rss %s\n",
					"server", status.Server.Pid, status.Server.CPUPercent, formatBytes(status.Server.MemoryRSS))
			} else {
				fmt.Println("  server   not started (waiting for first finished build)")
			}
		},
	}
}

func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
