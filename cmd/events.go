package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"go.olrik.dev/devwatch/internal/db"
	"go.olrik.dev/devwatch/internal/supervisor"
)

func NewEventsCommand() *cobra.Command {
	var limit int

	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent lifecycle events of the running session",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			response, err := supervisor.SendCommand(fmt.Sprintf("EVENTS %d", limit))
			if err != nil {
				slog.Info("No watch session is running")
				return
			}
			response.LogMessages()

			var events []db.Event
			raw, err := json.Marshal(response.Data)
			if err == nil {
				err = json.Unmarshal(raw, &events)
			}
			if err != nil {
				slog.Error(fmt.Sprintf("Failed to parse events response: %v", err))
				return
			}

			for _, e := range events {
				fmt.Printf("%s  %-8s %-12s %s\n",
					e.Timestamp.Format("2006-01-02 15:04:05"), e.Source, e.EventType, e.Details)
			}
		},
	}
	eventsCmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of events to show")

	return eventsCmd
}
