package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"go.olrik.dev/devwatch/internal/core"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the devwatch version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("devwatch %s\n", core.FormatVersion(core.Version))
		},
	}
}
