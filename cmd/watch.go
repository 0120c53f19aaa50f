package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"go.olrik.dev/devwatch/internal/core"
	"go.olrik.dev/devwatch/internal/supervisor"
)

func NewWatchCommand() *cobra.Command {
	var usePTY bool

	watchCmd := &cobra.Command{
		Use:   "watch [-- server arguments...]",
		Short: "Run the build watchers and the restartable server",
		Long: `Run the build watchers in the foreground and restart the application
server whenever a watcher reports a finished build.

Arguments after -- are forwarded unchanged to every server process spawn:

  devwatch watch -- --port 8080

Set PLUGIN_DIR to additionally build and watch an external plugin checkout.
Press Ctrl+C to stop; every subprocess is torn down before exit.`,
		Args: cobra.ArbitraryArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if cmd.Flags().Changed("pty") {
				core.Config.PTY = usePTY
			}
			sup := supervisor.New(core.Config, args)
			os.Exit(sup.Run())
		},
	}
	watchCmd.Flags().BoolVar(&usePTY, "pty", false, "run watchers under a pseudo-terminal to keep colored output")

	return watchCmd
}
