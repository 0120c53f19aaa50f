package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"go.olrik.dev/devwatch/internal/core"
)

func NewRootCommand() *cobra.Command {
	var configPath string
	var verbose int

	homeDir, _ := os.UserHomeDir()

	rootCmd := &cobra.Command{
		Use:   "devwatch",
		Short: "devwatch - development watch supervisor",
		Long: `devwatch coordinates the build watchers of an editor-server codebase and
restarts the application server whenever a watcher reports a finished build.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := core.InitializeConfig(cmd); err != nil {
				return err
			}
			setupLogging(core.Config.Verbose)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(
		&configPath, "config-path", fmt.Sprintf("%s/%s", homeDir, core.BaseDirName),
		"config path",
	)
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "more output, repeat for even more")

	rootCmd.AddCommand(
		NewWatchCommand(),
		NewStatusCommand(),
		NewLogsCommand(),
		NewStopCommand(),
		NewEventsCommand(),
		NewVersionCommand(),
	)

	return rootCmd
}

// setupLogging points slog at stderr; stdout is reserved for the tagged
// watcher echo and supervisor status lines.
func setupLogging(verbose int) {
	level := slog.LevelInfo
	if verbose > 0 {
		level = slog.LevelDebug
	}
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
		NoColor:    !term.IsTerminal(int(os.Stderr.Fd())),
	})
	slog.SetDefault(slog.New(handler))
}
