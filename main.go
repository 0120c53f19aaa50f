package main

import (
	"fmt"
	"os"

	"go.olrik.dev/devwatch/cmd"
)

func main() {
	// If no command specified, default to watch
	if len(os.Args) == 1 {
		os.Args = []string{os.Args[0], "watch"}
	}

	root := cmd.NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
