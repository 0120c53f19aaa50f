package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/spf13/cobra"
)

const (
	BaseDirName    = ".config/devwatch"
	ConfigFileName = "devwatch.hcl"
	PidFileName    = "watch.pid"
	SocketName     = "watch.sock"
	DatabaseName   = "devwatch.db"

	// PluginDirEnv designates an external plugin checkout. When set, an
	// additional build watcher is spawned in that directory and supervised
	// like the built-in ones.
	PluginDirEnv = "PLUGIN_DIR"
)

// Config is the global configuration instance
var Config *Configuration

// Configuration represents the complete devwatch configuration
type Configuration struct {
	ConfigPath string // Directory containing config, socket, pid and db files
	Verbose    int    // Verbosity level
	PTY        bool   // Run watchers under a pseudo-terminal to keep colored output
	Server     ServerConfig
	Watchers   []WatcherConfig
}

// ServerConfig describes how the application server process is launched
type ServerConfig struct {
	Command string   // Interpreter binary, e.g. "node"
	Entry   string   // Compiled server entry module
	Args    []string // Fixed arguments placed before the passthrough arguments
}

// WatcherConfig describes a single build watcher subprocess
type WatcherConfig struct {
	Name      string   // Unique watcher name
	Tag       string   // Output tag for echoed lines, e.g. "vscode"
	Dir       string   // Working directory for the spawn
	Command   []string // Command and arguments
	Trigger   string   // Substring that marks a completed build; empty means never
	KillLabel string   // Human label used in the "killing <label>" status line
}

// HCL parsing structs

type hclConfig struct {
	Verbose  int          `hcl:"verbose,optional"`
	PTY      *bool        `hcl:"pty,optional"`
	Server   *hclServer   `hcl:"server,block"`
	Watchers []hclWatcher `hcl:"watcher,block"`
}

type hclServer struct {
	Command string   `hcl:"command,optional"`
	Entry   string   `hcl:"entry,optional"`
	Args    []string `hcl:"args,optional"`
}

type hclWatcher struct {
	Name      string   `hcl:"name,label"`
	Tag       string   `hcl:"tag,optional"`
	Dir       string   `hcl:"dir,optional"`
	Command   []string `hcl:"command"`
	Trigger   string   `hcl:"trigger,optional"`
	KillLabel string   `hcl:"kill_label,optional"`
}

// DefaultConfiguration returns the built-in watcher set: the editor source
// build, the web extension build and the type checker. The plugin watcher is
// appended at load time when PLUGIN_DIR is set.
func DefaultConfiguration() *Configuration {
	return &Configuration{
		Server: ServerConfig{
			Command: "node",
			Entry:   "out/node/entry.js",
		},
		Watchers: []WatcherConfig{
			{
				Name:      "vscode",
				Tag:       "vscode",
				Dir:       ".",
				Command:   []string{"yarn", "watch"},
				Trigger:   "Finished compilation",
				KillLabel: "vs code watcher",
			},
			{
				Name:      "web",
				Tag:       "vscode",
				Dir:       ".",
				Command:   []string{"yarn", "watch-web"},
				Trigger:   "Finished compilation",
				KillLabel: "web extension watcher",
			},
			{
				Name:      "tsc",
				Tag:       "tsc",
				Dir:       ".",
				Command:   []string{"tsc", "--watch", "--pretty"},
				Trigger:   "Watching for file changes",
				KillLabel: "tsc",
			},
		},
	}
}

// pluginWatcher builds the optional plugin watcher for the given directory.
// It shares the type checker's trigger phrase: the plugin build tool prints
// the same line when it settles into watch mode.
func pluginWatcher(dir string) WatcherConfig {
	return WatcherConfig{
		Name:      "plugin",
		Tag:       "plugin",
		Dir:       dir,
		Command:   []string{"yarn", "build", "--watch"},
		Trigger:   "Watching for file changes",
		KillLabel: "plugin",
	}
}

// LoadConfig loads the configuration file from configPath, falling back to
// built-in defaults when the file does not exist. A watcher block list in the
// file replaces the built-in watcher set entirely.
func LoadConfig(configPath string) (*Configuration, error) {
	cfg := DefaultConfiguration()
	cfg.ConfigPath = configPath

	filePath := filepath.Join(configPath, ConfigFileName)
	if _, err := os.Stat(filePath); err == nil {
		var parsed hclConfig
		if err := hclsimple.DecodeFile(filePath, nil, &parsed); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filePath, err)
		}
		applyHCL(cfg, &parsed)
	}

	if dir := os.Getenv(PluginDirEnv); dir != "" {
		cfg.Watchers = append(cfg.Watchers, pluginWatcher(ExpandPath(dir)))
	}

	for i := range cfg.Watchers {
		w := &cfg.Watchers[i]
		if len(w.Command) == 0 {
			return nil, fmt.Errorf("watcher %q has no command", w.Name)
		}
		if w.Tag == "" {
			w.Tag = w.Name
		}
		if w.KillLabel == "" {
			w.KillLabel = w.Name
		}
		if w.Dir == "" {
			w.Dir = "."
		}
	}

	return cfg, nil
}

func applyHCL(cfg *Configuration, parsed *hclConfig) {
	if parsed.Verbose > 0 {
		cfg.Verbose = parsed.Verbose
	}
	if parsed.PTY != nil {
		cfg.PTY = *parsed.PTY
	}
	if parsed.Server != nil {
		if parsed.Server.Command != "" {
			cfg.Server.Command = parsed.Server.Command
		}
		if parsed.Server.Entry != "" {
			cfg.Server.Entry = parsed.Server.Entry
		}
		if len(parsed.Server.Args) > 0 {
			cfg.Server.Args = parsed.Server.Args
		}
	}
	if len(parsed.Watchers) > 0 {
		watchers := make([]WatcherConfig, 0, len(parsed.Watchers))
		for _, w := range parsed.Watchers {
			watchers = append(watchers, WatcherConfig{
				Name:      w.Name,
				Tag:       w.Tag,
				Dir:       ExpandPath(w.Dir),
				Command:   w.Command,
				Trigger:   w.Trigger,
				KillLabel: w.KillLabel,
			})
		}
		cfg.Watchers = watchers
	}
}

// InitializeConfig loads the configuration using the root command's
// persistent flags and stores it in the package-level Config.
func InitializeConfig(cmd *cobra.Command) error {
	configPath, err := cmd.Root().PersistentFlags().GetString("config-path")
	if err != nil {
		return fmt.Errorf("unable to determine config path: %w", err)
	}
	verbose, _ := cmd.Root().PersistentFlags().GetCount("verbose")

	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	if verbose > cfg.Verbose {
		cfg.Verbose = verbose
	}

	Config = cfg
	return nil
}

// SocketPath returns the control socket path
func (c *Configuration) SocketPath() string {
	return filepath.Join(c.ConfigPath, SocketName)
}

// PIDFilePath returns the pid file path
func (c *Configuration) PIDFilePath() string {
	return filepath.Join(c.ConfigPath, PidFileName)
}

// DatabasePath returns the event journal path
func (c *Configuration) DatabasePath() string {
	return filepath.Join(c.ConfigPath, DatabaseName)
}

// ConfigFilePath returns the configuration file path
func (c *Configuration) ConfigFilePath() string {
	return filepath.Join(c.ConfigPath, ConfigFileName)
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home + path[1:]
	}
	return path
}
