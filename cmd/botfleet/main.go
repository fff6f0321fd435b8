// ABOUTME: Entry point for the botfleet server and its operator commands
// ABOUTME: serve runs the gateway; init, health, status, plugins, start and stop talk to files or a running server

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/2389/botfleet/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _           _    __ _           _
| |__   ___ | |_ / _| | ___  ___| |_
| '_ \ / _ \| __| |_| |/ _ \/ _ \ __|
| |_) | (_) | |_|  _| |  __/  __/ |_
|_.__/ \___/ \__|_| |_|\___|\___|\__|
`

// getConfigPath returns the path to the botfleet config file.
// Priority: BOTFLEET_CONFIG env var > XDG_CONFIG_HOME/botfleet/botfleet.yaml > ~/.config/botfleet/botfleet.yaml
func getConfigPath() string {
	if envPath := os.Getenv("BOTFLEET_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "botfleet.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "botfleet", "botfleet.yaml")
}

// getDataPath returns the default botfleet data directory.
// Priority: XDG_DATA_HOME/botfleet > ~/.local/share/botfleet
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "botfleet")
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	addr       string
}

func (g *globalFlags) path() string {
	if g.configPath != "" {
		return g.configPath
	}
	return getConfigPath()
}

func (g *globalFlags) load() (*config.Config, string, error) {
	path := g.path()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "botfleet",
		Short: "Run and manage a fleet of game bots and their plugins",
		Long: `botfleet keeps a fleet of game-client bots connected, activates each bot's
enabled plugins once it logs in, and serves a management API and live status
feed for operators.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file (default: $BOTFLEET_CONFIG or ~/.config/botfleet/botfleet.yaml)")
	root.PersistentFlags().StringVar(&flags.addr, "addr", "", "server address for client commands (default: server.http_addr from config)")

	root.AddCommand(
		newServeCommand(flags),
		newInitCommand(flags),
		newHealthCommand(flags),
		newStatusCommand(flags),
		newPluginsCommand(flags),
		newBotActionCommand(flags, "start", "Start a configured bot"),
		newBotActionCommand(flags, "stop", "Stop a running bot"),
	)
	return root
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
