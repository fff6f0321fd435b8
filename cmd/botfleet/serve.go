// ABOUTME: serve and init subcommands: run the gateway and write a starter config
// ABOUTME: serve prints the banner and startup summary before handing off to the gateway

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/botfleet/internal/config"
	"github.com/2389/botfleet/internal/gateway"
)

func newServeCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the botfleet server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cyan := color.New(color.FgCyan)
			cyan.Print(banner)

			gray := color.New(color.FgHiBlack)
			gray.Printf("    version: %s\n\n", version)

			cfg, configPath, err := flags.load()
			if err != nil {
				return err
			}

			logger := setupLogger(cfg.Logging, os.Stdout)

			green := color.New(color.FgGreen)
			yellow := color.New(color.FgYellow)

			green.Print("    ▶ ")
			fmt.Printf("Config:    %s\n", configPath)
			green.Print("    ▶ ")
			fmt.Printf("Data:      %s\n", cfg.Data.Resolve("."))
			green.Print("    ▶ ")
			fmt.Printf("Plugins:   %s\n", cfg.Data.PluginPath())
			green.Print("    ▶ ")
			fmt.Printf("Agents:    %s", cfg.Agents.Driver)
			if cfg.Agents.Driver == config.DriverBridge {
				gray.Printf(" (%s)", cfg.Agents.BridgeURL)
			}
			fmt.Println()

			if cfg.Tailscale.Enabled {
				green.Print("    ▶ ")
				fmt.Printf("Tailscale: ")
				cyan.Print(cfg.Tailscale.Hostname)
				if cfg.Tailscale.Funnel {
					yellow.Print(" [funnel]")
				}
				if cfg.Tailscale.Ephemeral {
					gray.Print(" (ephemeral)")
				}
				fmt.Println()
			} else {
				green.Print("    ▶ ")
				fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
			}
			fmt.Println()

			logger.Info("starting botfleet",
				"config", configPath,
				"http_addr", cfg.Server.HTTPAddr,
				"driver", cfg.Agents.Driver,
			)

			gw, err := gateway.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("creating gateway: %w", err)
			}
			return gw.Run(cmd.Context())
		},
	}
}

func newInitCommand(flags *globalFlags) *cobra.Command {
	var (
		dataDir  string
		httpAddr string
		force    bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(flags.path(), dataDir, httpAddr, force, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", getDataPath(), "directory for bots, plugin records and bundles")
	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "listen address (default 127.0.0.1:3001)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func runInit(configPath, dataDir, httpAddr string, force bool, out io.Writer) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}

	cfg := config.Default()
	cfg.Data.Dir = dataDir
	if httpAddr != "" {
		cfg.Server.HTTPAddr = httpAddr
	}

	data, err := config.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	header := "# botfleet configuration\n# Generated by botfleet init\n\n"

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, append([]byte(header), data...), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	if err := os.MkdirAll(cfg.Data.PluginPath(), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Fprintf(out, "  ✓ Created config: %s\n", configPath)
	green.Fprintf(out, "  ✓ Data directory: %s\n", dataDir)
	fmt.Fprintln(out, "\nTo start the server:\n  botfleet serve")
	return nil
}
