// ABOUTME: Operator commands that query or drive a running botfleet server over HTTP
// ABOUTME: health probes readiness; status and plugins print tables; start and stop post bot actions

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/botfleet/internal/agent"
	"github.com/2389/botfleet/internal/plugins"
)

// apiClient talks to a running server.
type apiClient struct {
	base string
	http *http.Client
}

func (g *globalFlags) client() (*apiClient, error) {
	addr := g.addr
	if addr == "" {
		cfg, _, err := g.load()
		if err != nil {
			return nil, err
		}
		addr = cfg.Server.HTTPAddr
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &apiClient{base: strings.TrimSuffix(addr, "/"), http: &http.Client{Timeout: 10 * time.Second}}, nil
}

// do sends a request and decodes a 2xx JSON reply into out. Error replies
// are returned as errors carrying the server's message and kind.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (%s)", apiErr.Error, apiErr.Kind)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	return nil
}

func newHealthCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the server is ready",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			if err := c.do(cmd.Context(), http.MethodGet, "/health/ready", nil, nil); err != nil {
				return fmt.Errorf("unhealthy: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "healthy")
			return nil
		},
	}
}

func newStatusCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List running bots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			var running map[string]agent.Record
			if err := c.do(cmd.Context(), http.MethodGet, "/api/bots/status", nil, &running); err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), running)
			return nil
		},
	}
}

func statusColor(s agent.Status) func(format string, a ...any) string {
	switch s {
	case agent.StatusOnline:
		return color.GreenString
	case agent.StatusConnecting:
		return color.YellowString
	case agent.StatusFaulted:
		return color.RedString
	default:
		return color.HiBlackString
	}
}

func printStatus(out io.Writer, running map[string]agent.Record) {
	if len(running) == 0 {
		fmt.Fprintln(out, "no bots running")
		return
	}
	names := make([]string, 0, len(running))
	for name := range running {
		names = append(names, name)
	}
	slices.Sort(names)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BOT\tSTATUS\tSERVER\tPLUGINS\tSINCE")
	for _, name := range names {
		r := running[name]
		fmt.Fprintf(tw, "%s\t%s\t%s:%d\t%s\t%s\n",
			name,
			statusColor(r.Status)("%s", r.Status),
			r.Server, r.Port,
			strings.Join(r.EnabledPlugins, ","),
			r.StartedAt.Format(time.DateTime),
		)
	}
	_ = tw.Flush()
}

func newPluginsCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List loaded plugin bundles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			var infos []plugins.Info
			if err := c.do(cmd.Context(), http.MethodGet, "/api/plugins", nil, &infos); err != nil {
				return err
			}
			printPlugins(cmd.OutOrStdout(), infos)
			return nil
		},
	}
}

func printPlugins(out io.Writer, infos []plugins.Info) {
	if len(infos) == 0 {
		fmt.Fprintln(out, "no plugins loaded")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FOLDER\tNAME\tMODE\tDESCRIPTION")
	for _, p := range infos {
		mode := "per-bot"
		if p.AlwaysLoaded {
			mode = "always-on"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Folder, p.Name, mode, p.Description)
	}
	_ = tw.Flush()
}

func newBotActionCommand(flags *globalFlags, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <username>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			var res struct {
				Message string `json:"message"`
			}
			body := map[string]string{"username": args[0]}
			if err := c.do(cmd.Context(), http.MethodPost, "/api/bots/"+action, body, &res); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			return nil
		},
	}
}
