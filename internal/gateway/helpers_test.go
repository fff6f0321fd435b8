// ABOUTME: Shared fixture for gateway tests: a temp data dir, stub plugin loader and loopback agents
// ABOUTME: Requests go through the gateway's root handler mounted on an httptest server

package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/botfleet/internal/agent"
	"github.com/2389/botfleet/internal/config"
	"github.com/2389/botfleet/internal/pluginapi"
	"github.com/2389/botfleet/internal/plugins"
)

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// activations records per-bot plugin calls made through the stub loader.
type activations struct {
	mu    sync.Mutex
	calls []string
}

func (a *activations) add(s string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, s)
}

func (a *activations) list() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

type fixture struct {
	cfg    *config.Config
	gw     *Gateway
	srv    *httptest.Server
	dialer *agent.LoopbackDialer
	calls  *activations
}

// testConfig creates a config rooted in a temp data dir with metrics on.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Data.Dir = t.TempDir()
	cfg.Agents.LoginDelay = 10 * time.Millisecond
	cfg.Catalog.MaxRetries = 0
	cfg.Metrics.Enabled = true
	return cfg
}

// writeBundle writes a manifest and a placeholder module for folder.
func writeBundle(t *testing.T, root, folder string, alwaysOn bool) {
	t.Helper()
	dir := filepath.Join(root, folder)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "ui"), 0o755))
	manifest, err := json.Marshal(plugins.Manifest{Name: folder, Description: "the **" + folder + "** plugin", AlwaysLoaded: alwaysOn})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.json"), manifest, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.go"), []byte("package main\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ui", "index.html"), []byte("<h1>"+folder+"</h1>"), 0o644))
}

// stubLoader gives every per-bot bundle a module that records its
// activation and greets in chat. The "hello" bundle registers GET /api/hello.
func stubLoader(calls *activations) plugins.Loader {
	return plugins.LoaderFunc(func(dir string, m plugins.Manifest) (plugins.Module, error) {
		folder := filepath.Base(dir)
		if m.AlwaysLoaded {
			return plugins.Module{AlwaysOn: func(s pluginapi.Surface) error {
				s.HandleFunc("GET /api/"+folder, func(w http.ResponseWriter, r *http.Request) {
					_, _ = io.WriteString(w, folder)
				})
				return nil
			}}, nil
		}
		return plugins.Module{PerBot: func(a pluginapi.Agent, c pluginapi.BotConfig) error {
			calls.add(folder + ":" + a.Username())
			return a.Chat(folder + " ready")
		}}, nil
	})
}

// newFixture builds a gateway. setup runs against the config before New so
// tests can seed data files and bundles.
func newFixture(t *testing.T, setup func(cfg *config.Config)) *fixture {
	t.Helper()
	cfg := testConfig(t)
	writeBundle(t, cfg.Data.PluginPath(), "greeter", false)
	writeBundle(t, cfg.Data.PluginPath(), "hello", true)
	if setup != nil {
		setup(cfg)
	}

	calls := &activations{}
	dialer := agent.NewLoopbackDialer(true)
	gw, err := New(cfg, testLogger(), WithDialer(dialer), WithLoader(stubLoader(calls)))
	require.NoError(t, err)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = gw.Shutdown(t.Context())
	})
	return &fixture{cfg: cfg, gw: gw, srv: srv, dialer: dialer, calls: calls}
}

// do sends a request with an optional JSON body and decodes a JSON reply into out.
func (f *fixture) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(t.Context(), method, f.srv.URL+path, rdr)
	require.NoError(t, err)
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// get returns the status code and raw body for a GET.
func (f *fixture) get(t *testing.T, path string) (int, string) {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, f.srv.URL+path, nil)
	require.NoError(t, err)
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func writeJSONFile(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}
