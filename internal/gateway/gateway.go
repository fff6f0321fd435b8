// ABOUTME: Gateway orchestrator that wires bots, plugins and observers to one HTTP server
// ABOUTME: Manages store, plugin host, health and metrics endpoints and the listener lifecycle

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/heptiolabs/healthcheck"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/botfleet/internal/agent"
	"github.com/2389/botfleet/internal/assets"
	"github.com/2389/botfleet/internal/bots"
	"github.com/2389/botfleet/internal/config"
	"github.com/2389/botfleet/internal/metrics"
	"github.com/2389/botfleet/internal/plugins"
	"github.com/2389/botfleet/internal/status"
	"github.com/2389/botfleet/internal/store"
)

// Gateway orchestrates the botfleet server components.
type Gateway struct {
	config      *config.Config
	botStore    *store.BotStore
	installed   *store.InstalledStore
	bots        *bots.Manager
	registry    *plugins.Registry
	host        *plugins.Host
	installer   *plugins.Installer
	catalog     *plugins.Catalog
	broadcaster *status.Broadcaster
	metrics     *metrics.Metrics
	surface     *surface
	public      http.Handler
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// Option overrides a collaborator the gateway would otherwise build from
// config.
type Option func(*options)

type options struct {
	dialer agent.Dialer
	loader plugins.Loader
	client *http.Client
}

// WithDialer replaces the agent driver selected by agents.driver.
func WithDialer(d agent.Dialer) Option { return func(o *options) { o.dialer = d } }

// WithLoader replaces the yaegi bundle loader.
func WithLoader(l plugins.Loader) Option { return func(o *options) { o.loader = l } }

// WithHTTPClient replaces the client used for catalog and archive fetches.
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.client = c } }

// newDialer picks the agent driver named in config.
func newDialer(cfg config.AgentsConfig, logger *slog.Logger) agent.Dialer {
	if cfg.Driver == config.DriverBridge {
		return agent.NewBridgeDialer(cfg.BridgeURL, cfg.DialTimeout, logger.With("component", "bridge"))
	}
	logger.Warn("using loopback agent driver; bots will not reach a real server")
	return agent.NewLoopbackDialer(true)
}

// New creates a new Gateway instance with the given configuration. Bundles
// under the plugin root are discovered and always-on bundles activated
// before New returns.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.dialer == nil {
		o.dialer = newDialer(cfg.Agents, logger)
	}
	if o.loader == nil {
		o.loader = plugins.ScriptLoader{}
	}
	if o.client == nil {
		o.client = &http.Client{Timeout: cfg.Catalog.FetchTimeout}
	}

	botStore, err := store.OpenBotStore(cfg.Data.BotsPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("opening bot store: %w", err)
	}
	installed, err := store.OpenInstalledStore(cfg.Data.InstalledPluginsPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("opening installed plugin store: %w", err)
	}
	repos := store.NewRepoStore(cfg.Data.ReposPath(), logger)

	pluginDir := cfg.Data.PluginPath()
	if err := os.MkdirAll(pluginDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating plugin dir: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	broadcaster := status.NewBroadcaster(m, logger)
	registry := plugins.NewRegistry(pluginDir, o.loader, logger)
	host := plugins.NewHost(registry, m, logger)

	botMgr, err := bots.NewManager(botStore, bots.Options{
		Dialer:     o.dialer,
		Activator:  host,
		Publisher:  broadcaster,
		Recorder:   m,
		LoginDelay: cfg.Agents.LoginDelay,
		MaxBots:    cfg.Agents.MaxBots,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	gw := &Gateway{
		config:      cfg,
		botStore:    botStore,
		installed:   installed,
		bots:        botMgr,
		registry:    registry,
		host:        host,
		broadcaster: broadcaster,
		metrics:     m,
		catalog:     plugins.NewCatalog(repos, o.client, cfg.Catalog.MaxRetries, logger),
		installer: plugins.NewInstaller(registry, installed, plugins.InstallerOptions{
			Client:     o.client,
			MaxRetries: cfg.Catalog.MaxRetries,
			Recorder:   m,
			Logger:     logger,
		}),
		logger: logger.With("component", "gateway"),
	}
	if dir := cfg.Server.PublicDir; dir != "" {
		gw.public = http.FileServer(http.Dir(dir))
	} else {
		gw.public = assets.FileServer()
	}

	mux := http.NewServeMux()
	gw.registerAPIRoutes(mux)
	mux.Handle("GET /ws", status.NewHandler(broadcaster, logger))
	mux.Handle("/health/", http.StripPrefix("/health", gw.healthHandler()))
	if m != nil {
		mux.Handle("GET "+cfg.Metrics.Path, m.Handler())
	}
	mux.Handle("/plugins/", http.StripPrefix("/plugins/", http.FileServer(http.Dir(pluginDir))))

	router := newPluginRouter(http.HandlerFunc(gw.serveStatic))
	gw.surface = &surface{router: router, broadcaster: broadcaster, logger: logger.With("component", "plugin-surface")}
	mux.Handle("/", router)

	loaded, _ := registry.Discover(context.Background())
	m.SetBundles(len(loaded))
	host.ActivateAlwaysOn(gw.surface)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           withCORS(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the root HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Bots returns the lifecycle manager.
func (g *Gateway) Bots() *bots.Manager {
	return g.bots
}

// healthHandler serves /live and /ready. Health results are exported as
// metrics when metrics are enabled.
func (g *Gateway) healthHandler() healthcheck.Handler {
	var h healthcheck.Handler
	if g.metrics != nil {
		h = healthcheck.NewMetricsHandler(g.metrics.Registry(), "botfleet")
	} else {
		h = healthcheck.NewHandler()
	}
	h.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10_000+runtime.NumCPU()*100))
	h.AddReadinessCheck("plugin-dir", func() error {
		info, err := os.Stat(g.registry.Dir())
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", g.registry.Dir())
		}
		return nil
	})
	h.AddReadinessCheck("bots-file", func() error {
		return checkWritableDir(filepath.Dir(g.config.Data.BotsPath()))
	})
	return h
}

func checkWritableDir(dir string) error {
	if dir == "" {
		dir = "."
	}
	f, err := os.CreateTemp(dir, ".botfleet-ready-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// serveStatic answers requests no API or plugin route claimed: a bundle's
// UI under /<folder>/, then the public directory, or the embedded dashboard
// when none is configured.
func (g *Gateway) serveStatic(w http.ResponseWriter, r *http.Request) {
	folder, _, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if folder != "" {
		if b, err := g.registry.Lookup(folder); err == nil {
			if info, err := os.Stat(b.UIPath()); err == nil && info.IsDir() {
				http.StripPrefix("/"+folder, http.FileServer(http.Dir(b.UIPath()))).ServeHTTP(w, r)
				return
			}
		}
	}
	g.public.ServeHTTP(w, r)
}

// setupTCPListener creates the standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr,
			)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "botfleet", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener starts a tsnet node and listens on it.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	st, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, st)

	return g.createTailscaleListener(tsCfg)
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, st *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(st.TailscaleIPs) > 0 {
		tsAddr = st.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if st.Self != nil {
		dnsName = strings.TrimSuffix(st.Self.DNSName, ".")
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleListener picks funnel, HTTPS or plain HTTP on the tailnet.
func (g *Gateway) createTailscaleListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		g.logger.Info("enabling HTTPS with Tailscale certs on :443")
		ln, err := g.tsnetServer.Listen("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
		}
		lc, err := g.tsnetServer.LocalClient()
		if err != nil {
			_ = ln.Close()
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("getting tailscale local client: %w", err)
		}
		return tls.NewListener(ln, &tls.Config{
			GetCertificate: lc.GetCertificate,
			MinVersion:     tls.VersionTLS12,
		}), nil
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops every bot, the HTTP server and the tailnet node.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "bot shutdown", g.bots.Shutdown(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}

	g.installer.Close()
	g.broadcaster.Close()

	return errors.Join(errs...)
}
