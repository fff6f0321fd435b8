// ABOUTME: Configuration loading and parsing for botfleet
// ABOUTME: Supports YAML files with environment variable expansion, duration parsing and defaults

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Agent drivers.
const (
	DriverLoopback = "loopback"
	DriverBridge   = "bridge"
)

// Config represents the complete botfleet configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Data      DataConfig      `yaml:"data"`
	Agents    AgentsConfig    `yaml:"agents"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds the management surface address
type ServerConfig struct {
	HTTPAddr  string `yaml:"http_addr"`
	PublicDir string `yaml:"public_dir"` // static dashboard files served at /
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`
	Funnel    bool   `yaml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// DataConfig locates the flat files and the plugin root. Relative paths are
// resolved against Dir.
type DataConfig struct {
	Dir                  string `yaml:"dir"`
	BotsFile             string `yaml:"bots_file"`
	InstalledPluginsFile string `yaml:"installed_plugins_file"`
	ReposFile            string `yaml:"repos_file"`
	PluginDir            string `yaml:"plugin_dir"`
}

// AgentsConfig selects the agent driver and its timing
type AgentsConfig struct {
	Driver    string `yaml:"driver"`
	BridgeURL string `yaml:"bridge_url"`
	MaxBots   int    `yaml:"max_bots"`

	LoginDelay  time.Duration `yaml:"-"`
	DialTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	LoginDelayRaw  string `yaml:"login_delay"`
	DialTimeoutRaw string `yaml:"dial_timeout"`
}

// CatalogConfig controls remote plugin catalog fetches
type CatalogConfig struct {
	MaxRetries uint64 `yaml:"max_retries"`

	FetchTimeout    time.Duration `yaml:"-"`
	FetchTimeoutRaw string        `yaml:"fetch_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	_ = parseDurations(cfg)
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" && !cfg.Tailscale.Enabled {
		cfg.Server.HTTPAddr = "127.0.0.1:3001"
	}
	if cfg.Tailscale.Enabled && cfg.Tailscale.Hostname == "" {
		cfg.Tailscale.Hostname = "botfleet"
	}

	d := &cfg.Data
	if d.BotsFile == "" {
		d.BotsFile = "bots.json"
	}
	if d.InstalledPluginsFile == "" {
		d.InstalledPluginsFile = "installedPlugins.json"
	}
	if d.ReposFile == "" {
		d.ReposFile = "repos.json"
	}
	if d.PluginDir == "" {
		d.PluginDir = "plugins"
	}

	if cfg.Agents.Driver == "" {
		cfg.Agents.Driver = DriverLoopback
	}
	if cfg.Agents.LoginDelayRaw == "" {
		cfg.Agents.LoginDelayRaw = "1s"
	}
	if cfg.Agents.DialTimeoutRaw == "" {
		cfg.Agents.DialTimeoutRaw = "10s"
	}

	if cfg.Catalog.FetchTimeoutRaw == "" {
		cfg.Catalog.FetchTimeoutRaw = "30s"
	}
	if cfg.Catalog.MaxRetries == 0 {
		cfg.Catalog.MaxRetries = 3
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return errors.New("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return errors.New("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Agents.Driver {
	case DriverLoopback:
	case DriverBridge:
		if c.Agents.BridgeURL == "" {
			return errors.New("agents.bridge_url is required for the bridge driver")
		}
	default:
		return fmt.Errorf("agents.driver %q is not one of %s, %s", c.Agents.Driver, DriverLoopback, DriverBridge)
	}
	if c.Agents.MaxBots < 0 {
		return errors.New("agents.max_bots must not be negative")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Agents.LoginDelayRaw != "" {
		cfg.Agents.LoginDelay, err = time.ParseDuration(cfg.Agents.LoginDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing login_delay %q: %w", cfg.Agents.LoginDelayRaw, err)
		}
	}

	if cfg.Agents.DialTimeoutRaw != "" {
		cfg.Agents.DialTimeout, err = time.ParseDuration(cfg.Agents.DialTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing dial_timeout %q: %w", cfg.Agents.DialTimeoutRaw, err)
		}
	}

	if cfg.Catalog.FetchTimeoutRaw != "" {
		cfg.Catalog.FetchTimeout, err = time.ParseDuration(cfg.Catalog.FetchTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing fetch_timeout %q: %w", cfg.Catalog.FetchTimeoutRaw, err)
		}
	}

	return nil
}

// Resolve joins p onto Dir unless p is already absolute.
func (d DataConfig) Resolve(p string) string {
	if filepath.IsAbs(p) || d.Dir == "" {
		return p
	}
	return filepath.Join(d.Dir, p)
}

// BotsPath returns the resolved bot config file path.
func (d DataConfig) BotsPath() string { return d.Resolve(d.BotsFile) }

// InstalledPluginsPath returns the resolved installed-plugin record file path.
func (d DataConfig) InstalledPluginsPath() string { return d.Resolve(d.InstalledPluginsFile) }

// ReposPath returns the resolved catalog repository file path.
func (d DataConfig) ReposPath() string { return d.Resolve(d.ReposFile) }

// PluginPath returns the resolved plugin root.
func (d DataConfig) PluginPath() string { return d.Resolve(d.PluginDir) }
