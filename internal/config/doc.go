// Package config handles configuration loading for botfleet.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// Missing values are filled with defaults before validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from BOTFLEET_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/botfleet/botfleet.yaml
//  3. ~/.config/botfleet/botfleet.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	tailscale:
//	  auth_key: "${TS_AUTHKEY}"
//
// Syntax: ${VAR_NAME}
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "127.0.0.1:3001"
//	  public_dir: "./public"
//
// Flat files and the plugin root, relative to data.dir when set:
//
//	data:
//	  dir: "/var/lib/botfleet"
//	  bots_file: "bots.json"
//	  installed_plugins_file: "installedPlugins.json"
//	  repos_file: "repos.json"
//	  plugin_dir: "plugins"
//
// Agent driver:
//
//	agents:
//	  driver: "bridge"              # loopback, bridge
//	  bridge_url: "ws://127.0.0.1:3002/bot"
//	  login_delay: "1s"
//	  dial_timeout: "10s"
//	  max_bots: 0                   # 0 = unbounded
//
// Plugin catalog:
//
//	catalog:
//	  fetch_timeout: "30s"
//	  max_retries: 3
//
// Tailscale, logging and metrics:
//
//	tailscale:
//	  enabled: false
//	  hostname: "botfleet"
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//	metrics:
//	  enabled: true
//	  path: "/metrics"
package config
