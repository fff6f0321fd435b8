// ABOUTME: Record types and sentinel errors for botfleet's flat-file persistence
// ABOUTME: Defines BotConfig, InstalledPlugin and Repo as they appear in the JSON data files

package store

import (
	"errors"
	"slices"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateBot is returned when adding a bot whose username is already stored
var ErrDuplicateBot = errors.New("bot already exists")

// ErrInvalidBot is returned when a bot config fails basic validation
var ErrInvalidBot = errors.New("invalid bot config")

// BotConfig is one entry of the bots file. Username is the unique key.
type BotConfig struct {
	Username       string   `json:"username"`
	Server         string   `json:"server"`
	Port           int      `json:"port"`
	Version        string   `json:"version,omitempty"`
	Password       string   `json:"password,omitempty"`
	EnabledPlugins []string `json:"enabledPlugins"`
}

// Clone returns a copy whose EnabledPlugins slice is not shared with the receiver.
func (c BotConfig) Clone() BotConfig {
	c.EnabledPlugins = slices.Clone(c.EnabledPlugins)
	if c.EnabledPlugins == nil {
		c.EnabledPlugins = []string{}
	}
	return c
}

// Validate reports whether the config has the fields needed to dial a server.
func (c BotConfig) Validate() error {
	if c.Username == "" {
		return errors.Join(ErrInvalidBot, errors.New("username is required"))
	}
	if c.Server == "" {
		return errors.Join(ErrInvalidBot, errors.New("server is required"))
	}
	if c.Port < 0 || c.Port > 65535 {
		return errors.Join(ErrInvalidBot, errors.New("port must be between 0 and 65535"))
	}
	return nil
}

// InstalledPlugin records a catalog plugin that has been materialized on disk.
type InstalledPlugin struct {
	PluginID     string `json:"pluginId"`
	PluginFolder string `json:"pluginFolder"`
}

// Repo is a remote plugin catalog.
type Repo struct {
	RepoName string `json:"repoName"`
	RepoURL  string `json:"repoUrl"`
}
