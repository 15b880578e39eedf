// Package config provides configuration loading and defaults for the
// Shelfcord daemon.
//
// Configuration is loaded from a TOML file in the user's data directory.
// The package handles Komga server credentials, Discord presence settings,
// cover re-hosting, and daemon behavior with sensible defaults.
package config

//go:generate go run ../../cmd/genconfig

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"tools.zach/dev/shelfcord/internal/atomicfile"
	"tools.zach/dev/shelfcord/internal/migrate"
	"tools.zach/dev/shelfcord/internal/paths"
)

// DefaultDiscordAppID is the official Shelfcord Discord application ID.
const DefaultDiscordAppID = "1495028316764342291"

// ///////////////////////////////////////////////
// Configuration Types
// ///////////////////////////////////////////////

// Config represents the top-level application configuration.
type Config struct {
	// Version is the config schema version used for migrations.
	Version int `toml:"version"`
	// Komga holds library server connection settings.
	Komga KomgaConfig `toml:"komga"`
	// Discord holds Discord connection settings.
	Discord DiscordConfig `toml:"discord"`
	// Covers holds cover image re-hosting settings.
	Covers CoversConfig `toml:"covers"`
	// Behavior holds poll loop and display behavior settings.
	Behavior BehaviorConfig `toml:"behavior"`
	// Log holds logging settings.
	Log LogConfig `toml:"log"`
}

// KomgaConfig holds library server connection settings.
type KomgaConfig struct {
	// URL is the Komga server root, e.g. "https://komga.example.com".
	URL string `toml:"url"`
	// APIKey is sent as the X-API-Key header on every request.
	APIKey string `toml:"api_key"`
}

// DiscordConfig holds Discord connection settings.
type DiscordConfig struct {
	// AppID is the Discord application ID for Rich Presence.
	AppID string `toml:"app_id"`
}

// CoversConfig holds cover image re-hosting settings.
type CoversConfig struct {
	// Rehost selects the cover strategy: "imgur", "direct", or "off".
	Rehost string `toml:"rehost"`
	// ImgurClientID authorizes anonymous Imgur uploads when Rehost is "imgur".
	ImgurClientID string `toml:"imgur_client_id,omitempty"`
}

// BehaviorConfig holds poll loop and display behavior settings.
type BehaviorConfig struct {
	// PollIntervalSeconds is the interval between resolution cycles.
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
	// ReconnectCooldownSeconds is the pause before each Discord reconnect
	// attempt after a broken pipe.
	ReconnectCooldownSeconds int `toml:"reconnect_cooldown_seconds"`
	// FreshnessWindowSeconds is the maximum age of a progress update for it
	// to count as "currently reading".
	FreshnessWindowSeconds int `toml:"freshness_window_seconds"`
	// ExcludeLibraries lists library names whose activity is never shown.
	// Case-insensitive; glob patterns allowed.
	ExcludeLibraries []string `toml:"exclude_libraries"`
	// ShowPage appends "(Page N)" to the presence details when known.
	ShowPage bool `toml:"show_page"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `toml:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation.
	MaxSizeMB int `toml:"max_size_mb"`
}

// ///////////////////////////////////////////////
// Default Configuration
// ///////////////////////////////////////////////

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: migrate.Config.CurrentVersion,
		Komga: KomgaConfig{
			URL: "http://localhost:25600",
		},
		Discord: DiscordConfig{
			AppID: DefaultDiscordAppID,
		},
		Covers: CoversConfig{
			Rehost: "off",
		},
		Behavior: BehaviorConfig{
			PollIntervalSeconds:      15,
			ReconnectCooldownSeconds: 5,
			FreshnessWindowSeconds:   300,
			ExcludeLibraries:         []string{},
			ShowPage:                 true,
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 10,
		},
	}
}

// ExampleConfig returns a Config suitable for generating config.default.toml.
// For this project all defaults are good examples.
func ExampleConfig() *Config {
	return DefaultConfig()
}

// ///////////////////////////////////////////////
// Derived Accessors
// ///////////////////////////////////////////////

// PollInterval returns the tick cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Behavior.PollIntervalSeconds) * time.Second
}

// ReconnectCooldown returns the pre-reconnect pause as a duration.
func (c *Config) ReconnectCooldown() time.Duration {
	return time.Duration(c.Behavior.ReconnectCooldownSeconds) * time.Second
}

// FreshnessWindow returns the recency gate as a duration.
func (c *Config) FreshnessWindow() time.Duration {
	return time.Duration(c.Behavior.FreshnessWindowSeconds) * time.Second
}

// ///////////////////////////////////////////////
// PeekVersion
// ///////////////////////////////////////////////

// PeekVersion reads just the version field from raw TOML bytes.
// Returns 1 if the version field is missing or zero.
func PeekVersion(data []byte) int {
	var v struct {
		Version int `toml:"version"`
	}
	if err := toml.Unmarshal(data, &v); err != nil {
		return 1
	}
	if v.Version == 0 {
		return 1
	}
	return v.Version
}

// ///////////////////////////////////////////////
// Loading and Saving
// ///////////////////////////////////////////////

// Load reads and parses the configuration file from dataDir/config.toml.
// If the file doesn't exist, returns DefaultConfig.
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, paths.ConfigFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	version := PeekVersion(data)

	// Apply migrations if needed
	migrated := version != migrate.Config.CurrentVersion
	if migrated {
		// Write backup before migration
		if backupErr := os.WriteFile(path+".bak", data, 0o644); backupErr != nil {
			slog.Warn("failed to write config backup", "error", backupErr)
		}
		var migrateErr error
		data, _, migrateErr = migrate.Config.Run(data, version)
		if migrateErr != nil {
			return nil, fmt.Errorf("migrate config: %w", migrateErr)
		}
	}

	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Version = migrate.Config.CurrentVersion

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	// Re-save after migration
	if migrated {
		if err := cfg.Save(path); err != nil {
			slog.Warn("failed to save migrated config", "error", err)
		}
	}

	return cfg, nil
}

// Save writes the config to disk as TOML using atomic file write.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return atomicfile.Write(path, buf.Bytes(), 0o644)
}

// ///////////////////////////////////////////////
// Validation
// ///////////////////////////////////////////////

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks that all configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Komga.URL == "" {
		return fmt.Errorf("komga.url must be set")
	}
	u, err := url.Parse(c.Komga.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid komga.url %q: must be an absolute http(s) URL", c.Komga.URL)
	}

	if c.Discord.AppID == "" {
		return fmt.Errorf("discord.app_id must be set")
	}

	switch c.Covers.Rehost {
	case "imgur", "direct", "off":
	default:
		return fmt.Errorf("invalid covers.rehost %q: must be imgur, direct, or off", c.Covers.Rehost)
	}
	if c.Covers.Rehost == "imgur" && c.Covers.ImgurClientID == "" {
		return fmt.Errorf("covers.rehost is %q but covers.imgur_client_id is empty", c.Covers.Rehost)
	}

	if c.Behavior.PollIntervalSeconds <= 0 {
		return fmt.Errorf("poll_interval_seconds must be > 0, got %d", c.Behavior.PollIntervalSeconds)
	}
	if c.Behavior.ReconnectCooldownSeconds <= 0 {
		return fmt.Errorf("reconnect_cooldown_seconds must be > 0, got %d", c.Behavior.ReconnectCooldownSeconds)
	}
	if c.Behavior.FreshnessWindowSeconds <= 0 {
		return fmt.Errorf("freshness_window_seconds must be > 0, got %d", c.Behavior.FreshnessWindowSeconds)
	}

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log.level %q: must be trace, debug, info, warn, or error", c.Log.Level)
	}

	return nil
}
