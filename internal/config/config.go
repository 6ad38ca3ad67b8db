// Package config loads the twindeck configuration from TOML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server ServerConfig `koanf:"server"`
	Player PlayerConfig `koanf:"player"`

	// Last.fm scrobbling (enabled when fully configured)
	Lastfm LastfmConfig `koanf:"lastfm"`
}

// ServerConfig points at the share server.
type ServerConfig struct {
	URL       string `koanf:"url"`      // e.g. "https://music.example.org"
	AuthToken string `koanf:"token"`    // API auth token
	ShareID   string `koanf:"share_id"` // default share to play from
}

// PlayerConfig holds engine tuning.
type PlayerConfig struct {
	Volume         float64 `koanf:"volume"`           // initial volume, 0.0-1.0 (default: 1.0)
	TickIntervalMS int     `koanf:"tick_interval_ms"` // prebuffer/buffering check period (default: 500)
}

// LastfmConfig holds Last.fm scrobbling credentials.
type LastfmConfig struct {
	APIKey     string `koanf:"api_key"`
	APISecret  string `koanf:"api_secret"`
	SessionKey string `koanf:"session_key"`
}

func Load() (*Config, error) {
	return loadPaths(configPaths())
}

func loadPaths(paths []string) (*Config, error) {
	k := koanf.New(".")

	// Try config files in order of priority (last wins)
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}

	cfg := &Config{
		Player: PlayerConfig{Volume: 1.0},
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}

	// Normalize server URL (remove trailing slash)
	cfg.Server.URL = strings.TrimSuffix(cfg.Server.URL, "/")

	if cfg.Player.Volume < 0 || cfg.Player.Volume > 1 {
		cfg.Player.Volume = 1.0
	}
	if cfg.Player.TickIntervalMS <= 0 {
		cfg.Player.TickIntervalMS = 500
	}

	return cfg, nil
}

func configPaths() []string {
	paths := []string{
		filepath.Join(xdg.ConfigHome, "twindeck", "config.toml"),
	}

	// ./config.toml (pwd, highest priority)
	paths = append(paths, "config.toml")

	return paths
}

// TickInterval returns the engine tick period.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Player.TickIntervalMS) * time.Millisecond
}

// HasServerConfig returns true if a share server is configured.
func (c *Config) HasServerConfig() bool {
	return c.Server.URL != "" && c.Server.ShareID != ""
}

// HasLastfmConfig returns true if Last.fm scrobbling is configured.
func (c *Config) HasLastfmConfig() bool {
	return c.Lastfm.APIKey != "" && c.Lastfm.APISecret != "" && c.Lastfm.SessionKey != ""
}
