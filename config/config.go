// config/config.go
// Copyright(c) 2025 airband contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package config loads and validates the TOML configuration file.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kfowler/airband/coordinator"
	"github.com/kfowler/airband/feed"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Feed configures the live transmission feed and the history endpoint.
type Feed struct {
	URL        string    `toml:"url"`
	HistoryURL string    `toml:"history_url"`
	SeedHours  int       `toml:"seed_hours"`
	SeedLimit  int       `toml:"seed_limit"`
	Reconnect  Reconnect `toml:"reconnect"`
}

type Reconnect struct {
	BaseDelayMS int     `toml:"base_delay_ms"`
	Multiplier  float64 `toml:"multiplier"`
	MaxDelayMS  int     `toml:"max_delay_ms"`
	MaxAttempts int     `toml:"max_attempts"`
}

// Playback configures the audio pipeline.
type Playback struct {
	Volume             float64 `toml:"volume"`
	LoadTimeoutSeconds int     `toml:"load_timeout_seconds"`
	PollIntervalMS     int     `toml:"poll_interval_ms"`
}

// Autoplay configures automatic playback of incoming transmissions.
type Autoplay struct {
	QueueSize        int `toml:"queue_size"`
	HistorySize      int `toml:"history_size"`
	StalenessSeconds int `toml:"staleness_seconds"`
}

// Server configures the HTTP/websocket listener.
type Server struct {
	Bind string `toml:"bind"`
}

// Logging configures log output.
type Logging struct {
	Level string `toml:"level"`
	Dir   string `toml:"dir"`
}

type Config struct {
	Feed     Feed     `toml:"feed"`
	Playback Playback `toml:"playback"`
	Autoplay Autoplay `toml:"autoplay"`
	Server   Server   `toml:"server"`
	Logging  Logging  `toml:"logging"`
}

const (
	defaultSeedHours        = 2
	defaultSeedLimit        = 50
	defaultBaseDelayMS      = 1000
	defaultMultiplier       = 1.5
	defaultMaxDelayMS       = 30000
	defaultMaxAttempts      = 10
	defaultVolume           = 1.0
	defaultLoadTimeoutSec   = 10
	defaultPollIntervalMS   = 100
	defaultQueueSize        = 10
	defaultHistorySize      = 50
	defaultStalenessSeconds = 30
	defaultBind             = "127.0.0.1:8780"
	defaultLogLevel         = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Feed: Feed{
			SeedHours: defaultSeedHours,
			SeedLimit: defaultSeedLimit,
			Reconnect: Reconnect{
				BaseDelayMS: defaultBaseDelayMS,
				Multiplier:  defaultMultiplier,
				MaxDelayMS:  defaultMaxDelayMS,
				MaxAttempts: defaultMaxAttempts,
			},
		},
		Playback: Playback{
			Volume:             defaultVolume,
			LoadTimeoutSeconds: defaultLoadTimeoutSec,
			PollIntervalMS:     defaultPollIntervalMS,
		},
		Autoplay: Autoplay{
			QueueSize:        defaultQueueSize,
			HistorySize:      defaultHistorySize,
			StalenessSeconds: defaultStalenessSeconds,
		},
		Server:  Server{Bind: defaultBind},
		Logging: Logging{Level: defaultLogLevel},
	}
}

// DefaultConfigPath returns the absolute path of the default configuration
// file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/airband/config.toml")
}

// Load parses and validates a configuration file. An empty path falls back
// to the default location; a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		var err error
		if path, err = DefaultConfigPath(); err != nil {
			return nil, err
		}
	} else {
		var err error
		if path, err = expandPath(path); err != nil {
			return nil, err
		}
	}

	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		if err := toml.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("open config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.Feed.URL == "" {
		return errors.New("feed.url must be set")
	}
	if !strings.HasPrefix(c.Feed.URL, "ws://") && !strings.HasPrefix(c.Feed.URL, "wss://") {
		return fmt.Errorf("feed.url %q must be a ws:// or wss:// URL", c.Feed.URL)
	}
	if c.Feed.Reconnect.Multiplier < 1 {
		return errors.New("feed.reconnect.multiplier must be >= 1")
	}
	if c.Feed.Reconnect.BaseDelayMS <= 0 || c.Feed.Reconnect.MaxDelayMS < c.Feed.Reconnect.BaseDelayMS {
		return errors.New("feed.reconnect delays must satisfy 0 < base_delay_ms <= max_delay_ms")
	}
	if c.Feed.Reconnect.MaxAttempts <= 0 {
		return errors.New("feed.reconnect.max_attempts must be positive")
	}
	if c.Playback.Volume < 0 || c.Playback.Volume > 1 {
		return errors.New("playback.volume must be between 0 and 1")
	}
	if c.Autoplay.QueueSize <= 0 {
		return errors.New("autoplay.queue_size must be positive")
	}
	if c.Autoplay.HistorySize <= 0 {
		return errors.New("autoplay.history_size must be positive")
	}
	if c.Autoplay.StalenessSeconds <= 0 {
		return errors.New("autoplay.staleness_seconds must be positive")
	}
	if c.Server.Bind == "" {
		return errors.New("server.bind must be set")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}

// Coordinator converts the file representation into the coordinator's
// runtime configuration.
func (c *Config) Coordinator() coordinator.Config {
	return coordinator.Config{
		FeedURL: c.Feed.URL,
		Reconnect: feed.ReconnectPolicy{
			BaseDelay:   time.Duration(c.Feed.Reconnect.BaseDelayMS) * time.Millisecond,
			Multiplier:  c.Feed.Reconnect.Multiplier,
			MaxDelay:    time.Duration(c.Feed.Reconnect.MaxDelayMS) * time.Millisecond,
			MaxAttempts: c.Feed.Reconnect.MaxAttempts,
		},
		HistoryBaseURL: c.Feed.HistoryURL,
		SeedHours:      c.Feed.SeedHours,
		SeedLimit:      c.Feed.SeedLimit,
		QueueSize:      c.Autoplay.QueueSize,
		HistorySize:    c.Autoplay.HistorySize,
		Staleness:      time.Duration(c.Autoplay.StalenessSeconds) * time.Second,
		LoadTimeout:    time.Duration(c.Playback.LoadTimeoutSeconds) * time.Second,
		PollInterval:   time.Duration(c.Playback.PollIntervalMS) * time.Millisecond,
		Volume:         c.Playback.Volume,
	}
}

// CreateSample writes a sample configuration file to the given location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}
