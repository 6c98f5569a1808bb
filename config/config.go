// Package config loads optional TOML configuration for the CLI tools.
// Flags override the file, the file overrides the defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/user/pybble/broadcast"
	"github.com/user/pybble/message"
	"github.com/user/pybble/observe"
	"github.com/user/pybble/radio"
)

// BroadcastConfig configures the broadcast tool
type BroadcastConfig struct {
	Name    string        // Device name used in advertisements
	Channel uint8         // Default broadcast channel
	Timeout time.Duration // How long to keep the advertisement up
}

// ObserveConfig configures the observe tool
type ObserveConfig struct {
	Channels      []uint8        // Channels to observe; empty = all
	RSSIThreshold *int           // Minimum signal strength in dBm
	NamePattern   string         // Sender name prefix filter
	TTL           time.Duration  // Observation age-out
	Capacity      int            // Observation cache bound
	Mode          radio.ScanMode // Scanning mode
}

// Config is the full CLI configuration
type Config struct {
	LogLevel  string
	Broadcast BroadcastConfig
	Observe   ObserveConfig
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		LogLevel: "info",
		Broadcast: BroadcastConfig{
			Name:    broadcast.DefaultName,
			Channel: 0,
			Timeout: 10 * time.Second,
		},
		Observe: ObserveConfig{
			TTL:      observe.DefaultTTL,
			Capacity: observe.DefaultCapacity,
			Mode:     radio.ScanModePassive,
		},
	}
}

type fileConfig struct {
	LogLevel string `toml:"log_level"`

	Broadcast struct {
		Name    string `toml:"name"`
		Channel int    `toml:"channel"`
		Timeout string `toml:"timeout"`
	} `toml:"broadcast"`

	Observe struct {
		Channels      []int  `toml:"channels"`
		RSSIThreshold int    `toml:"rssi_threshold"`
		NamePattern   string `toml:"name_pattern"`
		TTL           string `toml:"ttl"`
		Capacity      int    `toml:"capacity"`
		Mode          string `toml:"mode"`
	} `toml:"observe"`
}

// Load reads a TOML file and overlays it onto the defaults. Only keys
// present in the file override.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if meta.IsDefined("broadcast", "name") {
		cfg.Broadcast.Name = strings.TrimSpace(raw.Broadcast.Name)
	}
	if meta.IsDefined("broadcast", "channel") {
		if raw.Broadcast.Channel < 0 || raw.Broadcast.Channel > message.MaxChannel {
			return Config{}, fmt.Errorf("broadcast channel %d out of range 0-%d", raw.Broadcast.Channel, message.MaxChannel)
		}
		cfg.Broadcast.Channel = uint8(raw.Broadcast.Channel)
	}
	if meta.IsDefined("broadcast", "timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Broadcast.Timeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse broadcast timeout: %w", err)
		}
		cfg.Broadcast.Timeout = d
	}

	if meta.IsDefined("observe", "channels") {
		channels, err := Channels(raw.Observe.Channels)
		if err != nil {
			return Config{}, err
		}
		cfg.Observe.Channels = channels
	}
	if meta.IsDefined("observe", "rssi_threshold") {
		if raw.Observe.RSSIThreshold < -120 || raw.Observe.RSSIThreshold > 0 {
			return Config{}, fmt.Errorf("rssi_threshold %d out of range -120 to 0", raw.Observe.RSSIThreshold)
		}
		threshold := raw.Observe.RSSIThreshold
		cfg.Observe.RSSIThreshold = &threshold
	}
	if meta.IsDefined("observe", "name_pattern") {
		cfg.Observe.NamePattern = strings.TrimSpace(raw.Observe.NamePattern)
	}
	if meta.IsDefined("observe", "ttl") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Observe.TTL))
		if err != nil {
			return Config{}, fmt.Errorf("parse observe ttl: %w", err)
		}
		cfg.Observe.TTL = d
	}
	if meta.IsDefined("observe", "capacity") {
		if raw.Observe.Capacity <= 0 {
			return Config{}, fmt.Errorf("capacity must be positive, got %d", raw.Observe.Capacity)
		}
		cfg.Observe.Capacity = raw.Observe.Capacity
	}
	if meta.IsDefined("observe", "mode") {
		switch mode := radio.ScanMode(strings.TrimSpace(raw.Observe.Mode)); mode {
		case radio.ScanModePassive, radio.ScanModeActive:
			cfg.Observe.Mode = mode
		default:
			return Config{}, fmt.Errorf("unknown scan mode %q", raw.Observe.Mode)
		}
	}

	return cfg, nil
}

// Channels validates and narrows a list of channel numbers
func Channels(raw []int) ([]uint8, error) {
	channels := make([]uint8, 0, len(raw))
	for _, ch := range raw {
		if ch < 0 || ch > message.MaxChannel {
			return nil, fmt.Errorf("channel %d out of range 0-%d", ch, message.MaxChannel)
		}
		channels = append(channels, uint8(ch))
	}
	return channels, nil
}
