// Package config loads and validates the kurir configuration file.
package config

import (
	"encoding/json"
)

// Config is the root kurir configuration.
type Config struct {
	// Channels holds one section per channel family.
	Channels ChannelsConfig `json:"channels" mapstructure:"channels"`

	// Session controls conversation session lifetimes.
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Metrics controls the Prometheus endpoint.
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Logging configures the process logger.
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// DataDir is where kurir keeps its state and logs.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ChannelsConfig holds the per-family channel sections.
type ChannelsConfig struct {
	WSGateway  ChannelConfig `json:"wsgateway" mapstructure:"wsgateway"`
	CryptoHook ChannelConfig `json:"cryptohook" mapstructure:"cryptohook"`
	LongPoll   ChannelConfig `json:"longpoll" mapstructure:"longpoll"`
	Mailbox    ChannelConfig `json:"mailbox" mapstructure:"mailbox"`
}

// ChannelConfig is one channel section. Settings is passed verbatim to
// the adapter's Initialize, which owns the per-field validation.
type ChannelConfig struct {
	Enabled  bool           `json:"enabled" mapstructure:"enabled"`
	Settings map[string]any `json:"settings" mapstructure:"settings"`
}

// SessionConfig controls the session manager.
type SessionConfig struct {
	TimeoutMinutes int `json:"timeout_minutes" mapstructure:"timeout_minutes"`
	MaxConcurrent  int `json:"max_concurrent" mapstructure:"max_concurrent"`
}

// MetricsConfig controls the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	ListenAddr string `json:"listen_addr" mapstructure:"listen_addr"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values. All channels
// start disabled; enabling one without its credentials fails
// validation, not startup.
func DefaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			TimeoutMinutes: 60,
			MaxConcurrent:  100,
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1:9091",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Redaction: true,
		},
	}
}

// EnabledChannels returns the settings of every enabled channel keyed
// by channel name, in the registry's naming.
func (c *Config) EnabledChannels() map[string]map[string]any {
	out := make(map[string]map[string]any)
	for name, section := range c.sections() {
		if section.Enabled {
			settings := section.Settings
			if settings == nil {
				settings = map[string]any{}
			}
			out[name] = settings
		}
	}
	return out
}

func (c *Config) sections() map[string]ChannelConfig {
	return map[string]ChannelConfig{
		"wsgateway":  c.Channels.WSGateway,
		"cryptohook": c.Channels.CryptoHook,
		"longpoll":   c.Channels.LongPoll,
		"mailbox":    c.Channels.Mailbox,
	}
}

// String returns an indented JSON representation of the config.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
