// Package config provides configuration management using Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// defaultDataDir returns the default directory for the peer messenger's data.
// Uses ~/.peer-messenger/ so data is in a fixed location regardless of CWD.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".peer-messenger")
}

// Config holds all configuration for the peer messenger.
type Config struct {
	// Identity
	PeerID     string `mapstructure:"peer_id"`
	ListenAddr string `mapstructure:"listen_addr"`

	// Paths
	JournalPath string `mapstructure:"journal_path"`

	// Messaging
	ChannelCapacity int           `mapstructure:"channel_capacity"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	SendTimeout     time.Duration `mapstructure:"send_timeout"`

	// Health & Reconnection
	ReconnectMaxRetries int           `mapstructure:"reconnect_max_retries"`
	ReconnectBaseDelay  time.Duration `mapstructure:"reconnect_base_delay"`
	ReconnectMaxDelay   time.Duration `mapstructure:"reconnect_max_delay"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// MCP
	MCPEnabled bool `mapstructure:"mcp_enabled"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "peer"
	}
	return &Config{
		PeerID:              hostname,
		ListenAddr:          "127.0.0.1:7420",
		JournalPath:         filepath.Join(defaultDataDir(), "journal.db"),
		ChannelCapacity:     16,
		IdleTimeout:         30 * time.Second,
		ConnectTimeout:      30 * time.Second,
		SendTimeout:         30 * time.Second,
		ReconnectMaxRetries: 10,
		ReconnectBaseDelay:  1 * time.Second,
		ReconnectMaxDelay:   5 * time.Minute,
		LogLevel:            "info",
		LogFormat:           "json",
		MCPEnabled:          true,
	}
}

// LoadConfig loads configuration from file, environment, and defaults.
// Priority: CLI flags > Environment > Config file > Defaults
//
// Only flags that were set on the command line override; a flag named
// "idle-timeout" sets the key "idle_timeout".
func LoadConfig(configPath string, flags ...*pflag.FlagSet) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("peer_id", defaults.PeerID)
	v.SetDefault("listen_addr", defaults.ListenAddr)
	v.SetDefault("journal_path", defaults.JournalPath)
	v.SetDefault("channel_capacity", defaults.ChannelCapacity)
	v.SetDefault("idle_timeout", defaults.IdleTimeout)
	v.SetDefault("connect_timeout", defaults.ConnectTimeout)
	v.SetDefault("send_timeout", defaults.SendTimeout)
	v.SetDefault("reconnect_max_retries", defaults.ReconnectMaxRetries)
	v.SetDefault("reconnect_base_delay", defaults.ReconnectBaseDelay)
	v.SetDefault("reconnect_max_delay", defaults.ReconnectMaxDelay)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_format", defaults.LogFormat)
	v.SetDefault("mcp_enabled", defaults.MCPEnabled)

	// Environment variables with PEERMSG_ prefix
	v.SetEnvPrefix("PEERMSG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// A missing default config file is fine; anything else is not.
			isNotFound := errors.Is(err, os.ErrNotExist)
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !isNotFound {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	for _, fs := range flags {
		var bindErr error
		fs.Visit(func(f *pflag.Flag) {
			key := strings.ReplaceAll(f.Name, "-", "_")
			if !v.IsSet(key) || bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(key, f)
		})
		if bindErr != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", bindErr)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.LogFormat)
	}

	if c.PeerID == "" {
		return fmt.Errorf("peer id must not be empty")
	}

	// One slot is not enough to tell "has items" from "full".
	if c.ChannelCapacity < 2 {
		return fmt.Errorf("channel capacity must be at least 2, got %d", c.ChannelCapacity)
	}

	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive")
	}

	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}

	if c.SendTimeout <= 0 {
		return fmt.Errorf("send timeout must be positive")
	}

	if c.ReconnectMaxRetries < 0 {
		return fmt.Errorf("reconnect max retries must be non-negative")
	}

	if c.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("reconnect base delay must be positive")
	}

	if c.ReconnectMaxDelay <= 0 {
		return fmt.Errorf("reconnect max delay must be positive")
	}

	if c.ReconnectBaseDelay > c.ReconnectMaxDelay {
		return fmt.Errorf("reconnect base delay must be less than or equal to max delay")
	}

	return nil
}
