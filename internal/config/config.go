// Package config loads and validates the tabguard configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Listen  ListenConfig  `yaml:"listen"`
	Channel ChannelConfig `yaml:"channel"`
	Signal  SignalConfig  `yaml:"signal"`
	Relay   RelayConfig   `yaml:"relay"`
	Log     LogConfig     `yaml:"log"`
}

// ListenConfig defines where the relay daemon listens
type ListenConfig struct {
	HTTP   string `yaml:"http"`   // HTTP status server address (e.g., ":9100")
	Socket string `yaml:"socket"` // Unix socket path for the relay
}

// ChannelConfig defines the in-process broadcast channel
type ChannelConfig struct {
	Name           string `yaml:"name"`             // channel name shared by all tabs of one process
	ResendDelaysMS []int  `yaml:"resend_delays_ms"` // retransmission offsets after the first post
}

// SignalConfig defines the storage-fallback signaling path
type SignalConfig struct {
	File           string `yaml:"file"`             // shared signal store file
	PollIntervalMS int    `yaml:"poll_interval_ms"` // file watch poll interval
	CleanupDelayMS int    `yaml:"cleanup_delay_ms"` // backup signal key lifetime
}

// RelayConfig defines relay broker behavior
type RelayConfig struct {
	PublishRate  float64 `yaml:"publish_rate"`  // frames per second allowed per client
	PublishBurst int     `yaml:"publish_burst"` // burst allowance per client
}

// LogConfig defines logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from trusted CLI flag
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Listen: ListenConfig{
			HTTP:   ":9100",
			Socket: "/run/tabguard/relay.sock",
		},
		Channel: ChannelConfig{
			Name:           "user-session-channel",
			ResendDelaysMS: []int{100, 500},
		},
		Signal: SignalConfig{
			File:           "/run/tabguard/signal.json",
			PollIntervalMS: 250,
			CleanupDelayMS: 3000,
		},
		Relay: RelayConfig{
			PublishRate:  10,
			PublishBurst: 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("TABGUARD_LISTEN_HTTP"); v != "" {
		c.Listen.HTTP = v
	}
	if v := os.Getenv("TABGUARD_LISTEN_SOCKET"); v != "" {
		c.Listen.Socket = v
	}
	if v := os.Getenv("TABGUARD_SIGNAL_FILE"); v != "" {
		c.Signal.File = v
	}
	if v := os.Getenv("TABGUARD_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("TABGUARD_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Listen.HTTP == "" {
		return fmt.Errorf("listen.http is required")
	}
	if c.Listen.Socket == "" {
		return fmt.Errorf("listen.socket is required")
	}

	if c.Channel.Name == "" {
		return fmt.Errorf("channel.name is required")
	}
	for _, d := range c.Channel.ResendDelaysMS {
		if d < 0 {
			return fmt.Errorf("channel.resend_delays_ms must not contain negative values")
		}
	}

	if c.Signal.File == "" {
		return fmt.Errorf("signal.file is required")
	}
	if c.Signal.PollIntervalMS <= 0 {
		return fmt.Errorf("signal.poll_interval_ms must be positive")
	}
	if c.Signal.CleanupDelayMS <= 0 {
		return fmt.Errorf("signal.cleanup_delay_ms must be positive")
	}

	if c.Relay.PublishRate <= 0 {
		return fmt.Errorf("relay.publish_rate must be positive")
	}
	if c.Relay.PublishBurst <= 0 {
		return fmt.Errorf("relay.publish_burst must be positive")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: json, text")
	}

	return nil
}

// ResendDelays converts the configured retransmission offsets to durations.
func (c *ChannelConfig) ResendDelays() []time.Duration {
	delays := make([]time.Duration, 0, len(c.ResendDelaysMS))
	for _, d := range c.ResendDelaysMS {
		delays = append(delays, time.Duration(d)*time.Millisecond)
	}
	return delays
}

// PollInterval returns the signal file poll interval as a duration.
func (c *SignalConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// CleanupDelay returns the backup signal key lifetime as a duration.
func (c *SignalConfig) CleanupDelay() time.Duration {
	return time.Duration(c.CleanupDelayMS) * time.Millisecond
}

// SetupLogging configures the global slog logger based on the LogConfig.
func SetupLogging(cfg *LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}
