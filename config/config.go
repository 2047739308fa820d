package config

import (
	"encoding/json"
	"fmt"
	"os"
)

type Config struct {
	Connection ConnectionConfig `json:"connection"`
	Session    SessionConfig    `json:"session"`
	Logging    LogConfig        `json:"logging"`
	Metrics    MetricsConfig    `json:"metrics"`
}

// ConnectionConfig drives the client-side reconnect engine. Options maps
// straight onto the connection option surface, so unknown keys are
// rejected when the connection is built rather than here.
type ConnectionConfig struct {
	URL     string         `json:"url"`
	Options map[string]any `json:"options"`
}

type SessionConfig struct {
	// MaxRate caps the inbound message rate per producer session in
	// messages per second. Zero disables producer flow control.
	MaxRate uint32 `json:"maxRate"`
	// MaxFrameSize is the frame size cap for outbound deliveries.
	MaxFrameSize uint32 `json:"maxFrameSize"`
}

type LogConfig struct {
	Level       string `json:"level"` // debug, info, warn, error
	LogToFile   bool   `json:"logToFile"`
	LogToStdout bool   `json:"logToStdout"`
	Directory   string `json:"directory"`
	MaxSize     int    `json:"maxSize"` // megabytes before rotation
	MaxAge      int    `json:"maxAge"`  // days to retain
	MaxBackups  int    `json:"maxBackups"`
	Compress    bool   `json:"compress"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
	Path    string `json:"path"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults for logging
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if !config.Logging.LogToFile && !config.Logging.LogToStdout {
		config.Logging.LogToStdout = true
	}

	// Set defaults for metrics
	if config.Metrics.Address == "" {
		config.Metrics.Address = ":2112"
	}
	if config.Metrics.Path == "" {
		config.Metrics.Path = "/metrics"
	}

	// Set defaults for the session layer
	if config.Session.MaxFrameSize == 0 {
		config.Session.MaxFrameSize = 65535
	}

	// Validate the configuration
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// validateConfig performs validation of all configuration values
func validateConfig(cfg *Config) error {
	if cfg.Connection.URL == "" {
		return fmt.Errorf("connection url is required")
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}

	if cfg.Logging.LogToFile && cfg.Logging.Directory == "" {
		return fmt.Errorf("log directory is required when logging to file")
	}

	if cfg.Session.MaxFrameSize < 512 {
		return fmt.Errorf("max frame size must be at least 512")
	}

	return nil
}

// ApplyOverrides applies command line flag overrides to the configuration
func (c *Config) ApplyOverrides(maxRate int, metricsAddr, metricsPath string) {
	if maxRate > 0 {
		c.Session.MaxRate = uint32(maxRate)
	}
	if metricsAddr != "" {
		c.Metrics.Address = metricsAddr
	}
	if metricsPath != "" {
		c.Metrics.Path = metricsPath
	}
}
