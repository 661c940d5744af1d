// Package config loads and validates the shrinker configuration.
//
// DESIGN: All configuration comes from YAML. The binary embeds a default
// file (cmd/configs/shrinker.yaml); a user file replaces it entirely.
// Values may reference the environment with ${VAR} or ${VAR:-default}.
//
// FILES:
//   - config.go:      Root Config struct, Load(), Validate()
//   - compression.go: Intake limits, compressor strategy, suggestions
//   - monitoring.go:  Logging, telemetry and metrics settings
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for shrinker.
type Config struct {
	Server      ServerConfig      `yaml:"server"`      // HTTP server settings
	Intake      IntakeConfig      `yaml:"intake"`      // Admission limits
	Compression CompressionConfig `yaml:"compression"` // Compressor selection and tuning
	Suggestions SuggestionsConfig `yaml:"suggestions"` // Quality suggestion collaborator
	Sessions    SessionsConfig    `yaml:"sessions"`    // Per-client pipelines
	History     HistoryConfig     `yaml:"history"`     // Outcome history store
	Monitoring  MonitoringConfig  `yaml:"monitoring"`  // Logging, telemetry, metrics
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // Port to listen on
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // Max time to read request (uploads included)
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // Max time to write response
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // Grace period on SIGINT/SIGTERM
	RateLimit       float64       `yaml:"rate_limit"`       // Requests per second per client IP (0 = off)
	RateBurst       int           `yaml:"rate_burst"`       // Token bucket size
	AllowedOrigins  []string      `yaml:"allowed_origins"`  // CORS and websocket origins
}

// SessionsConfig contains per-session pipeline settings.
type SessionsConfig struct {
	TTL         time.Duration `yaml:"ttl"`          // Idle time before a session's queue is dropped
	MaxSessions uint64        `yaml:"max_sessions"` // Oldest sessions are evicted past this
}

// HistoryConfig contains outcome history settings.
type HistoryConfig struct {
	Type string `yaml:"type"` // "memory" or "sqlite"
	Path string `yaml:"path"` // SQLite database file
}

// History store types.
const (
	HistoryMemory = "memory"
	HistorySQLite = "sqlite"
)

var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandEnvWithDefaults expands environment variables with support for default values.
// Supports both ${VAR} and ${VAR:-default} syntax.
func expandEnvWithDefaults(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) > 2 {
			return parts[2]
		}
		return ""
	})
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes.
// Supports ${VAR:-default} env var expansion, env overrides, and validation.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvWithDefaults(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides lets deployments redirect file paths without editing
// the config file.
func (c *Config) applyEnvOverrides() {
	// SHRINKER_TELEMETRY_LOG overrides the telemetry log path
	if envPath := os.Getenv("SHRINKER_TELEMETRY_LOG"); envPath != "" {
		c.Monitoring.TelemetryPath = envPath
		c.Monitoring.TelemetryEnabled = true
	}

	// SHRINKER_HISTORY_DB switches history to SQLite at the given path
	if envPath := os.Getenv("SHRINKER_HISTORY_DB"); envPath != "" {
		c.History.Type = HistorySQLite
		c.History.Path = envPath
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port == 0 {
		return fmt.Errorf("server.port is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ReadTimeout == 0 {
		return fmt.Errorf("server.read_timeout is required")
	}
	if c.Server.WriteTimeout == 0 {
		return fmt.Errorf("server.write_timeout is required")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative")
	}

	if err := c.validateIntake(); err != nil {
		return err
	}
	if err := c.Compression.Validate(); err != nil {
		return err
	}
	if err := c.Suggestions.Validate(); err != nil {
		return err
	}

	// Sessions validation
	if c.Sessions.TTL == 0 {
		return fmt.Errorf("sessions.ttl is required")
	}

	// History validation
	switch c.History.Type {
	case HistoryMemory:
	case HistorySQLite:
		if c.History.Path == "" {
			return fmt.Errorf("history.path is required for sqlite history")
		}
	case "":
		return fmt.Errorf("history.type is required")
	default:
		return fmt.Errorf("invalid history.type: %q (must be memory or sqlite)", c.History.Type)
	}

	return c.Monitoring.Validate()
}
