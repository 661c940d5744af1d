// Monitoring configuration - logging, telemetry and metrics settings.
//
// DESIGN: Separates logging (zerolog) from telemetry (JSONL files).
// Logging is for operators, telemetry records one line per batch for analysis.
package config

import "fmt"

// MonitoringConfig contains all monitoring settings.
type MonitoringConfig struct {
	// Logging settings
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // json, console
	LogOutput string `yaml:"log_output"` // stdout, stderr, or file path

	// Telemetry settings
	TelemetryEnabled bool   `yaml:"telemetry_enabled"` // Enable batch telemetry
	TelemetryPath    string `yaml:"telemetry_path"`    // Path to telemetry JSONL file
	LogToStdout      bool   `yaml:"log_to_stdout"`     // Also log batch summaries

	// Metrics settings
	MetricsEnabled bool   `yaml:"metrics_enabled"` // Expose Prometheus metrics
	MetricsPath    string `yaml:"metrics_path"`    // HTTP path (default /metrics)
}

// Validate checks the monitoring section.
func (c *MonitoringConfig) Validate() error {
	switch c.LogFormat {
	case "", "json", "console":
	default:
		return fmt.Errorf("invalid monitoring.log_format: %q (must be json or console)", c.LogFormat)
	}
	if c.TelemetryEnabled && c.TelemetryPath == "" {
		return fmt.Errorf("monitoring.telemetry_path is required when telemetry is enabled")
	}
	return nil
}
