// Package monitoring - types.go defines shared types.
//
// DESIGN: These types are used by server/, session/ and cmd/.
// Defined here ONCE to avoid duplication and circular imports.
//
// TYPES:
//   - BatchRecord:  Telemetry line written for each finished batch
//   - Config types: TelemetryConfig, LoggerConfig, AlertConfig
package monitoring

import (
	"time"

	"github.com/compresr/shrinker/internal/pipeline"
)

// =============================================================================
// EVENT TYPES - Structured data for telemetry recording
// =============================================================================

// BatchRecord captures one CompressAll run.
type BatchRecord struct {
	Session          string    `json:"session,omitempty"`
	Started          time.Time `json:"started"`
	Finished         time.Time `json:"finished"`
	DurationMs       int64     `json:"duration_ms"`
	Files            int       `json:"files"`
	Done             int       `json:"done"`
	Failed           int       `json:"failed"`
	AlreadyOptimized int       `json:"already_optimized"`
	Skipped          int       `json:"skipped"`
	BytesIn          int64     `json:"bytes_in"`
	BytesOut         int64     `json:"bytes_out"`
	SavedPercent     float64   `json:"saved_percent"`
}

// NewBatchRecord flattens a pipeline summary for telemetry.
func NewBatchRecord(session string, s pipeline.BatchSummary) BatchRecord {
	return BatchRecord{
		Session:          session,
		Started:          s.Started,
		Finished:         s.Finished,
		DurationMs:       s.Duration.Milliseconds(),
		Files:            s.Files,
		Done:             s.Done,
		Failed:           s.Failed,
		AlreadyOptimized: s.AlreadyOptimized,
		Skipped:          s.Skipped,
		BytesIn:          s.BytesIn,
		BytesOut:         s.BytesOut,
		SavedPercent:     pipeline.ComputeSavings(s.BytesIn, s.BytesOut).Percentage,
	}
}

// =============================================================================
// CONFIG TYPES
// =============================================================================

// TelemetryConfig contains telemetry configuration.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	LogPath     string `yaml:"log_path"`
	LogToStdout bool   `yaml:"log_to_stdout"`
}

// LoggerConfig contains logging configuration.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	Output string `yaml:"output"` // stdout, stderr, or file path
}

// AlertConfig contains alert thresholds.
type AlertConfig struct {
	SlowBatchThreshold time.Duration `yaml:"slow_batch_threshold"`
}
