// Package monitoring - alerts.go flags anomalies and errors.
//
// DESIGN: AlertManager logs notable events at appropriate levels:
//   - Listener:            Maps pipeline events onto log levels
//   - FlagSlowBatch:       Warn when a batch exceeds the threshold
//   - FlagRejected:        Info when intake turns a file away
//   - FlagPanic:           Error on recovered panics
//
// The pipeline reports per-file failures as events, never as return values,
// so the Listener is what makes them visible to operators.
package monitoring

import (
	"time"

	"github.com/compresr/shrinker/internal/pipeline"
)

// AlertManager flags anomalies and errors.
type AlertManager struct {
	logger             *Logger
	slowBatchThreshold time.Duration
}

// NewAlertManager creates a new alert manager.
func NewAlertManager(logger *Logger, cfg AlertConfig) *AlertManager {
	threshold := cfg.SlowBatchThreshold
	if threshold == 0 {
		threshold = 2 * time.Minute
	}
	return &AlertManager{logger: logger, slowBatchThreshold: threshold}
}

// Listener returns a pipeline listener that logs events for session.
// Progress updates are not logged.
func (am *AlertManager) Listener(session string) pipeline.Listener {
	return func(ev pipeline.Event) {
		switch ev.Kind {
		case pipeline.EventFileFailed:
			am.FlagFileFailure(session, ev.FileID, fileName(ev), ev.Error)
		case pipeline.EventAlreadyOptimized:
			am.logger.Info().
				Str("session", session).
				Str("file_id", ev.FileID).
				Str("name", fileName(ev)).
				Msg("already_optimized")
		case pipeline.EventSuggestionReady:
			event := am.logger.Debug().
				Str("session", session).
				Str("file_id", ev.FileID)
			if ev.File != nil && ev.File.Suggestion != nil {
				event = event.Int("quality", ev.File.Suggestion.Quality)
			}
			event.Msg("suggestion_ready")
		case pipeline.EventBatchCompleted:
			if ev.Summary != nil {
				am.FlagSlowBatch(session, *ev.Summary)
			}
		}
	}
}

// FlagFileFailure logs a per-file compression failure.
func (am *AlertManager) FlagFileFailure(session, fileID, name, reason string) {
	am.logger.Error().
		Str("session", session).
		Str("file_id", fileID).
		Str("name", name).
		Str("reason", reason).
		Msg("compression_failed")
}

// FlagSlowBatch logs when a batch ran longer than the threshold.
func (am *AlertManager) FlagSlowBatch(session string, s pipeline.BatchSummary) {
	if s.Duration < am.slowBatchThreshold {
		return
	}
	am.logger.Warn().
		Str("session", session).
		Int("files", s.Files).
		Dur("duration", s.Duration).
		Msg("slow_batch")
}

// FlagRejected logs a file refused at intake.
func (am *AlertManager) FlagRejected(requestID, name, reason string) {
	am.logger.Info().
		Str("request_id", requestID).
		Str("name", name).
		Str("reason", reason).
		Msg("file_rejected")
}

// FlagPanic logs recovered panic.
func (am *AlertManager) FlagPanic(requestID string, panicValue interface{}, stack string) {
	am.logger.Error().
		Str("request_id", requestID).
		Interface("panic", panicValue).
		Str("stack", stack).
		Msg("panic_recovered")
}

func fileName(ev pipeline.Event) string {
	if ev.File == nil {
		return ""
	}
	return ev.File.Name
}
