// Package monitoring - telemetry.go records batches to a JSONL file.
//
// DESIGN: Tracker writes one BatchRecord per finished batch as JSONL
// (one JSON object per line). Lines are appended as soon as the batch
// completes, so the file can be tailed while the server runs.
package monitoring

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/compresr/shrinker/internal/pipeline"
)

// Tracker handles telemetry event recording to file and stdout.
type Tracker struct {
	config     TelemetryConfig
	batchCount int
	mu         sync.Mutex
}

// NewTracker creates a new telemetry tracker.
func NewTracker(cfg TelemetryConfig) (*Tracker, error) {
	t := &Tracker{config: cfg}

	if !cfg.Enabled || cfg.LogPath == "" {
		return t, nil
	}

	// Ensure the directory exists and create an empty file
	if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0750); err != nil {
		return nil, err
	}
	if _, err := os.Stat(cfg.LogPath); os.IsNotExist(err) {
		if f, err := os.Create(cfg.LogPath); err == nil {
			f.Close()
		}
	}

	return t, nil
}

// appendJSONL appends a single JSON object as a line to the file.
func appendJSONL(path string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(data)
	return err
}

// Listener returns a pipeline listener that records completed batches.
func (t *Tracker) Listener(session string) pipeline.Listener {
	return func(ev pipeline.Event) {
		if ev.Kind == pipeline.EventBatchCompleted && ev.Summary != nil {
			t.RecordBatch(NewBatchRecord(session, *ev.Summary))
		}
	}
}

// RecordBatch records a batch event.
func (t *Tracker) RecordBatch(rec BatchRecord) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Log summary to stdout if enabled
	if t.config.LogToStdout {
		session := rec.Session
		if len(session) > 8 {
			session = session[:8]
		}
		log.Info().
			Str("session", session).
			Int("files", rec.Files).
			Int("failed", rec.Failed).
			Float64("saved_percent", rec.SavedPercent).
			Msg("telemetry")
	}

	if t.config.LogPath != "" {
		if err := appendJSONL(t.config.LogPath, rec); err != nil {
			log.Error().Err(err).Str("path", t.config.LogPath).Msg("telemetry: failed to write batch event")
		} else {
			t.batchCount++
		}
	}
}

// Close logs how many batches were written.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.config.LogPath != "" && t.batchCount > 0 {
		log.Info().
			Str("path", t.config.LogPath).
			Int("events", t.batchCount).
			Msg("telemetry: session complete")
	}

	return nil
}
