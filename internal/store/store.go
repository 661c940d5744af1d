// Package store keeps the history of compression outcomes.
//
// DESIGN: Every file that leaves Compressing is recorded once, as Done or
// Error, with its sizes and the configuration it ran with. The history
// outlives the per-session queues and backs GET /api/stats.
//
// Two implementations:
//   - MemoryStore: process lifetime, bounded ring of recent records
//   - SQLiteStore: durable, modernc.org/sqlite (pure Go, no CGO)
//
// FILES:
//   - store.go:    Record, Stats, Store interface, MemoryStore
//   - sqlite.go:   SQLiteStore
//   - recorder.go: pipeline listener that turns events into Records
package store

import (
	"context"
	"sync"
	"time"

	"github.com/compresr/shrinker/internal/pipeline"
)

// DefaultMemoryLimit bounds how many records MemoryStore keeps.
const DefaultMemoryLimit = 10000

// Record is one terminal outcome.
type Record struct {
	Session          string          `json:"session"`
	FileID           string          `json:"fileId"`
	Name             string          `json:"name"`
	SourceSize       int64           `json:"sourceSize"`
	OutputSize       int64           `json:"outputSize"`
	Level            pipeline.Level  `json:"compressionLevel"`
	Format           pipeline.Format `json:"targetFormat"`
	Status           pipeline.Status `json:"status"`
	AlreadyOptimized bool            `json:"alreadyOptimized"`
	Error            string          `json:"error,omitempty"`
	At               time.Time       `json:"at"`
}

// Stats aggregates recorded outcomes. Bytes count Done files only.
type Stats struct {
	Files            int64   `json:"files"`
	Done             int64   `json:"done"`
	Failed           int64   `json:"failed"`
	AlreadyOptimized int64   `json:"alreadyOptimized"`
	BytesIn          int64   `json:"bytesIn"`
	BytesOut         int64   `json:"bytesOut"`
	SavedPercent     float64 `json:"savedPercent"`
}

// Store defines the interface for outcome history.
type Store interface {
	// Add appends one record.
	Add(ctx context.Context, r Record) error

	// Stats aggregates every record, or only session's when it is non-empty.
	Stats(ctx context.Context, session string) (Stats, error)

	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)

	// Close releases resources.
	Close() error
}

func (s *Stats) add(r Record) {
	s.Files++
	switch r.Status {
	case pipeline.StatusDone:
		s.Done++
		s.BytesIn += r.SourceSize
		s.BytesOut += r.OutputSize
		if r.AlreadyOptimized {
			s.AlreadyOptimized++
		}
	case pipeline.StatusError:
		s.Failed++
	}
}

func (s *Stats) finish() {
	s.SavedPercent = pipeline.ComputeSavings(s.BytesIn, s.BytesOut).Percentage
}

// MemoryStore is a simple in-memory implementation of Store.
type MemoryStore struct {
	records []Record
	limit   int
	mu      sync.RWMutex
	stopped bool
}

// NewMemoryStore creates a store that keeps the latest limit records.
// A limit of zero or less uses DefaultMemoryLimit.
func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = DefaultMemoryLimit
	}
	return &MemoryStore{limit: limit}
}

// Add appends r, dropping the oldest record past the limit.
func (s *MemoryStore) Add(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}

	s.records = append(s.records, r)
	if over := len(s.records) - s.limit; over > 0 {
		s.records = append(s.records[:0:0], s.records[over:]...)
	}
	return nil
}

// Stats aggregates the kept records.
func (s *MemoryStore) Stats(_ context.Context, session string) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	for _, r := range s.records {
		if session != "" && r.Session != session {
			continue
		}
		st.add(r)
	}
	st.finish()
	return st, nil
}

// Recent returns up to limit records, newest first.
func (s *MemoryStore) Recent(_ context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.records) {
		limit = len(s.records)
	}
	out := make([]Record, 0, limit)
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.records[i])
	}
	return out, nil
}

// Close clears data.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	s.records = nil
	return nil
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
