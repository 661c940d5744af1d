package store

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/shrinker/internal/pipeline"
)

// Recorder turns pipeline events into Records.
//
// file_updated also fires for configuration changes on files that are
// already Done, so only files seen in Compressing are recorded when they
// reach a terminal status.
type Recorder struct {
	store   Store
	session string
	timeout time.Duration

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewRecorder creates a recorder for one session.
func NewRecorder(s Store, session string) *Recorder {
	return &Recorder{
		store:    s,
		session:  session,
		timeout:  5 * time.Second,
		inFlight: make(map[string]struct{}),
	}
}

// Listen is a pipeline.Listener.
func (r *Recorder) Listen(ev pipeline.Event) {
	if ev.Kind != pipeline.EventFileUpdated || ev.File == nil {
		return
	}
	f := ev.File

	r.mu.Lock()
	_, tracked := r.inFlight[f.ID]
	switch {
	case f.Status == pipeline.StatusCompressing:
		r.inFlight[f.ID] = struct{}{}
		tracked = false
	case f.Status.Terminal():
		delete(r.inFlight, f.ID)
	default:
		// reset back to Pending
		delete(r.inFlight, f.ID)
		tracked = false
	}
	r.mu.Unlock()

	if !tracked || !f.Status.Terminal() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	rec := Record{
		Session:          r.session,
		FileID:           f.ID,
		Name:             f.Name,
		SourceSize:       f.SourceSize,
		OutputSize:       f.OutputSize,
		Level:            f.Level,
		Format:           f.Format,
		Status:           f.Status,
		AlreadyOptimized: f.AlreadyOptimized,
		Error:            f.Error,
		At:               ev.Time,
	}
	if err := r.store.Add(ctx, rec); err != nil {
		log.Warn().Err(err).Str("file_id", f.ID).Msg("store: failed to record outcome")
	}
}
