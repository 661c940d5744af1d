package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultSuggestionTimeout bounds a single suggestion request.
const DefaultSuggestionTimeout = 30 * time.Second

// Pipeline owns one queue of files and the collaborators that process it.
// All methods are safe for concurrent use.
type Pipeline struct {
	mu sync.Mutex
	q  queue

	compressor Compressor
	suggester  Suggester

	lmu          sync.RWMutex
	listeners    []listenerEntry
	nextListener uint64

	compressing atomic.Bool

	suggestionTimeout time.Duration
	suggestWG         sync.WaitGroup
	ctx               context.Context
	cancel            context.CancelFunc

	newID func(name string, modTime time.Time) string
	now   func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSuggester enables suggestion requests on level changes.
func WithSuggester(s Suggester) Option {
	return func(p *Pipeline) { p.suggester = s }
}

// WithListener registers l before any event can fire.
func WithListener(l Listener) Option {
	return func(p *Pipeline) {
		p.nextListener++
		p.listeners = append(p.listeners, listenerEntry{key: p.nextListener, fn: l})
	}
}

// WithSuggestionTimeout overrides DefaultSuggestionTimeout.
func WithSuggestionTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.suggestionTimeout = d
		}
	}
}

// WithIDGenerator replaces NewFileID.
func WithIDGenerator(fn func(name string, modTime time.Time) string) Option {
	return func(p *Pipeline) { p.newID = fn }
}

// WithClock replaces time.Now for event and summary timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a pipeline backed by compressor.
func New(compressor Compressor, opts ...Option) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		q:                 newQueue(),
		compressor:        compressor,
		suggestionTimeout: DefaultSuggestionTimeout,
		ctx:               ctx,
		cancel:            cancel,
		newID:             NewFileID,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// =============================================================================
// INTAKE
// =============================================================================

// Admit appends one Pending file per source, in order, and returns their
// snapshots. Count, size and type limits are enforced before this call.
func (p *Pipeline) Admit(sources ...Source) []File {
	if len(sources) == 0 {
		return nil
	}

	p.mu.Lock()
	admitted := make([]File, 0, len(sources))
	for _, src := range sources {
		id := p.newID(src.Name, src.ModTime)
		for p.q.has(id) {
			id = NewFileID(src.Name, src.ModTime)
		}
		e := &entry{file: File{
			ID:         id,
			Name:       src.Name,
			MIMEType:   src.MIMEType,
			ModTime:    src.ModTime,
			Source:     src.Data,
			SourceSize: int64(len(src.Data)),
			Level:      DefaultLevel,
			Format:     InferFormat(src.Name),
			Status:     StatusPending,
		}}
		p.q.add(e)
		admitted = append(admitted, e.file)
	}
	p.mu.Unlock()

	log.Debug().Int("files", len(admitted)).Msg("pipeline: files admitted")
	p.emit(Event{Kind: EventQueueChanged})
	return admitted
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// SetConfiguration updates one setting of file id. It reports whether the
// file exists; an unknown id is a no-op. Changing compressionLevel requests
// a fresh suggestion in the background.
func (p *Pipeline) SetConfiguration(id string, key ConfigKey, value string) (bool, error) {
	switch key {
	case KeyCompressionLevel:
		level, err := ParseLevel(value)
		if err != nil {
			return false, err
		}
		return p.SetCompressionLevel(id, level), nil
	case KeyTargetFormat:
		return p.SetTargetFormat(id, ParseFormat(value)), nil
	default:
		return false, ErrUnknownKey
	}
}

// SetCompressionLevel sets the level of file id. The change applies to the
// next compression of the file, never to an output already produced or in flight.
func (p *Pipeline) SetCompressionLevel(id string, level Level) bool {
	p.mu.Lock()
	e, ok := p.q.get(id)
	if !ok {
		p.mu.Unlock()
		return false
	}
	e.file.Level = level
	snap := e.file
	req, seq, ask := p.prepareSuggestion(e)
	p.mu.Unlock()

	p.emit(fileEvent(EventFileUpdated, snap))
	if ask {
		p.dispatchSuggestion(id, seq, req)
	}
	return true
}

// SetTargetFormat sets the output format of file id. The value is not
// validated here; an unsupported format fails the file when it is compressed.
func (p *Pipeline) SetTargetFormat(id string, format Format) bool {
	p.mu.Lock()
	e, ok := p.q.get(id)
	if !ok {
		p.mu.Unlock()
		return false
	}
	e.file.Format = format
	snap := e.file
	p.mu.Unlock()

	p.emit(fileEvent(EventFileUpdated, snap))
	return true
}

// =============================================================================
// QUEUE COMMANDS
// =============================================================================

// Reset returns every file to Pending and clears progress, output, suggestion
// and error. Results still in flight for a file are discarded. Reset is idempotent.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	p.q.each(func(e *entry) {
		e.attempt++
		e.suggestionSeq++
		e.file.Status = StatusPending
		e.file.Progress = 0
		e.file.Output = nil
		e.file.OutputSize = 0
		e.file.OutputFormat = ""
		e.file.AlreadyOptimized = false
		e.file.Suggestion = nil
		e.file.Error = ""
	})
	n := p.q.len()
	p.mu.Unlock()

	log.Debug().Int("files", n).Msg("pipeline: queue reset")
	p.emit(Event{Kind: EventQueueChanged})
}

// Remove deletes file id in any status. Late progress or results for it are dropped.
func (p *Pipeline) Remove(id string) bool {
	p.mu.Lock()
	ok := p.q.remove(id)
	p.mu.Unlock()

	if ok {
		p.emit(Event{Kind: EventQueueChanged, FileID: id})
	}
	return ok
}

// ClearAll removes every file and returns how many were removed.
func (p *Pipeline) ClearAll() int {
	p.mu.Lock()
	n := p.q.clear()
	p.mu.Unlock()

	if n > 0 {
		p.emit(Event{Kind: EventQueueChanged})
	}
	return n
}

// =============================================================================
// READS
// =============================================================================

// Files returns snapshots of every file in insertion order.
func (p *Pipeline) Files() []File {
	p.mu.Lock()
	defer p.mu.Unlock()

	files := make([]File, 0, p.q.len())
	p.q.each(func(e *entry) {
		files = append(files, snapshot(e))
	})
	return files
}

// File returns a snapshot of file id.
func (p *Pipeline) File(id string) (File, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.q.get(id)
	if !ok {
		return File{}, false
	}
	return snapshot(e), true
}

// Len returns the number of queued files.
func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.q.len()
}

// IsCompressing reports whether a batch is running.
func (p *Pipeline) IsCompressing() bool {
	return p.compressing.Load()
}

// Wait blocks until outstanding suggestion requests finish.
func (p *Pipeline) Wait() {
	p.suggestWG.Wait()
}

// Close cancels outstanding suggestion requests and waits for them.
// A running batch is not interrupted; cancel its context instead.
func (p *Pipeline) Close() {
	p.cancel()
	p.suggestWG.Wait()
}

func snapshot(e *entry) File {
	f := e.file
	if f.Suggestion != nil {
		s := *f.Suggestion
		f.Suggestion = &s
	}
	return f
}
