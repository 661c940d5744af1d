package pipeline

import "time"

// EventKind identifies a pipeline notification.
type EventKind string

const (
	// EventBatchStarted fires once before the first file of a batch.
	EventBatchStarted EventKind = "batch_started"
	// EventBatchCompleted fires once after the last file of a batch.
	EventBatchCompleted EventKind = "batch_completed"
	// EventFileUpdated fires on status and progress changes.
	EventFileUpdated EventKind = "file_updated"
	// EventAlreadyOptimized is the advisory raised when the original bytes were kept.
	EventAlreadyOptimized EventKind = "file_already_optimized"
	// EventFileFailed is the fatal per-file notification.
	EventFileFailed EventKind = "file_failed"
	// EventSuggestionReady fires when a suggestion is attached to a file.
	EventSuggestionReady EventKind = "suggestion_ready"
	// EventQueueChanged fires on admission, removal, clear and reset.
	EventQueueChanged EventKind = "queue_changed"
)

// Event is delivered to listeners after the queue lock is released.
type Event struct {
	Kind    EventKind     `json:"kind"`
	Time    time.Time     `json:"time"`
	FileID  string        `json:"fileId,omitempty"`
	File    *File         `json:"file,omitempty"`
	Summary *BatchSummary `json:"summary,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// Listener receives pipeline events. Listeners run on the goroutine that
// caused the event and must not block.
type Listener func(Event)

// BatchSummary describes one CompressAll run.
type BatchSummary struct {
	Started          time.Time     `json:"started"`
	Finished         time.Time     `json:"finished"`
	Duration         time.Duration `json:"duration"`
	Files            int           `json:"files"`
	Done             int           `json:"done"`
	Failed           int           `json:"failed"`
	AlreadyOptimized int           `json:"alreadyOptimized"`
	Skipped          int           `json:"skipped"`
	BytesIn          int64         `json:"bytesIn"`
	BytesOut         int64         `json:"bytesOut"`
}

// Subscribe registers l and returns a function that removes it.
func (p *Pipeline) Subscribe(l Listener) (unsubscribe func()) {
	p.lmu.Lock()
	defer p.lmu.Unlock()

	p.nextListener++
	key := p.nextListener
	p.listeners = append(p.listeners, listenerEntry{key: key, fn: l})

	return func() {
		p.lmu.Lock()
		defer p.lmu.Unlock()
		for i, e := range p.listeners {
			if e.key == key {
				p.listeners = append(p.listeners[:i:i], p.listeners[i+1:]...)
				return
			}
		}
	}
}

type listenerEntry struct {
	key uint64
	fn  Listener
}

func (p *Pipeline) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = p.now()
	}

	p.lmu.RLock()
	ls := p.listeners
	p.lmu.RUnlock()

	for _, e := range ls {
		e.fn(ev)
	}
}

func fileEvent(kind EventKind, f File) Event {
	return Event{Kind: kind, FileID: f.ID, File: &f, Error: f.Error}
}
