package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// CompressAll compresses every file that is Pending when the call starts, in
// insertion order, one at a time. A file removed or no longer Pending by the
// time its turn comes is skipped. batch_started and batch_completed fire once
// each whatever the individual outcomes.
//
// Only one batch runs at a time; a concurrent call returns ErrBatchRunning.
// When ctx is cancelled the batch stops before the next file and returns
// ctx.Err(); files not reached stay Pending.
func (p *Pipeline) CompressAll(ctx context.Context) (BatchSummary, error) {
	if !p.compressing.CompareAndSwap(false, true) {
		return BatchSummary{}, ErrBatchRunning
	}
	defer p.compressing.Store(false)

	p.mu.Lock()
	ids := p.q.idsWithStatus(StatusPending)
	p.mu.Unlock()

	summary := BatchSummary{Started: p.now()}
	log.Info().Int("files", len(ids)).Msg("pipeline: batch started")
	p.emit(Event{Kind: EventBatchStarted, Summary: &BatchSummary{Started: summary.Started, Files: len(ids)}})

	var err error
	for _, id := range ids {
		if err = ctx.Err(); err != nil {
			break
		}
		p.compressOne(ctx, id, &summary)
	}

	summary.Finished = p.now()
	summary.Duration = summary.Finished.Sub(summary.Started)
	log.Info().
		Int("files", summary.Files).
		Int("done", summary.Done).
		Int("failed", summary.Failed).
		Int("already_optimized", summary.AlreadyOptimized).
		Int("skipped", summary.Skipped).
		Dur("duration", summary.Duration).
		Msg("pipeline: batch completed")

	final := summary
	p.emit(Event{Kind: EventBatchCompleted, Summary: &final})
	return summary, err
}

// compressOne drives a single file through Compressing to Done or Error.
func (p *Pipeline) compressOne(ctx context.Context, id string, summary *BatchSummary) {
	p.mu.Lock()
	e, ok := p.q.get(id)
	if !ok || e.file.Status != StatusPending {
		p.mu.Unlock()
		summary.Skipped++
		return
	}
	// Parameters are fixed here; later configuration changes do not reach this call.
	e.attempt++
	attempt := e.attempt
	e.file.Status = StatusCompressing
	e.file.Progress = 0
	e.file.Error = ""
	src := e.file.Source
	format := e.file.Format
	opts := PolicyFor(e.file.Level).Options(format)
	snap := snapshot(e)
	p.mu.Unlock()

	summary.Files++
	p.emit(fileEvent(EventFileUpdated, snap))

	if !format.Supported() {
		p.fail(id, attempt, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format), summary)
		return
	}

	start := time.Now()
	out, err := p.compressor.Compress(ctx, src, opts, func(percent int) {
		p.setProgress(id, attempt, percent)
	})
	if err == nil && len(out) == 0 {
		err = ErrEmptyOutput
	}
	if err != nil {
		p.fail(id, attempt, err, summary)
		return
	}

	log.Debug().
		Str("file_id", id).
		Int("source_size", len(src)).
		Int("result_size", len(out)).
		Dur("duration", time.Since(start)).
		Msg("pipeline: compressor returned")
	p.complete(id, attempt, format, out, summary)
}

// setProgress updates progress of the active attempt; anything else is dropped.
func (p *Pipeline) setProgress(id string, attempt uint64, percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	p.mu.Lock()
	e, ok := p.q.get(id)
	if !ok || e.attempt != attempt || e.file.Status != StatusCompressing || e.file.Progress == percent {
		p.mu.Unlock()
		return
	}
	e.file.Progress = percent
	snap := snapshot(e)
	p.mu.Unlock()

	p.emit(fileEvent(EventFileUpdated, snap))
}

// complete applies the no-regression policy: a result that is not smaller
// than the source is replaced by the source bytes.
func (p *Pipeline) complete(id string, attempt uint64, format Format, out []byte, summary *BatchSummary) {
	p.mu.Lock()
	e, ok := p.current(id, attempt)
	if !ok {
		p.mu.Unlock()
		summary.Skipped++
		return
	}
	regressed := int64(len(out)) >= e.file.SourceSize
	if regressed {
		e.file.Output = e.file.Source
		e.file.OutputSize = e.file.SourceSize
	} else {
		e.file.Output = out
		e.file.OutputSize = int64(len(out))
	}
	e.file.OutputFormat = format
	e.file.AlreadyOptimized = regressed
	e.file.Status = StatusDone
	e.file.Progress = 100
	e.file.Error = ""
	snap := snapshot(e)
	p.mu.Unlock()

	summary.Done++
	summary.BytesIn += snap.SourceSize
	summary.BytesOut += snap.OutputSize

	p.emit(fileEvent(EventFileUpdated, snap))
	if regressed {
		summary.AlreadyOptimized++
		log.Info().
			Str("file_id", id).
			Str("name", snap.Name).
			Int("result_size", len(out)).
			Int64("source_size", snap.SourceSize).
			Msg("pipeline: already optimized, keeping original")
		p.emit(fileEvent(EventAlreadyOptimized, snap))
	}
}

// fail records err on the file and raises the fatal notification.
func (p *Pipeline) fail(id string, attempt uint64, err error, summary *BatchSummary) {
	p.mu.Lock()
	e, ok := p.current(id, attempt)
	if !ok {
		p.mu.Unlock()
		summary.Skipped++
		return
	}
	e.file.Status = StatusError
	e.file.Progress = 100
	e.file.Error = err.Error()
	if e.file.Error == "" {
		e.file.Error = "compression failed"
	}
	e.file.Output = nil
	e.file.OutputSize = 0
	e.file.OutputFormat = ""
	e.file.AlreadyOptimized = false
	snap := snapshot(e)
	p.mu.Unlock()

	summary.Failed++
	log.Error().
		Err(err).
		Str("file_id", id).
		Str("name", snap.Name).
		Msg("pipeline: compression failed")

	p.emit(fileEvent(EventFileUpdated, snap))
	p.emit(fileEvent(EventFileFailed, snap))
}

// current returns the entry if it still exists and attempt is its latest (p.mu held).
func (p *Pipeline) current(id string, attempt uint64) (*entry, bool) {
	e, ok := p.q.get(id)
	if !ok || e.attempt != attempt || e.file.Status != StatusCompressing {
		return nil, false
	}
	return e, true
}
