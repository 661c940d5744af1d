package pipeline

import (
	"context"

	"github.com/rs/zerolog/log"
)

// prepareSuggestion tags a new suggestion request for e (called with p.mu held).
// ask is false when no suggester is configured or the file is not PNG/JPEG.
func (p *Pipeline) prepareSuggestion(e *entry) (req SuggestionRequest, seq uint64, ask bool) {
	if p.suggester == nil {
		return SuggestionRequest{}, 0, false
	}
	fileType, ok := FormatFromMIME(e.file.MIMEType)
	if !ok {
		return SuggestionRequest{}, 0, false
	}
	e.suggestionSeq++
	return SuggestionRequest{Level: e.file.Level, FileType: fileType}, e.suggestionSeq, true
}

// dispatchSuggestion runs the suggester in the background. Failures are logged
// and otherwise ignored; the file keeps whatever suggestion it had.
func (p *Pipeline) dispatchSuggestion(id string, seq uint64, req SuggestionRequest) {
	p.suggestWG.Add(1)
	go func() {
		defer p.suggestWG.Done()

		ctx, cancel := context.WithTimeout(p.ctx, p.suggestionTimeout)
		defer cancel()

		s, err := p.suggester.Suggest(ctx, req)
		if err == nil {
			err = s.Validate()
		}
		if err != nil {
			log.Warn().
				Err(err).
				Str("file_id", id).
				Str("level", string(req.Level)).
				Str("file_type", string(req.FileType)).
				Msg("pipeline: suggestion failed")
			return
		}

		p.commitSuggestion(id, seq, s)
	}()
}

// commitSuggestion attaches s unless the file is gone or a newer request was issued.
func (p *Pipeline) commitSuggestion(id string, seq uint64, s Suggestion) {
	p.mu.Lock()
	e, ok := p.q.get(id)
	if !ok || e.suggestionSeq != seq {
		p.mu.Unlock()
		log.Debug().Str("file_id", id).Uint64("seq", seq).Msg("pipeline: stale suggestion dropped")
		return
	}
	e.file.Suggestion = &s
	snap := snapshot(e)
	p.mu.Unlock()

	p.emit(fileEvent(EventSuggestionReady, snap))
}
