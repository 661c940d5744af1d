package pipeline

import "context"

// MiB is one mebibyte.
const MiB = 1024 * 1024

// Policy holds the hints passed to the compressor for one level.
// They are hints only; the no-regression check in the orchestrator does not
// rely on the compressor honoring them.
type Policy struct {
	MaxSizeBytes       int64
	InitialQuality     float64
	PreserveResolution bool
}

// policies is fixed and not user-editable.
var policies = map[Level]Policy{
	LevelLow:    {MaxSizeBytes: 2 * MiB, InitialQuality: 0.9, PreserveResolution: true},
	LevelMedium: {MaxSizeBytes: 1 * MiB, InitialQuality: 0.7},
	LevelHigh:   {MaxSizeBytes: MiB / 2, InitialQuality: 0.5},
}

// PolicyFor returns the policy of l. Unknown levels get the default level's policy.
func PolicyFor(l Level) Policy {
	if p, ok := policies[l]; ok {
		return p
	}
	return policies[DefaultLevel]
}

// Options builds the compressor options for output format f.
func (p Policy) Options(f Format) CompressOptions {
	return CompressOptions{
		MaxSizeBytes:       p.MaxSizeBytes,
		InitialQuality:     p.InitialQuality,
		PreserveResolution: p.PreserveResolution,
		OutputType:         f,
	}
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// CompressOptions are the hints for one compressor call.
type CompressOptions struct {
	MaxSizeBytes       int64
	InitialQuality     float64 // 0..1
	PreserveResolution bool
	OutputType         Format
}

// ProgressFunc receives progress percentages (0..100) during one compressor call.
type ProgressFunc func(percent int)

// Compressor re-encodes an image. It must accept PNG and JPEG input and
// produce PNG and JPEG output.
type Compressor interface {
	Compress(ctx context.Context, input []byte, opts CompressOptions, onProgress ProgressFunc) ([]byte, error)
}

// CompressorFunc adapts a function to Compressor.
type CompressorFunc func(ctx context.Context, input []byte, opts CompressOptions, onProgress ProgressFunc) ([]byte, error)

// Compress calls f.
func (f CompressorFunc) Compress(ctx context.Context, input []byte, opts CompressOptions, onProgress ProgressFunc) ([]byte, error) {
	return f(ctx, input, opts, onProgress)
}

// SuggestionRequest identifies what a suggestion is asked for.
type SuggestionRequest struct {
	Level    Level
	FileType Format
}

// Suggester produces advisory quality settings. Results may be ignored.
type Suggester interface {
	Suggest(ctx context.Context, req SuggestionRequest) (Suggestion, error)
}

// SuggesterFunc adapts a function to Suggester.
type SuggesterFunc func(ctx context.Context, req SuggestionRequest) (Suggestion, error)

// Suggest calls f.
func (f SuggesterFunc) Suggest(ctx context.Context, req SuggestionRequest) (Suggestion, error) {
	return f(ctx, req)
}
