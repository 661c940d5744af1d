package pipeline

import "errors"

var (
	// ErrBatchRunning is returned by CompressAll while another batch is in progress.
	ErrBatchRunning = errors.New("pipeline: batch already running")

	// ErrNotFound is returned when an id does not name a queued file.
	ErrNotFound = errors.New("pipeline: file not found")

	// ErrNotReady is returned by PrepareDownload for files that are not Done.
	ErrNotReady = errors.New("pipeline: file is not compressed yet")

	// ErrUnsupportedFormat marks a file whose target format cannot be produced.
	ErrUnsupportedFormat = errors.New("unsupported target format")

	// ErrInvalidLevel is returned when a compression level cannot be parsed.
	ErrInvalidLevel = errors.New("invalid compression level")

	// ErrUnknownKey is returned by SetConfiguration for keys other than
	// compressionLevel and targetFormat.
	ErrUnknownKey = errors.New("unknown configuration key")

	// ErrInvalidSuggestion marks a suggestion with an invalid shape.
	ErrInvalidSuggestion = errors.New("invalid suggestion")

	// ErrEmptyOutput is recorded when the compressor returns no bytes.
	ErrEmptyOutput = errors.New("compressor returned empty output")
)
