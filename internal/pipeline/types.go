// Package pipeline tracks uploaded images from admission to download.
//
// DESIGN: A Pipeline owns one in-memory queue of files (an arena keyed by id
// plus an insertion-order slice). Every mutation goes through a command
// method, so the rendering layer (HTTP, CLI) only reads snapshots:
//
//	Admit            -> new Pending entries
//	SetConfiguration -> level / format per file (level change requests a suggestion)
//	CompressAll      -> sequential batch over Pending files
//	Reset            -> every entry back to Pending
//	Remove/ClearAll  -> drop entries
//	PrepareDownload  -> bytes + filename + savings for a Done file
//
// FLOW (per file):
//
//	Pending -> Compressing -> Done | Error
//	Done/Error -> Pending only through Reset.
//
// Compression and suggestion generation are collaborators behind the
// Compressor and Suggester interfaces.
package pipeline

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// =============================================================================
// LEVELS AND FORMATS
// =============================================================================

// Level is the user-selected compression strength.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// DefaultLevel is assigned to every admitted file.
const DefaultLevel = LevelMedium

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	switch l {
	case LevelLow, LevelMedium, LevelHigh:
		return true
	}
	return false
}

// ParseLevel converts user input ("Low", "medium", ...) into a Level.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidLevel, s)
	}
	return l, nil
}

// Format is the output encoding of a file.
type Format string

const (
	FormatPNG Format = "png"
	FormatJPG Format = "jpg"
)

// Supported reports whether the orchestrator can produce f.
func (f Format) Supported() bool {
	return f == FormatPNG || f == FormatJPG
}

// Extension returns the file extension for f, including the dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// MIMEType returns the media type of f.
func (f Format) MIMEType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatJPG:
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

// ParseFormat converts user input ("PNG", "jpeg", ...) into a Format.
// The result is not checked against the supported set.
func ParseFormat(s string) Format {
	f := strings.ToLower(strings.TrimSpace(s))
	if f == "jpeg" {
		return FormatJPG
	}
	return Format(f)
}

// InferFormat picks the default target format from a file name:
// png -> PNG, jpg/jpeg -> JPG, anything else -> JPG.
func InferFormat(name string) Format {
	switch strings.ToLower(path.Ext(name)) {
	case ".png":
		return FormatPNG
	default:
		return FormatJPG
	}
}

// FormatFromMIME maps an image media type to a Format.
// ok is false for anything other than PNG or JPEG.
func FormatFromMIME(mimeType string) (Format, bool) {
	switch strings.ToLower(mimeType) {
	case "image/png":
		return FormatPNG, true
	case "image/jpeg", "image/jpg":
		return FormatJPG, true
	}
	return "", false
}

// =============================================================================
// FILE STATE
// =============================================================================

// Status is the position of a file in its lifecycle.
type Status string

const (
	StatusPending     Status = "pending"
	StatusCompressing Status = "compressing"
	StatusDone        Status = "done"
	StatusError       Status = "error"
)

// Terminal reports whether s is Done or Error.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// Source is a raw file handed over by the admission boundary.
type Source struct {
	Name     string
	MIMEType string
	ModTime  time.Time
	Data     []byte
}

// Suggestion is advisory quality metadata attached to a file.
type Suggestion struct {
	Quality              int    `json:"quality"`
	OptimizationStrategy string `json:"optimizationStrategy"`
}

// Validate rejects suggestions with an out-of-range quality or no strategy.
func (s Suggestion) Validate() error {
	if s.Quality < 0 || s.Quality > 100 {
		return fmt.Errorf("%w: quality %d outside 0..100", ErrInvalidSuggestion, s.Quality)
	}
	if strings.TrimSpace(s.OptimizationStrategy) == "" {
		return fmt.Errorf("%w: empty optimization strategy", ErrInvalidSuggestion)
	}
	return nil
}

// File is a point-in-time snapshot of a queued file.
// Source and Output share memory with the queue and must not be modified.
type File struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	MIMEType   string    `json:"mimeType"`
	ModTime    time.Time `json:"modTime"`
	Source     []byte    `json:"-"`
	SourceSize int64     `json:"sourceSize"`

	Level  Level  `json:"compressionLevel"`
	Format Format `json:"targetFormat"`

	Status   Status `json:"status"`
	Progress int    `json:"progress"`

	Output           []byte `json:"-"`
	OutputSize       int64  `json:"outputSize,omitempty"`
	OutputFormat     Format `json:"outputFormat,omitempty"` // format Output was encoded for
	AlreadyOptimized bool   `json:"alreadyOptimized,omitempty"`

	Suggestion *Suggestion `json:"suggestion,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// ConfigKey names a mutable per-file setting.
type ConfigKey string

const (
	KeyCompressionLevel ConfigKey = "compressionLevel"
	KeyTargetFormat     ConfigKey = "targetFormat"
)
