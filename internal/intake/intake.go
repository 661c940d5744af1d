// Package intake is the admission boundary in front of the pipeline.
//
// DESIGN: The pipeline never validates what it is given, so every source
// reaching Pipeline.Admit passes through a Picker first:
//   - count:  more than MaxFiles candidates rejects the whole batch
//   - size:   files over MaxFileSize are rejected one by one
//   - type:   content is sniffed (not the extension) and must be PNG or JPEG
package intake

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"

	"github.com/compresr/shrinker/internal/pipeline"
)

const (
	// DefaultMaxFiles is the per-batch file count limit.
	DefaultMaxFiles = 10

	// DefaultMaxFileSize is the per-file size limit (100 MiB).
	DefaultMaxFileSize = 100 * pipeline.MiB

	defaultFileName = "unnamed"
	maxBaseNameLen  = 200
)

// ErrTooManyFiles rejects a batch with more than MaxFiles candidates.
var ErrTooManyFiles = errors.New("too many files")

// Rejection reasons.
const (
	ReasonTooLarge    = "file too large"
	ReasonUnsupported = "unsupported file type"
	ReasonEmpty       = "empty file"
)

// Config holds admission limits.
type Config struct {
	MaxFiles     int      `yaml:"max_files"`
	MaxFileSize  int64    `yaml:"max_file_size"`
	AllowedTypes []string `yaml:"allowed_types"`
}

// DefaultConfig returns the standard limits: 10 files, 100 MiB, PNG and JPEG.
func DefaultConfig() Config {
	return Config{
		MaxFiles:     DefaultMaxFiles,
		MaxFileSize:  DefaultMaxFileSize,
		AllowedTypes: []string{"image/png", "image/jpeg"},
	}
}

// Candidate is a file offered for admission.
type Candidate struct {
	Name    string
	ModTime time.Time
	Data    []byte

	// Size is the declared size. When larger than len(Data) the data was
	// truncated while reading and the candidate is rejected as too large.
	Size int64
}

// Rejection explains why a candidate was not admitted.
type Rejection struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Picker filters candidates into pipeline sources.
type Picker struct {
	cfg Config
}

// NewPicker creates a Picker. Zero limits take their default.
func NewPicker(cfg Config) *Picker {
	def := DefaultConfig()
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = def.MaxFiles
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = def.MaxFileSize
	}
	if len(cfg.AllowedTypes) == 0 {
		cfg.AllowedTypes = def.AllowedTypes
	}
	return &Picker{cfg: cfg}
}

// MaxFileSize returns the per-file limit in bytes.
func (p *Picker) MaxFileSize() int64 { return p.cfg.MaxFileSize }

// MaxFiles returns the per-batch count limit.
func (p *Picker) MaxFiles() int { return p.cfg.MaxFiles }

// Pick admits the acceptable candidates in order and reports the others.
func (p *Picker) Pick(candidates []Candidate) ([]pipeline.Source, []Rejection, error) {
	if len(candidates) > p.cfg.MaxFiles {
		return nil, nil, fmt.Errorf("%w: %d (max %d)", ErrTooManyFiles, len(candidates), p.cfg.MaxFiles)
	}

	var (
		sources  []pipeline.Source
		rejected []Rejection
	)
	for _, c := range candidates {
		name := SanitizeName(c.Name)
		mimeType, reason := p.check(c)
		if reason != "" {
			log.Debug().Str("name", name).Str("reason", reason).Msg("intake: file rejected")
			rejected = append(rejected, Rejection{Name: name, Reason: reason})
			continue
		}
		sources = append(sources, pipeline.Source{
			Name:     name,
			MIMEType: mimeType,
			ModTime:  c.ModTime,
			Data:     c.Data,
		})
	}
	return sources, rejected, nil
}

func (p *Picker) check(c Candidate) (mimeType, reason string) {
	size := max(c.Size, int64(len(c.Data)))
	if size > p.cfg.MaxFileSize {
		return "", ReasonTooLarge
	}
	if len(c.Data) == 0 {
		return "", ReasonEmpty
	}
	mt := mimetype.Detect(c.Data)
	for _, allowed := range p.cfg.AllowedTypes {
		if mt.Is(allowed) {
			return allowed, ""
		}
	}
	return "", ReasonUnsupported
}

// =============================================================================
// CANDIDATE SOURCES
// =============================================================================

// FromPath reads a file from disk. Files larger than maxSize are not read;
// the candidate carries only the declared size.
func FromPath(path string, maxSize int64) (Candidate, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Candidate{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return Candidate{}, fmt.Errorf("%s is a directory", path)
	}

	c := Candidate{Name: filepath.Base(path), ModTime: info.ModTime(), Size: info.Size()}
	if maxSize > 0 && info.Size() > maxSize {
		return c, nil
	}

	c.Data, err = os.ReadFile(path)
	if err != nil {
		return Candidate{}, fmt.Errorf("read %s: %w", path, err)
	}
	return c, nil
}

// FromMultipart reads an uploaded file, reading at most maxSize+1 bytes.
// Browsers do not send a modification time, so the upload time is used.
func FromMultipart(fh *multipart.FileHeader, maxSize int64) (Candidate, error) {
	c := Candidate{Name: fh.Filename, ModTime: time.Now(), Size: fh.Size}
	if maxSize > 0 && fh.Size > maxSize {
		return c, nil
	}

	f, err := fh.Open()
	if err != nil {
		return Candidate{}, fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer f.Close()

	var r io.Reader = f
	if maxSize > 0 {
		r = io.LimitReader(f, maxSize+1)
	}
	c.Data, err = io.ReadAll(r)
	if err != nil {
		return Candidate{}, fmt.Errorf("read upload %s: %w", fh.Filename, err)
	}
	return c, nil
}

// SanitizeName strips directories and control characters from a client
// supplied name and bounds its length.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == '/' {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return defaultFileName
	}

	if len(name) > maxBaseNameLen {
		ext := filepath.Ext(name)
		if len(ext) > 10 {
			ext = ""
		}
		name = strings.ToValidUTF8(name[:maxBaseNameLen-len(ext)], "") + ext
	}
	return name
}
