// Package codec is the in-process image compressor.
//
// DESIGN: Iterative re-encode loop on top of disintegration/imaging:
//  1. Decode (PNG or JPEG), applying EXIF orientation
//  2. Encode at the initial quality hint
//  3. While the result exceeds the size hint, lower JPEG quality and,
//     unless resolution must be preserved, downscale by ScaleStep
//  4. Return the smallest encoding produced
//
// The size hint is best effort. The pipeline decides whether the result is
// accepted, so the codec never compares against the input size.
package codec

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"

	"github.com/compresr/shrinker/internal/pipeline"
)

// Config tunes the re-encode loop.
type Config struct {
	MaxIterations int     `yaml:"max_iterations"` // encodes per file
	MinQuality    int     `yaml:"min_quality"`    // JPEG quality floor (1-100)
	QualityStep   int     `yaml:"quality_step"`   // quality decrease per iteration
	ScaleStep     float64 `yaml:"scale_step"`     // size factor per iteration (0-1)
	MinDimension  int     `yaml:"min_dimension"`  // never downscale below this many pixels
}

// DefaultConfig returns the loop settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxIterations: 10,
		MinQuality:    10,
		QualityStep:   10,
		ScaleStep:     0.9,
		MinDimension:  16,
	}
}

// Compressor implements pipeline.Compressor.
type Compressor struct {
	cfg Config
}

// New creates a compressor. Zero fields in cfg take their default.
func New(cfg Config) *Compressor {
	def := DefaultConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.MinQuality <= 0 || cfg.MinQuality > 100 {
		cfg.MinQuality = def.MinQuality
	}
	if cfg.QualityStep <= 0 {
		cfg.QualityStep = def.QualityStep
	}
	if cfg.ScaleStep <= 0 || cfg.ScaleStep >= 1 {
		cfg.ScaleStep = def.ScaleStep
	}
	if cfg.MinDimension <= 0 {
		cfg.MinDimension = def.MinDimension
	}
	return &Compressor{cfg: cfg}
}

// Compress re-encodes input as opts.OutputType.
func (c *Compressor) Compress(ctx context.Context, input []byte, opts pipeline.CompressOptions, onProgress pipeline.ProgressFunc) ([]byte, error) {
	if onProgress == nil {
		onProgress = func(int) {}
	}

	format, err := imagingFormat(opts.OutputType)
	if err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(input), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if format == imaging.JPEG {
		img = flatten(img)
	}
	onProgress(5)

	quality := c.initialQuality(opts.InitialQuality)
	var best []byte

	for i := 0; i < c.cfg.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out, err := encode(img, format, quality)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", opts.OutputType, err)
		}
		if best == nil || len(out) < len(best) {
			best = out
		}
		onProgress(5 + 90*(i+1)/c.cfg.MaxIterations)

		log.Debug().
			Int("iteration", i+1).
			Int("quality", quality).
			Int("width", img.Bounds().Dx()).
			Int("size", len(out)).
			Int64("target", opts.MaxSizeBytes).
			Msg("codec: encoded")

		if opts.MaxSizeBytes <= 0 || int64(len(out)) <= opts.MaxSizeBytes {
			break
		}

		tightened := false
		if format == imaging.JPEG && quality > c.cfg.MinQuality {
			quality = max(c.cfg.MinQuality, quality-c.cfg.QualityStep)
			tightened = true
		}
		if !opts.PreserveResolution {
			if smaller, ok := c.downscale(img); ok {
				img = smaller
				tightened = true
			}
		}
		if !tightened {
			break
		}
	}

	onProgress(100)
	return best, nil
}

func (c *Compressor) initialQuality(hint float64) int {
	if hint <= 0 || hint > 1 {
		hint = pipeline.PolicyFor(pipeline.DefaultLevel).InitialQuality
	}
	q := int(math.Round(hint * 100))
	return min(100, max(c.cfg.MinQuality, q))
}

func (c *Compressor) downscale(img image.Image) (image.Image, bool) {
	b := img.Bounds()
	w := int(float64(b.Dx()) * c.cfg.ScaleStep)
	h := int(float64(b.Dy()) * c.cfg.ScaleStep)
	if w < c.cfg.MinDimension || h < c.cfg.MinDimension {
		return img, false
	}
	return imaging.Resize(img, w, h, imaging.Lanczos), true
}

func imagingFormat(f pipeline.Format) (imaging.Format, error) {
	switch f {
	case pipeline.FormatPNG:
		return imaging.PNG, nil
	case pipeline.FormatJPG:
		return imaging.JPEG, nil
	default:
		return 0, fmt.Errorf("%w: %q", pipeline.ErrUnsupportedFormat, f)
	}
}

func encode(img image.Image, format imaging.Format, quality int) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	if format == imaging.JPEG {
		err = imaging.Encode(&buf, img, format, imaging.JPEGQuality(quality))
	} else {
		err = imaging.Encode(&buf, img, format, imaging.PNGCompressionLevel(png.BestCompression))
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// flatten composites img onto white; JPEG has no alpha channel.
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

var _ pipeline.Compressor = (*Compressor)(nil)
