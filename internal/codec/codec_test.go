package codec_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/shrinker/internal/codec"
	"github.com/compresr/shrinker/internal/pipeline"
)

// noisyPNG returns a PNG of random pixels, which compresses poorly.
func noisyPNG(t *testing.T, w, h int, alpha bool) []byte {
	t.Helper()
	r := rand.New(rand.NewSource(42))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a := uint8(255)
			if alpha {
				a = uint8(r.Intn(256))
			}
			img.Set(x, y, color.NRGBA{R: uint8(r.Intn(256)), G: uint8(r.Intn(256)), B: uint8(r.Intn(256)), A: a})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decode(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := imaging.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func TestCompress_PNGToJPEG(t *testing.T) {
	input := noisyPNG(t, 200, 150, true)
	c := codec.New(codec.DefaultConfig())

	var progress []int
	out, err := c.Compress(context.Background(), input,
		pipeline.PolicyFor(pipeline.LevelMedium).Options(pipeline.FormatJPG),
		func(p int) { progress = append(progress, p) })
	require.NoError(t, err)

	assert.Less(t, len(out), len(input))
	assert.Equal(t, []byte{0xFF, 0xD8}, out[:2], "expected JPEG SOI marker")
	require.NotEmpty(t, progress)
	assert.Equal(t, 100, progress[len(progress)-1])
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1])
	}
}

func TestCompress_SizeHintDownscales(t *testing.T) {
	input := noisyPNG(t, 300, 300, false)
	c := codec.New(codec.Config{MaxIterations: 20})

	opts := pipeline.CompressOptions{MaxSizeBytes: 8 * 1024, InitialQuality: 0.9, OutputType: pipeline.FormatJPG}
	out, err := c.Compress(context.Background(), input, opts, nil)
	require.NoError(t, err)

	img := decode(t, out)
	assert.Less(t, img.Bounds().Dx(), 300)
}

func TestCompress_PreserveResolution(t *testing.T) {
	input := noisyPNG(t, 120, 80, false)
	c := codec.New(codec.DefaultConfig())

	opts := pipeline.CompressOptions{MaxSizeBytes: 1, InitialQuality: 0.9, PreserveResolution: true, OutputType: pipeline.FormatJPG}
	out, err := c.Compress(context.Background(), input, opts, nil)
	require.NoError(t, err)

	img := decode(t, out)
	assert.Equal(t, 120, img.Bounds().Dx())
	assert.Equal(t, 80, img.Bounds().Dy())
}

func TestCompress_PNGOutput(t *testing.T) {
	input := noisyPNG(t, 64, 64, false)
	c := codec.New(codec.DefaultConfig())

	out, err := c.Compress(context.Background(), input,
		pipeline.PolicyFor(pipeline.LevelLow).Options(pipeline.FormatPNG), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), out[:4])
}

func TestCompress_Errors(t *testing.T) {
	c := codec.New(codec.DefaultConfig())
	input := noisyPNG(t, 32, 32, false)

	_, err := c.Compress(context.Background(), []byte("not an image"),
		pipeline.PolicyFor(pipeline.LevelMedium).Options(pipeline.FormatJPG), nil)
	assert.ErrorContains(t, err, "decode image")

	_, err = c.Compress(context.Background(), input,
		pipeline.PolicyFor(pipeline.LevelMedium).Options(pipeline.Format("webp")), nil)
	assert.ErrorIs(t, err, pipeline.ErrUnsupportedFormat)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Compress(ctx, input, pipeline.PolicyFor(pipeline.LevelMedium).Options(pipeline.FormatJPG), nil)
	assert.ErrorIs(t, err, context.Canceled)
}
