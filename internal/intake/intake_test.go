package intake_test

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"mime/multipart"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/shrinker/internal/intake"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4)), nil))
	return buf.Bytes()
}

func TestPick_FiltersByContent(t *testing.T) {
	p := intake.NewPicker(intake.DefaultConfig())

	sources, rejected, err := p.Pick([]intake.Candidate{
		{Name: "a.png", Data: pngBytes(t)},
		{Name: "renamed.png", Data: jpegBytes(t)},
		{Name: "doc.png", Data: []byte("%PDF-1.7 fake")},
		{Name: "empty.jpg"},
	})
	require.NoError(t, err)

	require.Len(t, sources, 2)
	assert.Equal(t, "image/png", sources[0].MIMEType)
	assert.Equal(t, "renamed.png", sources[1].Name)
	assert.Equal(t, "image/jpeg", sources[1].MIMEType)

	assert.Equal(t, []intake.Rejection{
		{Name: "doc.png", Reason: intake.ReasonUnsupported},
		{Name: "empty.jpg", Reason: intake.ReasonEmpty},
	}, rejected)
}

func TestPick_TooManyFiles(t *testing.T) {
	p := intake.NewPicker(intake.Config{MaxFiles: 2})

	cands := make([]intake.Candidate, 3)
	for i := range cands {
		cands[i] = intake.Candidate{Name: "a.png", Data: pngBytes(t)}
	}
	sources, rejected, err := p.Pick(cands)
	assert.ErrorIs(t, err, intake.ErrTooManyFiles)
	assert.Nil(t, sources)
	assert.Nil(t, rejected)

	sources, _, err = p.Pick(cands[:2])
	require.NoError(t, err)
	assert.Len(t, sources, 2)
}

func TestPick_TooLarge(t *testing.T) {
	data := pngBytes(t)
	p := intake.NewPicker(intake.Config{MaxFileSize: int64(len(data))})

	sources, rejected, err := p.Pick([]intake.Candidate{
		{Name: "fits.png", Data: data},
		{Name: "declared.png", Data: data, Size: int64(len(data)) + 1},
		{Name: "big.png", Data: append(bytes.Clone(data), 0)},
	})
	require.NoError(t, err)
	assert.Len(t, sources, 1)
	require.Len(t, rejected, 2)
	for _, r := range rejected {
		assert.Equal(t, intake.ReasonTooLarge, r.Reason)
	}
}

func TestFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pic.png")
	data := pngBytes(t)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	c, err := intake.FromPath(path, 0)
	require.NoError(t, err)
	assert.Equal(t, "pic.png", c.Name)
	assert.Equal(t, data, c.Data)
	assert.False(t, c.ModTime.IsZero())

	c, err = intake.FromPath(path, 10)
	require.NoError(t, err)
	assert.Nil(t, c.Data)
	assert.Equal(t, int64(len(data)), c.Size)

	_, err = intake.FromPath(filepath.Join(dir, "missing.png"), 0)
	assert.Error(t, err)

	_, err = intake.FromPath(dir, 0)
	assert.Error(t, err)
}

func TestFromMultipart(t *testing.T) {
	data := pngBytes(t)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("files", "upload.png")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(1<<20))

	fh := req.MultipartForm.File["files"][0]
	c, err := intake.FromMultipart(fh, 1<<20)
	require.NoError(t, err)
	assert.Equal(t, "upload.png", c.Name)
	assert.Equal(t, data, c.Data)
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"photo.png", "photo.png"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\photo.jpg`, "photo.jpg"},
		{"bad\x00name.png", "badname.png"},
		{"", "unnamed"},
		{"..", "unnamed"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, intake.SanitizeName(tt.in))
		})
	}

	long := strings.Repeat("a", 300) + ".png"
	got := intake.SanitizeName(long)
	assert.LessOrEqual(t, len(got), 200)
	assert.True(t, strings.HasSuffix(got, ".png"))
}
