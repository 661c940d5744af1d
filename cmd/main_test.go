package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/shrinker/internal/config"
	"github.com/compresr/shrinker/internal/pipeline"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, _, err := loadConfig("configs/shrinker.yaml")
	require.NoError(t, err)
	cfg.History.Type = config.HistoryMemory
	cfg.Monitoring.TelemetryEnabled = false
	cfg.Monitoring.LogOutput = "stderr"
	cfg.Compression.Strategy = config.StrategyLocal
	cfg.Suggestions.Mode = config.SuggestionsBuiltin
	return cfg
}

func writePNG(t *testing.T, dir, name string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 4), uint8(y * 4), uint8((x * y) % 256), 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

// =============================================================================
// CONFIG
// =============================================================================

func TestEmbeddedConfigMatchesDisk(t *testing.T) {
	embedded, err := getEmbeddedConfig(defaultConfigName)
	require.NoError(t, err)
	onDisk, err := os.ReadFile("configs/shrinker.yaml")
	require.NoError(t, err)
	assert.Equal(t, onDisk, embedded)

	names, err := listEmbeddedConfigs()
	require.NoError(t, err)
	assert.Equal(t, []string{"shrinker"}, names)
}

func TestResolveConfig(t *testing.T) {
	_, _, err := resolveConfig("does/not/exist.yaml")
	assert.Error(t, err)

	data, source, err := resolveConfig("")
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.NotEmpty(t, source)
}

func TestEmbeddedConfigIsValid(t *testing.T) {
	data, err := getEmbeddedConfig("shrinker.yaml")
	require.NoError(t, err)
	cfg, err := config.LoadFromBytes(data)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Intake.MaxFiles)
	assert.True(t, cfg.Monitoring.MetricsEnabled)
}

// =============================================================================
// COMPRESS
// =============================================================================

func TestCompressOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    compressOptions
		wantErr bool
	}{
		{"defaults", compressOptions{}, false},
		{"level", compressOptions{level: "High"}, false},
		{"jpeg alias", compressOptions{format: "jpeg"}, false},
		{"bad level", compressOptions{level: "max"}, true},
		{"bad format", compressOptions{format: "webp"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCompressFiles(t *testing.T) {
	dir := t.TempDir()
	img := writePNG(t, dir, "photo.png")
	notes := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("not an image"), 0o600))

	outDir := filepath.Join(dir, "out")
	var out bytes.Buffer
	summary, err := compressFiles(context.Background(), testConfig(t), compressOptions{
		level:  "high",
		format: "jpg",
		outDir: outDir,
		paths:  []string{img, notes},
	}, &out)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Files)
	assert.Equal(t, 1, summary.Done)

	written, err := os.ReadFile(filepath.Join(outDir, "shrunk-photo.jpg"))
	require.NoError(t, err)
	assert.NotEmpty(t, written)

	report := out.String()
	assert.Contains(t, report, "skipped")
	assert.Contains(t, report, "notes.txt")
	assert.Contains(t, report, "FILE")
	assert.Contains(t, report, "shrunk-photo.jpg")
	assert.Contains(t, report, "1 done, 0 failed")
}

func TestCompressFiles_SameOutputNameGetsSuffix(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "b"), 0o755))
	first := writePNG(t, filepath.Join(dir, "a"), "photo.png")
	second := writePNG(t, filepath.Join(dir, "b"), "photo.png")

	outDir := filepath.Join(dir, "out")
	var out bytes.Buffer
	summary, err := compressFiles(context.Background(), testConfig(t), compressOptions{
		format: "jpg",
		outDir: outDir,
		paths:  []string{first, second},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Done)

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"shrunk-photo.jpg", "shrunk-photo-1.jpg"}, names)

	report := out.String()
	assert.Contains(t, report, "shrunk-photo.jpg")
	assert.Contains(t, report, "shrunk-photo-1.jpg")
}

func TestUniqueName(t *testing.T) {
	taken := map[string]bool{}
	assert.Equal(t, "shrunk-a.png", uniqueName("shrunk-a.png", taken))

	taken["shrunk-a.png"] = true
	taken["shrunk-a-1.png"] = true
	assert.Equal(t, "shrunk-a-2.png", uniqueName("shrunk-a.png", taken))
	assert.Equal(t, "shrunk-A-2.PNG", uniqueName("shrunk-A.PNG", taken))
}

func TestCompressFiles_WithSuggestions(t *testing.T) {
	dir := t.TempDir()
	img := writePNG(t, dir, "a.png")

	cfg := testConfig(t)
	prepareCLIConfig(cfg, compressOptions{suggest: true}, false)

	var out bytes.Buffer
	_, err := compressFiles(context.Background(), cfg, compressOptions{
		suggest: true,
		outDir:  dir,
		paths:   []string{img},
	}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "quality")
	assert.FileExists(t, filepath.Join(dir, "shrunk-a.png"))
}

func TestCompressFiles_NothingAcceptable(t *testing.T) {
	dir := t.TempDir()
	notes := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("plain"), 0o600))

	_, err := compressFiles(context.Background(), testConfig(t), compressOptions{outDir: dir, paths: []string{notes}}, &bytes.Buffer{})
	assert.ErrorIs(t, err, errNothingToCompress)
}

func TestCompressFiles_MissingPath(t *testing.T) {
	_, err := compressFiles(context.Background(), testConfig(t), compressOptions{
		outDir: t.TempDir(),
		paths:  []string{"/nonexistent/a.png"},
	}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestProgressPrinter_PlainOutput(t *testing.T) {
	var out bytes.Buffer
	pp := newProgressPrinter(&out, false, 1)

	f := pipeline.File{ID: "1", Name: "a.png", Status: pipeline.StatusCompressing}
	pp.listen(pipeline.Event{Kind: pipeline.EventFileUpdated, File: &f})
	f.Progress = 50
	pp.listen(pipeline.Event{Kind: pipeline.EventFileUpdated, File: &f})
	f.Status = pipeline.StatusDone
	pp.listen(pipeline.Event{Kind: pipeline.EventFileUpdated, File: &f})
	pp.listen(pipeline.Event{Kind: pipeline.EventBatchCompleted})
	pp.finish()

	assert.Equal(t, "compressing  a.png\ndone         a.png\n", out.String())
	assert.Equal(t, 1, pp.finished)
}

// =============================================================================
// SERVE
// =============================================================================

func TestServe_GracefulShutdown(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.RateLimit = 0

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	url := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(url + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Get(url + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
