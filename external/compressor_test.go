package external_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/shrinker/external"
	"github.com/compresr/shrinker/internal/pipeline"
)

func compressServer(t *testing.T, failures int32, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n <= failures {
			http.Error(w, "try later", status)
			return
		}
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req struct {
			Content            string  `json:"content"`
			OutputType         string  `json:"output_type"`
			MaxSizeBytes       int64   `json:"max_size_bytes"`
			InitialQuality     float64 `json:"initial_quality"`
			PreserveResolution bool    `json:"preserve_resolution"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "jpg", req.OutputType)
		assert.Equal(t, int64(2*pipeline.MiB), req.MaxSizeBytes)
		assert.True(t, req.PreserveResolution)

		in, err := base64.StdEncoding.DecodeString(req.Content)
		require.NoError(t, err)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"content":         base64.StdEncoding.EncodeToString(in[:len(in)/2]),
				"original_size":   len(in),
				"compressed_size": len(in) / 2,
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newRemote(t *testing.T, baseURL string) *external.RemoteCompressor {
	t.Helper()
	t.Setenv("SHRINKER_TEST_KEY", "secret")
	c, err := external.NewRemoteCompressor(external.CompressorConfig{
		BaseURL:    baseURL,
		APIKeyEnv:  "SHRINKER_TEST_KEY",
		MaxRetries: 2,
	})
	require.NoError(t, err)
	return c
}

func TestRemoteCompressor_Compress(t *testing.T) {
	srv, calls := compressServer(t, 0, 0)
	c := newRemote(t, srv.URL)

	var progress []int
	out, err := c.Compress(context.Background(), []byte("0123456789"),
		pipeline.PolicyFor(pipeline.LevelLow).Options(pipeline.FormatJPG),
		func(p int) { progress = append(progress, p) })
	require.NoError(t, err)

	assert.Equal(t, []byte("01234"), out)
	assert.Equal(t, []int{10, 100}, progress)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRemoteCompressor_RetriesServerErrors(t *testing.T) {
	srv, calls := compressServer(t, 2, http.StatusBadGateway)
	c := newRemote(t, srv.URL)

	out, err := c.Compress(context.Background(), []byte("abcd"),
		pipeline.PolicyFor(pipeline.LevelLow).Options(pipeline.FormatJPG), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), out)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRemoteCompressor_DoesNotRetryClientErrors(t *testing.T) {
	srv, calls := compressServer(t, 5, http.StatusBadRequest)
	c := newRemote(t, srv.URL)

	_, err := c.Compress(context.Background(), []byte("abcd"),
		pipeline.PolicyFor(pipeline.LevelLow).Options(pipeline.FormatJPG), nil)
	assert.ErrorContains(t, err, "status 400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestRemoteCompressor_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"unsupported codec"}`))
	}))
	defer srv.Close()
	c := newRemote(t, srv.URL)

	_, err := c.Compress(context.Background(), []byte("abcd"),
		pipeline.PolicyFor(pipeline.LevelLow).Options(pipeline.FormatJPG), nil)
	assert.ErrorContains(t, err, "unsupported codec")
}

func TestRemoteCompressor_UnsupportedFormat(t *testing.T) {
	c := newRemote(t, "http://127.0.0.1:1")
	_, err := c.Compress(context.Background(), []byte("abcd"), pipeline.CompressOptions{OutputType: "gif"}, nil)
	assert.ErrorIs(t, err, pipeline.ErrUnsupportedFormat)
}

func TestRemoteCompressor_HealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	assert.NoError(t, newRemote(t, srv.URL).HealthCheck(context.Background()))

	_, err := external.NewRemoteCompressor(external.CompressorConfig{})
	assert.Error(t, err)
}
