// Image compression via an external service.
//
// RemoteCompressor implements pipeline.Compressor by sending the image and
// the level hints to a compression API as JSON (image bytes base64-encoded).
package external

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/shrinker/internal/pipeline"
)

// RemoteCompressor implements pipeline.Compressor for external compression APIs.
type RemoteCompressor struct {
	config     CompressorConfig
	httpClient *http.Client
	apiKey     string
}

// NewRemoteCompressor creates a new remote compressor.
func NewRemoteCompressor(cfg CompressorConfig) (*RemoteCompressor, error) {
	def := DefaultCompressorConfig()
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote compressor: base_url is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
		if apiKey == "" {
			log.Warn().
				Str("env_var", cfg.APIKeyEnv).
				Msg("external: API key environment variable not set")
		}
	}

	return &RemoteCompressor{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		apiKey:     apiKey,
	}, nil
}

// Name returns the provider name.
func (c *RemoteCompressor) Name() string {
	if c.config.Provider != "" {
		return c.config.Provider
	}
	return "remote"
}

// compressAPIRequest is the request body sent to the compression API.
type compressAPIRequest struct {
	Content            string  `json:"content"`
	OutputType         string  `json:"output_type"`
	MaxSizeBytes       int64   `json:"max_size_bytes"`
	InitialQuality     float64 `json:"initial_quality"`
	PreserveResolution bool    `json:"preserve_resolution"`
}

// compressAPIResponse is the response body from the compression API.
type compressAPIResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    struct {
		Content          string `json:"content"`
		OriginalSize     int64  `json:"original_size"`
		CompressedSize   int64  `json:"compressed_size"`
		ProcessingTimeMs int64  `json:"processing_time_ms,omitempty"`
	} `json:"data,omitempty"`
}

// statusError is an HTTP error answer from the API.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API returned status %d: %s", e.code, e.body)
}

// retryable reports whether another attempt may succeed.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Compress sends the image to the external API. Progress jumps to 10 when the
// request is sent and to 100 on success; the service does not stream progress.
func (c *RemoteCompressor) Compress(ctx context.Context, input []byte, opts pipeline.CompressOptions, onProgress pipeline.ProgressFunc) ([]byte, error) {
	if onProgress == nil {
		onProgress = func(int) {}
	}
	if !opts.OutputType.Supported() {
		return nil, fmt.Errorf("%w: %q", pipeline.ErrUnsupportedFormat, opts.OutputType)
	}

	body, err := json.Marshal(compressAPIRequest{
		Content:            base64.StdEncoding.EncodeToString(input),
		OutputType:         string(opts.OutputType),
		MaxSizeBytes:       opts.MaxSizeBytes,
		InitialQuality:     opts.InitialQuality,
		PreserveResolution: opts.PreserveResolution,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.config.BaseURL + c.config.Endpoint
	onProgress(10)

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			// Linear backoff
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt*100) * time.Millisecond):
			}
			log.Debug().
				Int("attempt", attempt+1).
				Str("provider", c.Name()).
				Msg("external: retrying compression request")
		}

		out, err := c.doRequest(ctx, url, body)
		if err == nil {
			onProgress(100)
			return out, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}

	return nil, fmt.Errorf("remote compression failed: %w", lastErr)
}

// doRequest performs a single HTTP request to the compression API.
func (c *RemoteCompressor) doRequest(ctx context.Context, url string, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4*int64(pipeline.MiB)+int64(2*len(body))))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode, body: truncate(string(respBody), maxErrorBodyLen)}
	}

	var apiResp compressAPIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if !apiResp.Success {
		return nil, &statusError{code: http.StatusUnprocessableEntity, body: apiResp.Error}
	}

	out, err := base64.StdEncoding.DecodeString(apiResp.Data.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to decode compressed content: %w", err)
	}

	log.Debug().
		Str("provider", c.Name()).
		Int64("original_size", apiResp.Data.OriginalSize).
		Int("compressed_size", len(out)).
		Dur("latency", time.Since(startTime)).
		Msg("external: compression response")
	return out, nil
}

// HealthCheck verifies the external API is reachable.
func (c *RemoteCompressor) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

var _ pipeline.Compressor = (*RemoteCompressor)(nil)
