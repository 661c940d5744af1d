// Package external holds the collaborators that live outside the process:
// the remote image compression service and the LLM-backed suggester.
//
// DESIGN: Both implement interfaces owned by internal/pipeline
// (pipeline.Compressor, pipeline.Suggester), so the pipeline never knows
// whether work runs locally or remotely:
//   - RemoteCompressor: POSTs base64 image + hints to a compression API
//   - LLMSuggester:     asks an LLM for quality + strategy via CallLLM
//   - BuiltinSuggester: offline suggestion derived from the level policy
package external

import (
	"time"
)

// =============================================================================
// REMOTE COMPRESSION
// =============================================================================

// CompressorConfig holds configuration for the remote compression service.
type CompressorConfig struct {
	// Provider name: "remote" (only value today)
	Provider string `yaml:"provider"`

	// BaseURL of the external service
	BaseURL string `yaml:"base_url"`

	// APIKeyEnv is the environment variable name containing the API key
	APIKeyEnv string `yaml:"api_key_env"`

	// Endpoint path for compression (default: /v1/images/compress)
	Endpoint string `yaml:"endpoint"`

	// Timeout for one API call
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries for failed requests
	MaxRetries int `yaml:"max_retries"`
}

// DefaultCompressorConfig returns defaults for the remote compressor.
func DefaultCompressorConfig() CompressorConfig {
	return CompressorConfig{
		Provider:   "remote",
		Endpoint:   "/v1/images/compress",
		Timeout:    2 * time.Minute,
		MaxRetries: 2,
	}
}

// =============================================================================
// SUGGESTIONS
// =============================================================================

// SuggesterConfig holds configuration for the LLM suggester.
type SuggesterConfig struct {
	// Provider: anthropic, openai, gemini, bedrock (empty = detect from endpoint)
	Provider string `yaml:"provider"`

	Endpoint  string        `yaml:"endpoint"`
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	Region    string        `yaml:"region"` // bedrock only
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`

	// RequestsPerSecond caps outgoing calls; bursts of level changes queue up.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// DefaultSuggesterConfig returns defaults for the LLM suggester.
func DefaultSuggesterConfig() SuggesterConfig {
	return SuggesterConfig{
		Provider:          ProviderAnthropic,
		Endpoint:          "https://api.anthropic.com/v1/messages",
		Model:             "claude-haiku-4-5",
		MaxTokens:         256,
		Timeout:           20 * time.Second,
		RequestsPerSecond: 2,
		Burst:             4,
	}
}
