// LLM API client for suggestion backends.
//
// CallLLM is the single entry point for calling any supported LLM provider
// (Anthropic, OpenAI, Gemini, Bedrock) for short text generation.
//
// Request bodies are assembled with sjson and responses read with gjson, so
// no per-provider struct mirrors are needed for the handful of fields used.
//
// ADDING A NEW PROVIDER:
//  1. Add case to DetectProvider(), setAuthHeaders(), buildRequestBody(), parseResponse()
//  2. Add a fake-server case in llm_test.go
//  3. Document the provider value in configs/shrinker.yaml
package external

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	// DefaultTimeout for LLM API calls.
	DefaultTimeout = 60 * time.Second

	// maxResponseSize prevents OOM on unexpectedly large API responses (10MB).
	maxResponseSize = 10 * 1024 * 1024

	// maxErrorBodyLen limits error body in error messages to avoid log bloat.
	maxErrorBodyLen = 500

	// anthropicVersion is the Anthropic API version header value.
	anthropicVersion = "2023-06-01"

	// bedrockAnthropicVersion goes in the body for Anthropic models on Bedrock.
	bedrockAnthropicVersion = "bedrock-2023-05-31"
)

// Provider names accepted by CallLLMParams.Provider.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderBedrock   = "bedrock"
)

// ErrEmptyResponse is returned when the provider answered without text.
var ErrEmptyResponse = errors.New("empty LLM response")

// CallLLMParams contains parameters for calling an LLM provider.
type CallLLMParams struct {
	// Provider overrides auto-detection. One of: "anthropic", "openai", "gemini", "bedrock".
	// If empty, provider is detected from the Endpoint URL.
	Provider string

	Endpoint     string
	APIKey       string // x-api-key for Anthropic, x-goog-api-key for Gemini, Bearer for OpenAI
	Model        string
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Timeout      time.Duration

	// HTTPClient overrides the default HTTP client (useful for testing).
	// For Bedrock, a client with a SigV4 signing transport should be provided.
	HTTPClient *http.Client
}

// validate checks that required fields are present and sets defaults.
func (p *CallLLMParams) validate() error {
	if p.Endpoint == "" {
		return fmt.Errorf("endpoint required")
	}
	// Bedrock uses SigV4 signing via HTTPClient transport, not an API key.
	if p.APIKey == "" && p.Provider != ProviderBedrock && DetectProvider(p.Endpoint) != ProviderBedrock {
		return fmt.Errorf("api key required")
	}
	if p.Model == "" {
		return fmt.Errorf("model required")
	}
	if p.Timeout == 0 {
		p.Timeout = DefaultTimeout
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = 256
	}
	return nil
}

// CallLLMResult contains the response from an LLM call.
type CallLLMResult struct {
	Content      string
	InputTokens  int
	OutputTokens int
	Provider     string
}

// CallLLM calls an LLM provider for text generation.
//
// Provider detection (when params.Provider is empty):
//   - "bedrock" in URL → Bedrock InvokeModel (Anthropic message format)
//   - "anthropic" in URL → Anthropic Messages API
//   - "generativelanguage.googleapis.com" in URL → Gemini generateContent API
//   - otherwise → OpenAI Chat Completions API
func CallLLM(ctx context.Context, params CallLLMParams) (*CallLLMResult, error) {
	if err := params.validate(); err != nil {
		return nil, fmt.Errorf("invalid CallLLM params: %w", err)
	}

	provider := params.Provider
	if provider == "" {
		provider = DetectProvider(params.Endpoint)
	}

	body, err := buildRequestBody(provider, params)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", provider, err)
	}

	ctx, cancel := context.WithTimeout(ctx, params.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, params.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", provider, err)
	}

	req.Header.Set("Content-Type", "application/json")
	setAuthHeaders(req, provider, params.APIKey)

	client := params.HTTPClient
	if client == nil {
		client = &http.Client{} // timeout via context, not client
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", provider, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", provider, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s API returned status %d: %s", provider, resp.StatusCode, truncate(string(respBody), maxErrorBodyLen))
	}

	return parseResponse(provider, respBody)
}

// DetectProvider infers the LLM provider from an endpoint URL.
func DetectProvider(endpoint string) string {
	switch {
	case strings.Contains(endpoint, "bedrock"):
		return ProviderBedrock
	case strings.Contains(endpoint, "anthropic"):
		return ProviderAnthropic
	case strings.Contains(endpoint, "generativelanguage.googleapis.com"):
		return ProviderGemini
	default:
		return ProviderOpenAI
	}
}

func setAuthHeaders(req *http.Request, provider, apiKey string) {
	switch provider {
	case ProviderAnthropic:
		req.Header.Set("x-api-key", apiKey)
		req.Header.Set("anthropic-version", anthropicVersion)
	case ProviderBedrock:
		// Signed by the SigV4 transport in the HTTPClient.
	case ProviderGemini:
		req.Header.Set("x-goog-api-key", apiKey)
	default:
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

// Temperature strategy: 0.0 for deterministic suggestions.
// OpenAI o-series models reject the temperature field, so it is omitted there.
func buildRequestBody(provider string, params CallLLMParams) ([]byte, error) {
	body := []byte(`{}`)
	var err error
	set := func(path string, value any) {
		if err == nil {
			body, err = sjson.SetBytes(body, path, value)
		}
	}

	switch provider {
	case ProviderAnthropic, ProviderBedrock:
		if provider == ProviderBedrock {
			set("anthropic_version", bedrockAnthropicVersion)
		} else {
			set("model", params.Model)
		}
		set("max_tokens", params.MaxTokens)
		set("temperature", 0.0)
		set("system", params.SystemPrompt)
		set("messages.0.role", "user")
		set("messages.0.content", params.UserPrompt)
	case ProviderGemini:
		set("systemInstruction.parts.0.text", params.SystemPrompt)
		set("contents.0.role", "user")
		set("contents.0.parts.0.text", params.UserPrompt)
		set("generationConfig.maxOutputTokens", params.MaxTokens)
		set("generationConfig.temperature", 0.0)
	default:
		set("model", params.Model)
		set("messages.0.role", "system")
		set("messages.0.content", params.SystemPrompt)
		set("messages.1.role", "user")
		set("messages.1.content", params.UserPrompt)
		set("max_completion_tokens", params.MaxTokens)
	}
	return body, err
}

func parseResponse(provider string, body []byte) (*CallLLMResult, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("failed to parse %s response: invalid JSON", provider)
	}
	root := gjson.ParseBytes(body)
	result := &CallLLMResult{Provider: provider}

	var parts []string
	switch provider {
	case ProviderAnthropic, ProviderBedrock:
		root.Get(`content.#(type=="text")#.text`).ForEach(func(_, v gjson.Result) bool {
			parts = append(parts, v.String())
			return true
		})
		result.InputTokens = int(root.Get("usage.input_tokens").Int())
		result.OutputTokens = int(root.Get("usage.output_tokens").Int())
	case ProviderGemini:
		root.Get("candidates.0.content.parts.#.text").ForEach(func(_, v gjson.Result) bool {
			parts = append(parts, v.String())
			return true
		})
		result.InputTokens = int(root.Get("usageMetadata.promptTokenCount").Int())
		result.OutputTokens = int(root.Get("usageMetadata.candidatesTokenCount").Int())
	default:
		parts = append(parts, root.Get("choices.0.message.content").String())
		result.InputTokens = int(root.Get("usage.prompt_tokens").Int())
		result.OutputTokens = int(root.Get("usage.completion_tokens").Int())
	}

	result.Content = strings.TrimSpace(strings.Join(parts, ""))
	if result.Content == "" {
		return nil, fmt.Errorf("%s: %w", provider, ErrEmptyResponse)
	}
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "... (truncated)"
}
