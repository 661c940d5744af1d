package external_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/compresr/shrinker/external"
)

// =============================================================================
// PROVIDER DETECTION
// =============================================================================

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		endpoint string
		want     string
	}{
		{"https://api.anthropic.com/v1/messages", "anthropic"},
		{"https://generativelanguage.googleapis.com/v1beta/models/gemini:generateContent", "gemini"},
		{"https://bedrock-runtime.us-east-1.amazonaws.com/model/x/invoke", "bedrock"},
		{"https://api.openai.com/v1/chat/completions", "openai"},
		{"http://localhost:8080/v1/chat/completions", "openai"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, external.DetectProvider(tt.endpoint))
		})
	}
}

// =============================================================================
// CallLLM AGAINST FAKE PROVIDERS
// =============================================================================

func TestCallLLM_Providers(t *testing.T) {
	tests := []struct {
		provider   string
		response   string
		checkReq   func(t *testing.T, r *http.Request, body gjson.Result)
		wantInput  int
		wantOutput int
	}{
		{
			provider: "anthropic",
			response: `{"content":[{"type":"text","text":"hello "},{"type":"tool_use","id":"x"},{"type":"text","text":"world"}],"usage":{"input_tokens":12,"output_tokens":3}}`,
			checkReq: func(t *testing.T, r *http.Request, body gjson.Result) {
				assert.Equal(t, "key", r.Header.Get("x-api-key"))
				assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
				assert.Equal(t, "m", body.Get("model").String())
				assert.Equal(t, "sys", body.Get("system").String())
				assert.Equal(t, "user", body.Get("messages.0.role").String())
				assert.Equal(t, "ask", body.Get("messages.0.content").String())
				assert.Equal(t, int64(64), body.Get("max_tokens").Int())
			},
			wantInput: 12, wantOutput: 3,
		},
		{
			provider: "openai",
			response: `{"choices":[{"message":{"role":"assistant","content":"hello world"}}],"usage":{"prompt_tokens":7,"completion_tokens":2}}`,
			checkReq: func(t *testing.T, r *http.Request, body gjson.Result) {
				assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
				assert.Equal(t, "system", body.Get("messages.0.role").String())
				assert.Equal(t, "ask", body.Get("messages.1.content").String())
				assert.False(t, body.Get("temperature").Exists())
				assert.Equal(t, int64(64), body.Get("max_completion_tokens").Int())
			},
			wantInput: 7, wantOutput: 2,
		},
		{
			provider: "gemini",
			response: `{"candidates":[{"content":{"parts":[{"text":"hello "},{"text":"world"}]}}],"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":4}}`,
			checkReq: func(t *testing.T, r *http.Request, body gjson.Result) {
				assert.Equal(t, "key", r.Header.Get("x-goog-api-key"))
				assert.Equal(t, "sys", body.Get("systemInstruction.parts.0.text").String())
				assert.Equal(t, "ask", body.Get("contents.0.parts.0.text").String())
			},
			wantInput: 5, wantOutput: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				raw, err := io.ReadAll(r.Body)
				require.NoError(t, err)
				require.True(t, gjson.ValidBytes(raw))
				tt.checkReq(t, r, gjson.ParseBytes(raw))
				_, _ = w.Write([]byte(tt.response))
			}))
			defer srv.Close()

			res, err := external.CallLLM(context.Background(), external.CallLLMParams{
				Provider:     tt.provider,
				Endpoint:     srv.URL,
				APIKey:       "key",
				Model:        "m",
				SystemPrompt: "sys",
				UserPrompt:   "ask",
				MaxTokens:    64,
			})
			require.NoError(t, err)
			assert.Equal(t, "hello world", res.Content)
			assert.Equal(t, tt.wantInput, res.InputTokens)
			assert.Equal(t, tt.wantOutput, res.OutputTokens)
			assert.Equal(t, tt.provider, res.Provider)
		})
	}
}

func TestCallLLM_Errors(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		_, err := external.CallLLM(context.Background(), external.CallLLMParams{Endpoint: "http://x", Model: "m"})
		assert.ErrorContains(t, err, "api key required")

		_, err = external.CallLLM(context.Background(), external.CallLLMParams{APIKey: "k", Model: "m"})
		assert.ErrorContains(t, err, "endpoint required")

		_, err = external.CallLLM(context.Background(), external.CallLLMParams{Endpoint: "http://x", APIKey: "k"})
		assert.ErrorContains(t, err, "model required")
	})

	t.Run("status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := external.CallLLM(context.Background(), external.CallLLMParams{Endpoint: srv.URL, APIKey: "k", Model: "m"})
		assert.ErrorContains(t, err, "status 503")
		assert.ErrorContains(t, err, "overloaded")
	})

	t.Run("empty content", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[]}`))
		}))
		defer srv.Close()

		_, err := external.CallLLM(context.Background(), external.CallLLMParams{Endpoint: srv.URL, APIKey: "k", Model: "m"})
		assert.ErrorIs(t, err, external.ErrEmptyResponse)
	})

	t.Run("invalid json", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}))
		defer srv.Close()

		_, err := external.CallLLM(context.Background(), external.CallLLMParams{Endpoint: srv.URL, APIKey: "k", Model: "m"})
		assert.ErrorContains(t, err, "invalid JSON")
	})
}
