package external_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/sjson"

	"github.com/compresr/shrinker/external"
	"github.com/compresr/shrinker/internal/pipeline"
)

func TestParseSuggestion(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    pipeline.Suggestion
		wantErr bool
	}{
		{
			name: "plain object",
			text: `{"quality": 72, "optimizationStrategy": "Use progressive JPEG."}`,
			want: pipeline.Suggestion{Quality: 72, OptimizationStrategy: "Use progressive JPEG."},
		},
		{
			name: "wrapped in prose and fences",
			text: "Sure!\n```json\n{\"quality\": 60, \"optimizationStrategy\": \"Keep {braces} in text\"}\n```",
			want: pipeline.Suggestion{Quality: 60, OptimizationStrategy: "Keep {braces} in text"},
		},
		{
			name: "ratio quality and snake case",
			text: `{"quality": 0.85, "optimization_strategy": "Light touch."}`,
			want: pipeline.Suggestion{Quality: 85, OptimizationStrategy: "Light touch."},
		},
		{name: "no json", text: "quality 80", wantErr: true},
		{name: "missing quality", text: `{"optimizationStrategy": "x"}`, wantErr: true},
		{name: "quality out of range", text: `{"quality": 180, "optimizationStrategy": "x"}`, wantErr: true},
		{name: "empty strategy", text: `{"quality": 50, "optimizationStrategy": ""}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := external.ParseSuggestion(tt.text)
			if tt.wantErr {
				assert.ErrorIs(t, err, pipeline.ErrInvalidSuggestion)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLLMSuggester_Suggest(t *testing.T) {
	var prompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf strings.Builder
		_, _ = buf.ReadFrom(r.Body)
		prompt = buf.String()

		body, _ := sjson.Set(`{}`, "content.0.type", "text")
		body, _ = sjson.Set(body, "content.0.text", `{"quality": 48, "optimizationStrategy": "Downscale to 1600px."}`)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	s, err := external.NewLLMSuggester(context.Background(), external.SuggesterConfig{
		Provider: "anthropic",
		Endpoint: srv.URL,
		APIKey:   "k",
		Model:    "m",
	})
	require.NoError(t, err)

	got, err := s.Suggest(context.Background(), pipeline.SuggestionRequest{Level: pipeline.LevelHigh, FileType: pipeline.FormatPNG})
	require.NoError(t, err)
	assert.Equal(t, 48, got.Quality)
	assert.Contains(t, prompt, "PNG")
	assert.Contains(t, prompt, `\"high\"`)
}

func TestLLMSuggester_Config(t *testing.T) {
	_, err := external.NewLLMSuggester(context.Background(), external.SuggesterConfig{Model: "m"})
	assert.Error(t, err)

	_, err = external.NewLLMSuggester(context.Background(), external.SuggesterConfig{Endpoint: "http://x"})
	assert.Error(t, err)
}

func TestLLMSuggester_RateLimitHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"quality\":50,\"optimizationStrategy\":\"x\"}"}}]}`))
	}))
	defer srv.Close()

	s, err := external.NewLLMSuggester(context.Background(), external.SuggesterConfig{
		Provider:          "openai",
		Endpoint:          srv.URL,
		APIKey:            "k",
		Model:             "m",
		RequestsPerSecond: 0.001,
		Burst:             1,
	})
	require.NoError(t, err)

	req := pipeline.SuggestionRequest{Level: pipeline.LevelMedium, FileType: pipeline.FormatJPG}
	_, err = s.Suggest(context.Background(), req)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Suggest(ctx, req)
	assert.ErrorContains(t, err, "rate limit wait")
}

func TestBuiltinSuggester(t *testing.T) {
	s := external.BuiltinSuggester{}
	for _, level := range []pipeline.Level{pipeline.LevelLow, pipeline.LevelMedium, pipeline.LevelHigh} {
		for _, ft := range []pipeline.Format{pipeline.FormatPNG, pipeline.FormatJPG} {
			got, err := s.Suggest(context.Background(), pipeline.SuggestionRequest{Level: level, FileType: ft})
			require.NoError(t, err)
			assert.NoError(t, got.Validate())
		}
	}

	got, _ := s.Suggest(context.Background(), pipeline.SuggestionRequest{Level: pipeline.LevelLow, FileType: pipeline.FormatJPG})
	assert.Equal(t, 90, got.Quality)
}
