// Quality suggestions for the pipeline.
//
// LLMSuggester asks an LLM for {quality, optimizationStrategy} given a
// compression level and file type. BuiltinSuggester answers the same question
// offline from the level policy table and is used when no LLM is configured.
package external

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/compresr/shrinker/internal/pipeline"
)

const suggestionSystemPrompt = `You are an image compression expert.
Reply with exactly one JSON object and nothing else:
{"quality": <integer 0-100>, "optimizationStrategy": "<one or two sentences>"}`

// LLMSuggester implements pipeline.Suggester on top of CallLLM.
type LLMSuggester struct {
	cfg     SuggesterConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewLLMSuggester creates a suggester. For Bedrock the HTTP client signs
// requests with credentials from the standard AWS chain.
func NewLLMSuggester(ctx context.Context, cfg SuggesterConfig) (*LLMSuggester, error) {
	def := DefaultSuggesterConfig()
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("suggester: endpoint is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("suggester: model is required")
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Provider == "" {
		cfg.Provider = DetectProvider(cfg.Endpoint)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	client := &http.Client{}
	if cfg.Provider == ProviderBedrock {
		transport, err := NewBedrockSigningTransport(ctx, cfg.Region, nil)
		if err != nil {
			return nil, fmt.Errorf("suggester: %w", err)
		}
		client.Transport = transport
	}

	return &LLMSuggester{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
	}, nil
}

// WithHTTPClient replaces the HTTP client (tests, custom transports).
func (s *LLMSuggester) WithHTTPClient(c *http.Client) *LLMSuggester {
	s.client = c
	return s
}

// Suggest asks the LLM for a suggestion. Waiting for the rate limiter counts
// against ctx.
func (s *LLMSuggester) Suggest(ctx context.Context, req pipeline.SuggestionRequest) (pipeline.Suggestion, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return pipeline.Suggestion{}, fmt.Errorf("suggester: rate limit wait: %w", err)
	}

	res, err := CallLLM(ctx, CallLLMParams{
		Provider:     s.cfg.Provider,
		Endpoint:     s.cfg.Endpoint,
		APIKey:       s.cfg.APIKey,
		Model:        s.cfg.Model,
		SystemPrompt: suggestionSystemPrompt,
		UserPrompt:   suggestionPrompt(req),
		MaxTokens:    s.cfg.MaxTokens,
		Timeout:      s.cfg.Timeout,
		HTTPClient:   s.client,
	})
	if err != nil {
		return pipeline.Suggestion{}, err
	}

	log.Debug().
		Str("provider", res.Provider).
		Int("input_tokens", res.InputTokens).
		Int("output_tokens", res.OutputTokens).
		Msg("external: suggestion response")

	return ParseSuggestion(res.Content)
}

func suggestionPrompt(req pipeline.SuggestionRequest) string {
	p := pipeline.PolicyFor(req.Level)
	resolution := "may be reduced"
	if p.PreserveResolution {
		resolution = "must be preserved"
	}
	return fmt.Sprintf(
		"Suggest the compression quality for a %s image at the %q compression level. "+
			"This level targets files under %.1f MiB starting from quality %d; resolution %s.",
		strings.ToUpper(string(req.FileType)), req.Level,
		float64(p.MaxSizeBytes)/float64(pipeline.MiB), int(math.Round(p.InitialQuality*100)), resolution)
}

// ParseSuggestion extracts the first JSON object from an LLM reply.
// A fractional quality in (0, 1) is read as a ratio and scaled to 0..100.
func ParseSuggestion(text string) (pipeline.Suggestion, error) {
	obj := firstJSONObject(text)
	if obj == "" || !gjson.Valid(obj) {
		return pipeline.Suggestion{}, fmt.Errorf("%w: no JSON object in reply", pipeline.ErrInvalidSuggestion)
	}

	q := gjson.Get(obj, "quality")
	if !q.Exists() {
		return pipeline.Suggestion{}, fmt.Errorf("%w: missing quality", pipeline.ErrInvalidSuggestion)
	}
	quality := q.Float()
	if quality > 0 && quality < 1 {
		quality *= 100
	}

	strategy := gjson.Get(obj, "optimizationStrategy")
	if !strategy.Exists() {
		strategy = gjson.Get(obj, "optimization_strategy")
	}

	s := pipeline.Suggestion{
		Quality:              int(math.Round(quality)),
		OptimizationStrategy: strings.TrimSpace(strategy.String()),
	}
	if err := s.Validate(); err != nil {
		return pipeline.Suggestion{}, err
	}
	return s, nil
}

// firstJSONObject returns the first balanced {...} in s, ignoring braces in strings.
func firstJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// =============================================================================
// BUILTIN
// =============================================================================

// BuiltinSuggester derives suggestions from the level policy without any I/O.
type BuiltinSuggester struct{}

// Suggest returns the policy's initial quality and a canned strategy.
func (BuiltinSuggester) Suggest(ctx context.Context, req pipeline.SuggestionRequest) (pipeline.Suggestion, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.Suggestion{}, err
	}
	p := pipeline.PolicyFor(req.Level)

	var strategy string
	switch {
	case req.FileType == pipeline.FormatPNG && req.Level == pipeline.LevelLow:
		strategy = "Keep PNG at full resolution and rely on lossless deflate; strip metadata chunks."
	case req.FileType == pipeline.FormatPNG:
		strategy = "Reduce dimensions and consider JPG output if the image has no transparency."
	case req.Level == pipeline.LevelLow:
		strategy = "Re-encode at high JPEG quality at full resolution; savings come from metadata and entropy coding."
	case req.Level == pipeline.LevelHigh:
		strategy = "Use aggressive JPEG quality and downscale until the file is under 0.5 MiB."
	default:
		strategy = "Balance JPEG quality and dimensions to stay under 1 MiB."
	}

	return pipeline.Suggestion{
		Quality:              int(math.Round(p.InitialQuality * 100)),
		OptimizationStrategy: strategy,
	}, nil
}

var (
	_ pipeline.Suggester = (*LLMSuggester)(nil)
	_ pipeline.Suggester = BuiltinSuggester{}
)
