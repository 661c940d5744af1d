// Compression configuration re-exports.
//
// DESIGN: Collaborator configuration is defined next to each collaborator
// (internal/intake, internal/codec, external). This file aliases those types
// so the root Config can embed them without duplicating fields.
package config

import (
	"fmt"
	"time"

	"github.com/compresr/shrinker/external"
	"github.com/compresr/shrinker/internal/codec"
	"github.com/compresr/shrinker/internal/intake"
)

// =============================================================================
// TYPE ALIASES FOR YAML UNMARSHALING
// =============================================================================

// IntakeConfig is an alias for intake.Config.
type IntakeConfig = intake.Config

// LocalCompressorConfig is an alias for codec.Config.
type LocalCompressorConfig = codec.Config

// RemoteCompressorConfig is an alias for external.CompressorConfig.
type RemoteCompressorConfig = external.CompressorConfig

// LLMSuggesterConfig is an alias for external.SuggesterConfig.
type LLMSuggesterConfig = external.SuggesterConfig

// =============================================================================
// COMPRESSION
// =============================================================================

// Compression strategies.
const (
	StrategyLocal    = "local"    // in-process codec
	StrategyExternal = "external" // remote compression API
)

// CompressionConfig selects and tunes the compressor.
type CompressionConfig struct {
	Strategy string                 `yaml:"strategy"`
	Local    LocalCompressorConfig  `yaml:"local"`
	External RemoteCompressorConfig `yaml:"external"`
}

// Validate checks the compression section.
func (c *CompressionConfig) Validate() error {
	switch c.Strategy {
	case StrategyLocal:
		if c.Local.ScaleStep < 0 || c.Local.ScaleStep >= 1 {
			return fmt.Errorf("compression.local.scale_step must be in [0, 1)")
		}
		if c.Local.MinQuality < 0 || c.Local.MinQuality > 100 {
			return fmt.Errorf("compression.local.min_quality must be in 0-100")
		}
	case StrategyExternal:
		if c.External.BaseURL == "" {
			return fmt.Errorf("compression.external.base_url is required for external strategy")
		}
	case "":
		return fmt.Errorf("compression.strategy is required")
	default:
		return fmt.Errorf("invalid compression.strategy: %q (must be local or external)", c.Strategy)
	}
	return nil
}

// =============================================================================
// SUGGESTIONS
// =============================================================================

// Suggestion modes.
const (
	SuggestionsBuiltin = "builtin" // derived from the level policy, no I/O
	SuggestionsLLM     = "llm"     // asked from an LLM provider
)

// SuggestionsConfig configures the suggestion collaborator.
type SuggestionsConfig struct {
	Enabled bool               `yaml:"enabled"`
	Mode    string             `yaml:"mode"`
	Timeout time.Duration      `yaml:"timeout"` // per request, including rate limit wait
	LLM     LLMSuggesterConfig `yaml:"llm"`
}

// Validate checks the suggestions section.
func (c *SuggestionsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Mode {
	case SuggestionsBuiltin:
	case SuggestionsLLM:
		if c.LLM.Endpoint == "" {
			return fmt.Errorf("suggestions.llm.endpoint is required for llm mode")
		}
		if c.LLM.Model == "" {
			return fmt.Errorf("suggestions.llm.model is required for llm mode")
		}
		if c.LLM.RequestsPerSecond < 0 {
			return fmt.Errorf("suggestions.llm.requests_per_second must not be negative")
		}
	default:
		return fmt.Errorf("invalid suggestions.mode: %q (must be builtin or llm)", c.Mode)
	}
	return nil
}

// validateIntake checks admission limits. Zero values fall back to defaults.
func (c *Config) validateIntake() error {
	if c.Intake.MaxFiles < 0 {
		return fmt.Errorf("intake.max_files must not be negative")
	}
	if c.Intake.MaxFileSize < 0 {
		return fmt.Errorf("intake.max_file_size must not be negative")
	}
	for _, t := range c.Intake.AllowedTypes {
		if t != "image/png" && t != "image/jpeg" {
			return fmt.Errorf("intake.allowed_types: %q is not supported (image/png, image/jpeg)", t)
		}
	}
	return nil
}
