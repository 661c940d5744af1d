package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/compresr/shrinker/external"
	"github.com/compresr/shrinker/internal/codec"
	"github.com/compresr/shrinker/internal/config"
	"github.com/compresr/shrinker/internal/monitoring"
	"github.com/compresr/shrinker/internal/pipeline"
	"github.com/compresr/shrinker/internal/store"
)

// app holds the components shared by every pipeline the process creates.
type app struct {
	cfg        *config.Config
	compressor pipeline.Compressor
	suggester  pipeline.Suggester // nil when suggestions are disabled
	history    store.Store
	metrics    *monitoring.MetricsCollector
	alerts     *monitoring.AlertManager
	tracker    *monitoring.Tracker
	logger     *monitoring.Logger
}

// newApp builds the collaborators named in cfg.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:     cfg,
		metrics: monitoring.NewMetricsCollector(),
		logger:  monitoring.New(loggerConfig(cfg)),
	}
	a.alerts = monitoring.NewAlertManager(a.logger, monitoring.AlertConfig{})

	var err error
	if a.compressor, err = buildCompressor(cfg.Compression); err != nil {
		return nil, err
	}
	if a.suggester, err = buildSuggester(ctx, cfg.Suggestions); err != nil {
		return nil, err
	}
	if a.history, err = openHistory(cfg.History); err != nil {
		return nil, err
	}

	a.tracker, err = monitoring.NewTracker(monitoring.TelemetryConfig{
		Enabled:     cfg.Monitoring.TelemetryEnabled,
		LogPath:     cfg.Monitoring.TelemetryPath,
		LogToStdout: cfg.Monitoring.LogToStdout,
	})
	if err != nil {
		_ = a.history.Close()
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	return a, nil
}

// newPipeline creates a pipeline whose events feed metrics, alerts,
// telemetry and the outcome history under the given session name.
func (a *app) newPipeline(session string) *pipeline.Pipeline {
	opts := []pipeline.Option{
		pipeline.WithListener(a.metrics.Listener()),
		pipeline.WithListener(a.alerts.Listener(session)),
		pipeline.WithListener(a.tracker.Listener(session)),
		pipeline.WithListener(store.NewRecorder(a.history, session).Listen),
	}
	if a.suggester != nil {
		opts = append(opts, pipeline.WithSuggester(a.suggester))
	}
	if a.cfg.Suggestions.Timeout > 0 {
		opts = append(opts, pipeline.WithSuggestionTimeout(a.cfg.Suggestions.Timeout))
	}
	return pipeline.New(a.compressor, opts...)
}

// healthCheck probes the remote compressor, when one is configured.
func (a *app) healthCheck(ctx context.Context) error {
	if rc, ok := a.compressor.(*external.RemoteCompressor); ok {
		return rc.HealthCheck(ctx)
	}
	return nil
}

// Close flushes telemetry and closes the history store.
func (a *app) Close() error {
	return errors.Join(a.tracker.Close(), a.history.Close())
}

func buildCompressor(cfg config.CompressionConfig) (pipeline.Compressor, error) {
	switch cfg.Strategy {
	case config.StrategyExternal:
		rc, err := external.NewRemoteCompressor(cfg.External)
		if err != nil {
			return nil, err
		}
		log.Info().Str("provider", rc.Name()).Msg("using remote compressor")
		return rc, nil
	default:
		return codec.New(cfg.Local), nil
	}
}

func buildSuggester(ctx context.Context, cfg config.SuggestionsConfig) (pipeline.Suggester, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Mode != config.SuggestionsLLM {
		return external.BuiltinSuggester{}, nil
	}
	s, err := external.NewLLMSuggester(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}
	log.Info().Str("model", cfg.LLM.Model).Msg("using LLM suggestions")
	return s, nil
}

func openHistory(cfg config.HistoryConfig) (store.Store, error) {
	if cfg.Type == config.HistorySQLite {
		s, err := store.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		return s, nil
	}
	return store.NewMemoryStore(0), nil
}

func loggerConfig(cfg *config.Config) monitoring.LoggerConfig {
	return monitoring.LoggerConfig{
		Level:  cfg.Monitoring.LogLevel,
		Format: cfg.Monitoring.LogFormat,
		Output: cfg.Monitoring.LogOutput,
	}
}
