package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/compresr/shrinker/internal/config"
	"github.com/compresr/shrinker/internal/intake"
	"github.com/compresr/shrinker/internal/monitoring"
	"github.com/compresr/shrinker/internal/server"
	"github.com/compresr/shrinker/internal/session"
)

const defaultShutdownTimeout = 30 * time.Second

// runServe starts the HTTP service and blocks until SIGINT or SIGTERM.
func runServe(args []string) int {
	// Load .env files from standard locations
	loadEnvFiles()

	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	debug := fs.Bool("debug", false, "enable debug logging")
	noBanner := fs.Bool("no-banner", false, "suppress startup banner")
	_ = fs.Parse(args) // ExitOnError handles errors

	if !*noBanner {
		printBanner()
	}

	cfg, source, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%sconfig error%s (%s): %v\n", red, reset, source, err)
		return 1
	}
	setupLogging(loggerConfig(cfg), *debug)

	log.Info().
		Str("version", Version).
		Str("config", source).
		Int("port", cfg.Server.Port).
		Str("compression", cfg.Compression.Strategy).
		Str("history", cfg.History.Type).
		Msg("shrinker starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, nil); err != nil {
		log.Error().Err(err).Msg("server error")
		return 1
	}
	log.Info().Msg("shrinker stopped")
	return 0
}

// serve runs the service until ctx is cancelled, then shuts down gracefully.
// A nil ln listens on the configured port.
func serve(ctx context.Context, cfg *config.Config, ln net.Listener) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close history")
		}
	}()

	if err := a.healthCheck(ctx); err != nil {
		log.Warn().Err(err).Msg("remote compressor is not reachable yet")
	}

	sessions := session.NewManager(session.Config{
		TTL:         cfg.Sessions.TTL,
		MaxSessions: cfg.Sessions.MaxSessions,
	}, a.newPipeline, func(s *session.Session) {
		log.Info().
			Str("session", s.ID).
			Int("files", s.Pipeline.Len()).
			Dur("age", time.Since(s.Created)).
			Msg("session ended")
	})
	defer sessions.Close()

	metricsPath := ""
	if cfg.Monitoring.MetricsEnabled {
		metricsPath = cfg.Monitoring.MetricsPath
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
	}

	srv := server.New(server.Options{
		Config:        cfg.Server,
		MetricsPath:   metricsPath,
		Sessions:      sessions,
		Picker:        intake.NewPicker(cfg.Intake),
		History:       a.history,
		Metrics:       a.metrics,
		Alerts:        a.alerts,
		RequestLogger: monitoring.NewRequestLogger(a.logger),
	})

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if ln != nil {
			err = srv.Serve(ln)
		} else {
			err = srv.Start()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		log.Info().Msg("shutting down server")

		timeout := cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
