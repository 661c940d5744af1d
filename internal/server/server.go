// Package server exposes the compression pipeline over HTTP.
//
// DESIGN: Every client gets its own pipeline through the session manager.
// Handlers translate HTTP into pipeline commands and pipeline errors back
// into status codes; no pipeline state is kept here.
//
// ROUTES:
//
//	POST   /api/files                upload (multipart "files") -> intake -> Admit
//	GET    /api/files                list snapshots
//	DELETE /api/files                ClearAll
//	GET    /api/files/{id}           one snapshot
//	PATCH  /api/files/{id}           SetConfiguration
//	DELETE /api/files/{id}           Remove
//	GET    /api/files/{id}/download  PrepareDownload
//	POST   /api/batch                CompressAll in the background
//	POST   /api/reset                Reset
//	GET    /api/stats                outcome history
//	GET    /api/events               websocket event stream
//	GET    /metrics                  Prometheus
//	GET    /health                   liveness
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/compresr/shrinker/internal/config"
	"github.com/compresr/shrinker/internal/intake"
	"github.com/compresr/shrinker/internal/monitoring"
	"github.com/compresr/shrinker/internal/session"
	"github.com/compresr/shrinker/internal/store"
)

// Options holds the server's collaborators.
type Options struct {
	Config        config.ServerConfig
	MetricsPath   string // empty disables /metrics
	Sessions      *session.Manager
	Picker        *intake.Picker
	History       store.Store
	Metrics       *monitoring.MetricsCollector
	Alerts        *monitoring.AlertManager
	RequestLogger *monitoring.RequestLogger
}

// Server is the HTTP front end.
type Server struct {
	cfg           config.ServerConfig
	sessions      *session.Manager
	picker        *intake.Picker
	history       store.Store
	metrics       *monitoring.MetricsCollector
	alerts        *monitoring.AlertManager
	requestLogger *monitoring.RequestLogger
	validate      *validator.Validate
	limiter       *rateLimiter

	mux        *http.ServeMux
	handler    http.Handler
	httpServer *http.Server
}

// New creates a server and registers its routes.
func New(opts Options) *Server {
	s := &Server{
		cfg:           opts.Config,
		sessions:      opts.Sessions,
		picker:        opts.Picker,
		history:       opts.History,
		metrics:       opts.Metrics,
		alerts:        opts.Alerts,
		requestLogger: opts.RequestLogger,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		mux:           http.NewServeMux(),
	}
	// Report JSON field names in validation errors
	s.validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if s.metrics == nil {
		s.metrics = monitoring.NewMetricsCollector()
	}
	if s.alerts == nil {
		s.alerts = monitoring.NewAlertManager(monitoring.New(monitoring.LoggerConfig{}), monitoring.AlertConfig{})
	}
	if s.requestLogger == nil {
		s.requestLogger = monitoring.NewRequestLogger(monitoring.New(monitoring.LoggerConfig{Level: "warn"}))
	}
	if s.picker == nil {
		s.picker = intake.NewPicker(intake.DefaultConfig())
	}
	if s.history == nil {
		s.history = store.NewMemoryStore(0)
	}
	if s.cfg.RateLimit > 0 {
		s.limiter = newRateLimiter(s.cfg.RateLimit, s.cfg.RateBurst)
	}

	s.routes(opts.MetricsPath)
	s.handler = s.panicRecovery(s.rateLimit(s.loggingMiddleware(s.security(s.sessionMiddleware(s.mux)))))
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

func (s *Server) routes(metricsPath string) {
	s.mux.HandleFunc("POST /api/files", s.handleUpload)
	s.mux.HandleFunc("GET /api/files", s.handleList)
	s.mux.HandleFunc("DELETE /api/files", s.handleClear)
	s.mux.HandleFunc("GET /api/files/{id}", s.handleGet)
	s.mux.HandleFunc("PATCH /api/files/{id}", s.handlePatch)
	s.mux.HandleFunc("DELETE /api/files/{id}", s.handleDelete)
	s.mux.HandleFunc("GET /api/files/{id}/download", s.handleDownload)
	s.mux.HandleFunc("POST /api/batch", s.handleBatch)
	s.mux.HandleFunc("POST /api/reset", s.handleReset)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if metricsPath != "" {
		metrics := s.metrics.Handler()
		s.mux.Handle("GET "+metricsPath, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.metrics.Sessions.Set(float64(s.sessions.Len()))
			metrics.ServeHTTP(w, r)
		}))
	}
}

// Handler returns the root handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured port and serves until Shutdown.
// It returns http.ErrServerClosed after a clean shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown. After Shutdown it returns
// http.ErrServerClosed immediately.
func (s *Server) Serve(ln net.Listener) error {
	log.Info().Str("addr", ln.Addr().String()).Msg("server: listening")
	return s.httpServer.Serve(ln)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.close()
	}
	return s.httpServer.Shutdown(ctx)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("server: failed to write response")
	}
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, errorResponse{Error: msg})
}
