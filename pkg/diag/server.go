package diag

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chaoscope/chaoscope/config"
	"github.com/chaoscope/chaoscope/pkg/feed"
	"github.com/chaoscope/chaoscope/pkg/logger"
	"github.com/chaoscope/chaoscope/pkg/metrics"
	"github.com/chaoscope/chaoscope/pkg/tracer/archive"
)

// Server is the diagnostics HTTP server.
type Server struct {
	cfg    config.DiagConfig
	server *http.Server
	log    logger.Logger
	ws     *feed.WebSocketHandler
}

// Options carries the optional surfaces the server exposes. Nil
// fields leave the matching routes unregistered.
type Options struct {
	Version string
	Metrics *metrics.Manager
	Archive *archive.Store
	Feed    *feed.WebSocketHandler
}

// NewServer builds the diagnostics server and its routes.
func NewServer(cfg config.DiagConfig, log logger.Logger, opts Options) *Server {
	r := chi.NewRouter()
	r.Use(requestID())
	r.Use(requestLogger(log))
	r.Use(recovery(log))

	r.Get("/healthz", NewHealthHandler(opts.Version).Health)

	if opts.Metrics != nil && opts.Metrics.Enabled() {
		r.Get("/metrics", promhttp.HandlerFor(
			opts.Metrics.Registry(),
			promhttp.HandlerOpts{},
		).ServeHTTP)
	}

	if opts.Archive != nil {
		traces := NewTraceHandler(opts.Archive)
		r.Route("/api/v1/traces", func(r chi.Router) {
			r.Get("/", traces.ListTraces)
			r.Get("/{traceID}", traces.GetTrace)
		})
	}

	if opts.Feed != nil {
		r.Get("/ws/events", opts.Feed.ServeHTTP)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &Server{cfg: cfg, server: srv, log: log, ws: opts.Feed}
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until Shutdown is called. It blocks.
func (s *Server) Start() error {
	s.log.Info("starting diagnostics server",
		"addr", s.server.Addr,
		"read_timeout", s.cfg.ReadTimeout,
		"write_timeout", s.cfg.WriteTimeout,
	)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("diagnostics server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and closes websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down diagnostics server")

	if s.ws != nil {
		s.ws.Close()
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown diagnostics server: %w", err)
	}
	return nil
}
