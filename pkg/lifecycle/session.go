package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/chaoscope/chaoscope/config"
	"github.com/chaoscope/chaoscope/pkg/logger"
	"github.com/chaoscope/chaoscope/pkg/tracer"
)

// defaultCloseTimeout bounds the exporter drain when the caller's
// context carries no deadline of its own.
const defaultCloseTimeout = 10 * time.Second

// Session is the instrumentation state of one experiment execution:
// the tracing provider, the span tracker, and the handler registry
// the engine dispatches into. Sessions are independent; concurrent
// experiment runs each own their own.
type Session struct {
	provider tracer.Provider
	trace    *TraceHandler
	registry *Registry
	log      logger.Logger
}

// NewSession configures tracing for one experiment execution. This is
// the only place a backend misconfiguration surfaces as an error;
// after a successful return nothing in the session's lifetime fails
// the run.
func NewSession(ctx context.Context, cfg config.TracingConfig, serviceName, serviceVersion string, log logger.Logger) (*Session, error) {
	if log == nil {
		log = logger.Global()
	}

	provider, err := tracer.New(ctx, cfg, serviceName, serviceVersion)
	if err != nil {
		return nil, fmt.Errorf("configure tracing: %w", err)
	}

	trace := NewTraceHandler(provider, log)
	registry := NewRegistry(log)
	registry.Register(trace)

	return &Session{
		provider: provider,
		trace:    trace,
		registry: registry,
		log:      log,
	}, nil
}

// Registry returns the handler registry the engine dispatches
// lifecycle events into. Additional handlers (metrics, event feeds)
// register here.
func (s *Session) Registry() *Registry {
	return s.registry
}

// Provider returns the session's tracing provider.
func (s *Session) Provider() tracer.Provider {
	return s.provider
}

// TraceHandler returns the session's tracing handler.
func (s *Session) TraceHandler() *TraceHandler {
	return s.trace
}

// Close finishes any span the engine left open, then drains and shuts
// down the tracing backend within the context's deadline.
func (s *Session) Close(ctx context.Context) error {
	if leaked := s.trace.Tracker().OpenCount(); leaked > 0 {
		s.log.Warn("closing spans left open at session end", "count", leaked)
	}
	s.trace.Tracker().CloseOpen()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultCloseTimeout)
		defer cancel()
	}
	if err := s.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracing provider: %w", err)
	}
	return nil
}
