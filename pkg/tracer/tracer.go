// Package tracer owns span creation and backend selection for
// Chaoscope. It exposes a narrow provider contract to the lifecycle
// instrumentation and hides which exporter ships the spans out.
package tracer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/chaoscope/chaoscope/pkg/tracer/archive"
)

// Provider creates spans and propagates their context. Exactly one
// provider lives per experiment execution; it is built at configure
// time and flushed at cleanup.
type Provider interface {
	// StartSpan opens a span. Without WithParent the span is a root.
	StartSpan(name string, opts ...SpanOption) Span

	// Inject writes the span's propagation context into an outgoing
	// HTTP header map, mutating it in place.
	Inject(span Span, headers map[string]string)

	// SupportsArbitraryPayloads reports whether tag values may carry
	// non-primitive payloads without prior serialization.
	SupportsArbitraryPayloads() bool

	// ForceFlush drains pending spans within the context's deadline.
	ForceFlush(ctx context.Context) error

	// Shutdown flushes and releases the backend. The provider is
	// unusable afterwards.
	Shutdown(ctx context.Context) error

	// Archive returns the local span store when the archive backend
	// is active, nil otherwise.
	Archive() *archive.Store
}

// SpanOption configures span creation.
type SpanOption func(*spanConfig)

type spanConfig struct {
	parent    Span
	startTime time.Time
	kind      trace.SpanKind
}

// WithParent parents the new span under an open span.
func WithParent(parent Span) SpanOption {
	return func(c *spanConfig) { c.parent = parent }
}

// WithStartTime starts the span at a historical instant instead of
// now.
func WithStartTime(t time.Time) SpanOption {
	return func(c *spanConfig) { c.startTime = t }
}

// WithClientKind marks the span as the client side of a remote call.
func WithClientKind() SpanOption {
	return func(c *spanConfig) { c.kind = trace.SpanKindClient }
}

// NewWithSDK wraps an already-built OpenTelemetry tracer provider.
// Embedders that own their exporter pipeline (and tests recording
// spans) use this instead of the config-driven constructor.
func NewWithSDK(tp *sdktrace.TracerProvider, arbitrary bool) Provider {
	return &provider{
		tracer:     tp.Tracer(instrumentationName),
		propagator: newPropagator(),
		sdk:        tp,
		arbitrary:  arbitrary,
	}
}

// provider implements Provider on top of an OpenTelemetry tracer
// provider. The same shape serves every backend; only the exporter
// and the payload capability differ.
type provider struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	sdk        *sdktrace.TracerProvider // nil for the noop backend
	store      *archive.Store           // non-nil for the archive backend
	arbitrary  bool
}

func (p *provider) StartSpan(name string, opts ...SpanOption) Span {
	var cfg spanConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx := context.Background()
	if parent, ok := cfg.parent.(*otelSpan); ok && parent != nil {
		ctx = parent.ctx
	}

	startOpts := make([]trace.SpanStartOption, 0, 2)
	if !cfg.startTime.IsZero() {
		startOpts = append(startOpts, trace.WithTimestamp(cfg.startTime))
	}
	if cfg.kind != trace.SpanKindUnspecified {
		startOpts = append(startOpts, trace.WithSpanKind(cfg.kind))
	}

	spanCtx, span := p.tracer.Start(ctx, name, startOpts...)
	return &otelSpan{
		span:      span,
		ctx:       spanCtx,
		arbitrary: p.arbitrary,
	}
}

func (p *provider) Inject(span Span, headers map[string]string) {
	s, ok := span.(*otelSpan)
	if !ok || s == nil || headers == nil {
		return
	}
	p.propagator.Inject(s.ctx, propagation.MapCarrier(headers))
}

func (p *provider) SupportsArbitraryPayloads() bool {
	return p.arbitrary
}

func (p *provider) Archive() *archive.Store {
	return p.store
}

func (p *provider) ForceFlush(ctx context.Context) error {
	if p.sdk == nil {
		return nil
	}
	return p.sdk.ForceFlush(ctx)
}

func (p *provider) Shutdown(ctx context.Context) error {
	if p.sdk == nil {
		return nil
	}
	if err := p.sdk.ForceFlush(ctx); err != nil {
		_ = p.sdk.Shutdown(ctx)
		return err
	}
	return p.sdk.Shutdown(ctx)
}
