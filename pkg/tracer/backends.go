package tracer

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chaoscope/chaoscope/config"
	"github.com/chaoscope/chaoscope/pkg/logger"
	"github.com/chaoscope/chaoscope/pkg/tracer/archive"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Backend identifies one tracing backend kind.
type Backend string

const (
	// BackendNoop discards every span.
	BackendNoop Backend = "noop"
	// BackendOTLPGRPC exports over OTLP gRPC.
	BackendOTLPGRPC Backend = "otlpgrpc"
	// BackendJaeger exports OTLP gRPC to a Jaeger collector over an
	// explicitly dialed connection.
	BackendJaeger Backend = "jaeger"
	// BackendStdout writes spans to stdout for local development.
	BackendStdout Backend = "stdout"
	// BackendArchive persists finished spans to a local Badger store.
	BackendArchive Backend = "archive"
)

// ParseBackend resolves a configured provider name to a backend kind.
// "opentelemetry" is accepted as an alias for the OTLP gRPC backend.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "noop":
		return BackendNoop, nil
	case "otlpgrpc", "opentelemetry", "otlp":
		return BackendOTLPGRPC, nil
	case "jaeger":
		return BackendJaeger, nil
	case "stdout":
		return BackendStdout, nil
	case "archive":
		return BackendArchive, nil
	default:
		return "", fmt.Errorf("unsupported tracing provider %q", s)
	}
}

// Exporter factories are variables so tests can swap them out.
var newOTLPExporter = func(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	endpoint := normalizeEndpoint(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("tracing endpoint cannot be empty")
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithTimeout(cfg.Timeout),
		otlptracegrpc.WithInsecure(),
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}

	return otlptracegrpc.New(ctx, opts...)
}

var newJaegerExporter = func(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	endpoint := normalizeEndpoint(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("jaeger collector endpoint cannot be empty")
	}

	// Jaeger ingests OTLP natively; dial the collector ourselves so
	// connection failures surface at configure time.
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial jaeger collector: %w", err)
	}

	return otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
}

var newStdoutExporter = func(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	return stdouttrace.New(stdouttrace.WithPrettyPrint())
}

var newArchiveExporter = func(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	if strings.TrimSpace(cfg.ArchivePath) == "" {
		return nil, fmt.Errorf("archive path cannot be empty")
	}
	return archive.Open(cfg.ArchivePath)
}

// warnLimit caps exporter failure logging so a dead collector does
// not flood the experiment's own output.
var warnLimit = rate.NewLimiter(rate.Every(10*time.Second), 3)

var reportExporterFailure = func(err error, backend Backend, spanCount int) {
	if !warnLimit.Allow() {
		return
	}
	logger.Warn("tracing exporter failed",
		"error", err,
		"backend", string(backend),
		"span_count", spanCount,
	)
}

// isolatingExporter swallows export errors: tracing transport faults
// must never surface into the experiment run.
type isolatingExporter struct {
	exporter sdktrace.SpanExporter
	backend  Backend
}

func (e *isolatingExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if err := e.exporter.ExportSpans(ctx, spans); err != nil {
		reportExporterFailure(err, e.backend, len(spans))
	}
	return nil
}

func (e *isolatingExporter) Shutdown(ctx context.Context) error {
	return e.exporter.Shutdown(ctx)
}

// New builds the tracing provider selected by the configuration. An
// unsupported or incomplete backend configuration fails here, before
// the experiment starts; nothing later in the run returns an error.
func New(ctx context.Context, cfg config.TracingConfig, serviceName, serviceVersion string) (Provider, error) {
	backend, err := ParseBackend(cfg.Provider)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		backend = BackendNoop
	}

	if backend == BackendNoop {
		return &provider{
			tracer:     noop.NewTracerProvider().Tracer(instrumentationName),
			propagator: newPropagator(),
			arbitrary:  true,
		}, nil
	}

	exp, err := newExporter(ctx, backend, cfg)
	if err != nil {
		return nil, fmt.Errorf("create tracing exporter: %w", err)
	}
	store, _ := exp.(*archive.Store)
	exp = &isolatingExporter{exporter: exp, backend: backend}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		_ = exp.Shutdown(ctx)
		return nil, fmt.Errorf("create tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(selectSampler(cfg)),
	)

	return &provider{
		tracer:     tp.Tracer(instrumentationName),
		propagator: newPropagator(),
		sdk:        tp,
		store:      store,
	}, nil
}

const instrumentationName = "chaoscope.lifecycle"

func newExporter(ctx context.Context, backend Backend, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	switch backend {
	case BackendOTLPGRPC:
		if cfg.Timeout <= 0 {
			return nil, fmt.Errorf("tracing timeout must be > 0")
		}
		return newOTLPExporter(ctx, cfg)
	case BackendJaeger:
		return newJaegerExporter(ctx, cfg)
	case BackendStdout:
		return newStdoutExporter(ctx, cfg)
	case BackendArchive:
		return newArchiveExporter(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported tracing backend %q", backend)
	}
}

func newPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}

func selectSampler(cfg config.TracingConfig) sdktrace.Sampler {
	switch strings.ToLower(strings.TrimSpace(cfg.Sampler)) {
	case "always_on":
		return sdktrace.AlwaysSample()
	case "always_off":
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))
	}
}

func normalizeEndpoint(endpoint string) string {
	raw := strings.TrimSpace(endpoint)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if parsed.Host != "" {
		return parsed.Host
	}
	return raw
}
