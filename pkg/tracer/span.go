package tracer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chaoscope/chaoscope/pkg/logger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span is an open unit of work. It accepts tags and timestamped log
// batches until it is ended; after the first End every mutation is
// dropped with a diagnostic.
type Span interface {
	// SetTag attaches a key/value tag. Non-scalar values are
	// JSON-serialized when the owning provider does not accept
	// arbitrary payloads.
	SetTag(key string, value any)

	// Log records a timestamped key/value batch on the span.
	Log(fields map[string]any)

	// SetError marks the span as errored with the given detail.
	SetError(detail string)

	// End finishes the span. Only the first call has any effect.
	End(opts ...EndOption)
}

// EndOption configures how a span is ended.
type EndOption func(*endConfig)

type endConfig struct {
	endTime time.Time
}

// WithEndTime ends the span at the given historical instant instead
// of now.
func WithEndTime(t time.Time) EndOption {
	return func(c *endConfig) { c.endTime = t }
}

// otelSpan adapts an OpenTelemetry span to the Span contract and
// enforces finish-once.
type otelSpan struct {
	span      trace.Span
	ctx       context.Context // carries this span for child creation and injection
	arbitrary bool

	mu    sync.Mutex
	ended bool
}

func (s *otelSpan) SetTag(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		logger.Debug("dropping tag on ended span", "key", key)
		return
	}
	s.span.SetAttributes(toAttribute(key, value, !s.arbitrary))
}

func (s *otelSpan) Log(fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		logger.Debug("dropping log on ended span")
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(fields))
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, toAttribute(k, fields[k], !s.arbitrary))
	}
	s.span.AddEvent("log", trace.WithAttributes(attrs...))
}

func (s *otelSpan) SetError(detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		logger.Debug("dropping error on ended span")
		return
	}
	s.span.SetStatus(codes.Error, detail)
}

func (s *otelSpan) End(opts ...EndOption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		logger.Debug("ignoring duplicate span end")
		return
	}
	s.ended = true

	var cfg endConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.endTime.IsZero() {
		s.span.End()
		return
	}
	s.span.End(trace.WithTimestamp(cfg.endTime))
}

// toAttribute converts a tag value to an OpenTelemetry attribute.
// Scalars map directly; anything else is serialized to a JSON string
// when the backend only accepts primitive values.
func toAttribute(key string, value any, serialize bool) attribute.KeyValue {
	switch v := value.(type) {
	case bool:
		return attribute.Bool(key, v)
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	default:
		if !serialize {
			return attribute.String(key, fmt.Sprint(v))
		}
		data, err := json.Marshal(v)
		if err != nil {
			return attribute.String(key, fmt.Sprint(v))
		}
		return attribute.String(key, string(data))
	}
}
