// Package archive provides a Badger-backed local span store. It acts
// as a tracing exporter, persisting every finished span, and as the
// reader behind the diagnostics trace endpoints.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// SpanRecord is the persisted form of one finished span.
type SpanRecord struct {
	TraceID      string         `json:"trace_id"`
	SpanID       string         `json:"span_id"`
	ParentSpanID string         `json:"parent_span_id,omitempty"`
	Name         string         `json:"name"`
	Kind         string         `json:"kind"`
	StartTime    time.Time      `json:"start_time"`
	EndTime      time.Time      `json:"end_time"`
	Attributes   map[string]any `json:"attributes,omitempty"`
	Events       []EventRecord  `json:"events,omitempty"`
	StatusCode   string         `json:"status_code,omitempty"`
	StatusDetail string         `json:"status_detail,omitempty"`
}

// EventRecord is one timestamped log batch on a span.
type EventRecord struct {
	Name       string         `json:"name"`
	Time       time.Time      `json:"time"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// TraceSummary describes one archived trace.
type TraceSummary struct {
	TraceID   string    `json:"trace_id"`
	StartTime time.Time `json:"start_time"`
}

// Store is a local span archive. It satisfies the tracing SDK's
// exporter contract and additionally serves reads.
type Store struct {
	db *badger.DB
}

var _ sdktrace.SpanExporter = (*Store)(nil)

// Open opens (or creates) the archive at the given directory.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open span archive: %w", err)
	}
	return &Store{db: db}, nil
}

func spanKey(traceID, spanID string) []byte {
	return []byte(fmt.Sprintf("span:%s:%s", traceID, spanID))
}

func traceIndexKey(start time.Time, traceID string) []byte {
	return []byte(fmt.Sprintf("trace:index:start:%020d:%s", start.UnixNano(), traceID))
}

// ExportSpans persists a batch of finished spans.
func (s *Store) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, span := range spans {
			rec := toRecord(span)
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("marshal span record: %w", err)
			}
			if err := txn.Set(spanKey(rec.TraceID, rec.SpanID), data); err != nil {
				return err
			}
			// Root spans carry the trace index entry.
			if rec.ParentSpanID == "" {
				if err := txn.Set(traceIndexKey(rec.StartTime, rec.TraceID), nil); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Shutdown closes the underlying store.
func (s *Store) Shutdown(ctx context.Context) error {
	return s.db.Close()
}

// GetTrace returns every archived span of a trace, or an empty slice
// when the trace is unknown.
func (s *Store) GetTrace(traceID string) ([]SpanRecord, error) {
	var records []SpanRecord
	prefix := []byte(fmt.Sprintf("span:%s:", traceID))

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec SpanRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return fmt.Errorf("decode span record: %w", err)
				}
				records = append(records, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// ListTraces returns the most recent traces, newest first.
func (s *Store) ListTraces(limit int) ([]TraceSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	var summaries []TraceSummary
	prefix := []byte("trace:index:start:")

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts just past the prefix range.
		seek := append(append([]byte{}, prefix...), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(summaries) < limit; it.Next() {
			rest := string(it.Item().Key()[len(prefix):])
			parts := strings.SplitN(rest, ":", 2)
			if len(parts) != 2 {
				continue
			}
			nanos, err := strconv.ParseInt(parts[0], 10, 64)
			if err != nil {
				continue
			}
			summaries = append(summaries, TraceSummary{
				TraceID:   parts[1],
				StartTime: time.Unix(0, nanos).UTC(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

func toRecord(span sdktrace.ReadOnlySpan) SpanRecord {
	sc := span.SpanContext()
	rec := SpanRecord{
		TraceID:      sc.TraceID().String(),
		SpanID:       sc.SpanID().String(),
		Name:         span.Name(),
		Kind:         span.SpanKind().String(),
		StartTime:    span.StartTime().UTC(),
		EndTime:      span.EndTime().UTC(),
		StatusDetail: span.Status().Description,
	}
	if span.Parent().IsValid() {
		rec.ParentSpanID = span.Parent().SpanID().String()
	}
	rec.StatusCode = span.Status().Code.String()

	if attrs := span.Attributes(); len(attrs) > 0 {
		rec.Attributes = make(map[string]any, len(attrs))
		for _, kv := range attrs {
			rec.Attributes[string(kv.Key)] = kv.Value.AsInterface()
		}
	}
	for _, ev := range span.Events() {
		evRec := EventRecord{Name: ev.Name, Time: ev.Time.UTC()}
		if len(ev.Attributes) > 0 {
			evRec.Attributes = make(map[string]any, len(ev.Attributes))
			for _, kv := range ev.Attributes {
				evRec.Attributes[string(kv.Key)] = kv.Value.AsInterface()
			}
		}
		rec.Events = append(rec.Events, evRec)
	}
	return rec
}
