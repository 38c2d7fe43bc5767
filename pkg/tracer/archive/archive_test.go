package archive

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Shutdown(context.Background())
	})
	return store
}

func testIDs(t *testing.T, trace8, span4 byte) (trace.TraceID, trace.SpanID) {
	t.Helper()
	var traceID trace.TraceID
	var spanID trace.SpanID
	traceID[15] = trace8
	spanID[7] = span4
	return traceID, spanID
}

func stubSpan(t *testing.T, name string, traceID trace.TraceID, spanID, parentID trace.SpanID, start time.Time) tracetest.SpanStub {
	t.Helper()
	stub := tracetest.SpanStub{
		Name: name,
		SpanContext: trace.NewSpanContext(trace.SpanContextConfig{
			TraceID: traceID,
			SpanID:  spanID,
		}),
		SpanKind:  trace.SpanKindInternal,
		StartTime: start,
		EndTime:   start.Add(2 * time.Second),
		Attributes: []attribute.KeyValue{
			attribute.String("type", "experiment"),
			attribute.Bool("deviated", false),
		},
		Events: []sdktrace.Event{
			{
				Name: "log",
				Time: start.Add(time.Second),
				Attributes: []attribute.KeyValue{
					attribute.String("event", "probe"),
				},
			},
		},
		Status: sdktrace.Status{Code: codes.Ok},
	}
	if parentID.IsValid() {
		stub.Parent = trace.NewSpanContext(trace.SpanContextConfig{
			TraceID: traceID,
			SpanID:  parentID,
		})
	}
	return stub
}

func TestStoreRoundTrip(t *testing.T) {
	store := openTestStore(t)

	start := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	traceID, rootID := testIDs(t, 1, 1)
	_, childID := testIDs(t, 1, 2)

	root := stubSpan(t, "experiment", traceID, rootID, trace.SpanID{}, start)
	child := stubSpan(t, "method", traceID, childID, rootID, start.Add(time.Second))

	err := store.ExportSpans(context.Background(), []sdktrace.ReadOnlySpan{
		root.Snapshot(), child.Snapshot(),
	})
	require.NoError(t, err)

	spans, err := store.GetTrace(traceID.String())
	require.NoError(t, err)
	require.Len(t, spans, 2)

	byName := map[string]SpanRecord{}
	for _, s := range spans {
		byName[s.Name] = s
	}

	rootRec := byName["experiment"]
	assert.Equal(t, traceID.String(), rootRec.TraceID)
	assert.Empty(t, rootRec.ParentSpanID)
	assert.Equal(t, "experiment", rootRec.Attributes["type"])
	assert.Equal(t, false, rootRec.Attributes["deviated"])
	require.Len(t, rootRec.Events, 1)
	assert.Equal(t, "log", rootRec.Events[0].Name)
	assert.Equal(t, "probe", rootRec.Events[0].Attributes["event"])
	assert.True(t, rootRec.StartTime.Equal(start))

	childRec := byName["method"]
	assert.Equal(t, rootID.String(), childRec.ParentSpanID)
}

func TestGetTraceUnknownIsEmpty(t *testing.T) {
	store := openTestStore(t)

	spans, err := store.GetTrace("00000000000000000000000000000042")
	require.NoError(t, err)
	assert.Empty(t, spans)
}

func TestListTracesNewestFirst(t *testing.T) {
	store := openTestStore(t)

	base := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	var want []string
	for i := 1; i <= 5; i++ {
		traceID, spanID := testIDs(t, byte(i), byte(i))
		stub := stubSpan(t, fmt.Sprintf("run-%d", i), traceID, spanID, trace.SpanID{},
			base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.ExportSpans(context.Background(),
			[]sdktrace.ReadOnlySpan{stub.Snapshot()}))
		want = append([]string{traceID.String()}, want...)
	}

	traces, err := store.ListTraces(10)
	require.NoError(t, err)
	require.Len(t, traces, 5)
	for i, summary := range traces {
		assert.Equal(t, want[i], summary.TraceID, "position %d", i)
	}

	limited, err := store.ListTraces(2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, want[0], limited[0].TraceID)
	assert.Equal(t, want[1], limited[1].TraceID)
}

func TestListTracesIndexesRootSpansOnly(t *testing.T) {
	store := openTestStore(t)

	start := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	traceID, rootID := testIDs(t, 7, 1)
	_, childID := testIDs(t, 7, 2)

	root := stubSpan(t, "experiment", traceID, rootID, trace.SpanID{}, start)
	child := stubSpan(t, "activity", traceID, childID, rootID, start.Add(time.Second))
	require.NoError(t, store.ExportSpans(context.Background(),
		[]sdktrace.ReadOnlySpan{root.Snapshot(), child.Snapshot()}))

	traces, err := store.ListTraces(10)
	require.NoError(t, err)
	require.Len(t, traces, 1)
	assert.Equal(t, traceID.String(), traces[0].TraceID)
}
