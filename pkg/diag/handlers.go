package diag

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chaoscope/chaoscope/pkg/tracer/archive"
)

// HealthHandler answers liveness probes.
type HealthHandler struct {
	version string
	started time.Time
}

// NewHealthHandler creates a health handler reporting the given
// build version.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{version: version, started: time.Now()}
}

// Health reports process liveness.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        h.version,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}

// TraceHandler serves the archived trace endpoints.
type TraceHandler struct {
	store *archive.Store
}

// NewTraceHandler creates a trace handler over the span archive.
func NewTraceHandler(store *archive.Store) *TraceHandler {
	return &TraceHandler{store: store}
}

const defaultTraceListLimit = 50

// ListTraces returns recent trace summaries, newest first. A "limit"
// query parameter caps the result.
func (h *TraceHandler) ListTraces(w http.ResponseWriter, r *http.Request) {
	limit := defaultTraceListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, errCodeBadRequest,
				"limit must be a positive integer", RequestIDFromContext(r.Context()))
			return
		}
		limit = parsed
	}

	traces, err := h.store.ListTraces(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, errCodeInternalServer,
			err.Error(), RequestIDFromContext(r.Context()))
		return
	}
	if traces == nil {
		traces = []archive.TraceSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"traces": traces})
}

// GetTrace returns every span of one archived trace.
func (h *TraceHandler) GetTrace(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "traceID")

	spans, err := h.store.GetTrace(traceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, errCodeInternalServer,
			err.Error(), RequestIDFromContext(r.Context()))
		return
	}
	if len(spans) == 0 {
		writeError(w, http.StatusNotFound, errCodeNotFound,
			"trace not found", RequestIDFromContext(r.Context()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trace_id": traceID,
		"spans":    spans,
	})
}
