package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/chaoscope/chaoscope/pkg/experiment"
	"github.com/chaoscope/chaoscope/pkg/lifecycle"
)

var _ lifecycle.RunEventHandler = (*Handler)(nil)

// Handler records run metrics from lifecycle events. It keeps its own
// start-time table, keyed by activity record identity, so it stays
// independent of the tracing handler's bookkeeping.
type Handler struct {
	manager *Manager

	mu              sync.Mutex
	experimentStart time.Time
	phaseStart      map[string]time.Time
	activityStart   map[*experiment.Activity]time.Time
}

// NewHandler creates a lifecycle handler recording into the manager.
func NewHandler(manager *Manager) *Handler {
	return &Handler{
		manager:       manager,
		phaseStart:    make(map[string]time.Time),
		activityStart: make(map[*experiment.Activity]time.Time),
	}
}

func (h *Handler) Started(_ *experiment.Experiment, _ *experiment.Journal, _ map[string]any) {
	if !h.manager.enabled {
		return
	}
	h.mu.Lock()
	h.experimentStart = time.Now()
	h.mu.Unlock()
}

func (h *Handler) Finished(j *experiment.Journal) {
	if !h.manager.enabled {
		return
	}
	h.mu.Lock()
	start := h.experimentStart
	h.experimentStart = time.Time{}
	h.mu.Unlock()

	status := "unknown"
	deviated := false
	if j != nil {
		if j.Status != "" {
			status = j.Status
		}
		deviated = j.Deviated
	}
	h.manager.experimentsTotal.WithLabelValues(status, strconv.FormatBool(deviated)).Inc()
	if !start.IsZero() {
		h.manager.experimentDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}
}

func (h *Handler) Interrupted(_ *experiment.Experiment, _ *experiment.Journal) {
	if !h.manager.enabled {
		return
	}
	h.manager.interruptionsTotal.Inc()
}

func (h *Handler) SignalExit() {
	if !h.manager.enabled {
		return
	}
	h.manager.interruptionsTotal.Inc()
}

func (h *Handler) StartContinuousHypothesis(_ int) {}

func (h *Handler) ContinuousHypothesisIteration(_ int, state *experiment.HypothesisState) {
	h.recordHypothesis("continuous", state)
}

func (h *Handler) ContinuousHypothesisCompleted(_ *experiment.Experiment, _ *experiment.Journal) {}

func (h *Handler) StartHypothesisBefore(_ *experiment.Experiment, _ map[string]any) {}

func (h *Handler) HypothesisBeforeCompleted(_ *experiment.Experiment, state *experiment.HypothesisState, _ *experiment.Journal) {
	h.recordHypothesis("before", state)
}

func (h *Handler) StartHypothesisAfter(_ *experiment.Experiment, _ map[string]any) {}

func (h *Handler) HypothesisAfterCompleted(_ *experiment.Experiment, state *experiment.HypothesisState, _ *experiment.Journal) {
	h.recordHypothesis("after", state)
}

func (h *Handler) recordHypothesis(phase string, state *experiment.HypothesisState) {
	if !h.manager.enabled || state == nil {
		return
	}
	deviated := strconv.FormatBool(!state.SteadyStateMet)
	h.manager.hypothesisEvaluations.WithLabelValues(phase, deviated).Inc()
}

func (h *Handler) StartMethod(_ *experiment.Experiment, _ map[string]any) {
	h.startPhase("method")
}

func (h *Handler) MethodCompleted(_ *experiment.Experiment, _ []*experiment.Run) {
	h.endPhase("method")
}

func (h *Handler) StartRollbacks(_ *experiment.Experiment, _ map[string]any) {
	h.startPhase("rollback")
}

func (h *Handler) RollbacksCompleted(_ *experiment.Experiment, _ *experiment.Journal) {
	h.endPhase("rollback")
}

func (h *Handler) startPhase(phase string) {
	if !h.manager.enabled {
		return
	}
	h.mu.Lock()
	h.phaseStart[phase] = time.Now()
	h.mu.Unlock()
}

func (h *Handler) endPhase(phase string) {
	if !h.manager.enabled {
		return
	}
	h.mu.Lock()
	start, ok := h.phaseStart[phase]
	delete(h.phaseStart, phase)
	h.mu.Unlock()
	if ok {
		h.manager.phaseDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
	}
}

func (h *Handler) StartActivity(act *experiment.Activity, _ map[string]any) {
	if !h.manager.enabled || act == nil {
		return
	}
	h.mu.Lock()
	h.activityStart[act] = time.Now()
	h.mu.Unlock()
}

func (h *Handler) ActivityCompleted(act *experiment.Activity, run *experiment.Run) {
	if !h.manager.enabled || act == nil {
		return
	}
	h.mu.Lock()
	start, ok := h.activityStart[act]
	delete(h.activityStart, act)
	h.mu.Unlock()
	if !ok {
		return
	}

	kind := act.Type
	if kind == "" {
		kind = "unknown"
	}
	status := "unknown"
	if run != nil && run.Status != "" {
		status = run.Status
	}
	h.manager.activitiesTotal.WithLabelValues(kind, status).Inc()
	h.manager.activityDuration.WithLabelValues(kind, status).Observe(time.Since(start).Seconds())
}
