package feed

import (
	"github.com/chaoscope/chaoscope/pkg/experiment"
	"github.com/chaoscope/chaoscope/pkg/lifecycle"
)

// Handler turns lifecycle events into feed envelopes.
type Handler struct {
	broadcaster *Broadcaster
}

var _ lifecycle.RunEventHandler = (*Handler)(nil)

// NewHandler creates a lifecycle handler emitting into the
// broadcaster.
func NewHandler(broadcaster *Broadcaster) *Handler {
	return &Handler{broadcaster: broadcaster}
}

func (h *Handler) emit(event string, payload any) {
	h.broadcaster.Broadcast(Event{Event: event, Payload: payload})
}

func (h *Handler) Started(exp *experiment.Experiment, _ *experiment.Journal, _ map[string]any) {
	payload := map[string]any{}
	if exp != nil {
		payload["title"] = exp.Title
		if len(exp.Tags) > 0 {
			payload["tags"] = exp.Tags
		}
	}
	h.emit("started", payload)
}

func (h *Handler) Finished(j *experiment.Journal) {
	payload := map[string]any{}
	if j != nil {
		payload["status"] = j.Status
		payload["deviated"] = j.Deviated
	}
	h.emit("finished", payload)
}

func (h *Handler) Interrupted(_ *experiment.Experiment, _ *experiment.Journal) {
	h.emit("interrupted", nil)
}

func (h *Handler) SignalExit() {
	h.emit("signal_exit", nil)
}

func (h *Handler) StartContinuousHypothesis(frequency int) {
	h.emit("start_continuous_hypothesis", map[string]any{"frequency": frequency})
}

func (h *Handler) ContinuousHypothesisIteration(iteration int, state *experiment.HypothesisState) {
	payload := map[string]any{"iteration": iteration}
	if state != nil {
		payload["steady_state_met"] = state.SteadyStateMet
	}
	h.emit("continuous_hypothesis_iteration", payload)
}

func (h *Handler) ContinuousHypothesisCompleted(_ *experiment.Experiment, _ *experiment.Journal) {
	h.emit("continuous_hypothesis_completed", nil)
}

func (h *Handler) StartHypothesisBefore(_ *experiment.Experiment, _ map[string]any) {
	h.emit("start_hypothesis_before", nil)
}

func (h *Handler) HypothesisBeforeCompleted(_ *experiment.Experiment, state *experiment.HypothesisState, _ *experiment.Journal) {
	h.emit("hypothesis_before_completed", hypothesisPayload(state))
}

func (h *Handler) StartHypothesisAfter(_ *experiment.Experiment, _ map[string]any) {
	h.emit("start_hypothesis_after", nil)
}

func (h *Handler) HypothesisAfterCompleted(_ *experiment.Experiment, state *experiment.HypothesisState, _ *experiment.Journal) {
	h.emit("hypothesis_after_completed", hypothesisPayload(state))
}

func hypothesisPayload(state *experiment.HypothesisState) any {
	if state == nil {
		return nil
	}
	return map[string]any{"steady_state_met": state.SteadyStateMet}
}

func (h *Handler) StartMethod(_ *experiment.Experiment, _ map[string]any) {
	h.emit("start_method", nil)
}

func (h *Handler) MethodCompleted(_ *experiment.Experiment, _ []*experiment.Run) {
	h.emit("method_completed", nil)
}

func (h *Handler) StartRollbacks(_ *experiment.Experiment, _ map[string]any) {
	h.emit("start_rollbacks", nil)
}

func (h *Handler) RollbacksCompleted(_ *experiment.Experiment, _ *experiment.Journal) {
	h.emit("rollbacks_completed", nil)
}

func (h *Handler) StartActivity(act *experiment.Activity, _ map[string]any) {
	payload := map[string]any{}
	if act != nil {
		payload["name"] = act.Name
		payload["kind"] = act.Type
		payload["background"] = act.Background
	}
	h.emit("start_activity", payload)
}

func (h *Handler) ActivityCompleted(act *experiment.Activity, run *experiment.Run) {
	payload := map[string]any{}
	if act != nil {
		payload["name"] = act.Name
	}
	if run != nil {
		payload["status"] = run.Status
		if run.Exception != "" {
			payload["error"] = run.Exception
		}
	}
	h.emit("activity_completed", payload)
}
