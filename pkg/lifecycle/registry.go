package lifecycle

import (
	"sync"

	"github.com/chaoscope/chaoscope/pkg/experiment"
	"github.com/chaoscope/chaoscope/pkg/logger"
)

// RunEventHandler receives every lifecycle transition of one
// experiment execution. Start-side callbacks carry optional free-form
// metadata the engine wants recorded verbatim.
//
// Implementations must not panic across the callback boundary; the
// Registry recovers anyway, since instrumentation must never abort an
// experiment.
type RunEventHandler interface {
	Started(exp *experiment.Experiment, j *experiment.Journal, meta map[string]any)
	Finished(j *experiment.Journal)
	Interrupted(exp *experiment.Experiment, j *experiment.Journal)
	SignalExit()

	StartContinuousHypothesis(frequency int)
	ContinuousHypothesisIteration(iteration int, state *experiment.HypothesisState)
	ContinuousHypothesisCompleted(exp *experiment.Experiment, j *experiment.Journal)

	StartHypothesisBefore(exp *experiment.Experiment, meta map[string]any)
	HypothesisBeforeCompleted(exp *experiment.Experiment, state *experiment.HypothesisState, j *experiment.Journal)
	StartHypothesisAfter(exp *experiment.Experiment, meta map[string]any)
	HypothesisAfterCompleted(exp *experiment.Experiment, state *experiment.HypothesisState, j *experiment.Journal)

	StartMethod(exp *experiment.Experiment, meta map[string]any)
	MethodCompleted(exp *experiment.Experiment, runs []*experiment.Run)
	StartRollbacks(exp *experiment.Experiment, meta map[string]any)
	RollbacksCompleted(exp *experiment.Experiment, j *experiment.Journal)

	StartActivity(act *experiment.Activity, meta map[string]any)
	ActivityCompleted(act *experiment.Activity, run *experiment.Run)
}

// Registry fans each engine callback out to the registered handlers.
// Dispatch is synchronous on the caller's goroutine; a panicking
// handler is isolated and logged, never propagated to the engine.
type Registry struct {
	mu       sync.RWMutex
	handlers []RunEventHandler
	log      logger.Logger
}

// NewRegistry creates an empty handler registry.
func NewRegistry(log logger.Logger) *Registry {
	if log == nil {
		log = logger.Global()
	}
	return &Registry{log: log}
}

// Register adds a handler. Handlers are invoked in registration
// order.
func (r *Registry) Register(h RunEventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, h)
}

func (r *Registry) each(event string, fn func(RunEventHandler)) {
	r.mu.RLock()
	handlers := make([]RunEventHandler, len(r.handlers))
	copy(handlers, r.handlers)
	r.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.log.Error("lifecycle handler panicked",
						"event", event,
						"panic", rec,
					)
				}
			}()
			fn(h)
		}()
	}
}

func (r *Registry) Started(exp *experiment.Experiment, j *experiment.Journal, meta map[string]any) {
	r.each("started", func(h RunEventHandler) { h.Started(exp, j, meta) })
}

func (r *Registry) Finished(j *experiment.Journal) {
	r.each("finished", func(h RunEventHandler) { h.Finished(j) })
}

func (r *Registry) Interrupted(exp *experiment.Experiment, j *experiment.Journal) {
	r.each("interrupted", func(h RunEventHandler) { h.Interrupted(exp, j) })
}

func (r *Registry) SignalExit() {
	r.each("signal_exit", func(h RunEventHandler) { h.SignalExit() })
}

func (r *Registry) StartContinuousHypothesis(frequency int) {
	r.each("start_continuous_hypothesis", func(h RunEventHandler) { h.StartContinuousHypothesis(frequency) })
}

func (r *Registry) ContinuousHypothesisIteration(iteration int, state *experiment.HypothesisState) {
	r.each("continuous_hypothesis_iteration", func(h RunEventHandler) {
		h.ContinuousHypothesisIteration(iteration, state)
	})
}

func (r *Registry) ContinuousHypothesisCompleted(exp *experiment.Experiment, j *experiment.Journal) {
	r.each("continuous_hypothesis_completed", func(h RunEventHandler) {
		h.ContinuousHypothesisCompleted(exp, j)
	})
}

func (r *Registry) StartHypothesisBefore(exp *experiment.Experiment, meta map[string]any) {
	r.each("start_hypothesis_before", func(h RunEventHandler) { h.StartHypothesisBefore(exp, meta) })
}

func (r *Registry) HypothesisBeforeCompleted(exp *experiment.Experiment, state *experiment.HypothesisState, j *experiment.Journal) {
	r.each("hypothesis_before_completed", func(h RunEventHandler) {
		h.HypothesisBeforeCompleted(exp, state, j)
	})
}

func (r *Registry) StartHypothesisAfter(exp *experiment.Experiment, meta map[string]any) {
	r.each("start_hypothesis_after", func(h RunEventHandler) { h.StartHypothesisAfter(exp, meta) })
}

func (r *Registry) HypothesisAfterCompleted(exp *experiment.Experiment, state *experiment.HypothesisState, j *experiment.Journal) {
	r.each("hypothesis_after_completed", func(h RunEventHandler) {
		h.HypothesisAfterCompleted(exp, state, j)
	})
}

func (r *Registry) StartMethod(exp *experiment.Experiment, meta map[string]any) {
	r.each("start_method", func(h RunEventHandler) { h.StartMethod(exp, meta) })
}

func (r *Registry) MethodCompleted(exp *experiment.Experiment, runs []*experiment.Run) {
	r.each("method_completed", func(h RunEventHandler) { h.MethodCompleted(exp, runs) })
}

func (r *Registry) StartRollbacks(exp *experiment.Experiment, meta map[string]any) {
	r.each("start_rollbacks", func(h RunEventHandler) { h.StartRollbacks(exp, meta) })
}

func (r *Registry) RollbacksCompleted(exp *experiment.Experiment, j *experiment.Journal) {
	r.each("rollbacks_completed", func(h RunEventHandler) { h.RollbacksCompleted(exp, j) })
}

func (r *Registry) StartActivity(act *experiment.Activity, meta map[string]any) {
	r.each("start_activity", func(h RunEventHandler) { h.StartActivity(act, meta) })
}

func (r *Registry) ActivityCompleted(act *experiment.Activity, run *experiment.Run) {
	r.each("activity_completed", func(h RunEventHandler) { h.ActivityCompleted(act, run) })
}
