package lifecycle

import (
	"fmt"

	"github.com/chaoscope/chaoscope/pkg/experiment"
)

// Replay walks a recorded journal and dispatches its lifecycle into
// the registry, reconstructing the run after the fact. Activity spans
// pick up the journal's own timestamps where the handlers support
// historical recording.
func Replay(reg *Registry, j *experiment.Journal, meta map[string]any) error {
	if j == nil {
		return fmt.Errorf("nil journal")
	}
	exp := j.Experiment
	if exp == nil {
		return fmt.Errorf("journal carries no experiment declaration")
	}

	startMeta := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		startMeta[k] = v
	}
	if j.Start != "" {
		startMeta["start"] = j.Start
	}
	reg.Started(exp, j, startMeta)

	states := j.SteadyStates
	if states != nil && states.Before != nil {
		reg.StartHypothesisBefore(exp, nil)
		replayRuns(reg, states.Before.Probes)
		reg.HypothesisBeforeCompleted(exp, states.Before, j)
	}

	reg.StartMethod(exp, nil)
	replayRuns(reg, j.Run)
	reg.MethodCompleted(exp, j.Run)

	if states != nil && len(states.During) > 0 {
		reg.StartContinuousHypothesis(0)
		for i, state := range states.During {
			reg.ContinuousHypothesisIteration(i+1, state)
		}
		reg.ContinuousHypothesisCompleted(exp, j)
	}

	if states != nil && states.After != nil {
		reg.StartHypothesisAfter(exp, nil)
		replayRuns(reg, states.After.Probes)
		reg.HypothesisAfterCompleted(exp, states.After, j)
	}

	if len(j.Rollbacks) > 0 {
		reg.StartRollbacks(exp, nil)
		replayRuns(reg, j.Rollbacks)
		reg.RollbacksCompleted(exp, j)
	}

	if j.Status == "interrupted" {
		reg.Interrupted(exp, j)
	}
	reg.Finished(j)
	return nil
}

func replayRuns(reg *Registry, runs []*experiment.Run) {
	for _, run := range runs {
		if run == nil || run.Activity == nil {
			continue
		}
		var meta map[string]any
		if run.Start != "" {
			meta = map[string]any{"start": run.Start}
		}
		reg.StartActivity(run.Activity, meta)
		reg.ActivityCompleted(run.Activity, run)
	}
}
