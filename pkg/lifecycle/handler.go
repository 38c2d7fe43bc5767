package lifecycle

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/chaoscope/chaoscope/pkg/experiment"
	"github.com/chaoscope/chaoscope/pkg/logger"
	"github.com/chaoscope/chaoscope/pkg/tracer"
)

// Tag keys attached by the trace handler.
const (
	tagType       = "type"
	tagTarget     = "target"
	tagStatus     = "status"
	tagDeviated   = "deviated"
	tagPhase      = "phase"
	tagMet        = "steady_state_met"
	tagIteration  = "iteration"
	tagFrequency  = "frequency"
	tagActivity   = "activity"
	tagName       = "name"
	tagBackground = "background"
	tagOutput     = "output"
	tagPlatform   = "platform"

	tagHTTPMethod = "http.method"
	tagHTTPURL    = "http.url"
	tagHTTPStatus = "http.status_code"
)

// TraceHandler translates lifecycle events into tracker operations
// and enriches the resulting spans with domain tags. Nothing it does
// ever returns an error to the engine: structural problems (a close
// without its open, a second close) are logged and absorbed.
type TraceHandler struct {
	tracker  *Tracker
	provider tracer.Provider
	log      logger.Logger
}

var _ RunEventHandler = (*TraceHandler)(nil)

// NewTraceHandler creates the tracing handler for one experiment
// execution.
func NewTraceHandler(provider tracer.Provider, log logger.Logger) *TraceHandler {
	if log == nil {
		log = logger.Global()
	}
	return &TraceHandler{
		tracker:  NewTracker(provider),
		provider: provider,
		log:      log,
	}
}

// Tracker exposes the handler's span table, mainly to tests and the
// session leak guard.
func (t *TraceHandler) Tracker() *Tracker {
	return t.tracker
}

func (t *TraceHandler) Started(exp *experiment.Experiment, _ *experiment.Journal, meta map[string]any) {
	name := "experiment"
	if exp != nil && exp.Title != "" {
		name = exp.Title
	}
	var opts []tracer.SpanOption
	if s, ok := meta["start"].(string); ok {
		if start, ok := t.parseTime(s); ok {
			opts = append(opts, tracer.WithStartTime(start))
		}
	}
	span, err := t.tracker.OpenPhase(PhaseExperiment, "", name, opts...)
	if err != nil {
		t.log.Debug("open experiment span", "error", err)
		return
	}

	span.SetTag(tagType, "experiment")
	span.SetTag(tagPlatform, runtime.GOOS+"/"+runtime.GOARCH)
	if exp != nil {
		if len(exp.Tags) > 0 {
			span.SetTag(tagTarget, strings.Join(exp.Tags, ", "))
		}
		for k, v := range exp.Contributions {
			span.SetTag(k, v)
		}
	}
	if len(meta) > 0 {
		span.Log(meta)
	}
}

func (t *TraceHandler) Finished(j *experiment.Journal) {
	var endOpts []tracer.EndOption
	if j != nil {
		if end, ok := t.parseTime(j.End); ok {
			endOpts = append(endOpts, tracer.WithEndTime(end))
		}
	}
	err := t.tracker.ClosePhase(PhaseExperiment, func(span tracer.Span) {
		if j == nil {
			return
		}
		span.SetTag(tagStatus, j.Status)
		span.SetTag(tagDeviated, j.Deviated)
	}, endOpts...)
	if err != nil {
		t.log.Debug("close experiment span", "error", err)
	}
}

// Interrupted tags the root span when the engine aborts the run. The
// root still closes through Finished when the engine reports it, or
// through the session leak guard otherwise.
func (t *TraceHandler) Interrupted(_ *experiment.Experiment, _ *experiment.Journal) {
	if root := t.tracker.Root(); root != nil {
		root.SetTag("interrupted", true)
	}
}

// SignalExit tags and closes the root when the process is being torn
// down by a termination signal and no further events will arrive.
func (t *TraceHandler) SignalExit() {
	if root := t.tracker.Root(); root != nil {
		root.SetTag("exit_signal", true)
	}
	t.tracker.CloseOpen()
}

func (t *TraceHandler) StartContinuousHypothesis(frequency int) {
	span, err := t.tracker.OpenPhase(PhaseHypothesisContinuous, PhaseExperiment, "steady-state-hypothesis")
	if err != nil {
		t.log.Debug("open continuous hypothesis span", "error", err)
		return
	}
	span.SetTag(tagType, "hypothesis")
	span.SetTag(tagPhase, "continuous")
	if frequency > 0 {
		span.SetTag(tagFrequency, frequency)
	}
}

// ContinuousHypothesisIteration records one periodic re-evaluation as
// a span tree with the probes' own recorded timestamps. The probes
// already ran; their spans are opened and closed historically rather
// than timed here.
func (t *TraceHandler) ContinuousHypothesisIteration(iteration int, state *experiment.HypothesisState) {
	parent := t.tracker.PhaseSpan(PhaseHypothesisContinuous)
	if parent == nil || state == nil || len(state.Probes) == 0 {
		t.log.Debug("dropping continuous hypothesis iteration",
			"iteration", iteration,
			"open", parent != nil,
		)
		return
	}

	iterStart, ok := t.parseTime(state.Probes[0].Start)
	iterOpts := []tracer.SpanOption{tracer.WithParent(parent)}
	if ok {
		iterOpts = append(iterOpts, tracer.WithStartTime(iterStart))
	}
	span := t.provider.StartSpan("steady-state-hypothesis", iterOpts...)
	span.SetTag(tagType, "hypothesis")
	span.SetTag(tagPhase, "continuous")
	span.SetTag(tagIteration, iteration)
	span.SetTag(tagMet, state.SteadyStateMet)

	var iterEnd []tracer.EndOption
	if last, ok := t.parseTime(state.Probes[len(state.Probes)-1].End); ok {
		iterEnd = append(iterEnd, tracer.WithEndTime(last))
	}

	for _, probe := range state.Probes {
		t.recordProbe(span, probe)
	}
	span.End(iterEnd...)
}

func (t *TraceHandler) recordProbe(parent tracer.Span, probe *experiment.Run) {
	name := "activity"
	if probe.Activity != nil && probe.Activity.Name != "" {
		name = probe.Activity.Name
	}
	opts := []tracer.SpanOption{tracer.WithParent(parent)}
	if start, ok := t.parseTime(probe.Start); ok {
		opts = append(opts, tracer.WithStartTime(start))
	}
	child := t.provider.StartSpan(name, opts...)
	child.SetTag(tagType, "activity")
	if probe.Activity != nil {
		child.SetTag(tagName, probe.Activity.Name)
		child.SetTag(tagBackground, probe.Activity.Background)
	}
	child.SetTag(tagOutput, probe.Output)
	child.SetTag(tagStatus, probe.Status)
	if probe.Exception != "" {
		child.SetError(probe.Exception)
	}

	var endOpts []tracer.EndOption
	if end, ok := t.parseTime(probe.End); ok {
		endOpts = append(endOpts, tracer.WithEndTime(end))
	}
	child.End(endOpts...)
}

func (t *TraceHandler) ContinuousHypothesisCompleted(_ *experiment.Experiment, _ *experiment.Journal) {
	if err := t.tracker.ClosePhase(PhaseHypothesisContinuous, nil); err != nil {
		t.log.Debug("close continuous hypothesis span", "error", err)
	}
}

func (t *TraceHandler) StartHypothesisBefore(exp *experiment.Experiment, meta map[string]any) {
	t.openHypothesis(PhaseHypothesisBefore, "before", exp, meta)
}

func (t *TraceHandler) HypothesisBeforeCompleted(_ *experiment.Experiment, state *experiment.HypothesisState, _ *experiment.Journal) {
	t.closeHypothesis(PhaseHypothesisBefore, state)
}

func (t *TraceHandler) StartHypothesisAfter(exp *experiment.Experiment, meta map[string]any) {
	t.openHypothesis(PhaseHypothesisAfter, "after", exp, meta)
}

func (t *TraceHandler) HypothesisAfterCompleted(_ *experiment.Experiment, state *experiment.HypothesisState, _ *experiment.Journal) {
	t.closeHypothesis(PhaseHypothesisAfter, state)
}

func (t *TraceHandler) openHypothesis(phase Phase, discriminator string, exp *experiment.Experiment, meta map[string]any) {
	name := "steady-state-hypothesis"
	if exp != nil && exp.SteadyStateHypothesis != nil && exp.SteadyStateHypothesis.Title != "" {
		name = exp.SteadyStateHypothesis.Title
	}
	span, err := t.tracker.OpenPhase(phase, PhaseExperiment, name)
	if err != nil {
		t.log.Debug("open hypothesis span", "phase", discriminator, "error", err)
		return
	}
	span.SetTag(tagType, "hypothesis")
	span.SetTag(tagPhase, discriminator)
	if len(meta) > 0 {
		span.Log(meta)
	}
}

func (t *TraceHandler) closeHypothesis(phase Phase, state *experiment.HypothesisState) {
	err := t.tracker.ClosePhase(phase, func(span tracer.Span) {
		if state == nil {
			return
		}
		deviated := !state.SteadyStateMet
		span.SetTag(tagMet, state.SteadyStateMet)
		span.SetTag(tagDeviated, deviated)
		if !deviated {
			return
		}
		// The last probe of a deviated evaluation is the one that
		// broke the hypothesis.
		if probe := state.LastProbe(); probe != nil && probe.Activity != nil {
			span.Log(map[string]any{
				"probe":    probe.Activity.Name,
				"expected": probe.Activity.Tolerance,
				"computed": probe.Output,
			})
			span.SetError(fmt.Sprintf("steady state deviated on probe %q", probe.Activity.Name))
		}
	})
	if err != nil {
		t.log.Debug("close hypothesis span", "error", err)
	}
}

func (t *TraceHandler) StartMethod(_ *experiment.Experiment, meta map[string]any) {
	span, err := t.tracker.OpenPhase(PhaseMethod, PhaseExperiment, "method")
	if err != nil {
		t.log.Debug("open method span", "error", err)
		return
	}
	span.SetTag(tagType, "method")
	if len(meta) > 0 {
		span.Log(meta)
	}
}

func (t *TraceHandler) MethodCompleted(_ *experiment.Experiment, _ []*experiment.Run) {
	if err := t.tracker.ClosePhase(PhaseMethod, nil); err != nil {
		t.log.Debug("close method span", "error", err)
	}
}

func (t *TraceHandler) StartRollbacks(_ *experiment.Experiment, meta map[string]any) {
	span, err := t.tracker.OpenPhase(PhaseRollback, PhaseExperiment, "rollbacks")
	if err != nil {
		t.log.Debug("open rollback span", "error", err)
		return
	}
	span.SetTag(tagType, "rollback")
	if len(meta) > 0 {
		span.Log(meta)
	}
}

func (t *TraceHandler) RollbacksCompleted(_ *experiment.Experiment, _ *experiment.Journal) {
	if err := t.tracker.ClosePhase(PhaseRollback, nil); err != nil {
		t.log.Debug("close rollback span", "error", err)
	}
}

func (t *TraceHandler) StartActivity(act *experiment.Activity, meta map[string]any) {
	if act == nil {
		return
	}
	// While a continuous hypothesis runs, its own probes are reported
	// both through the iteration batches and through the activity
	// callbacks. Tolerance-carrying records are the hypothesis's
	// probes; keeping them out of the registry avoids duplicates.
	if t.tracker.PhaseSpan(PhaseHypothesisContinuous) != nil && act.HasTolerance() {
		return
	}

	var opts []tracer.SpanOption
	isHTTP := act.ProviderType() == "http"
	if isHTTP {
		opts = append(opts, tracer.WithClientKind())
	}
	// Replayed activities carry their recorded start time in the meta.
	if s, ok := meta["start"].(string); ok {
		if start, ok := t.parseTime(s); ok {
			opts = append(opts, tracer.WithStartTime(start))
		}
	}

	token, span := t.tracker.OpenActivity(act.Name, opts...)
	act.InstanceID = token

	span.SetTag(tagType, "activity")
	span.SetTag(tagActivity, act.Type)
	span.SetTag(tagName, act.Name)
	span.SetTag(tagBackground, act.Background)
	if len(act.Provider) > 0 {
		span.Log(act.Provider)
	}
	if isHTTP {
		t.tagHTTPRequest(span, act)
	}
	if len(meta) > 0 {
		span.Log(meta)
	}
}

// tagHTTPRequest records the outgoing request's metadata and injects
// trace propagation headers into the provider's header map in place,
// so the engine's HTTP call carries the trace context.
func (t *TraceHandler) tagHTTPRequest(span tracer.Span, act *experiment.Activity) {
	method := "GET"
	if m, ok := act.Provider["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	span.SetTag(tagHTTPMethod, method)
	if u, ok := act.Provider["url"].(string); ok {
		span.SetTag(tagHTTPURL, u)
	}

	headers := make(map[string]string)
	switch existing := act.Provider["headers"].(type) {
	case map[string]string:
		for k, v := range existing {
			headers[k] = v
		}
	case map[string]any:
		for k, v := range existing {
			headers[k] = fmt.Sprint(v)
		}
	}
	t.provider.Inject(span, headers)
	act.Provider["headers"] = headers
}

func (t *TraceHandler) ActivityCompleted(act *experiment.Activity, run *experiment.Run) {
	if act == nil || act.InstanceID == "" {
		return
	}
	token := act.InstanceID
	act.InstanceID = ""

	var endOpts []tracer.EndOption
	if run != nil {
		// The engine stamps the run's end right before the callback, so
		// the recorded end is the span's true end, live or replayed.
		if end, ok := t.parseTime(run.End); ok {
			endOpts = append(endOpts, tracer.WithEndTime(end))
		}
	}

	err := t.tracker.CloseActivity(token, func(span tracer.Span) {
		if run == nil {
			return
		}
		if act.ProviderType() == "http" {
			if status, ok := numericStatus(run.Output); ok {
				span.SetTag(tagHTTPStatus, status)
			}
		}
		span.SetTag(tagOutput, run.Output)
		span.SetTag(tagStatus, run.Status)
		if run.Status == "failed" {
			span.SetError(run.Exception)
			span.Log(map[string]any{
				"event": "error",
				"stack": run.Exception,
			})
		}
		if run.ToleranceMet != nil {
			span.SetTag(tagDeviated, !*run.ToleranceMet)
		}
	}, endOpts...)
	if err != nil {
		t.log.Debug("close activity span", "error", err)
	}
}

// numericStatus extracts a numeric "status" entry from a mapping
// output, tolerating the number types JSON decoding produces.
func numericStatus(output any) (int, bool) {
	m, ok := output.(map[string]any)
	if !ok {
		return 0, false
	}
	switch v := m["status"].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func (t *TraceHandler) parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	parsed, err := experiment.ParseTimestamp(s)
	if err != nil {
		t.log.Debug("unparseable activity timestamp", "value", s, "error", err)
		return time.Time{}, false
	}
	return parsed, true
}
