// Package lifecycle contains the span-lifecycle state machine driven
// by a chaos-experiment engine's callbacks. The Tracker owns every
// open span, keyed by lifecycle phase or activity instance, and
// guarantees the structural invariants of the resulting trace tree:
// correct parentage, exactly-once finish, and no leaked handles even
// when callbacks arrive out of order or without a matching start.
package lifecycle

import (
	"sync"

	"github.com/chaoscope/chaoscope/pkg/tracer"
	"github.com/google/uuid"
)

// Phase names one sequential slot of the experiment lifecycle. Each
// phase holds at most one open span at a time.
type Phase string

const (
	PhaseExperiment           Phase = "experiment"
	PhaseHypothesisBefore     Phase = "hypothesis-before"
	PhaseHypothesisAfter      Phase = "hypothesis-after"
	PhaseHypothesisContinuous Phase = "hypothesis-continuous"
	PhaseMethod               Phase = "method"
	PhaseRollback             Phase = "rollback"
)

// Tracker maps lifecycle phases and activity instances to their open
// spans. Phase slots are driven by the engine's sequential execution
// path; the activity table may be hit concurrently by background
// activities, so all state is guarded by one mutex.
type Tracker struct {
	provider tracer.Provider

	mu         sync.Mutex
	slots      map[Phase]tracer.Span
	activities map[string]tracer.Span
	root       tracer.Span
	// current is the deepest open phase span. It is overwritten when
	// a phase opens and restored to the experiment root when the
	// phase closes; new activity spans parent under it.
	current tracer.Span
}

// NewTracker creates a tracker producing spans from the provider.
func NewTracker(provider tracer.Provider) *Tracker {
	return &Tracker{
		provider:   provider,
		slots:      make(map[Phase]tracer.Span),
		activities: make(map[string]tracer.Span),
	}
}

// OpenPhase opens the span for a phase. The experiment phase is the
// root and declares no parent; every other phase names the parent
// phase whose open span it nests under.
func (t *Tracker) OpenPhase(phase, parent Phase, name string, opts ...tracer.SpanOption) (tracer.Span, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.slots[phase] != nil {
		return nil, &SlotOccupiedError{Phase: phase}
	}

	if phase != PhaseExperiment {
		parentSpan := t.slots[parent]
		if parentSpan == nil {
			return nil, &InvalidParentError{Phase: phase, Parent: parent}
		}
		opts = append(opts, tracer.WithParent(parentSpan))
	}

	span := t.provider.StartSpan(name, opts...)
	t.slots[phase] = span
	t.current = span
	if phase == PhaseExperiment {
		t.root = span
	}
	return span, nil
}

// ClosePhase finishes a phase's span exactly once. The finish
// callback runs before the span ends so outcome tags still land on an
// open span. A phase with no open span returns SpanNotFoundError.
func (t *Tracker) ClosePhase(phase Phase, finish func(tracer.Span), opts ...tracer.EndOption) error {
	t.mu.Lock()
	span := t.slots[phase]
	if span == nil {
		t.mu.Unlock()
		return &SpanNotFoundError{Key: string(phase)}
	}
	delete(t.slots, phase)
	if phase == PhaseExperiment {
		t.root = nil
		t.current = nil
	} else {
		t.current = t.root
	}
	t.mu.Unlock()

	if finish != nil {
		finish(span)
	}
	span.End(opts...)
	return nil
}

// PhaseSpan returns the open span of a phase, or nil.
func (t *Tracker) PhaseSpan(phase Phase) tracer.Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slots[phase]
}

// Root returns the experiment root span, or nil before the experiment
// started or after it finished.
func (t *Tracker) Root() tracer.Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root
}

// OpenActivity opens a span for one activity invocation, parented
// under the deepest open phase span (the experiment root when no
// inner phase is open). It returns a fresh opaque token identifying
// the invocation; activities may overlap, so a slot is not enough.
func (t *Tracker) OpenActivity(name string, opts ...tracer.SpanOption) (string, tracer.Span) {
	t.mu.Lock()
	if t.current != nil {
		opts = append(opts, tracer.WithParent(t.current))
	}
	span := t.provider.StartSpan(name, opts...)
	token := uuid.NewString()
	t.activities[token] = span
	t.mu.Unlock()
	return token, span
}

// CloseActivity finishes the span registered under token exactly
// once. An unknown token returns SpanNotFoundError.
func (t *Tracker) CloseActivity(token string, finish func(tracer.Span), opts ...tracer.EndOption) error {
	t.mu.Lock()
	span, ok := t.activities[token]
	if !ok {
		t.mu.Unlock()
		return &SpanNotFoundError{Key: token}
	}
	delete(t.activities, token)
	t.mu.Unlock()

	if finish != nil {
		finish(span)
	}
	span.End(opts...)
	return nil
}

// OpenCount returns the number of currently open spans.
func (t *Tracker) OpenCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots) + len(t.activities)
}

// CloseOpen force-finishes every span still open, innermost first.
// It is the leak guard for interrupted runs: whatever the engine
// never completed is closed here rather than dropped.
func (t *Tracker) CloseOpen() {
	t.mu.Lock()
	activities := t.activities
	slots := t.slots
	t.activities = make(map[string]tracer.Span)
	t.slots = make(map[Phase]tracer.Span)
	root := t.root
	t.root = nil
	t.current = nil
	t.mu.Unlock()

	for _, span := range activities {
		span.End()
	}
	for phase, span := range slots {
		if phase == PhaseExperiment {
			continue // root closes last
		}
		span.End()
	}
	if root != nil {
		root.End()
	}
}
