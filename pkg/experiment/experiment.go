// Package experiment defines the domain records a chaos-experiment
// engine hands to Chaoscope's lifecycle callbacks: the experiment
// declaration, its activities, hypothesis evaluation state, and the
// run/journal outcome records.
package experiment

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Experiment is the declaration of one chaos experiment.
type Experiment struct {
	Title         string            `json:"title"`
	Description   string            `json:"description,omitempty"`
	Tags          []string          `json:"tags,omitempty"`
	Contributions map[string]string `json:"contributions,omitempty"`

	SteadyStateHypothesis *Hypothesis `json:"steady-state-hypothesis,omitempty"`
	Method                []*Activity `json:"method,omitempty"`
	Rollbacks             []*Activity `json:"rollbacks,omitempty"`
}

// Hypothesis is a steady-state hypothesis: a set of probes whose
// tolerances decide whether the system is in its expected state.
type Hypothesis struct {
	Title  string      `json:"title"`
	Probes []*Activity `json:"probes,omitempty"`
}

// Activity is a single probe or action. Provider is kept as the raw
// engine-owned mapping since its shape depends entirely on the
// provider kind (http, process, ...).
type Activity struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"` // "probe" or "action"
	Background bool           `json:"background,omitempty"`
	Tolerance  any            `json:"tolerance,omitempty"`
	Provider   map[string]any `json:"provider,omitempty"`

	// InstanceID is assigned by the instrumentation when the activity
	// starts and correlates the completion callback with its start.
	// The engine must hand the same Activity value to both callbacks.
	InstanceID string `json:"-"`
}

// HasTolerance reports whether the activity declares a tolerance,
// which marks it as a steady-state probe rather than a plain action.
func (a *Activity) HasTolerance() bool {
	return a != nil && a.Tolerance != nil
}

// ProviderType returns the activity's provider kind, or "".
func (a *Activity) ProviderType() string {
	if a == nil || a.Provider == nil {
		return ""
	}
	t, _ := a.Provider["type"].(string)
	return t
}

// Run is the outcome record of one activity execution.
type Run struct {
	Activity     *Activity `json:"activity,omitempty"`
	Status       string    `json:"status,omitempty"` // "succeeded", "failed", ...
	Output       any       `json:"output,omitempty"`
	Exception    string    `json:"exception,omitempty"`
	ToleranceMet *bool     `json:"tolerance_met,omitempty"`
	Start        string    `json:"start,omitempty"`
	End          string    `json:"end,omitempty"`
}

// HypothesisState is the result of evaluating a steady-state
// hypothesis: whether it held and the individual probe runs.
type HypothesisState struct {
	SteadyStateMet bool   `json:"steady_state_met"`
	Probes         []*Run `json:"probes,omitempty"`
}

// LastProbe returns the final probe run of the evaluation, which on a
// deviation is the probe that broke the hypothesis.
func (s *HypothesisState) LastProbe() *Run {
	if s == nil || len(s.Probes) == 0 {
		return nil
	}
	return s.Probes[len(s.Probes)-1]
}

// Journal is the final report of one experiment execution.
type Journal struct {
	Status       string         `json:"status,omitempty"`
	Deviated     bool           `json:"deviated"`
	SteadyStates *JournalStates `json:"steady_states,omitempty"`
	Run          []*Run         `json:"run,omitempty"`
	Rollbacks    []*Run         `json:"rollbacks,omitempty"`
	Experiment   *Experiment    `json:"experiment,omitempty"`
	Start        string         `json:"start,omitempty"`
	End          string         `json:"end,omitempty"`
	Duration     float64        `json:"duration,omitempty"`
}

// JournalStates groups the hypothesis evaluations of a run.
type JournalStates struct {
	Before *HypothesisState   `json:"before,omitempty"`
	After  *HypothesisState   `json:"after,omitempty"`
	During []*HypothesisState `json:"during,omitempty"`
}

// LoadJournal decodes a journal file produced by the engine.
func LoadJournal(path string) (*Journal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	var j Journal
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decode journal: %w", err)
	}
	return &j, nil
}

// timestampLayouts are the formats engines emit for run timestamps.
// The first is a microsecond-precision ISO-8601 without zone, written
// as UTC.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.999999",
	time.RFC3339Nano,
	time.RFC3339,
}

// ParseTimestamp parses an engine-recorded timestamp. Zone-less
// values are interpreted as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
