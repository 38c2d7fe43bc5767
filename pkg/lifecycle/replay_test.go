package lifecycle

import (
	"testing"
	"time"

	"github.com/chaoscope/chaoscope/pkg/experiment"
)

func sampleJournal() *experiment.Journal {
	met := true
	return &experiment.Journal{
		Status:   "completed",
		Deviated: false,
		Start:    "2024-03-01T10:00:00.000000",
		End:      "2024-03-01T10:05:00.000000",
		Experiment: &experiment.Experiment{
			Title: "network latency experiment",
			Tags:  []string{"network"},
		},
		SteadyStates: &experiment.JournalStates{
			Before: &experiment.HypothesisState{
				SteadyStateMet: true,
				Probes: []*experiment.Run{
					{
						Activity:     &experiment.Activity{Name: "service-up", Type: "probe", Tolerance: 200},
						Status:       "succeeded",
						Output:       map[string]any{"status": 200.0},
						ToleranceMet: &met,
						Start:        "2024-03-01T10:00:01.000000",
						End:          "2024-03-01T10:00:02.000000",
					},
				},
			},
			After: &experiment.HypothesisState{SteadyStateMet: true},
		},
		Run: []*experiment.Run{
			{
				Activity: &experiment.Activity{Name: "kill-pod", Type: "action"},
				Status:   "succeeded",
				Start:    "2024-03-01T10:01:00.000000",
				End:      "2024-03-01T10:01:30.000000",
			},
		},
		Rollbacks: []*experiment.Run{
			{
				Activity: &experiment.Activity{Name: "restore-pod", Type: "action"},
				Status:   "succeeded",
				Start:    "2024-03-01T10:04:00.000000",
				End:      "2024-03-01T10:04:10.000000",
			},
		},
	}
}

func TestReplayProducesFullTrace(t *testing.T) {
	recorder, provider := newRecordingProvider(t)
	handler := NewTraceHandler(provider, nil)
	reg := NewRegistry(nil)
	reg.Register(handler)

	if err := Replay(reg, sampleJournal(), map[string]any{"replayed_from": "j.json"}); err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if got := handler.Tracker().OpenCount(); got != 0 {
		t.Fatalf("OpenCount() = %d after replay", got)
	}

	ended := recorder.Ended()
	root := spanByName(t, ended, "network latency experiment")
	method := spanByName(t, ended, "method")
	killPod := spanByName(t, ended, "kill-pod")
	spanByName(t, ended, "service-up")
	spanByName(t, ended, "restore-pod")
	spanByName(t, ended, "rollbacks")

	// Two hypothesis spans: before and after.
	var hypotheses int
	for _, s := range ended {
		if s.Name() == "steady-state-hypothesis" {
			hypotheses++
		}
	}
	if hypotheses != 2 {
		t.Fatalf("hypothesis spans = %d, want 2", hypotheses)
	}

	// The journal's own timestamps drive the replayed spans.
	wantRootStart := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if !root.StartTime().Equal(wantRootStart) {
		t.Fatalf("root start = %v, want %v", root.StartTime(), wantRootStart)
	}
	wantRootEnd := time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC)
	if !root.EndTime().Equal(wantRootEnd) {
		t.Fatalf("root end = %v, want %v", root.EndTime(), wantRootEnd)
	}
	wantActStart := time.Date(2024, 3, 1, 10, 1, 0, 0, time.UTC)
	if !killPod.StartTime().Equal(wantActStart) {
		t.Fatalf("activity start = %v, want %v", killPod.StartTime(), wantActStart)
	}
	wantActEnd := time.Date(2024, 3, 1, 10, 1, 30, 0, time.UTC)
	if !killPod.EndTime().Equal(wantActEnd) {
		t.Fatalf("activity end = %v, want %v", killPod.EndTime(), wantActEnd)
	}

	if killPod.Parent().SpanID() != method.SpanContext().SpanID() {
		t.Fatalf("method activity not parented under method span")
	}
	if v, _ := attrValue(root, "status"); v != "completed" {
		t.Fatalf("root status tag = %v", v)
	}
}

func TestReplayContinuousHypothesis(t *testing.T) {
	recorder, provider := newRecordingProvider(t)
	handler := NewTraceHandler(provider, nil)
	reg := NewRegistry(nil)
	reg.Register(handler)

	j := sampleJournal()
	j.SteadyStates.During = []*experiment.HypothesisState{
		{
			SteadyStateMet: true,
			Probes: []*experiment.Run{
				{
					Activity: &experiment.Activity{Name: "periodic-probe", Tolerance: 1},
					Status:   "succeeded",
					Start:    "2024-03-01T10:02:00.000000",
					End:      "2024-03-01T10:02:01.000000",
				},
			},
		},
		{
			SteadyStateMet: false,
			Probes: []*experiment.Run{
				{
					Activity: &experiment.Activity{Name: "periodic-probe", Tolerance: 1},
					Status:   "succeeded",
					Output:   3,
					Start:    "2024-03-01T10:03:00.000000",
					End:      "2024-03-01T10:03:01.000000",
				},
			},
		},
	}

	if err := Replay(reg, j, nil); err != nil {
		t.Fatalf("Replay() error = %v", err)
	}

	var probes, iterations int
	for _, s := range recorder.Ended() {
		switch s.Name() {
		case "periodic-probe":
			probes++
		case "steady-state-hypothesis":
			if _, ok := attrValue(s, "iteration"); ok {
				iterations++
			}
		}
	}
	if probes != 2 {
		t.Fatalf("replayed probe spans = %d, want 2", probes)
	}
	if iterations != 2 {
		t.Fatalf("replayed iteration spans = %d, want 2", iterations)
	}
}

func TestReplayInterruptedJournal(t *testing.T) {
	recorder, provider := newRecordingProvider(t)
	handler := NewTraceHandler(provider, nil)
	reg := NewRegistry(nil)
	reg.Register(handler)

	j := sampleJournal()
	j.Status = "interrupted"

	if err := Replay(reg, j, nil); err != nil {
		t.Fatalf("Replay() error = %v", err)
	}

	root := spanByName(t, recorder.Ended(), "network latency experiment")
	if v, _ := attrValue(root, "interrupted"); v != true {
		t.Fatalf("interrupted tag = %v", v)
	}
}

func TestReplayRejectsEmptyJournal(t *testing.T) {
	reg := NewRegistry(nil)

	if err := Replay(reg, nil, nil); err == nil {
		t.Fatalf("Replay(nil) error = nil")
	}
	if err := Replay(reg, &experiment.Journal{}, nil); err == nil {
		t.Fatalf("Replay(no experiment) error = nil")
	}
}
