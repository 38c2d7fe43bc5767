// Package metrics records duration and outcome metrics for chaos
// experiment runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Manager owns the Prometheus metric families for experiment runs.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	experimentDuration *prometheus.HistogramVec
	experimentsTotal   *prometheus.CounterVec
	interruptionsTotal prometheus.Counter

	activityDuration *prometheus.HistogramVec
	activitiesTotal  *prometheus.CounterVec

	hypothesisEvaluations *prometheus.CounterVec
	phaseDuration         *prometheus.HistogramVec
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool

	ExperimentDurationBuckets []float64
	ActivityDurationBuckets   []float64
	PhaseDurationBuckets      []float64
}

// DefaultConfig returns default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:                   true,
		ExperimentDurationBuckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		ActivityDurationBuckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		PhaseDurationBuckets:      []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	}
}

// NewManager creates a metrics manager. A disabled manager records
// nothing and registers nothing.
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return &Manager{enabled: false}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Manager{
		registry: registry,
		enabled:  true,

		experimentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chaoscope_experiment_duration_seconds",
				Help:    "Wall-clock duration of experiment executions",
				Buckets: cfg.ExperimentDurationBuckets,
			},
			[]string{"status"},
		),
		experimentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chaoscope_experiments_total",
				Help: "Total number of experiment executions",
			},
			[]string{"status", "deviated"},
		),
		interruptionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chaoscope_experiment_interruptions_total",
				Help: "Total number of interrupted experiment executions",
			},
		),
		activityDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chaoscope_activity_duration_seconds",
				Help:    "Duration of probe and action executions",
				Buckets: cfg.ActivityDurationBuckets,
			},
			[]string{"kind", "status"},
		),
		activitiesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chaoscope_activities_total",
				Help: "Total number of probe and action executions",
			},
			[]string{"kind", "status"},
		),
		hypothesisEvaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chaoscope_hypothesis_evaluations_total",
				Help: "Total number of steady-state hypothesis evaluations",
			},
			[]string{"phase", "deviated"},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chaoscope_phase_duration_seconds",
				Help:    "Duration of method and rollback phases",
				Buckets: cfg.PhaseDurationBuckets,
			},
			[]string{"phase"},
		),
	}

	registry.MustRegister(
		m.experimentDuration,
		m.experimentsTotal,
		m.interruptionsTotal,
		m.activityDuration,
		m.activitiesTotal,
		m.hypothesisEvaluations,
		m.phaseDuration,
	)
	return m
}

// Registry returns the prometheus registry, or nil when disabled.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Enabled reports whether metrics are being collected.
func (m *Manager) Enabled() bool {
	return m.enabled
}
