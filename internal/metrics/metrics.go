// Package metrics exposes saga observability counters behind an
// injectable recorder so orchestration code never touches the Prometheus
// client directly.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/saga-orchestrator/internal/domain"
)

// Saga outcome labels reported to SagaFinished.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeError     = "error"
)

// Recorder receives saga lifecycle observations.
type Recorder interface {
	// SagaStarted bumps the active saga gauge.
	SagaStarted()
	// SagaFinished counts a terminal outcome, observes total duration and
	// decrements the active gauge.
	SagaFinished(outcome string, durationSeconds float64)
	// StepObserved records one step execution duration.
	StepObserved(step string, durationSeconds float64)
	// StateEntered counts a transition into the given state.
	StateEntered(state domain.OrderState)
	// SetStatePopulation replaces the per-state gauge of in-flight sagas.
	SetStatePopulation(counts map[domain.OrderState]int)
}

// PrometheusRecorder implements Recorder on a private registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	sagaTotal     *prometheus.CounterVec
	sagaDuration  prometheus.Histogram
	stepDuration  *prometheus.HistogramVec
	activeSagas   prometheus.Gauge
	statesTotal   *prometheus.CounterVec
	currentStates *prometheus.GaugeVec
}

// NewPrometheusRecorder creates a recorder with its own registry. The
// runtime and process collectors stay on the default registry, which the
// handler also serves.
func NewPrometheusRecorder() *PrometheusRecorder {
	reg := prometheus.NewRegistry()

	r := &PrometheusRecorder{
		registry: reg,
		sagaTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "saga_total",
			Help: "Total sagas by terminal status.",
		}, []string{"status"}),
		sagaDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "saga_duration_seconds",
			Help:    "End to end saga duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "saga_step_duration_seconds",
			Help:    "Saga step duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"step"}),
		activeSagas: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "active_sagas_total",
			Help: "Number of sagas currently in flight.",
		}),
		statesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "saga_states_total",
			Help: "Total transitions into each saga state.",
		}, []string{"state"}),
		currentStates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "saga_current_states",
			Help: "In-flight sagas by current state.",
		}, []string{"state"}),
	}

	reg.MustRegister(r.sagaTotal, r.sagaDuration, r.stepDuration,
		r.activeSagas, r.statesTotal, r.currentStates)

	return r
}

func (r *PrometheusRecorder) SagaStarted() {
	r.activeSagas.Inc()
}

func (r *PrometheusRecorder) SagaFinished(outcome string, durationSeconds float64) {
	r.sagaTotal.WithLabelValues(outcome).Inc()
	r.sagaDuration.Observe(durationSeconds)
	r.activeSagas.Dec()
}

func (r *PrometheusRecorder) StepObserved(step string, durationSeconds float64) {
	r.stepDuration.WithLabelValues(step).Observe(durationSeconds)
}

func (r *PrometheusRecorder) StateEntered(state domain.OrderState) {
	r.statesTotal.WithLabelValues(string(state)).Inc()
}

func (r *PrometheusRecorder) SetStatePopulation(counts map[domain.OrderState]int) {
	for _, state := range domain.AllStates() {
		r.currentStates.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}

// Registry exposes the private registry for gathering in tests.
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the saga metrics together with the default registry,
// which carries the HTTP middleware, pool, and circuit breaker metrics.
func (r *PrometheusRecorder) Handler() http.Handler {
	gatherers := prometheus.Gatherers{prometheus.DefaultGatherer, r.registry}
	return promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})
}

// Noop discards all observations. Used when metrics are disabled and in
// tests that do not assert on them.
type Noop struct{}

func (Noop) SagaStarted()                                 {}
func (Noop) SagaFinished(string, float64)                 {}
func (Noop) StepObserved(string, float64)                 {}
func (Noop) StateEntered(domain.OrderState)               {}
func (Noop) SetStatePopulation(map[domain.OrderState]int) {}

var (
	_ Recorder = (*PrometheusRecorder)(nil)
	_ Recorder = Noop{}
)
