// Package metrics exposes the service's Prometheus collectors. A Metrics
// value owns its registry so tests and multiple servers in one process do
// not collide.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rzbill/maestro/internal/consumer"
	"github.com/rzbill/maestro/internal/lifecycle"
)

const namespace = "maestro"

var allStates = []lifecycle.State{lifecycle.Initializing, lifecycle.Working, lifecycle.Stopping, lifecycle.Stopped}

// Metrics holds every collector.
type Metrics struct {
	registry *prometheus.Registry

	state       *prometheus.GaugeVec
	transitions *prometheus.CounterVec
	outcomes    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	publishes   *prometheus.CounterVec
	storageOps  *prometheus.HistogramVec
	storageSize *prometheus.CounterVec
}

// New registers all collectors, plus the Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lifecycle_state",
			Help:      "1 for the replica's current lifecycle state, 0 otherwise.",
		}, []string{"state"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_transitions_total",
			Help:      "Lifecycle transitions by target state.",
		}, []string{"to"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "work_items_total",
			Help:      "Consumer loop iterations that touched a message, by outcome.",
		}, []string{"queue", "type", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "work_item_duration_seconds",
			Help:      "Time spent decoding and processing admitted work items.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"queue", "type"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_publish_total",
			Help:      "Replica state publish attempts by result.",
		}, []string{"result"}),
		storageOps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "op_duration_seconds",
			Help:      "Local storage operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"op"}),
		storageSize: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "bytes_total",
			Help:      "Bytes moved by local storage operations.",
		}, []string{"op"}),
	}
	m.registry.MustRegister(
		m.state, m.transitions, m.outcomes, m.duration, m.publishes, m.storageOps, m.storageSize,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// TrackInFlight exports fn as the in-flight gauge.
func (m *Metrics) TrackInFlight(fn func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "in_flight",
		Help:      "Admitted work items that have not been released.",
	}, func() float64 { return float64(fn()) }))
}

// TrackJournalDropped exports fn as the count of lifecycle transitions the
// journal recorder could not buffer.
func (m *Metrics) TrackJournalDropped(fn func() int64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "journal_dropped_total",
		Help:      "Lifecycle transitions dropped because the journal buffer was full.",
	}, func() float64 { return float64(fn()) }))
}

// SetState marks s as current. It is used for the initial state, before
// any transition is observed.
func (m *Metrics) SetState(s lifecycle.State) {
	for _, st := range allStates {
		v := 0.0
		if st == s {
			v = 1
		}
		m.state.WithLabelValues(st.String()).Set(v)
	}
}

// ObserveTransition has the lifecycle.Observer signature.
func (m *Metrics) ObserveTransition(_, to lifecycle.State) {
	m.SetState(to)
	m.transitions.WithLabelValues(to.String()).Inc()
}

// ObserveOutcome implements consumer.Metrics.
func (m *Metrics) ObserveOutcome(queue, itemType string, outcome consumer.Outcome, elapsed time.Duration) {
	m.outcomes.WithLabelValues(queue, itemType, string(outcome)).Inc()
	switch outcome {
	case consumer.OutcomeSuccess, consumer.OutcomeFailure, consumer.OutcomeDecodeError:
		m.duration.WithLabelValues(queue, itemType).Observe(elapsed.Seconds())
	}
}

// ObservePublish implements replicastate.Metrics.
func (m *Metrics) ObservePublish(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.publishes.WithLabelValues(result).Inc()
}

// ObserveWrite, ObserveRead and ObserveBatchCommit implement the pebble
// storage metrics hook.
func (m *Metrics) ObserveWrite(elapsed time.Duration, bytes int) {
	m.storageOps.WithLabelValues("write").Observe(elapsed.Seconds())
	m.storageSize.WithLabelValues("write").Add(float64(bytes))
}

func (m *Metrics) ObserveRead(elapsed time.Duration, bytes int) {
	m.storageOps.WithLabelValues("read").Observe(elapsed.Seconds())
	m.storageSize.WithLabelValues("read").Add(float64(bytes))
}

func (m *Metrics) ObserveBatchCommit(elapsed time.Duration, _ int, bytes int) {
	m.storageOps.WithLabelValues("batch_commit").Observe(elapsed.Seconds())
	m.storageSize.WithLabelValues("batch_commit").Add(float64(bytes))
}
