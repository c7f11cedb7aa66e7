// Package observability exposes Prometheus instrumentation for the probe,
// registry and aggregation loops. A nil *Metrics is valid and records nothing.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pingmon"

// Metrics holds every collector the monitor updates
type Metrics struct {
	probes          *prometheus.CounterVec
	rtt             prometheus.Histogram
	resolveFailures prometheus.Counter
	storeErrors     *prometheus.CounterVec
	targets         prometheus.Gauge
	inFlight        prometheus.Gauge
	aggregation     prometheus.Histogram
	syncFailures    prometheus.Counter
	providerErrors  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Echo probes recorded, by outcome.",
		}, []string{"result"}),
		rtt: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_rtt_seconds",
			Help:      "Round-trip time of successful echo probes.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		resolveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolve_failures_total",
			Help:      "Probe invocations aborted because the address did not resolve.",
		}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Failed store operations, by operation.",
		}, []string{"op"}),
		targets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "targets",
			Help:      "Targets in the current registry snapshot.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "probes_in_flight",
			Help:      "Probe invocations currently running.",
		}),
		aggregation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregation_duration_seconds",
			Help:      "Wall time of one aggregation pass over all targets.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		syncFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_sync_failures_total",
			Help:      "Registry syncs that kept the previous target set.",
		}),
		providerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_provider_failures_total",
			Help:      "Failed target provider fetches, by provider.",
		}, []string{"provider"}),
	}

	reg.MustRegister(
		m.probes, m.rtt, m.resolveFailures, m.storeErrors,
		m.targets, m.inFlight, m.aggregation, m.syncFailures,
		m.providerErrors,
	)
	return m
}

// ProbeRecorded counts one recorded sample
func (m *Metrics) ProbeRecorded(success bool, rtt time.Duration) {
	if m == nil {
		return
	}
	if success {
		m.probes.WithLabelValues("success").Inc()
		m.rtt.Observe(rtt.Seconds())
		return
	}
	m.probes.WithLabelValues("failure").Inc()
}

// ResolveFailed counts an aborted probe
func (m *Metrics) ResolveFailed() {
	if m == nil {
		return
	}
	m.resolveFailures.Inc()
}

// StoreError counts a failed store operation
func (m *Metrics) StoreError(op string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op).Inc()
}

// SetTargets records the size of the target set
func (m *Metrics) SetTargets(n int) {
	if m == nil {
		return
	}
	m.targets.Set(float64(n))
}

// ProbeStarted and ProbeFinished bracket one probe invocation
func (m *Metrics) ProbeStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) ProbeFinished() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}

// AggregationDone records the duration of one pass
func (m *Metrics) AggregationDone(d time.Duration) {
	if m == nil {
		return
	}
	m.aggregation.Observe(d.Seconds())
}

// RegistrySyncFailed counts a failed sync
func (m *Metrics) RegistrySyncFailed() {
	if m == nil {
		return
	}
	m.syncFailures.Inc()
}

// ProviderFailed counts a failed fetch of one target provider
func (m *Metrics) ProviderFailed(provider string) {
	if m == nil {
		return
	}
	m.providerErrors.WithLabelValues(provider).Inc()
}
