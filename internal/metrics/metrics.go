package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "qosd"

// Metrics owns a private registry so tests can create as many instances as
// they like. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	classifications *prometheus.CounterVec
	overridden      prometheus.Counter
	overrideUpdates *prometheus.CounterVec
	overrideEntries prometheus.Gauge
	liveTicks       prometheus.Counter
	liveHosts       prometheus.Gauge
	tickDuration    prometheus.Histogram
	policies        prometheus.Gauge
}

// New creates and registers all daemon metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Flows classified, by resulting persona and deciding stage.",
		}, []string{"persona", "stage"}),
		overridden: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_overridden_total",
			Help:      "Classifications replaced by an address override.",
		}),
		overrideUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "override_updates_total",
			Help:      "Override apply calls, by outcome.",
		}, []string{"outcome"}),
		overrideEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "override_entries",
			Help:      "Addresses currently holding an override.",
		}),
		liveTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_ticks_total",
			Help:      "Live snapshot ticks executed.",
		}),
		liveHosts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_hosts",
			Help:      "Hosts held in the live table.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "live_tick_duration_seconds",
			Help:      "Time spent reading sources and recomputing host state.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		policies: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "persona_policies",
			Help:      "Persona policies in the active overlay.",
		}),
	}

	m.registry.MustRegister(
		m.classifications,
		m.overridden,
		m.overrideUpdates,
		m.overrideEntries,
		m.liveTicks,
		m.liveHosts,
		m.tickDuration,
		m.policies,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveClassification(persona, stage string, overridden bool) {
	if m == nil {
		return
	}
	m.classifications.WithLabelValues(persona, stage).Inc()
	if overridden {
		m.overridden.Inc()
	}
}

func (m *Metrics) ObserveOverrideUpdate(outcome string, entries int) {
	if m == nil {
		return
	}
	m.overrideUpdates.WithLabelValues(outcome).Inc()
	m.overrideEntries.Set(float64(entries))
}

func (m *Metrics) SetOverrideEntries(entries int) {
	if m == nil {
		return
	}
	m.overrideEntries.Set(float64(entries))
}

func (m *Metrics) ObserveTick(hosts int, took time.Duration) {
	if m == nil {
		return
	}
	m.liveTicks.Inc()
	m.liveHosts.Set(float64(hosts))
	m.tickDuration.Observe(took.Seconds())
}

func (m *Metrics) SetPolicies(n int) {
	if m == nil {
		return
	}
	m.policies.Set(float64(n))
}
