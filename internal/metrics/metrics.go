// Package metrics exposes Prometheus collectors for the relay.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agentrelay"

// Metrics holds the relay's collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	requests    *prometheus.CounterVec
	invocations *prometheus.CounterVec
	duration    prometheus.Histogram
	failures    *prometheus.CounterVec
	events      *prometheus.CounterVec
	relayed     prometheus.Counter
	dropped     prometheus.Counter
	idle        prometheus.Counter
	cost        prometheus.Counter
	queueDepth  prometheus.Gauge
	running     prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	return MustNew(prometheus.NewRegistry())
}

// MustNew registers the collectors on reg and panics if any is already
// registered.
func MustNew(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests dequeued by the scheduler, by source.",
		}, []string{"source"}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "invocations_total",
			Help:      "Agent invocations by terminal status.",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "invocation_duration_seconds",
			Help:      "Wall-clock duration of agent invocations.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Classified failures, by kind.",
		}, []string{"kind"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "events_total",
			Help:      "Decoded stream events, by kind.",
		}, []string{"kind"}),
		relayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "deliveries_total",
			Help:      "Progress events delivered to a transport.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "dropped_total",
			Help:      "Progress events superseded before delivery.",
		}),
		idle: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idle_injections_total",
			Help:      "Synthetic requests created after an idle interval.",
		}),
		cost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "cost_usd_total",
			Help:      "Cost reported by the agent.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Requests waiting in the mailbox.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "running",
			Help:      "1 while an agent invocation is running.",
		}),
	}
	reg.MustRegister(m.requests, m.invocations, m.duration, m.failures, m.events,
		m.relayed, m.dropped, m.idle, m.cost, m.queueDepth, m.running)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) RequestStarted(source string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(source).Inc()
	m.running.Set(1)
}

// InvocationFinished records one agent run.
func (m *Metrics) InvocationFinished(status string, elapsed time.Duration, cost float64) {
	if m == nil {
		return
	}
	m.running.Set(0)
	m.invocations.WithLabelValues(status).Inc()
	m.duration.Observe(elapsed.Seconds())
	if cost > 0 {
		m.cost.Add(cost)
	}
}

func (m *Metrics) Failure(kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(kind).Inc()
}

func (m *Metrics) Event(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

// Relay adds the outcome of one relay: events delivered and dropped.
func (m *Metrics) Relay(delivered, dropped int) {
	if m == nil {
		return
	}
	m.relayed.Add(float64(delivered))
	m.dropped.Add(float64(dropped))
}

func (m *Metrics) IdleInjected() {
	if m == nil {
		return
	}
	m.idle.Inc()
}

func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
