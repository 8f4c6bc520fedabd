// Package metrics exposes the Prometheus collectors that report cqbridge
// activity. All recording methods are safe on a nil *Metrics so components
// can run without metrics wired in.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cqbridge"

// Metrics groups the collectors registered for one process.
type Metrics struct {
	events           *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	deliveryAttempts prometheus.Counter
	modelLatency     *prometheus.HistogramVec
	directives       *prometheus.CounterVec
	inflight         prometheus.Gauge

	gatherer  prometheus.Gatherer
	startTime time.Time
}

// MustNewMetrics constructs and registers the collectors on reg. Passing a
// *prometheus.Registry also lets Handler serve exactly those collectors.
// A collector that is already registered with the same shape is reused.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound message events by kind and outcome.",
		}, []string{"kind", "outcome"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Outbound deliveries by target type and outcome.",
		}, []string{"target", "outcome"}),
		deliveryAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_attempts_total",
			Help:      "HTTP attempts made against the gateway API.",
		}),
		modelLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_request_seconds",
			Help:      "Latency of chat model requests.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"model", "status"}),
		directives: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directives_total",
			Help:      "Directives found in model responses.",
		}, []string{"directive"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "events_inflight",
			Help:      "Events currently being processed.",
		}),
		startTime: time.Now(),
	}

	m.events = register(reg, m.events)
	m.deliveries = register(reg, m.deliveries)
	m.deliveryAttempts = register(reg, m.deliveryAttempts)
	m.modelLatency = register(reg, m.modelLatency)
	m.directives = register(reg, m.directives)
	m.inflight = register(reg, m.inflight)

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// Handler serves the registered collectors in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Uptime returns how long ago the collectors were created.
func (m *Metrics) Uptime() time.Duration {
	if m == nil {
		return 0
	}
	return time.Since(m.startTime)
}

func (m *Metrics) Event(kind, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) Delivery(target, outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(target, outcome).Inc()
}

func (m *Metrics) DeliveryAttempt() {
	if m == nil {
		return
	}
	m.deliveryAttempts.Inc()
}

// ObserveModel records one chat model call.
func (m *Metrics) ObserveModel(model string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.modelLatency.WithLabelValues(model, status).Observe(d.Seconds())
}

func (m *Metrics) Directive(kind string) {
	if m == nil {
		return
	}
	m.directives.WithLabelValues(kind).Inc()
}

// TrackInflight increments the in-flight gauge and returns the matching decrement.
func (m *Metrics) TrackInflight() func() {
	if m == nil {
		return func() {}
	}
	m.inflight.Inc()
	return m.inflight.Dec
}
