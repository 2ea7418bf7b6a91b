// Package observability exposes the hub's Prometheus collectors.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HubMetrics counts ingestion and fanout activity. A nil *HubMetrics is
// valid and records nothing, so tests can skip wiring it.
type HubMetrics struct {
	registry *prometheus.Registry

	EventsAccepted prometheus.Counter
	EventsRejected prometheus.Counter
	EventsDropped  prometheus.Counter
	Broadcasts     prometheus.Counter
	Evictions      prometheus.Counter

	Subscribers prometheus.Gauge
	Eyes        prometheus.Gauge
	Boxes       prometheus.Gauge
}

func NewHubMetrics() *HubMetrics {
	registry := prometheus.NewRegistry()
	m := &HubMetrics{
		registry: registry,
		EventsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eyefield", Name: "events_accepted_total",
			Help: "Events that passed validation and were committed to the registry or relayed.",
		}),
		EventsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eyefield", Name: "events_rejected_total",
			Help: "Events rejected at the validation boundary.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eyefield", Name: "events_dropped_total",
			Help: "Schema-valid events discarded before registry mutation.",
		}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eyefield", Name: "broadcasts_total",
			Help: "Events fanned out to subscribers.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eyefield", Name: "evictions_total",
			Help: "Eyes evicted by the staleness reaper.",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "eyefield", Name: "subscribers",
			Help: "Currently connected stream subscribers.",
		}),
		Eyes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "eyefield", Name: "eyes",
			Help: "Eyes currently in the registry.",
		}),
		Boxes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "eyefield", Name: "boxes",
			Help: "Boxes currently in the registry.",
		}),
	}
	registry.MustRegister(
		m.EventsAccepted, m.EventsRejected, m.EventsDropped,
		m.Broadcasts, m.Evictions,
		m.Subscribers, m.Eyes, m.Boxes,
	)
	return m
}

// Handler serves the text exposition format for this hub's collectors only.
func (m *HubMetrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HubMetrics) IncAccepted() {
	if m != nil {
		m.EventsAccepted.Inc()
	}
}

func (m *HubMetrics) IncRejected() {
	if m != nil {
		m.EventsRejected.Inc()
	}
}

func (m *HubMetrics) IncDropped() {
	if m != nil {
		m.EventsDropped.Inc()
	}
}

func (m *HubMetrics) IncBroadcasts() {
	if m != nil {
		m.Broadcasts.Inc()
	}
}

func (m *HubMetrics) IncEvictions(n int) {
	if m != nil {
		m.Evictions.Add(float64(n))
	}
}

func (m *HubMetrics) SetSubscribers(n int) {
	if m != nil {
		m.Subscribers.Set(float64(n))
	}
}

func (m *HubMetrics) SetEntities(eyes, boxes int) {
	if m != nil {
		m.Eyes.Set(float64(eyes))
		m.Boxes.Set(float64(boxes))
	}
}
