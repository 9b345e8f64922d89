package streamhub

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/firestige/Otus/metric"
)

// Option configures hub behavior using the functional options pattern.
type Option[T any] func(*Hub[T])

// WithMetrics enables Prometheus metrics for hub activity. If registry is
// nil the option is ignored. Metrics registration failures here are
// programming errors (duplicate hub names), so they panic via MustRegister
// at construction rather than surfacing at publish time.
func WithMetrics[T any](registry *metric.Registry, name string) Option[T] {
	return func(h *Hub[T]) {
		if registry == nil || name == "" {
			return
		}
		h.metrics = newHubMetrics(registry, name)
	}
}

// hubMetrics holds Prometheus metrics for one hub instance.
type hubMetrics struct {
	published   *prometheus.CounterVec
	evictions   *prometheus.CounterVec
	subscribers *prometheus.GaugeVec
}

func newHubMetrics(registry *metric.Registry, name string) *hubMetrics {
	m := &hubMetrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "otus_console",
			Subsystem:   "streamhub",
			Name:        "published_total",
			ConstLabels: prometheus.Labels{"hub": name},
			Help:        "Items published per key",
		}, []string{"key"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "otus_console",
			Subsystem:   "streamhub",
			Name:        "evictions_total",
			ConstLabels: prometheus.Labels{"hub": name},
			Help:        "Subscribers evicted with a full queue",
		}, []string{"key"}),
		subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "otus_console",
			Subsystem:   "streamhub",
			Name:        "subscribers",
			ConstLabels: prometheus.Labels{"hub": name},
			Help:        "Active subscriptions per key",
		}, []string{"key"}),
	}

	registry.PrometheusRegistry().MustRegister(m.published, m.evictions, m.subscribers)
	return m
}

func (m *hubMetrics) recordSubscribe(key string) {
	m.subscribers.WithLabelValues(key).Inc()
}

func (m *hubMetrics) recordUnsubscribe(key string) {
	m.subscribers.WithLabelValues(key).Dec()
}

func (m *hubMetrics) recordPublish(key string) {
	m.published.WithLabelValues(key).Inc()
}

func (m *hubMetrics) recordEviction(key string) {
	m.evictions.WithLabelValues(key).Inc()
	m.subscribers.WithLabelValues(key).Dec()
}
