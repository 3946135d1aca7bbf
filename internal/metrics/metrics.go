package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus counters on a private registry so
// tests can create instances freely without collector name collisions.
type Metrics struct {
	registry *prometheus.Registry

	Produced    prometheus.Counter
	Failed      prometheus.Counter
	Evicted     prometheus.Counter
	BytesServed prometheus.Counter
	RateLimited prometheus.Counter
}

// New creates and registers all counters.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	factory := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "audiograb",
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(c)
		return c
	}

	return &Metrics{
		registry:    registry,
		Produced:    factory("artifacts_produced_total", "Artifacts successfully produced and published."),
		Failed:      factory("productions_failed_total", "Productions that ended in an error payload."),
		Evicted:     factory("artifacts_evicted_total", "Artifacts deleted by the retention sweeper."),
		BytesServed: factory("audio_bytes_served_total", "Artifact bytes written to clients."),
		RateLimited: factory("requests_rate_limited_total", "Requests rejected by the admission gate."),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
