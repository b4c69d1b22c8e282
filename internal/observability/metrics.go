package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service. Each instance owns a
// private registry.
type Metrics struct {
	registry *prometheus.Registry

	ItemsTotal        *prometheus.CounterVec
	BatchesTotal      prometheus.Counter
	BatchDuration     prometheus.Histogram
	SlicesTotal       prometheus.Counter
	HTTPRequestsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ItemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dicomfix_items_total",
				Help: "Items processed, by item kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		BatchesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dicomfix_batches_total",
				Help: "Batches completed",
			},
		),

		BatchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dicomfix_batch_duration_seconds",
				Help:    "Batch processing time distribution",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
		),

		SlicesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dicomfix_slices_total",
				Help: "Volume slices emitted",
			},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dicomfix_http_requests_total",
				Help: "HTTP requests, by route and status code",
			},
			[]string{"route", "code"},
		),
	}
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest counts one answered request.
func (m *Metrics) RecordRequest(route string, status int) {
	m.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
}
