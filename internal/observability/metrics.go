package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metric collectors for the ingestion and
// fan-out pipeline.
type Metrics struct {
	// HTTP
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Ingestion
	IngestAcceptedTotal   *prometheus.CounterVec // outcome: new, duplicate, malformed
	ParseFailuresTotal    *prometheus.CounterVec // source: ingest
	ParseDuration         prometheus.Histogram

	// Fan-out
	DeliveryAttemptsTotal  *prometheus.CounterVec // outcome: success, timeout, failure
	DeliveryDuration       *prometheus.HistogramVec
	DeliveriesInFlight     prometheus.Gauge

	// Catch-up
	CatchupRunsTotal     *prometheus.CounterVec // outcome: ok, error
	CatchupReplayedTotal prometheus.Counter
	CatchupScanned       prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayhook",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relayhook",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		HTTPRequestsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "relayhook",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being processed.",
		}),

		IngestAcceptedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayhook",
			Subsystem: "ingest",
			Name:      "accepted_total",
			Help:      "Total inbound notifications processed by outcome.",
		}, []string{"outcome"}),
		ParseFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayhook",
			Subsystem: "ingest",
			Name:      "parse_failures_total",
			Help:      "Total MIME parse failures by ingestion source.",
		}, []string{"source"}),
		ParseDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "relayhook",
			Subsystem: "ingest",
			Name:      "parse_duration_seconds",
			Help:      "Time to parse one raw MIME message.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		DeliveryAttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayhook",
			Subsystem: "fanout",
			Name:      "delivery_attempts_total",
			Help:      "Total webhook delivery attempts by outcome.",
		}, []string{"outcome"}),
		DeliveryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relayhook",
			Subsystem: "fanout",
			Name:      "delivery_duration_seconds",
			Help:      "Webhook delivery POST latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),
		DeliveriesInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "relayhook",
			Subsystem: "fanout",
			Name:      "deliveries_in_flight",
			Help:      "Number of webhook deliveries currently in flight.",
		}),

		CatchupRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayhook",
			Subsystem: "catchup",
			Name:      "runs_total",
			Help:      "Total catch-up scheduler runs by outcome.",
		}, []string{"outcome"}),
		CatchupReplayedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "relayhook",
			Subsystem: "catchup",
			Name:      "replayed_total",
			Help:      "Total object keys replayed by the catch-up scheduler.",
		}),
		CatchupScanned: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "relayhook",
			Subsystem: "catchup",
			Name:      "scanned_keys",
			Help:      "Number of object keys scanned per catch-up run.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
		}),
	}
}
