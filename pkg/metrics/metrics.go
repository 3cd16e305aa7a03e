package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus delivery metrics.
type Metrics struct {
	// Delivery counters
	Enqueued     *prometheus.CounterVec
	Consumed     *prometheus.CounterVec
	Retries      prometheus.Counter
	DeadLettered *prometheus.CounterVec
	Requeued     prometheus.Counter

	// Admission counters
	RateLimitRejections prometheus.Counter
	AuthFailures        prometheus.Counter

	// Latency and size
	HandlerDuration prometheus.Histogram
	PayloadSize     prometheus.Histogram

	// Gauges
	QueueDepth    prometheus.Gauge
	ActiveSenders prometheus.Gauge
	DLQDepth      prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a metrics set registered under the given namespace.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "courier"
	}

	m := &Metrics{registry: prometheus.NewRegistry()}

	m.Enqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "envelopes_enqueued_total",
		Help:      "Envelopes accepted onto the delivery queue",
	}, []string{"priority"})

	m.Consumed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "envelopes_consumed_total",
		Help:      "Envelopes pulled by consumers, by final outcome",
	}, []string{"outcome"})

	m.Retries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "delivery_retries_total",
		Help:      "Handler retry attempts scheduled",
	})

	m.DeadLettered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "envelopes_dead_lettered_total",
		Help:      "Envelopes moved to the dead letter store",
	}, []string{"permanent"})

	m.Requeued = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dlq_requeued_total",
		Help:      "Dead letter entries returned to the delivery queue",
	})

	m.RateLimitRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_rejections_total",
		Help:      "Envelopes rejected by per-sender admission control",
	})

	m.AuthFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_failures_total",
		Help:      "Signature or freshness verification failures",
	})

	m.HandlerDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "handler_duration_seconds",
		Help:      "Consumer handler execution time",
		Buckets:   prometheus.DefBuckets,
	})

	m.PayloadSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "payload_size_bytes",
		Help:      "Envelope payload sizes",
		Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
	})

	m.QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Envelopes waiting across all priority tiers",
	})

	m.ActiveSenders = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rate_limit_active_senders",
		Help:      "Senders with a live rate limit bucket",
	})

	m.DLQDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "dlq_depth",
		Help:      "Entries parked in the dead letter store",
	})

	m.registry.MustRegister(
		m.Enqueued, m.Consumed, m.Retries, m.DeadLettered, m.Requeued,
		m.RateLimitRejections, m.AuthFailures,
		m.HandlerDuration, m.PayloadSize,
		m.QueueDepth, m.ActiveSenders, m.DLQDepth,
		collectors.NewGoCollector(),
	)

	return m
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
