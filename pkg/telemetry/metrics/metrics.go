package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config contains metrics configuration.
type Config struct {
	// Namespace is the metric name prefix.
	// Default: "atlas"
	Namespace string

	// RequestDurationBuckets are the histogram buckets for request latency.
	// Defaults cover typical model latencies (100ms - 120s).
	RequestDurationBuckets []float64
}

// Metrics holds the gateway's Prometheus collectors, registered on a
// private registry served by Handler.
type Metrics struct {
	registry *prometheus.Registry

	// RequestsTotal counts finished requests by provider, model, operation
	// and outcome.
	RequestsTotal *prometheus.CounterVec

	// RequestDuration observes end-to-end request latency.
	RequestDuration *prometheus.HistogramVec

	// TokensTotal counts processed tokens by provider, model and kind
	// (prompt or completion).
	TokensTotal *prometheus.CounterVec

	// CacheHits and CacheMisses count response cache lookups.
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// ReservationsTotal counts credit reservations by result
	// (granted, insufficient, error).
	ReservationsTotal *prometheus.CounterVec

	// SettledCostDollars accumulates charged cost in dollars by provider
	// and model.
	SettledCostDollars *prometheus.CounterVec

	// OverrunsUnbilled counts settlements whose overrun could not be
	// charged.
	OverrunsUnbilled prometheus.Counter

	// RetriesTotal counts backend retry attempts by provider.
	RetriesTotal *prometheus.CounterVec

	// UsageQueueDepth is the current usage recorder buffer depth.
	UsageQueueDepth prometheus.Gauge

	// UsageRecordsDropped counts usage records lost to a full queue or
	// exhausted write retries.
	UsageRecordsDropped prometheus.Counter
}

// New creates and registers the gateway metrics.
func New(cfg Config) *Metrics {
	if cfg.Namespace == "" {
		cfg.Namespace = "atlas"
	}
	if len(cfg.RequestDurationBuckets) == 0 {
		cfg.RequestDurationBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120}
	}

	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "requests_total",
				Help:      "Total requests processed, by provider, model, operation and outcome",
			},
			[]string{"provider", "model", "operation", "outcome"},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "request_duration_seconds",
				Help:      "End-to-end request latency in seconds",
				Buckets:   cfg.RequestDurationBuckets,
			},
			[]string{"provider", "model", "operation"},
		),

		TokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "tokens_total",
				Help:      "Tokens processed, by provider, model and kind",
			},
			[]string{"provider", "model", "kind"},
		),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "cache_hits_total",
			Help:      "Response cache hits",
		}),

		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "cache_misses_total",
			Help:      "Response cache misses",
		}),

		ReservationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "credit_reservations_total",
				Help:      "Credit reservations, by result",
			},
			[]string{"result"},
		),

		SettledCostDollars: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "settled_cost_dollars_total",
				Help:      "Charged cost in dollars, by provider and model",
			},
			[]string{"provider", "model"},
		),

		OverrunsUnbilled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "overruns_unbilled_total",
			Help:      "Settlements whose cost overrun could not be charged",
		}),

		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "backend_retries_total",
				Help:      "Backend retry attempts, by provider",
			},
			[]string{"provider"},
		),

		UsageQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "usage_queue_depth",
			Help:      "Usage records buffered for async writing",
		}),

		UsageRecordsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "usage_records_dropped_total",
			Help:      "Usage records dropped after queue overflow or write failure",
		}),
	}

	registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.TokensTotal,
		m.CacheHits,
		m.CacheMisses,
		m.ReservationsTotal,
		m.SettledCostDollars,
		m.OverrunsUnbilled,
		m.RetriesTotal,
		m.UsageQueueDepth,
		m.UsageRecordsDropped,
	)
	return m
}

// ObserveRequest records a finished request.
func (m *Metrics) ObserveRequest(provider, model, operation, outcome string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(provider, model, operation, outcome).Inc()
	m.RequestDuration.WithLabelValues(provider, model, operation).Observe(duration.Seconds())
}

// Handler returns the Prometheus scrape handler for the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
