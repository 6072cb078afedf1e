package providers

import (
	"consentsync/internal/structures"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type MetricsProviderInterface interface {
	IncRequestsTotal(endpoint string, status int)
	ObserveRequestDuration(endpoint string, duration time.Duration)
	IncCacheHits()
	IncCacheMisses()
	ObservePersistenceDuration(duration time.Duration)
	IncProbeResult(outcome string)
	IncRetryAttempts(op string)
	IncStoreRefresh(store, outcome string)
	SetUnconfirmed(store string, count int)
}

type MetricsProvider struct {
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	cacheHits           prometheus.Counter
	cacheMisses         prometheus.Counter
	persistenceDuration prometheus.Histogram
	probeResults        *prometheus.CounterVec
	retryAttempts       *prometheus.CounterVec
	storeRefreshes      *prometheus.CounterVec
	unconfirmed         *prometheus.GaugeVec
}

func (m *MetricsProvider) IncRequestsTotal(endpoint string, status int) {
	m.requestsTotal.WithLabelValues(endpoint, httpStatusBucket(status)).Inc()
}

func (m *MetricsProvider) ObserveRequestDuration(endpoint string, duration time.Duration) {
	m.requestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (m *MetricsProvider) IncCacheHits() {
	m.cacheHits.Inc()
}

func (m *MetricsProvider) IncCacheMisses() {
	m.cacheMisses.Inc()
}

func (m *MetricsProvider) ObservePersistenceDuration(duration time.Duration) {
	m.persistenceDuration.Observe(duration.Seconds())
}

func (m *MetricsProvider) IncProbeResult(outcome string) {
	m.probeResults.WithLabelValues(outcome).Inc()
}

func (m *MetricsProvider) IncRetryAttempts(op string) {
	m.retryAttempts.WithLabelValues(op).Inc()
}

func (m *MetricsProvider) IncStoreRefresh(store, outcome string) {
	m.storeRefreshes.WithLabelValues(store, outcome).Inc()
}

func (m *MetricsProvider) SetUnconfirmed(store string, count int) {
	m.unconfirmed.WithLabelValues(store).Set(float64(count))
}

func httpStatusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

func NewMetricsProvider(conf *structures.Config) MetricsProviderInterface {
	if !conf.Metrics.Enabled {
		return &noopMetrics{}
	}

	return &MetricsProvider{
		requestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consentsync_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"endpoint", "status"}),

		requestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "consentsync_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),

		cacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consentsync_cache_hits_total",
			Help: "Total number of local cache hits",
		}),

		cacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consentsync_cache_misses_total",
			Help: "Total number of local cache misses",
		}),

		persistenceDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "consentsync_persistence_duration_seconds",
			Help:    "Duration of durable snapshot writes in seconds",
			Buckets: prometheus.DefBuckets,
		}),

		probeResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consentsync_probe_results_total",
			Help: "Connectivity probe outcomes",
		}, []string{"outcome"}),

		retryAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consentsync_retry_attempts_total",
			Help: "Retries scheduled after a failed attempt",
		}, []string{"op"}),

		storeRefreshes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consentsync_store_refreshes_total",
			Help: "Domain store refreshes by outcome",
		}, []string{"store", "outcome"}),

		unconfirmed: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "consentsync_unconfirmed_mutations",
			Help: "Optimistic mutations whose remote write failed",
		}, []string{"store"}),
	}
}

// noopMetrics is a no-op implementation for when metrics are disabled.
type noopMetrics struct{}

func (n *noopMetrics) IncRequestsTotal(_ string, _ int)                 {}
func (n *noopMetrics) ObserveRequestDuration(_ string, _ time.Duration) {}
func (n *noopMetrics) IncCacheHits()                                    {}
func (n *noopMetrics) IncCacheMisses()                                  {}
func (n *noopMetrics) ObservePersistenceDuration(_ time.Duration)       {}
func (n *noopMetrics) IncProbeResult(_ string)                          {}
func (n *noopMetrics) IncRetryAttempts(_ string)                        {}
func (n *noopMetrics) IncStoreRefresh(_, _ string)                      {}
func (n *noopMetrics) SetUnconfirmed(_ string, _ int)                   {}
