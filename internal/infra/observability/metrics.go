package observability

import (
	"strconv"
	"time"

	"github.com/boddenberg/recurring-income-bfa/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	externalErrors  *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	detections      *prometheus.CounterVec
	predictions     prometheus.Counter
	rejections      *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "income_operation_duration_seconds",
				Help:    "Duration of service operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "income_http_requests_total",
				Help: "Total HTTP requests by method and status code.",
			},
			[]string{"method", "code"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "income_http_request_duration_seconds",
				Help:    "HTTP request latency by method.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "income_external_errors_total",
				Help: "Total errors from data backends.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "income_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "income_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		detections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "income_detections_total",
				Help: "Recurrence detection runs by outcome.",
			},
			[]string{"outcome"},
		),
		predictions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "income_predictions_total",
				Help: "Recurring sources reported across all detection runs.",
			},
		),
		rejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "income_rejected_sources_total",
				Help: "Source groups left out of the predictions, by reason.",
			},
			[]string{"reason"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveHTTP records one served HTTP request.
func (m *Metrics) ObserveHTTP(method string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// RecordDetection records a successful run with its prediction count and
// rejection reasons.
func (m *Metrics) RecordDetection(predictions int, rejectionReasons []string) {
	m.detections.WithLabelValues("success").Inc()
	m.predictions.Add(float64(predictions))
	for _, reason := range rejectionReasons {
		m.rejections.WithLabelValues(reason).Inc()
	}
}

// IncrDetectionFailure counts a run aborted by invalid input.
func (m *Metrics) IncrDetectionFailure() {
	m.detections.WithLabelValues("error").Inc()
}

// Snapshot returns the detector counters for GET /v1/metrics/detector.
func (m *Metrics) Snapshot() *domain.DetectorMetrics {
	success := getCounterValue(m.detections, "success")
	failures := getCounterValue(m.detections, "error")
	predictions := readCounter(m.predictions)
	hits := getCounterValue(m.cacheHits, "predictions")
	misses := getCounterValue(m.cacheMisses, "predictions")

	snap := &domain.DetectorMetrics{
		Detections:      int64(success),
		Failures:        int64(failures),
		Predictions:     int64(predictions),
		RejectedSamples: int64(getCounterValue(m.rejections, "insufficient_samples")),
		RejectedCadence: int64(getCounterValue(m.rejections, "inconsistent_cadence")),
		ExternalErrors: int64(getCounterValue(m.externalErrors, "transactions") +
			getCounterValue(m.externalErrors, "users")),
	}
	if hits+misses > 0 {
		snap.CacheHitRate = hits / (hits + misses)
	}
	if success > 0 {
		snap.AvgPredictionsPer = predictions / success
	}
	return snap
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	return readCounter(cv.WithLabelValues(label))
}

func readCounter(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
