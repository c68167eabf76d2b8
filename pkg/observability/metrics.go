package observability

import (
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourmate_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tourmate_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Turn metrics
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourmate_turns_total",
			Help: "Total number of submitted turns by outcome",
		},
		[]string{"outcome"},
	)

	turnsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tourmate_turns_in_flight",
			Help: "Number of generation calls currently outstanding",
		},
	)

	// Generation metrics
	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourmate_generations_total",
			Help: "Total number of generation service calls",
		},
		[]string{"provider", "status"},
	)

	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tourmate_generation_duration_seconds",
			Help:    "Generation service call duration in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		},
		[]string{"provider"},
	)

	generationTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourmate_generation_tokens_total",
			Help: "Tokens reported by the generation service",
		},
		[]string{"provider", "kind"},
	)

	generationCost = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourmate_generation_cost_usd_total",
			Help: "Estimated generation spend in USD",
		},
		[]string{"provider", "model"},
	)

	// Attachment metrics
	attachmentsStaged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourmate_attachments_staged_total",
			Help: "Total number of staged image attachments",
		},
		[]string{"mime_type"},
	)

	attachmentsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourmate_attachments_rejected_total",
			Help: "Total number of rejected image uploads",
		},
		[]string{"reason"},
	)

	attachmentBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tourmate_attachment_bytes",
			Help:    "Size of staged attachments after compression",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 9),
		},
	)

	// System metrics
	memoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tourmate_memory_usage_bytes",
			Help: "Memory usage in bytes",
		},
	)

	goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tourmate_goroutines",
			Help: "Number of goroutines",
		},
	)

	initOnce sync.Once

	// generationFailures counts failed calls since the last success.
	generationFailures atomic.Int64
)

// Generation statuses that do not count toward the failure streak.
const (
	GenerationOK       = "ok"
	GenerationCanceled = "canceled"
)

// InitMetrics initializes Prometheus metrics
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			turnsTotal,
			turnsInFlight,
			generationsTotal,
			generationDuration,
			generationTokens,
			generationCost,
			attachmentsStaged,
			attachmentsRejected,
			attachmentBytes,
			memoryUsage,
			goroutines,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordTurn counts a finished submission by outcome
// ("committed", "rejected", "failed", "stale", "busy").
func RecordTurn(outcome string) {
	turnsTotal.WithLabelValues(outcome).Inc()
}

// TurnStarted marks a generation call as outstanding.
func TurnStarted() {
	turnsInFlight.Inc()
}

// TurnFinished clears an outstanding generation call.
func TurnFinished() {
	turnsInFlight.Dec()
}

// RecordGeneration records generation service call metrics and tracks
// the run of consecutive failures used by GenerationCheck. Calls the
// caller abandoned are neither successes nor failures.
func RecordGeneration(provider, status string, duration time.Duration) {
	switch status {
	case GenerationOK:
		generationFailures.Store(0)
	case GenerationCanceled:
	default:
		generationFailures.Add(1)
	}
	generationsTotal.WithLabelValues(provider, status).Inc()
	generationDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordTokens records token usage reported by a provider
func RecordTokens(provider string, prompt, completion int) {
	if prompt > 0 {
		generationTokens.WithLabelValues(provider, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		generationTokens.WithLabelValues(provider, "completion").Add(float64(completion))
	}
}

// RecordCost adds the estimated cost of one call
func RecordCost(provider, model string, usd float64) {
	if usd > 0 {
		generationCost.WithLabelValues(provider, model).Add(usd)
	}
}

// RecordAttachmentStaged records a staged attachment
func RecordAttachmentStaged(mimeType string, size int) {
	attachmentsStaged.WithLabelValues(mimeType).Inc()
	attachmentBytes.Observe(float64(size))
}

// RecordAttachmentRejected records a refused upload
func RecordAttachmentRejected(reason string) {
	attachmentsRejected.WithLabelValues(reason).Inc()
}

// SetMemoryUsage sets the memory usage gauge
func SetMemoryUsage(bytes uint64) {
	memoryUsage.Set(float64(bytes))
}

// SetGoroutines sets the goroutines gauge
func SetGoroutines(count int) {
	goroutines.Set(float64(count))
}

// CollectRuntime samples runtime gauges once.
func CollectRuntime() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	SetMemoryUsage(m.Alloc)
	SetGoroutines(runtime.NumGoroutine())
}
