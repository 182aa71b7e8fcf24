package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheLookupOutcome captures the result of a cache lookup.
type CacheLookupOutcome string

const (
	// CacheLookupHit indicates the lookup served a fresh cached payload.
	CacheLookupHit CacheLookupOutcome = "hit"
	// CacheLookupMiss indicates no valid cached payload was present.
	CacheLookupMiss CacheLookupOutcome = "miss"
	// CacheLookupError indicates the lookup failed due to a tier error.
	CacheLookupError CacheLookupOutcome = "error"
)

// Recorder publishes Prometheus metrics for mediation activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	upstreamRequests *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
	upstreamRetries  *prometheus.CounterVec

	cacheOperations *prometheus.CounterVec

	queueDepth *prometheus.GaugeVec
	queueWait  *prometheus.HistogramVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	upstreamRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "evo2",
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Terminal outcomes of mediated upstream operations.",
	}, []string{"service", "category", "outcome"})

	upstreamLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "evo2",
		Subsystem: "upstream",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for completed upstream operations, retries included.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"service", "category"})

	upstreamRetries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "evo2",
		Subsystem: "upstream",
		Name:      "retries_total",
		Help:      "Retry attempts consumed, split by failure class.",
	}, []string{"service", "class"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "evo2",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Cache tier operations executed by the gateways.",
	}, []string{"tier", "operation", "result"})

	queueDepth := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "evo2",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Pending operations per upstream request queue.",
	}, []string{"service"})

	queueWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "evo2",
		Subsystem: "queue",
		Name:      "wait_duration_seconds",
		Help:      "Time operations spend queued before dispatch.",
		Buckets:   []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"service"})

	reg.MustRegister(upstreamRequests, upstreamLatency, upstreamRetries, cacheOperations, queueDepth, queueWait)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:         reg,
		handler:          handler,
		upstreamRequests: upstreamRequests,
		upstreamLatency:  upstreamLatency,
		upstreamRetries:  upstreamRetries,
		cacheOperations:  cacheOperations,
		queueDepth:       queueDepth,
		queueWait:        queueWait,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveUpstream records the terminal outcome and total latency of one mediated operation.
func (r *Recorder) ObserveUpstream(service, category, outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	r.upstreamRequests.WithLabelValues(normalizeLabel(service), normalizeLabel(category), normalizeLabel(outcome)).Inc()
	r.upstreamLatency.WithLabelValues(normalizeLabel(service), normalizeLabel(category)).Observe(duration.Seconds())
}

// ObserveRetry counts one consumed retry attempt.
func (r *Recorder) ObserveRetry(service, class string) {
	if r == nil {
		return
	}
	r.upstreamRetries.WithLabelValues(normalizeLabel(service), normalizeLabel(class)).Inc()
}

// ObserveCacheLookup records the result of a cache lookup against one tier.
func (r *Recorder) ObserveCacheLookup(tier string, result CacheLookupOutcome) {
	if r == nil {
		return
	}
	label := string(result)
	if label == "" {
		label = string(CacheLookupMiss)
	}
	r.cacheOperations.WithLabelValues(normalizeLabel(tier), "lookup", label).Inc()
}

// ObserveCacheStore records the result of a cache store attempt against one tier.
func (r *Recorder) ObserveCacheStore(tier string, err error) {
	if r == nil {
		return
	}
	result := "stored"
	if err != nil {
		result = "error"
	}
	r.cacheOperations.WithLabelValues(normalizeLabel(tier), "store", result).Inc()
}

// SetQueueDepth publishes the current pending-operation count for a service queue.
func (r *Recorder) SetQueueDepth(service string, depth int) {
	if r == nil {
		return
	}
	r.queueDepth.WithLabelValues(normalizeLabel(service)).Set(float64(depth))
}

// ObserveQueueWait records how long an operation waited between enqueue and dispatch.
func (r *Recorder) ObserveQueueWait(service string, wait time.Duration) {
	if r == nil {
		return
	}
	r.queueWait.WithLabelValues(normalizeLabel(service)).Observe(wait.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
