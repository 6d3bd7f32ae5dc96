package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-level metrics shared by every route.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Credit economy metrics. Grants and deductions are counted in credits, not
// in calls, so the two counters can be compared directly.
var (
	creditsDeducted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "credits_deducted_total",
		Help: "Credits consumed by generation requests.",
	})

	creditsGranted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "credits_granted_total",
		Help: "Credits granted by processed payment events.",
	})

	webhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Payment provider webhook events by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	generations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generations_total",
			Help: "Text generation attempts by model and outcome.",
		},
		[]string{"model", "outcome"},
	)
)

// Init registers all metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		creditsDeducted, creditsGranted, webhookEvents, generations,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CountDeduction records credits consumed by a successful deduction.
func CountDeduction(amount int64) {
	if amount > 0 {
		creditsDeducted.Add(float64(amount))
	}
}

// CountGrant records credits granted by a webhook event.
func CountGrant(amount int64) {
	if amount > 0 {
		creditsGranted.Add(float64(amount))
	}
}

// CountWebhookEvent records the outcome of one webhook delivery.
func CountWebhookEvent(eventType, outcome string) {
	webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// CountGeneration records the outcome of one generation attempt.
func CountGeneration(model, outcome string) {
	generations.WithLabelValues(model, outcome).Inc()
}

// Instrument wraps a handler with RPS, latency and in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for instrumentation.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
