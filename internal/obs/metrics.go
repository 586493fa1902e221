package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-level metrics shared by every handler.
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

// Notification delivery pipeline metrics.
var (
	NotificationsDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wallo_notifications_delivered_total",
		Help: "Platform notifications acknowledged after successful delivery.",
	})

	NotificationsRetried = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wallo_notifications_retried_total",
		Help: "Platform notifications rescheduled after a failed delivery attempt.",
	})

	NotificationsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wallo_notifications_dropped_total",
		Help: "Platform notifications discarded (unknown platform or attempts exhausted).",
	})

	SyncPushFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wallo_sync_push_failures_total",
		Help: "Best-effort synchronous webhook pushes that failed and fell back to the queue.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		NotificationsDelivered, NotificationsRetried, NotificationsDropped,
		SyncPushFailures,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
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

// CanonicalPath collapses resource identifiers in metric labels so the
// platform/case routes do not explode label cardinality.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/v1/platforms/") {
		return path
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(path, "/v1/platforms/"), "/"), "/")
	if parts[0] == "" {
		return path
	}
	switch {
	case len(parts) == 1:
		return "/v1/platforms/:id"
	case len(parts) == 2 && parts[1] == "secret":
		return "/v1/platforms/:id/secret"
	case len(parts) == 4 && parts[1] == "cases":
		return "/v1/platforms/:id/cases/:kind/:case"
	case len(parts) == 5 && parts[1] == "cases" && (parts[4] == "action" || parts[4] == "comment"):
		return "/v1/platforms/:id/cases/:kind/:case/" + parts[4]
	default:
		return path
	}
}

// statusWriter captures the response code for metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
