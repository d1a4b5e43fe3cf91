package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by method, path, and status code",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	httpRequestsInProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_progress",
			Help: "Current number of HTTP requests being processed",
		},
	)

	feedRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_requests_total",
			Help: "Feeds served by resolved scope and effective sort mode",
		},
		[]string{"scope", "mode"},
	)

	feedPostsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feed_posts_returned",
			Help:    "Number of posts in each served feed",
			Buckets: []float64{0, 1, 5, 10, 20, 30, 40, 50},
		},
	)

	startTime    = time.Now()
	registerOnce sync.Once
)

// RegisterMetrics registers the shared collectors with the default registry.
// It is safe to call more than once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			httpRequestsInProgress,
			feedRequestsTotal,
			feedPostsReturned,
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "service_uptime_seconds",
					Help: "Service uptime in seconds",
				},
				func() float64 { return time.Since(startTime).Seconds() },
			),
		)
	})
}

// RecordFeed counts a served feed.
func RecordFeed(scope, mode string, posts int) {
	feedRequestsTotal.WithLabelValues(scope, mode).Inc()
	feedPostsReturned.Observe(float64(posts))
}

// normalizePath replaces ids in the path so label cardinality stays bounded.
func normalizePath(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if len(part) > 20 || (len(part) > 0 && part[0] >= '0' && part[0] <= '9') {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")

	if len(normalized) > 100 {
		normalized = normalized[:100]
	}
	return normalized
}

// MetricsMiddleware records request counts, latencies and in-flight requests.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		httpRequestsInProgress.Inc()
		defer httpRequestsInProgress.Dec()

		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)
		status := strconv.Itoa(rw.statusCode)

		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
	})
}

// GetMetricsHandler serves the default registry.
func GetMetricsHandler() http.Handler {
	return promhttp.Handler()
}
