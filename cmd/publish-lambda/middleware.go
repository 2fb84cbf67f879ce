package main

import (
	"net/http"
	"time"

	"github.com/fpang/instagram-publisher/internal/metrics"
)

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// withMetrics is middleware that emits per-request EMF metrics:
// RequestLatencyMs, RequestCount (with Endpoint and StatusCode dimensions).
func withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(sr, r)

		elapsed := time.Since(start)

		metrics.New("InstagramPublisher").
			Dimension("Endpoint", normalizeEndpoint(r.URL.Path)).
			Metric("RequestLatencyMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
			Count("RequestCount").
			Property("method", r.Method).
			Property("statusCode", sr.statusCode).
			Property("path", r.URL.Path).
			Flush()
	})
}

// normalizeEndpoint maps request paths to low-cardinality endpoint names
// to avoid creating excessive CloudWatch metric dimensions.
func normalizeEndpoint(path string) string {
	switch path {
	case "/api/post-from-media", "/api/post-now", "/api/post-status",
		"/api/schedule-post", "/api/scheduled-posts", "/api/connect", "/api/health":
		return path
	default:
		return "other"
	}
}
