package observability

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// statusRecorder captures the response status code for metric labels.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments an http.Handler with request metrics and tracing.
// Both metrics and tracer may be nil.
func HTTPMetricsMiddleware(metrics *MetricsCollector, tracer trace.Tracer, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tracer != nil {
			ctx, span := tracer.Start(r.Context(), "http.request",
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.path", r.URL.Path),
				))
			defer span.End()
			r = r.WithContext(ctx)
		}

		if metrics != nil {
			metrics.ActiveRequests.Inc()
			defer metrics.ActiveRequests.Dec()
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		if metrics != nil {
			duration := time.Since(start).Seconds()
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, statusCode(rec.status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
		}
	})
}
