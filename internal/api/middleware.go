package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/perfectstorm/coordinator/internal/metrics"
)

// RequestLogger returns a Chi-compatible middleware that logs each request
// using the provided zap logger: method, path, status, bytes, request id,
// latency — and records the same fields onto
// metrics.HTTPRequestsTotal/HTTPRequestDuration. Authentication and
// role-based middleware are not carried over: authentication and
// authorization are an explicit non-goal of the coordinator's core.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			elapsed := time.Since(start)

			pattern := routePattern(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(ww.Status())).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, pattern).Observe(elapsed.Seconds())

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Duration("latency", elapsed),
			)
		})
	}
}

// routePattern returns the matched Chi route template (e.g. "/v1/jobs/{id}")
// rather than the literal URL path, keeping the metric's path label
// low-cardinality. Falls back to the raw path if Chi's route context isn't
// populated (e.g. a 404 before routing completes).
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
