package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/cheeseformice/ranking/logger"
	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// RequestIDHeader carries the trace id of a request.
const RequestIDHeader = "X-Request-Id"

// Middleware constructor.
type Middleware func(http.Handler) http.Handler

// Metrics counts and times requests. Paths are reported by route pattern so
// table and stat names do not explode the label space.
func Metrics(name string, reqMetric *prometheus.CounterVec, durMetric *prometheus.HistogramVec) Middleware {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			statusW := NewStatusResponseWriter(w)

			defer func(start time.Time) {
				label := prometheus.Labels{
					"handler":       name,
					"method":        r.Method,
					"path":          routePattern(r),
					"status":        statusW.StatusCodeClass(),
					"response_code": fmt.Sprintf("%d", statusW.Code()),
				}

				durMetric.With(label).Observe(time.Since(start).Seconds())
				reqMetric.With(label).Inc()
			}(time.Now())

			next.ServeHTTP(statusW, r)
		}
		return http.HandlerFunc(fn)
	}
}

// Logging logs every request at debug level and server errors at error level.
// Each request gets a trace id, returned in the X-Request-Id header, and a
// logger carrying it in its context.
func Logging(log *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			traceID := uuid.NewString()
			reqLog := log.With(logger.TraceID(traceID))
			w.Header().Set(RequestIDHeader, traceID)

			statusW := NewStatusResponseWriter(w)
			start := time.Now()
			next.ServeHTTP(statusW, r.WithContext(logger.NewContextWithLogger(r.Context(), reqLog)))

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", statusW.Code()),
				zap.Duration("took", time.Since(start)),
			}
			if statusW.Code() >= http.StatusInternalServerError {
				reqLog.Error("Request failed", fields...)
				return
			}
			reqLog.Debug("Request", fields...)
		}
		return http.HandlerFunc(fn)
	}
}

func SkipOptions(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		next.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
