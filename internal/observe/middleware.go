package observe

import (
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// routes lists the paths the observability listener serves. Anything else is
// reported as "other" so scanners cannot blow up metric cardinality.
var routes = map[string]bool{
	"/metrics": true,
	"/healthz": true,
	"/readyz":  true,
}

func routeOf(r *http.Request) string {
	if routes[r.URL.Path] {
		return r.URL.Path
	}
	return "other"
}

// codeWriter remembers the status code written by the wrapped handler.
type codeWriter struct {
	http.ResponseWriter
	code int
}

func (w *codeWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware instruments the observability listener. Every request runs in a
// server span that continues an incoming traceparent header, its trace ID is
// echoed in X-Correlation-ID, and its latency lands in
// [Metrics.HTTPRequestDuration] labelled by route and status.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			route := routeOf(r)

			prop := otel.GetTextMapPropagator()
			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, r.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.HTTPRoute(route),
				),
			)
			defer span.End()

			if cid := CorrelationID(ctx); cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}

			cw := &codeWriter{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(cw, r.WithContext(ctx))

			took := time.Since(start)
			span.SetAttributes(semconv.HTTPResponseStatusCode(cw.code))
			m.HTTPRequestDuration.Record(ctx, took.Seconds(), metric.WithAttributes(
				attribute.String("route", route),
				attribute.String("status", strconv.Itoa(cw.code)),
			))
			Logger(ctx).Debug("observability request",
				"route", route, "status", cw.code, "duration", took)
		})
	}
}
