package middleware

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracing instruments requests with OpenTelemetry spans. route maps a request
// to its registered mux pattern so span names stay low-cardinality; without a
// match the method alone names the span.
func Tracing(tracer trace.Tracer, route func(*http.Request) string) func(http.Handler) http.Handler {
	if tracer == nil {
		tracer = otel.Tracer("royaltydesk/middleware")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name := r.Method
			if route != nil {
				if p := route(r); p != "" {
					name = p
				}
			}
			ctx, span := tracer.Start(r.Context(), name,
				trace.WithSpanKind(trace.SpanKindServer))
			span.SetAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
			)

			lw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(lw, r.WithContext(ctx))

			span.SetAttributes(attribute.Int("http.status_code", lw.status))
			if lw.status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(lw.status))
			} else {
				span.SetStatus(codes.Ok, "")
			}
			span.End()
		})
	}
}
