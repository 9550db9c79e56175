package middleware

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/carlossalguero/ghlogin/services/shared/logger"
	"github.com/carlossalguero/ghlogin/services/shared/tracing"
)

// TracingConfig holds tracing middleware configuration.
type TracingConfig struct {
	SkipPaths []string

	// SpanName resolves the span name. Defaults to method and raw path.
	SpanName func(r *http.Request) string
}

// Tracing returns middleware that starts a server span per request and puts
// the trace ID in the logging context.
func Tracing(cfg TracingConfig) func(http.Handler) http.Handler {
	skipPaths := make(map[string]bool, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skipPaths[p] = true
	}
	spanName := cfg.SpanName
	if spanName == nil {
		spanName = func(r *http.Request) string { return tracing.HTTPSpanName(r.Method, r.URL.Path) }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			ctx := tracing.ExtractHTTP(r.Context(), r.Header)
			ctx, span := tracing.StartSpan(ctx, spanName(r),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
					semconv.URLScheme(scheme(r)),
					semconv.ServerAddress(r.Host),
					attribute.String("http.user_agent", r.UserAgent()),
				),
			)
			defer span.End()

			if reqID := GetRequestID(ctx); reqID != "" {
				span.SetAttributes(attribute.String("request.id", reqID))
			}
			if traceID := tracing.TraceIDFromContext(ctx); traceID != "" {
				ctx = context.WithValue(ctx, logger.TraceIDKey, traceID)
			}

			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r.WithContext(ctx))

			span.SetAttributes(semconv.HTTPResponseStatusCode(rw.status))
			if rw.status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rw.status))
			}
		})
	}
}

func scheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	return "http"
}
