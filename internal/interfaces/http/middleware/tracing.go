package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/neese/crmsync/internal/infrastructure/logger"
)

// TraceIDHeader returns the trace id of the request to the caller
const TraceIDHeader = "X-Trace-ID"

// Tracing opens a server span per request, continuing any W3C trace the
// caller propagated. The health check is not traced.
func Tracing(service string, tp trace.TracerProvider) gin.HandlerFunc {
	return otelgin.Middleware(service,
		otelgin.WithTracerProvider(tp),
		otelgin.WithPropagators(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		)),
		otelgin.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health"
		}),
	)
}

// SpanAttributes annotates the request span opened by Tracing with the
// request id, echoes the trace id and tags the request logger with it. It
// must run after Tracing, while that span is still open.
func SpanAttributes() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		span := trace.SpanFromContext(ctx)
		sc := span.SpanContext()
		if !sc.IsValid() {
			c.Next()
			return
		}

		if id := c.GetString(RequestIDKey); id != "" {
			span.SetAttributes(attribute.String("http.request_id", id))
		}
		traceID := sc.TraceID().String()
		c.Header(TraceIDHeader, traceID)
		ctx = logger.WithContext(ctx, logger.FromContext(ctx).With(zap.String("trace_id", traceID)))
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if len(c.Errors) > 0 {
			span.SetAttributes(attribute.String("gin.errors", c.Errors.String()))
		}
	}
}
