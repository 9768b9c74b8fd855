package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/neese/crmsync/internal/infrastructure/telemetry"
)

// Metric names recorded by HTTPMetrics
const (
	MetricHTTPRequests        = "crmsync_http_requests_total"
	MetricHTTPRequestDuration = "crmsync_http_request_duration_seconds"
	MetricHTTPRequestSize     = "crmsync_http_request_size_bytes"
	MetricHTTPActiveRequests  = "crmsync_http_active_requests"
)

// requestSizeBuckets cover webhook JSON bodies up to the default body limit
var requestSizeBuckets = []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576}

// unmatchedRoute labels requests gin could not route
const unmatchedRoute = "unknown"

type httpInstruments struct {
	requests *telemetry.Counter
	duration *telemetry.Histogram
	size     *telemetry.Histogram
	inFlight metric.Int64UpDownCounter
}

func newHTTPInstruments(meter metric.Meter) (*httpInstruments, error) {
	var (
		ins httpInstruments
		err error
	)
	if ins.requests, err = telemetry.NewCounter(meter, MetricHTTPRequests,
		"HTTP requests served", "{request}"); err != nil {
		return nil, err
	}
	if ins.duration, err = telemetry.NewHistogram(meter, MetricHTTPRequestDuration,
		"HTTP request latency", "s", telemetry.HTTPDurationBuckets...); err != nil {
		return nil, err
	}
	if ins.size, err = telemetry.NewHistogram(meter, MetricHTTPRequestSize,
		"HTTP request body size", "By", requestSizeBuckets...); err != nil {
		return nil, err
	}
	if ins.inFlight, err = meter.Int64UpDownCounter(MetricHTTPActiveRequests,
		metric.WithDescription("HTTP requests in flight"), metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	return &ins, nil
}

// HTTPMetrics records request count, latency, body size and in-flight
// requests on meter. Instrument errors are logged and leave requests
// unmeasured.
func HTTPMetrics(meter metric.Meter, logger *zap.Logger) gin.HandlerFunc {
	ins, err := newHTTPInstruments(meter)
	if err != nil {
		if logger != nil {
			logger.Warn("HTTP metrics disabled", zap.Error(err))
		}
		return noopMiddleware
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		began := time.Now()

		ins.inFlight.Add(ctx, 1)
		c.Next()
		ins.inFlight.Add(ctx, -1)

		attrs := []attribute.KeyValue{
			telemetry.AttrHTTPMethod.String(c.Request.Method),
			telemetry.AttrHTTPRoute.String(routeLabel(c)),
		}
		ins.duration.RecordDuration(ctx, time.Since(began), attrs...)
		if n := c.Request.ContentLength; n > 0 {
			ins.size.Record(ctx, float64(n), attrs...)
		}
		ins.requests.Inc(ctx, append(attrs, telemetry.AttrHTTPStatusCode.Int(c.Writer.Status()))...)
	}
}

// routeLabel is the matched route pattern; raw paths would make the label
// set unbounded
func routeLabel(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return unmatchedRoute
}

func noopMiddleware(c *gin.Context) {
	c.Next()
}
