package telemetry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zaptest"

	"github.com/neese/crmsync/internal/infrastructure/telemetry"
)

func newRecordingTracer(t *testing.T, ratio float64) (*telemetry.TracerProvider, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp, err := telemetry.NewTracerProviderWithProcessor(telemetry.TracingConfig{
		ServiceName:   "crmsync-test",
		SamplingRatio: ratio,
	}, recorder, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, recorder
}

func TestNewTracerProvider_Disabled(t *testing.T) {
	ctx := context.Background()
	tp, err := telemetry.NewTracerProvider(ctx, telemetry.TracingConfig{
		Enabled:           false,
		CollectorEndpoint: "localhost:14317",
		ServiceName:       "crmsync-test",
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.False(t, tp.IsEnabled())
	assert.NotNil(t, tp.Provider())
	assert.NotNil(t, tp.Tracer("test"))
	assert.NoError(t, tp.ForceFlush(ctx))
	assert.NoError(t, tp.Shutdown(ctx))
}

func TestTracerProvider_RecordsParentedSpans(t *testing.T) {
	tp, recorder := newRecordingTracer(t, 1)
	assert.True(t, tp.IsEnabled())

	tracer := tp.Tracer("test")
	ctx, parent := tracer.Start(context.Background(), "relay.sync_pass")
	_, child := tracer.Start(ctx, "relay.fetch")
	child.End()
	parent.End()

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "relay.fetch", spans[0].Name())
	assert.Equal(t, "relay.sync_pass", spans[1].Name())
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
}

func TestTracerProvider_SamplingRatio(t *testing.T) {
	tests := []struct {
		name     string
		ratio    float64
		recorded int
	}{
		{name: "always", ratio: 1, recorded: 1},
		{name: "above one", ratio: 2, recorded: 1},
		{name: "never", ratio: 0, recorded: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp, recorder := newRecordingTracer(t, tt.ratio)
			_, span := tp.Tracer("test").Start(context.Background(), "root")
			span.End()
			assert.Len(t, recorder.Ended(), tt.recorded)
		})
	}
}

func TestRecordError(t *testing.T) {
	tp, recorder := newRecordingTracer(t, 1)

	_, span := tp.Tracer("test").Start(context.Background(), "failing")
	telemetry.RecordError(span, errors.New("crm returned 502"))
	span.End()

	_, ok := tp.Tracer("test").Start(context.Background(), "fine")
	telemetry.RecordError(ok, nil)
	ok.End()

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "crm returned 502", spans[0].Status().Description)
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "exception", spans[0].Events()[0].Name)
	assert.Equal(t, codes.Unset, spans[1].Status().Code)
	assert.Empty(t, spans[1].Events())
}

func TestTraceID(t *testing.T) {
	tp, _ := newRecordingTracer(t, 1)

	assert.Empty(t, telemetry.TraceID(context.Background()))

	ctx, span := tp.Tracer("test").Start(context.Background(), "root")
	defer span.End()
	assert.Equal(t, trace.SpanContextFromContext(ctx).TraceID().String(), telemetry.TraceID(ctx))
	assert.Len(t, telemetry.TraceID(ctx), 32)
}

func TestStartSpan_UsesGlobalProvider(t *testing.T) {
	ctx, span := telemetry.StartSpan(context.Background(), "noop")
	defer span.End()
	assert.NotNil(t, ctx)
	assert.NotNil(t, span)
}
