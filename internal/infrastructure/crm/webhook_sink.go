package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/neese/crmsync/internal/domain/relay"
)

// maxResponseSize caps how much of the CRM response body is kept (64KB)
const maxResponseSize = 64 * 1024

// WebhookSink posts outbound events to the CRM inbound webhook, one at a
// time. EventDelay is the pause between one POST returning and the next one
// starting, so a slow CRM response never shortens it. It implements
// relay.DeliverySink.
type WebhookSink struct {
	config     *WebhookConfig
	httpClient *http.Client
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	logger     *zap.Logger
}

// SinkOption configures a WebhookSink
type SinkOption func(*WebhookSink)

// WithTracerProvider sets the provider of the per-POST client spans
func WithTracerProvider(tp trace.TracerProvider) SinkOption {
	return func(s *WebhookSink) {
		s.tracer = tp.Tracer(tracerName)
	}
}

const tracerName = "crmsync/crm"

// NewWebhookSink creates a CRM webhook sink. Every POST carries the W3C
// traceparent of its span.
func NewWebhookSink(config *WebhookConfig, logger *zap.Logger, opts ...SinkOption) (*WebhookSink, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &WebhookSink{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		tracer:     otel.Tracer(tracerName),
		propagator: propagation.TraceContext{},
		logger:     logger.Named("crm"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DeliverBatch posts events serially and reports one result per event, in
// order. A cancelled context marks the remaining events as failed.
func (s *WebhookSink) DeliverBatch(ctx context.Context, events []*relay.OutboundEvent) []relay.DeliveryResult {
	results := make([]relay.DeliveryResult, 0, len(events))

	for i, event := range events {
		err := ctx.Err()
		if err == nil && i > 0 {
			err = s.pause(ctx)
		}
		if err != nil {
			results = append(results, relay.DeliveryResult{
				Key:  event.DeliveryKey(),
				Kind: event.Kind,
				Err:  fmt.Errorf("%w: %v", relay.ErrDeliveryFailed, err),
			})
			continue
		}
		results = append(results, s.Deliver(ctx, event))
	}

	return results
}

// pause waits EventDelay from now. The limiter starts drained, so Wait
// blocks for one full interval and fails early when ctx cannot last that long.
func (s *WebhookSink) pause(ctx context.Context) error {
	if s.config.EventDelay <= 0 {
		return nil
	}
	gap := rate.NewLimiter(rate.Every(s.config.EventDelay), 1)
	gap.Allow()
	return gap.Wait(ctx)
}

// Deliver posts a single event inside a client span
func (s *WebhookSink) Deliver(ctx context.Context, event *relay.OutboundEvent) relay.DeliveryResult {
	ctx, span := s.tracer.Start(ctx, "crm.post",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("relay.event_key", event.DeliveryKey()),
			attribute.String("relay.event_kind", string(event.Kind)),
			attribute.String("http.request.method", http.MethodPost),
		),
	)
	defer span.End()

	result := s.post(ctx, event)
	if result.StatusCode != 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", result.StatusCode))
	}
	if result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, result.Err.Error())
	}
	return result
}

func (s *WebhookSink) post(ctx context.Context, event *relay.OutboundEvent) relay.DeliveryResult {
	result := relay.DeliveryResult{
		Key:  event.DeliveryKey(),
		Kind: event.Kind,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		result.Err = fmt.Errorf("%w: encode event: %v", relay.ErrDeliveryFailed, err)
		return result
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL, bytes.NewReader(payload))
	if err != nil {
		result.Err = fmt.Errorf("%w: create request: %v", relay.ErrDeliveryFailed, err)
		return result
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.config.UserAgent)
	s.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		result.Err = fmt.Errorf("%w: %v", relay.ErrDeliveryFailed, err)
		s.logger.Warn("CRM delivery failed",
			zap.String("event_key", result.Key),
			zap.String("event_kind", string(event.Kind)),
			zap.Error(err),
		)
		return result
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	result.StatusCode = resp.StatusCode
	result.Response = strings.TrimSpace(string(body))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		result.Err = fmt.Errorf("%w: HTTP %d", relay.ErrDeliveryRejected, resp.StatusCode)
		s.logger.Warn("CRM rejected event",
			zap.String("event_key", result.Key),
			zap.String("event_kind", string(event.Kind)),
			zap.Int("status", resp.StatusCode),
			zap.String("response", result.Response),
		)
		return result
	}

	result.Success = true
	s.logger.Debug("Event delivered",
		zap.String("event_key", result.Key),
		zap.String("event_kind", string(event.Kind)),
		zap.Int("status", resp.StatusCode),
	)
	return result
}

var _ relay.DeliverySink = (*WebhookSink)(nil)
