package relay

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/neese/crmsync/internal/domain/relay"
)

// WebhookRelay forwards storefront push notifications to the CRM through
// the same transformer and sink as sync passes. It does not use the ledger,
// so a notification delivered twice reaches the CRM twice.
type WebhookRelay struct {
	transformer *Transformer
	sink        relay.DeliverySink
	logger      *zap.Logger
}

// NewWebhookRelay creates a new WebhookRelay
func NewWebhookRelay(transformer *Transformer, sink relay.DeliverySink, logger *zap.Logger) *WebhookRelay {
	return &WebhookRelay{
		transformer: transformer,
		sink:        sink,
		logger:      logger,
	}
}

// Relay transforms and delivers one notification. It returns
// ErrUnknownWebhookEvent for unsupported event types and ErrEventSuppressed
// when the transformer produced no event.
func (r *WebhookRelay) Relay(ctx context.Context, n *relay.WebhookNotification) (*relay.DeliveryResult, error) {
	if !n.EventType.IsKnown() {
		r.logger.Warn("Unknown webhook event type", zap.String("event_type", string(n.EventType)))
		return nil, fmt.Errorf("%w: %q", relay.ErrUnknownWebhookEvent, n.EventType)
	}

	var event *relay.OutboundEvent
	switch {
	case n.EventType.IsOrder():
		if n.Order == nil {
			return nil, fmt.Errorf("%w: order payload missing", relay.ErrSourceInvalidResponse)
		}
		event = r.transformer.TransformOrder(n.Order, n.Person, OrderAux{Shipment: n.Shipment})
	default:
		if n.Cart == nil {
			return nil, fmt.Errorf("%w: cart payload missing", relay.ErrSourceInvalidResponse)
		}
		status, _ := n.EventType.CartStatus()
		cart := *n.Cart
		cart.Status = status
		event = r.transformer.TransformCart(&cart, n.Person)
	}

	if event == nil {
		r.logger.Info("Webhook event not forwarded", zap.String("event_type", string(n.EventType)))
		return nil, relay.ErrEventSuppressed
	}

	results := r.sink.DeliverBatch(ctx, []*relay.OutboundEvent{event})
	if len(results) == 0 {
		return nil, relay.ErrDeliveryFailed
	}
	res := results[0]
	if !res.Success {
		r.logger.Warn("Webhook event delivery failed",
			zap.String("event_kind", string(event.Kind)),
			zap.Error(res.Err),
		)
		return &res, fmt.Errorf("%w: %v", relay.ErrDeliveryFailed, res.Err)
	}

	r.logger.Info("Webhook event relayed",
		zap.String("event_kind", string(event.Kind)),
		zap.Int64("subject_id", event.SubjectID()),
	)
	return &res, nil
}
