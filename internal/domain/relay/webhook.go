package relay

import "time"

// WebhookEventType is the event type field of a storefront push notification
type WebhookEventType string

// Event types accepted from the storefront, including aliases
const (
	WebhookCartCreated     WebhookEventType = "carrinho_criado"
	WebhookCartOpened      WebhookEventType = "carrinho_aberto"
	WebhookCartCheckout    WebhookEventType = "carrinho_checkout"
	WebhookCheckoutStarted WebhookEventType = "checkout_iniciado"
	WebhookCartAbandoned   WebhookEventType = "carrinho_abandonado"
	WebhookOrderCreated    WebhookEventType = "pedido_criado"
	WebhookOrderApproved   WebhookEventType = "pedido_aprovado"
	WebhookOrderUpdated    WebhookEventType = "pedido_atualizado"
	WebhookStatusUpdated   WebhookEventType = "status_atualizado"
)

// webhookCartStatuses maps cart event types to the status they imply
var webhookCartStatuses = map[WebhookEventType]CartStatus{
	WebhookCartCreated:     CartStatusOpen,
	WebhookCartOpened:      CartStatusOpen,
	WebhookCartCheckout:    CartStatusCheckout,
	WebhookCheckoutStarted: CartStatusCheckout,
	WebhookCartAbandoned:   CartStatusAbandoned,
}

var webhookOrderTypes = map[WebhookEventType]struct{}{
	WebhookOrderCreated:  {},
	WebhookOrderApproved: {},
	WebhookOrderUpdated:  {},
	WebhookStatusUpdated: {},
}

// CartStatus returns the cart status implied by a cart event type
func (t WebhookEventType) CartStatus() (CartStatus, bool) {
	s, ok := webhookCartStatuses[t]
	return s, ok
}

// IsOrder returns true for order event types
func (t WebhookEventType) IsOrder() bool {
	_, ok := webhookOrderTypes[t]
	return ok
}

// IsKnown returns true if the event type is accepted
func (t WebhookEventType) IsKnown() bool {
	_, isCart := webhookCartStatuses[t]
	return isCart || t.IsOrder()
}

// WebhookNotification is a decoded storefront push notification. Cart or
// Order is set depending on the event type.
type WebhookNotification struct {
	EventType  WebhookEventType
	Cart       *CartRecord
	Order      *OrderRecord
	Person     *PersonRecord
	Shipment   *ShipmentRecord
	ReceivedAt time.Time
}
