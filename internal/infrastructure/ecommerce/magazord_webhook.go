package ecommerce

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/neese/crmsync/internal/domain/relay"
)

// magazordWebhookHeader carries the event type and the embedded person and
// tracking blocks. The cart or order fields sit at the top level of the body.
type magazordWebhookHeader struct {
	TipoEvento   string            `json:"tipo_evento"`
	Event        string            `json:"event"`
	Type         string            `json:"type"`
	Cliente      *MagazordPerson   `json:"cliente"`
	Rastreamento *MagazordTracking `json:"rastreamento"`
}

// DecodeMagazordWebhook parses a storefront push notification. The event type
// is read from tipo_evento, event or type, in that order. Unknown event types
// decode without a cart or order and wrap relay.ErrUnknownWebhookEvent.
func DecodeMagazordWebhook(body []byte, receivedAt time.Time) (*relay.WebhookNotification, error) {
	var header magazordWebhookHeader
	if err := json.Unmarshal(body, &header); err != nil {
		return nil, fmt.Errorf("%w: webhook body: %v", relay.ErrSourceInvalidResponse, err)
	}

	eventType := relay.WebhookEventType(strings.TrimSpace(firstNonEmpty(header.TipoEvento, header.Event, header.Type)))
	n := &relay.WebhookNotification{
		EventType:  eventType,
		ReceivedAt: receivedAt.UTC(),
	}
	if header.Cliente != nil {
		n.Person = header.Cliente.ToDomain()
	}
	if header.Rastreamento != nil {
		n.Shipment = header.Rastreamento.ToDomain()
	}

	switch {
	case !eventType.IsKnown():
		return n, fmt.Errorf("%w: %q", relay.ErrUnknownWebhookEvent, eventType)

	case eventType.IsOrder():
		var wire MagazordOrder
		if err := json.Unmarshal(body, &wire); err != nil {
			return nil, fmt.Errorf("%w: webhook order: %v", relay.ErrSourceInvalidResponse, err)
		}
		order := wire.ToDomain()
		if order.PersonID == nil && n.Person != nil && n.Person.ID != 0 {
			order.PersonID = &n.Person.ID
		}
		n.Order = &order

	default:
		var wire MagazordCart
		if err := json.Unmarshal(body, &wire); err != nil {
			return nil, fmt.Errorf("%w: webhook cart: %v", relay.ErrSourceInvalidResponse, err)
		}
		cart := wire.ToDomain()
		if cart.PersonID == nil && n.Person != nil && n.Person.ID != 0 {
			cart.PersonID = &n.Person.ID
		}
		n.Cart = &cart
	}

	return n, nil
}
