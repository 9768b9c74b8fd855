package relay

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/neese/crmsync/internal/domain/relay"
)

// DefaultEventSource is the origin label stamped on every event
const DefaultEventSource = "magazord"

const unknownPaymentMethod = "Não informado"

// cartStatusLabels are the lowercase labels sent in the cart block
var cartStatusLabels = map[relay.CartStatus]string{
	relay.CartStatusOpen:      "aberto",
	relay.CartStatusCheckout:  "checkout",
	relay.CartStatusAbandoned: "abandonado",
}

// PaymentFamily is the payment method family a label belongs to
type PaymentFamily string

const (
	PaymentFamilyUnknown PaymentFamily = ""
	PaymentFamilyCard    PaymentFamily = "card"
	PaymentFamilyPix     PaymentFamily = "pix"
	PaymentFamilyBoleto  PaymentFamily = "boleto"
)

// cardMarkers identify card payments after accent folding
var cardMarkers = []string{"cartao", "credito", "card"}

// ClassifyPaymentMethod maps a payment label ("Cartão - Visa", "Pix") to its
// family. Matching is case-insensitive and accent-insensitive; card markers
// are checked first.
func ClassifyPaymentMethod(label string) PaymentFamily {
	folded := foldText(label)
	for _, m := range cardMarkers {
		if strings.Contains(folded, m) {
			return PaymentFamilyCard
		}
	}
	switch {
	case strings.Contains(folded, "pix"):
		return PaymentFamilyPix
	case strings.Contains(folded, "boleto"):
		return PaymentFamilyBoleto
	default:
		return PaymentFamilyUnknown
	}
}

func foldText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// CartEventKind returns the event kind for a cart status. Converted carts
// have no kind.
func CartEventKind(status relay.CartStatus) (relay.EventKind, bool) {
	switch status {
	case relay.CartStatusOpen:
		return relay.EventKindCartOpened, true
	case relay.CartStatusCheckout:
		return relay.EventKindCartCheckout, true
	case relay.CartStatusAbandoned:
		return relay.EventKindCartAbandoned, true
	default:
		return "", false
	}
}

// OrderEventKind routes an order situation and payment method to an event
// kind. Unmapped combinations are suppressed.
func OrderEventKind(situation relay.SituationCode, paymentMethod string) (relay.EventKind, bool) {
	switch situation {
	case relay.SituationAwaitingPayment:
		return relay.EventKindAwaitingPayment, true
	case relay.SituationPaymentCanceled, relay.SituationPaymentReviewCanceled:
		switch ClassifyPaymentMethod(paymentMethod) {
		case PaymentFamilyCard:
			return relay.EventKindCardDeclined, true
		case PaymentFamilyPix:
			return relay.EventKindPixExpired, true
		case PaymentFamilyBoleto:
			return relay.EventKindBoletoExpired, true
		}
	}
	return "", false
}

// ---------------------------------------------------------------------------
// Transformer
// ---------------------------------------------------------------------------

// TransformerConfig configures the event transformer
type TransformerConfig struct {
	// Source is stamped into the origin block
	Source string
	// StorefrontURL is the base URL used to build cart recovery links
	StorefrontURL string
	// OrderAllowList restricts which order situations produce events
	OrderAllowList relay.SituationSet
	Clock          clockwork.Clock
	// NewToken generates the per-call uniqueness token
	NewToken func() string
}

// OrderAux carries the best-effort auxiliary lookups of an order
type OrderAux struct {
	Shipment *relay.ShipmentRecord
	Payment  *relay.PaymentInfo
}

// TransformInput is a single record to transform. Exactly one of Cart and
// Order is set.
type TransformInput struct {
	Cart   *relay.CartRecord
	Order  *relay.OrderRecord
	Person *relay.PersonRecord
	Aux    OrderAux
}

// Transformer maps storefront records into outbound events
type Transformer struct {
	cfg    TransformerConfig
	logger *zap.Logger
}

// NewTransformer creates a new Transformer
func NewTransformer(cfg TransformerConfig, logger *zap.Logger) *Transformer {
	if cfg.Source == "" {
		cfg.Source = DefaultEventSource
	}
	if cfg.OrderAllowList.Len() == 0 {
		cfg.OrderAllowList = relay.DefaultOrderAllowList
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.NewToken == nil {
		cfg.NewToken = uuid.NewString
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transformer{cfg: cfg, logger: logger}
}

// Transform dispatches to TransformCart or TransformOrder. It returns nil
// when the record must not be forwarded.
func (t *Transformer) Transform(in TransformInput) *relay.OutboundEvent {
	switch {
	case in.Cart != nil:
		return t.TransformCart(in.Cart, in.Person)
	case in.Order != nil:
		return t.TransformOrder(in.Order, in.Person, in.Aux)
	default:
		return nil
	}
}

// TransformCart builds a cart event. Returns nil for carts without a
// deliverable phone and for converted carts.
func (t *Transformer) TransformCart(cart *relay.CartRecord, person *relay.PersonRecord) *relay.OutboundEvent {
	contact := ResolveContact(person, cart.Contact())
	if contact.Phone == "" {
		t.logger.Debug("Cart skipped: no phone",
			zap.Int64("cart_id", cart.ID),
		)
		return nil
	}

	kind, ok := CartEventKind(cart.Status)
	if !ok {
		return nil
	}

	now := t.cfg.Clock.Now().UTC()
	return &relay.OutboundEvent{
		Kind:   kind,
		CartID: cart.ID,
		Status: relay.StatusBlock{
			Code:        cart.Status.Code(),
			Description: cart.Status.Description(),
			UpdatedAt:   firstTime(cart.UpdatedAt, cart.CreatedAt, now),
		},
		Person: contact,
		Cart: &relay.CartPayload{
			CartID:       cart.ID,
			Status:       cartStatusLabels[cart.Status],
			StatusCode:   cart.Status.Code(),
			Total:        money(cart.Total),
			CheckoutLink: cart.RecoveryLink(t.cfg.StorefrontURL),
			Items:        itemPayloads(cart.Items),
		},
		Origin: t.origin(now),
	}
}

// TransformOrder builds an order event. Returns nil when the phone is
// missing, the situation is not allowed or the situation/payment method
// combination has no event kind.
func (t *Transformer) TransformOrder(order *relay.OrderRecord, person *relay.PersonRecord, aux OrderAux) *relay.OutboundEvent {
	contact := ResolveContact(person, order.Contact())
	if contact.Phone == "" {
		t.logger.Debug("Order skipped: no phone",
			zap.Int64("order_id", order.ID),
		)
		return nil
	}

	if !t.cfg.OrderAllowList.Contains(order.Situation) {
		return nil
	}

	kind, ok := OrderEventKind(order.Situation, order.PaymentMethod)
	if !ok {
		t.logger.Debug("Order skipped: no event for situation",
			zap.Int64("order_id", order.ID),
			zap.Int("situation", int(order.Situation)),
			zap.String("payment_method", order.PaymentMethod),
		)
		return nil
	}

	now := t.cfg.Clock.Now().UTC()
	paymentMethod := strings.TrimSpace(order.PaymentMethod)
	if paymentMethod == "" {
		paymentMethod = unknownPaymentMethod
	}

	paymentLink := order.PaymentLink
	if link := aux.Payment.Link(); link != "" {
		paymentLink = link
	}

	return &relay.OutboundEvent{
		Kind:      kind,
		OrderID:   order.ID,
		OrderCode: order.Code,
		Status: relay.StatusBlock{
			Code:        int(order.Situation),
			Description: order.Situation.Description(),
			UpdatedAt:   firstTime(order.UpdatedAt, order.CreatedAt, now),
		},
		Person: contact,
		Order: &relay.OrderPayload{
			StatusCode:    int(order.Situation),
			OrderedAt:     firstTime(order.CreatedAt, order.UpdatedAt, now),
			Total:         money(order.Total),
			PaymentMethod: paymentMethod,
			PaymentLink:   paymentLink,
			Payment:       paymentBlock(aux.Payment),
			Items:         itemPayloads(order.Items),
		},
		Shipment: shipmentBlock(aux.Shipment),
		Origin:   t.origin(now),
	}
}

func (t *Transformer) origin(now time.Time) relay.OriginBlock {
	return relay.OriginBlock{
		Source:      t.cfg.Source,
		CapturedAt:  now,
		UniqueToken: t.cfg.NewToken(),
	}
}

// ---------------------------------------------------------------------------
// Payload helpers
// ---------------------------------------------------------------------------

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func firstTime(ts ...time.Time) time.Time {
	for _, t := range ts {
		if !t.IsZero() {
			return t.UTC()
		}
	}
	return time.Time{}
}

func itemPayloads(items []relay.LineItem) []relay.ItemPayload {
	out := make([]relay.ItemPayload, 0, len(items))
	for _, item := range items {
		qty := item.Quantity
		if qty <= 0 {
			qty = 1
		}
		out = append(out, relay.ItemPayload{
			ProductID:   item.ProductID,
			Description: item.Description,
			Quantity:    qty,
			UnitPrice:   money(item.UnitPrice),
			LineTotal:   money(item.Total()),
		})
	}
	return out
}

func paymentBlock(p *relay.PaymentInfo) relay.PaymentBlock {
	if p == nil {
		return relay.PaymentBlock{Status: relay.EnrichmentPending}
	}
	return relay.PaymentBlock{
		Status:    relay.EnrichmentAvailable,
		Method:    p.Method,
		Gateway:   p.Gateway,
		Link:      p.Link(),
		BoletoURL: p.BoletoURL,
		PixCode:   p.PixCode,
	}
}

func shipmentBlock(s *relay.ShipmentRecord) *relay.ShipmentBlock {
	if s == nil || s.TrackingCode == "" {
		return &relay.ShipmentBlock{
			Status: relay.EnrichmentPending,
			Events: []relay.TrackingEventBlock{},
		}
	}
	block := &relay.ShipmentBlock{
		Status:       relay.EnrichmentAvailable,
		TrackingCode: s.TrackingCode,
		Carrier:      s.Carrier,
		TrackingURL:  s.TrackingURL,
		Events:       make([]relay.TrackingEventBlock, 0, len(s.Events)),
	}
	if s.EstimatedDelivery != nil {
		block.EstimatedDelivery = s.EstimatedDelivery.Format("2006-01-02")
	}
	if s.PostedAt != nil {
		block.PostedAt = s.PostedAt.Format("2006-01-02")
	}
	for _, e := range s.Events {
		block.Events = append(block.Events, relay.TrackingEventBlock{
			At:          e.At,
			Status:      e.Status,
			Location:    e.Location,
			Description: e.Description,
		})
	}
	return block
}
