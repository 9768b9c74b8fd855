package relay

import "time"

// RecordKind identifies the storefront entity an event originates from
type RecordKind string

const (
	RecordKindCart  RecordKind = "cart"
	RecordKindOrder RecordKind = "order"
)

// EventKind is the business-meaningful name of an outbound event.
// The values are the identifiers the CRM workflows are keyed on.
type EventKind string

const (
	// Cart events
	EventKindCartOpened    EventKind = "carrinho_aberto"
	EventKindCartCheckout  EventKind = "carrinho_checkout"
	EventKindCartAbandoned EventKind = "carrinho_abandonado"

	// Order events
	EventKindAwaitingPayment EventKind = "pedido_aguardando_pagamento"
	EventKindCardDeclined    EventKind = "cartao_recusado"
	EventKindPixExpired      EventKind = "pix_expirado"
	EventKindBoletoExpired   EventKind = "boleto_vencido"
)

var eventKindRecords = map[EventKind]RecordKind{
	EventKindCartOpened:      RecordKindCart,
	EventKindCartCheckout:    RecordKindCart,
	EventKindCartAbandoned:   RecordKindCart,
	EventKindAwaitingPayment: RecordKindOrder,
	EventKindCardDeclined:    RecordKindOrder,
	EventKindPixExpired:      RecordKindOrder,
	EventKindBoletoExpired:   RecordKindOrder,
}

// IsValid returns true if the event kind is part of the closed set
func (k EventKind) IsValid() bool {
	_, ok := eventKindRecords[k]
	return ok
}

// RecordKind returns the entity kind the event describes
func (k EventKind) RecordKind() RecordKind {
	return eventKindRecords[k]
}

// String returns the string representation of EventKind
func (k EventKind) String() string {
	return string(k)
}

// ---------------------------------------------------------------------------
// Outbound event contract
// ---------------------------------------------------------------------------

// Enrichment availability markers used by the shipment and payment blocks
const (
	EnrichmentAvailable = "disponivel"
	EnrichmentPending   = "aguardando"
)

// OutboundEvent is the canonical event posted to the CRM webhook.
// JSON names follow the contract the CRM workflows consume.
type OutboundEvent struct {
	Kind      EventKind      `json:"tipo_evento"`
	CartID    int64          `json:"carrinho_id,omitempty"`
	OrderID   int64          `json:"pedido_id,omitempty"`
	OrderCode string         `json:"pedido_codigo,omitempty"`
	Status    StatusBlock    `json:"status"`
	Person    PersonBlock    `json:"pessoa"`
	Cart      *CartPayload   `json:"carrinho,omitempty"`
	Order     *OrderPayload  `json:"pedido,omitempty"`
	Shipment  *ShipmentBlock `json:"entrega,omitempty"`
	Origin    OriginBlock    `json:"origem"`

	// LedgerKey is the deduplication key assigned by the orchestrator.
	// Empty for events relayed without the ledger.
	LedgerKey string `json:"-"`
}

// SubjectID returns the identifier of the cart or order the event describes
func (e *OutboundEvent) SubjectID() int64 {
	if e.Kind.RecordKind() == RecordKindOrder {
		return e.OrderID
	}
	return e.CartID
}

// DeliveryKey returns the key used to report delivery results
func (e *OutboundEvent) DeliveryKey() string {
	if e.LedgerKey != "" {
		return e.LedgerKey
	}
	return e.Origin.UniqueToken
}

// StatusBlock carries the source status of the subject
type StatusBlock struct {
	Code        int       `json:"codigo"`
	Description string    `json:"descricao"`
	UpdatedAt   time.Time `json:"data_atualizacao"`
}

// PersonBlock carries the resolved contact; Phone is always normalized
type PersonBlock struct {
	Name  string `json:"nome"`
	Email string `json:"email"`
	Phone string `json:"telefone"`
}

// ItemPayload is a line item with monetary values rendered with two decimals
type ItemPayload struct {
	ProductID   int64  `json:"produto_id"`
	Description string `json:"descricao"`
	Quantity    int    `json:"quantidade"`
	UnitPrice   string `json:"valor_unitario"`
	LineTotal   string `json:"valor_total"`
}

// CartPayload is the cart detail block
type CartPayload struct {
	CartID       int64         `json:"carrinho_id"`
	Status       string        `json:"status"`
	StatusCode   int           `json:"status_codigo"`
	Total        string        `json:"valor_total"`
	CheckoutLink string        `json:"link_checkout,omitempty"`
	Items        []ItemPayload `json:"itens"`
}

// OrderPayload is the order detail block
type OrderPayload struct {
	StatusCode    int           `json:"status_codigo"`
	OrderedAt     time.Time     `json:"data_pedido"`
	Total         string        `json:"valor_total"`
	PaymentMethod string        `json:"forma_pagamento"`
	PaymentLink   string        `json:"link_pagamento,omitempty"`
	Payment       PaymentBlock  `json:"pagamento"`
	Items         []ItemPayload `json:"itens"`
}

// PaymentBlock is the payment enrichment; Status is EnrichmentPending when
// the payment lookup produced nothing
type PaymentBlock struct {
	Status    string `json:"status"`
	Method    string `json:"forma,omitempty"`
	Gateway   string `json:"gateway,omitempty"`
	Link      string `json:"link,omitempty"`
	BoletoURL string `json:"boleto_url,omitempty"`
	PixCode   string `json:"pix_copia_cola,omitempty"`
}

// ShipmentBlock is the delivery enrichment; Status is EnrichmentPending when
// no tracking information is available yet
type ShipmentBlock struct {
	Status            string               `json:"status"`
	TrackingCode      string               `json:"codigo_rastreio"`
	Carrier           string               `json:"transportadora"`
	TrackingURL       string               `json:"link_rastreio"`
	EstimatedDelivery string               `json:"previsao_entrega"`
	PostedAt          string               `json:"data_postagem"`
	Events            []TrackingEventBlock `json:"eventos"`
}

// TrackingEventBlock is a tracking update inside the shipment block
type TrackingEventBlock struct {
	At          time.Time `json:"data"`
	Status      string    `json:"status"`
	Location    string    `json:"local,omitempty"`
	Description string    `json:"descricao,omitempty"`
}

// OriginBlock identifies where and when the event was captured
type OriginBlock struct {
	Source      string    `json:"fonte"`
	CapturedAt  time.Time `json:"capturado_em"`
	UniqueToken string    `json:"identificador_unico"`
}

// DeliveryResult is the outcome of posting one event to the CRM
type DeliveryResult struct {
	Key        string
	Kind       EventKind
	Success    bool
	StatusCode int
	Response   string
	Err        error
}
