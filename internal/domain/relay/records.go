package relay

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Cart
// ---------------------------------------------------------------------------

// CartStatus represents the lifecycle status of a storefront cart
type CartStatus string

const (
	// CartStatusOpen indicates the shopper is still adding items
	CartStatusOpen CartStatus = "open"
	// CartStatusCheckout indicates the shopper reached checkout and is awaiting payment
	CartStatusCheckout CartStatus = "checkout"
	// CartStatusAbandoned indicates the cart was left without purchase
	CartStatusAbandoned CartStatus = "abandoned"
	// CartStatusConverted indicates the cart became an order
	CartStatusConverted CartStatus = "converted"
)

// cartStatusCodes maps statuses to the numeric codes used by the storefront
var cartStatusCodes = map[CartStatus]int{
	CartStatusOpen:      1,
	CartStatusCheckout:  2,
	CartStatusConverted: 3,
	CartStatusAbandoned: 4,
}

var cartStatusDescriptions = map[CartStatus]string{
	CartStatusOpen:      "Carrinho Aberto",
	CartStatusCheckout:  "Comprou (Aguardando Pagamento)",
	CartStatusConverted: "Comprado",
	CartStatusAbandoned: "Carrinho Abandonado",
}

// IsValid returns true if the cart status is valid
func (s CartStatus) IsValid() bool {
	_, ok := cartStatusCodes[s]
	return ok
}

// String returns the string representation of CartStatus
func (s CartStatus) String() string {
	return string(s)
}

// Code returns the storefront numeric code, or 0 for an unknown status
func (s CartStatus) Code() int {
	return cartStatusCodes[s]
}

// Description returns the human readable label sent in the status block
func (s CartStatus) Description() string {
	if d, ok := cartStatusDescriptions[s]; ok {
		return d
	}
	return string(s)
}

// CartStatusFromCode converts a storefront status code to a CartStatus
func CartStatusFromCode(code int) (CartStatus, bool) {
	for status, c := range cartStatusCodes {
		if c == code {
			return status, true
		}
	}
	return "", false
}

// LineItem is a single product line of a cart or order
type LineItem struct {
	ProductID   int64
	Description string
	Quantity    int
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
}

// Total returns the line total, computing it from quantity and unit price
// when the source did not provide one
func (i LineItem) Total() decimal.Decimal {
	if !i.LineTotal.IsZero() {
		return i.LineTotal
	}
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// CartRecord is a cart as read from the storefront
type CartRecord struct {
	// ID is the storefront cart identifier
	ID int64
	// Status is the lifecycle status
	Status CartStatus
	// Total is the cart monetary total
	Total decimal.Decimal
	// Items are the cart lines
	Items []LineItem
	// PersonID links the cart to a storefront person, if known
	PersonID *int64
	// OrderRef is the linked order code once the cart converts
	OrderRef string
	// Hash is the storefront cart hash used to build the recovery link
	Hash string
	// RecoveryURL is an explicit checkout recovery URL provided by the storefront
	RecoveryURL string
	// PersonName, PersonEmail and PersonContact are denormalized contact fields
	PersonName    string
	PersonEmail   string
	PersonContact string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Contact returns the denormalized contact fields captured on the cart
func (c *CartRecord) Contact() ContactFields {
	return ContactFields{Name: c.PersonName, Email: c.PersonEmail, Phone: c.PersonContact}
}

// RecoveryLink returns the checkout recovery link for the cart. An explicit
// URL wins; otherwise one is built from the storefront base URL and the hash.
func (c *CartRecord) RecoveryLink(storefrontURL string) string {
	if c.RecoveryURL != "" {
		return c.RecoveryURL
	}
	if c.Hash == "" || storefrontURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/carrinho/%s", strings.TrimRight(storefrontURL, "/"), c.Hash)
}

// ---------------------------------------------------------------------------
// Order
// ---------------------------------------------------------------------------

// SituationCode is the storefront order lifecycle state (open enum)
type SituationCode int

const (
	SituationAwaitingPayment             SituationCode = 1
	SituationPaymentCanceled             SituationCode = 2
	SituationPaymentReview               SituationCode = 3
	SituationApproved                    SituationCode = 4
	SituationApprovedIntegrated          SituationCode = 5
	SituationInvoiceIssued               SituationCode = 6
	SituationInTransit                   SituationCode = 7
	SituationDelivered                   SituationCode = 8
	SituationPaymentReviewCanceled       SituationCode = 14
	SituationAwaitingPaymentDifferential SituationCode = 15
)

var situationDescriptions = map[SituationCode]string{
	1:  "Aguardando Pagamento",
	2:  "Cancelado Pagamento",
	3:  "Em análise Pagamento",
	4:  "Aprovado",
	5:  "Aprovado e Integrado",
	6:  "Nota Fiscal Emitida",
	7:  "Transporte",
	8:  "Entregue",
	9:  "Fraude",
	10: "Chargeback",
	11: "Disputa",
	12: "Aprovado Análise de Pagamento",
	13: "Em análise de pagamento (interna)",
	14: "Cancelado Pagamento Análise",
	15: "Aguardando Pagamento (Diferenciado)",
	16: "Problema Fluxo Postal",
	17: "Devolvido Financeiro",
	18: "Aguardando Atualização de Dados",
	19: "Aguardando Chegada do Produto",
	20: "Devolvido Estoque (Dep. 1)",
	21: "Devolvido Estoque (Outros Dep.)",
	22: "Suspenso Temporariamente",
	23: "Faturamento Iniciado",
	24: "Em Cancelamento",
	25: "Tratamento Pós-Vendas",
	26: "Nota Fiscal Cancelada",
	27: "Crédito por Troca",
	28: "Nota Fiscal Denegada",
	29: "Chargeback Pago",
	30: "Aprovado Parcial",
	31: "Em Logística Reversa",
}

// Description returns the storefront label for the situation code
func (c SituationCode) Description() string {
	if d, ok := situationDescriptions[c]; ok {
		return d
	}
	return fmt.Sprintf("Status %d", int(c))
}

// IsKnown returns true if the code is one of the documented situations
func (c SituationCode) IsKnown() bool {
	_, ok := situationDescriptions[c]
	return ok
}

// String returns the decimal representation used in ledger keys
func (c SituationCode) String() string {
	return fmt.Sprintf("%d", int(c))
}

// OrderRecord is an order as read from the storefront
type OrderRecord struct {
	// ID is the storefront order identifier
	ID int64
	// Code is the human order code (used by payment and tracking endpoints)
	Code string
	// Situation is the order lifecycle state
	Situation SituationCode
	// Total is the order monetary total
	Total decimal.Decimal
	// PaymentMethod is the payment method label, e.g. "Pix" or "Cartão - Visa"
	PaymentMethod string
	// PaymentLink is a payment link carried on the order itself, if any
	PaymentLink string
	// Items are the order lines
	Items []LineItem
	// PersonID links the order to a storefront person, if known
	PersonID *int64
	// PersonName, PersonEmail and PersonContact are captured at order time
	PersonName    string
	PersonEmail   string
	PersonContact string
	// ShipmentRef is the shipment reference, if any
	ShipmentRef string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Contact returns the denormalized contact fields captured on the order
func (o *OrderRecord) Contact() ContactFields {
	return ContactFields{Name: o.PersonName, Email: o.PersonEmail, Phone: o.PersonContact}
}

// ---------------------------------------------------------------------------
// Person, shipment and payment
// ---------------------------------------------------------------------------

// PersonRecord is a storefront customer
type PersonRecord struct {
	ID    int64
	Name  string
	Email string
	// Phone is the raw phone as stored upstream, before normalization
	Phone string
}

// ContactFields are the name/e-mail/phone candidates a record carries
type ContactFields struct {
	Name  string
	Email string
	Phone string
}

// ShipmentRecord is the tracking information of an order
type ShipmentRecord struct {
	TrackingCode      string
	Carrier           string
	TrackingURL       string
	EstimatedDelivery *time.Time
	PostedAt          *time.Time
	Events            []TrackingEvent
}

// TrackingEvent is a single carrier tracking update
type TrackingEvent struct {
	At          time.Time
	Status      string
	Location    string
	Description string
}

// PaymentInfo is the payment detail of an order
type PaymentInfo struct {
	Method    string
	Gateway   string
	Amount    decimal.Decimal
	BoletoURL string
	PixCode   string
}

// Link returns the payment link: the pix copy-paste code first, then the boleto URL
func (p *PaymentInfo) Link() string {
	if p == nil {
		return ""
	}
	if p.PixCode != "" {
		return p.PixCode
	}
	return p.BoletoURL
}
