package ecommerce

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/neese/crmsync/internal/domain/relay"
)

// brasiliaTime is the fixed UTC-3 offset the storefront uses for naive timestamps
var brasiliaTime = time.FixedZone("BRT", -3*60*60)

// ---------------------------------------------------------------------------
// Scalar helpers
// ---------------------------------------------------------------------------

// flexInt decodes integers sent either as JSON numbers or as quoted strings
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = flexInt(n)
		return nil
	}
	// some endpoints send ids as "123.0"
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexInt(int64(v))
	return nil
}

// magazordTime decodes the timestamp layouts the API emits. Naive values are
// Brasília local time.
type magazordTime struct {
	time.Time
}

var magazordTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (t *magazordTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	var lastErr error
	for _, layout := range magazordTimeLayouts {
		parsed, err := time.ParseInLocation(layout, s, brasiliaTime)
		if err == nil {
			t.Time = parsed.UTC()
			return nil
		}
		lastErr = err
	}
	return lastErr
}

func (t *magazordTime) ptr() *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

// formatCartWindow formats an instant as naive Brasília time without millis
func formatCartWindow(t time.Time) string {
	return t.In(brasiliaTime).Format("2006-01-02T15:04:05")
}

// formatOrderWindow formats an instant as Brasília time with the -03:00 offset
func formatOrderWindow(t time.Time) string {
	return t.In(brasiliaTime).Format("2006-01-02T15:04:05-07:00")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func firstNonZero(values ...flexInt) int64 {
	for _, v := range values {
		if v != 0 {
			return int64(v)
		}
	}
	return 0
}

func firstDecimal(values ...decimal.Decimal) decimal.Decimal {
	for _, v := range values {
		if !v.IsZero() {
			return v
		}
	}
	return decimal.Zero
}

func firstTime(values ...magazordTime) time.Time {
	for _, v := range values {
		if !v.IsZero() {
			return v.Time
		}
	}
	return time.Time{}
}

func personIDPtr(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

// ---------------------------------------------------------------------------
// Envelopes
// ---------------------------------------------------------------------------

// magazordListResponse is the paginated list envelope. Items live under
// data.items; some endpoints put them at the top level.
type magazordListResponse struct {
	Status string `json:"status"`
	Data   struct {
		Items   json.RawMessage `json:"items"`
		HasMore *bool           `json:"has_more"`
		Total   int             `json:"total"`
	} `json:"data"`
	Items json.RawMessage `json:"items"`
}

func (r *magazordListResponse) rawItems() json.RawMessage {
	if len(r.Data.Items) > 0 && string(r.Data.Items) != "null" {
		return r.Data.Items
	}
	return r.Items
}

// magazordObjectResponse is the single object envelope; the object is under
// data, or the body itself when data is absent
type magazordObjectResponse struct {
	Data json.RawMessage `json:"data"`
}

// ---------------------------------------------------------------------------
// Cart
// ---------------------------------------------------------------------------

// MagazordCartItem is a cart or order line
type MagazordCartItem struct {
	ID                 flexInt         `json:"id"`
	ProdutoID          flexInt         `json:"produtoId"`
	ProdutoIDSnake     flexInt         `json:"produto_id"`
	Nome               string          `json:"nome"`
	Descricao          string          `json:"descricao"`
	Quantidade         decimal.Decimal `json:"quantidade"`
	Qtd                decimal.Decimal `json:"qtd"`
	ValorUnitario      decimal.Decimal `json:"valorUnitario"`
	ValorUnitarioSnake decimal.Decimal `json:"valor_unitario"`
	Preco              decimal.Decimal `json:"preco"`
	ValorTotal         decimal.Decimal `json:"valorTotal"`
	ValorTotalSnake    decimal.Decimal `json:"valor_total"`
}

func (i *MagazordCartItem) toDomain() relay.LineItem {
	productID := firstNonZero(i.ProdutoID, i.ProdutoIDSnake, i.ID)
	return relay.LineItem{
		ProductID:   productID,
		Description: firstNonEmpty(i.Nome, i.Descricao),
		Quantity:    int(firstDecimal(i.Quantidade, i.Qtd).IntPart()),
		UnitPrice:   firstDecimal(i.ValorUnitario, i.ValorUnitarioSnake, i.Preco),
		LineTotal:   firstDecimal(i.ValorTotal, i.ValorTotalSnake),
	}
}

func itemsToDomain(items []MagazordCartItem) []relay.LineItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]relay.LineItem, len(items))
	for i := range items {
		out[i] = items[i].toDomain()
	}
	return out
}

// MagazordCart is a cart from /v2/site/carrinho
type MagazordCart struct {
	ID                   flexInt            `json:"id"`
	Status               flexInt            `json:"status"`
	Hash                 string             `json:"hash"`
	LinkRecuperacao      string             `json:"linkRecuperacao"`
	ValorTotal           decimal.Decimal    `json:"valorTotal"`
	ValorTotalSnake      decimal.Decimal    `json:"valor_total"`
	PessoaID             flexInt            `json:"pessoaId"`
	PessoaIDSnake        flexInt            `json:"pessoa_id"`
	ClienteID            flexInt            `json:"cliente_id"`
	PessoaNome           string             `json:"pessoaNome"`
	PessoaEmail          string             `json:"pessoaEmail"`
	PessoaContato        string             `json:"pessoaContato"`
	Pedido               string             `json:"pedido"`
	Itens                []MagazordCartItem `json:"itens"`
	DataInicio           magazordTime       `json:"dataInicio"`
	DataAtualizacao      magazordTime       `json:"dataAtualizacao"`
	DataAtualizacaoSnake magazordTime       `json:"data_atualizacao"`
}

// magazordCartStatuses maps the storefront cart status codes
var magazordCartStatuses = map[int64]relay.CartStatus{
	1: relay.CartStatusOpen,
	2: relay.CartStatusCheckout,
	3: relay.CartStatusConverted,
	4: relay.CartStatusAbandoned,
}

// ToDomain converts the wire cart to a relay.CartRecord. Unknown status
// codes map to an empty status, which no policy allows.
func (c *MagazordCart) ToDomain() relay.CartRecord {
	updated := firstTime(c.DataAtualizacao, c.DataAtualizacaoSnake, c.DataInicio)
	return relay.CartRecord{
		ID:            int64(c.ID),
		Status:        magazordCartStatuses[int64(c.Status)],
		Total:         firstDecimal(c.ValorTotal, c.ValorTotalSnake),
		Items:         itemsToDomain(c.Itens),
		PersonID:      personIDPtr(firstNonZero(c.PessoaID, c.PessoaIDSnake, c.ClienteID)),
		OrderRef:      c.Pedido,
		Hash:          c.Hash,
		RecoveryURL:   c.LinkRecuperacao,
		PersonName:    c.PessoaNome,
		PersonEmail:   c.PessoaEmail,
		PersonContact: c.PessoaContato,
		CreatedAt:     firstTime(c.DataInicio, c.DataAtualizacao),
		UpdatedAt:     updated,
	}
}

// ---------------------------------------------------------------------------
// Order
// ---------------------------------------------------------------------------

// MagazordOrder is an order from /v2/site/pedido
type MagazordOrder struct {
	ID                   flexInt            `json:"id"`
	Codigo               string             `json:"codigo"`
	PedidoSituacao       flexInt            `json:"pedidoSituacao"`
	Status               flexInt            `json:"status"`
	ValorTotal           decimal.Decimal    `json:"valorTotal"`
	ValorTotalSnake      decimal.Decimal    `json:"valor_total"`
	FormaPagamentoNome   string             `json:"formaPagamentoNome"`
	FormaPagamento       string             `json:"formaPagamento"`
	FormaPagamentoSnake  string             `json:"forma_pagamento"`
	LinkPagamento        string             `json:"linkPagamento"`
	LinkPagamentoSnake   string             `json:"link_pagamento"`
	PessoaID             flexInt            `json:"pessoaId"`
	ClienteID            flexInt            `json:"cliente_id"`
	PessoaNome           string             `json:"pessoaNome"`
	PessoaEmail          string             `json:"pessoaEmail"`
	PessoaContato        string             `json:"pessoaContato"`
	CodigoRastreio       string             `json:"codigoRastreio"`
	Itens                []MagazordCartItem `json:"itens"`
	DataHora             magazordTime       `json:"dataHora"`
	DataPedido           magazordTime       `json:"dataPedido"`
	DataPedidoSnake      magazordTime       `json:"data_pedido"`
	DataAtualizacao      magazordTime       `json:"dataAtualizacao"`
	DataAtualizacaoSnake magazordTime       `json:"data_atualizacao"`
}

// ToDomain converts the wire order to a relay.OrderRecord
func (o *MagazordOrder) ToDomain() relay.OrderRecord {
	situation := o.PedidoSituacao
	if situation == 0 {
		situation = o.Status
	}
	created := firstTime(o.DataHora, o.DataPedido, o.DataPedidoSnake)
	updated := firstTime(o.DataAtualizacao, o.DataAtualizacaoSnake)
	if updated.IsZero() {
		updated = created
	}
	return relay.OrderRecord{
		ID:            int64(o.ID),
		Code:          o.Codigo,
		Situation:     relay.SituationCode(situation),
		Total:         firstDecimal(o.ValorTotal, o.ValorTotalSnake),
		PaymentMethod: firstNonEmpty(o.FormaPagamentoNome, o.FormaPagamento, o.FormaPagamentoSnake),
		PaymentLink:   firstNonEmpty(o.LinkPagamento, o.LinkPagamentoSnake),
		Items:         itemsToDomain(o.Itens),
		PersonID:      personIDPtr(firstNonZero(o.PessoaID, o.ClienteID)),
		PersonName:    o.PessoaNome,
		PersonEmail:   o.PessoaEmail,
		PersonContact: o.PessoaContato,
		ShipmentRef:   o.CodigoRastreio,
		CreatedAt:     created,
		UpdatedAt:     updated,
	}
}

// ---------------------------------------------------------------------------
// Person, tracking and payment
// ---------------------------------------------------------------------------

// MagazordPerson is a customer from /v2/site/pessoa/{id}
type MagazordPerson struct {
	ID       flexInt `json:"id"`
	Nome     string  `json:"nome"`
	Email    string  `json:"email"`
	Telefone string  `json:"telefone"`
	Celular  string  `json:"celular"`
}

// ToDomain converts the wire person; a mobile number wins over a landline
func (p *MagazordPerson) ToDomain() *relay.PersonRecord {
	return &relay.PersonRecord{
		ID:    int64(p.ID),
		Name:  strings.TrimSpace(p.Nome),
		Email: strings.TrimSpace(p.Email),
		Phone: firstNonEmpty(p.Celular, p.Telefone),
	}
}

// MagazordTrackingEvent is a carrier update inside a tracking response
type MagazordTrackingEvent struct {
	DataHora  magazordTime `json:"dataHora"`
	Situacao  string       `json:"situacao"`
	Local     string       `json:"local"`
	Descricao string       `json:"descricao"`
}

// MagazordTracking is the body of /v2/site/pedido/{code}/rastreio
type MagazordTracking struct {
	CodigoRastreio      string                  `json:"codigoRastreio"`
	Codigo              string                  `json:"codigo"`
	Transportadora      string                  `json:"transportadora"`
	TransportadoraNome  string                  `json:"transportadoraNome"`
	URL                 string                  `json:"url"`
	LinkRastreio        string                  `json:"linkRastreio"`
	DataPrevisaoEntrega magazordTime            `json:"dataPrevisaoEntrega"`
	DataPostagem        magazordTime            `json:"dataPostagem"`
	Eventos             []MagazordTrackingEvent `json:"eventos"`
}

// ToDomain converts the wire tracking data
func (t *MagazordTracking) ToDomain() *relay.ShipmentRecord {
	s := &relay.ShipmentRecord{
		TrackingCode:      firstNonEmpty(t.CodigoRastreio, t.Codigo),
		Carrier:           firstNonEmpty(t.TransportadoraNome, t.Transportadora),
		TrackingURL:       firstNonEmpty(t.LinkRastreio, t.URL),
		EstimatedDelivery: t.DataPrevisaoEntrega.ptr(),
		PostedAt:          t.DataPostagem.ptr(),
	}
	for _, e := range t.Eventos {
		s.Events = append(s.Events, relay.TrackingEvent{
			At:          e.DataHora.Time,
			Status:      e.Situacao,
			Location:    e.Local,
			Description: e.Descricao,
		})
	}
	return s
}

// MagazordPayment is an item of /v2/site/pedido/{code}/payments
type MagazordPayment struct {
	FormaRecebimento string          `json:"formaRecebimento"`
	Gateway          string          `json:"gateway"`
	Valor            decimal.Decimal `json:"valor"`
	Boleto           *struct {
		URL            string `json:"url"`
		Situacao       string `json:"situacao"`
		DataVencimento string `json:"dataVencimento"`
	} `json:"boleto"`
	Pix *struct {
		QRCode        string `json:"qrCode"`
		Situacao      string `json:"situacao"`
		DataExpiracao string `json:"dataExpiracao"`
	} `json:"pix"`
}

// ToDomain converts the wire payment
func (p *MagazordPayment) ToDomain() *relay.PaymentInfo {
	info := &relay.PaymentInfo{
		Method:  p.FormaRecebimento,
		Gateway: p.Gateway,
		Amount:  p.Valor,
	}
	if p.Boleto != nil {
		info.BoletoURL = p.Boleto.URL
	}
	if p.Pix != nil {
		info.PixCode = p.Pix.QRCode
	}
	return info
}
