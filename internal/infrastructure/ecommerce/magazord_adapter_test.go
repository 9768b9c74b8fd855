package ecommerce

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/neese/crmsync/internal/domain/relay"
)

// ---------------------------------------------------------------------------
// Config Tests
// ---------------------------------------------------------------------------

func TestMagazordConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  *MagazordConfig
		wantErr error
	}{
		{
			name:   "valid config",
			config: &MagazordConfig{BaseURL: "https://loja.painel.magazord.com.br/api/", Username: "u", Password: "p"},
		},
		{
			name:    "missing base url",
			config:  &MagazordConfig{Username: "u", Password: "p"},
			wantErr: ErrMagazordConfigMissingBaseURL,
		},
		{
			name:    "missing password",
			config:  &MagazordConfig{BaseURL: "https://x", Username: "u"},
			wantErr: ErrMagazordConfigMissingCredentials,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "https://loja.painel.magazord.com.br/api", tt.config.BaseURL)
			assert.Equal(t, DefaultMagazordPageLimit, tt.config.PageLimit)
			assert.Equal(t, DefaultMagazordTimeout, tt.config.Timeout)
		})
	}
}

// ---------------------------------------------------------------------------
// Adapter Tests
// ---------------------------------------------------------------------------

func newTestMagazordAdapter(t *testing.T, handler http.HandlerFunc) *MagazordAdapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := NewMagazordConfig(server.URL+"/api", "user", "secret")
	adapter, err := NewMagazordAdapter(cfg, zap.NewNop())
	require.NoError(t, err)
	return adapter
}

func TestMagazordAdapter_FetchCarts(t *testing.T) {
	var itemCalls atomic.Int32
	adapter := newTestMagazordAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "user" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		switch r.URL.Path {
		case "/api/v2/site/carrinho":
			assert.Equal(t, "2025-06-01T09:00:00", r.URL.Query().Get("dataAtualizacaoInicio"))
			assert.Equal(t, "2025-06-01T09:20:00", r.URL.Query().Get("dataAtualizacaoFim"))
			assert.Equal(t, "100", r.URL.Query().Get("limit"))
			fmt.Fprint(w, `{"status":"success","data":{"items":[
				{"id":999003,"status":4,"hash":"abc123","valorTotal":"180.00","pessoaId":"55",
				 "pessoaNome":"Maria","pessoaContato":"(83) 98751-6699","dataAtualizacao":"2025-06-01 09:10:00"},
				{"id":999004,"status":2,"valorTotal":99.9,"itens":[{"produtoId":7,"nome":"Jaleco","quantidade":1,"valorUnitario":"99.90"}]}
			],"has_more":false}}`)
		case "/api/v2/site/carrinho/999003/itens":
			itemCalls.Add(1)
			fmt.Fprint(w, `{"data":[{"produtoId":1,"nome":"Jaleco Branco","quantidade":3,"valorUnitario":"60.00"}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	carts, err := adapter.FetchCarts(context.Background(), start, start.Add(20*time.Minute))
	require.NoError(t, err)
	require.Len(t, carts, 2)

	first := carts[0]
	assert.Equal(t, int64(999003), first.ID)
	assert.Equal(t, relay.CartStatusAbandoned, first.Status)
	assert.True(t, decimal.RequireFromString("180").Equal(first.Total))
	require.NotNil(t, first.PersonID)
	assert.Equal(t, int64(55), *first.PersonID)
	assert.Equal(t, "abc123", first.Hash)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 10, 0, 0, time.UTC), first.UpdatedAt)
	require.Len(t, first.Items, 1, "items filled from the items endpoint")
	assert.Equal(t, 3, first.Items[0].Quantity)

	assert.Equal(t, relay.CartStatusCheckout, carts[1].Status)
	require.Len(t, carts[1].Items, 1)
	assert.Equal(t, int32(1), itemCalls.Load())
}

func TestMagazordAdapter_FetchOrders_Paginates(t *testing.T) {
	var (
		mu    sync.Mutex
		pages []string
	)
	adapter := newTestMagazordAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "2025-06-01T09:00:00-03:00", q.Get("dataHora[gte]"))
		mu.Lock()
		pages = append(pages, q.Get("page"))
		mu.Unlock()
		limit, _ := strconv.Atoi(q.Get("limit"))

		n := limit
		if q.Get("page") == "2" {
			n = 1
		}
		fmt.Fprint(w, `{"data":{"items":[`)
		for i := 0; i < n; i++ {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"id":%s%03d,"codigo":"P%d","pedidoSituacao":1,"valorTotal":"10.00","formaPagamentoNome":"Pix"}`, q.Get("page"), i, i)
		}
		fmt.Fprint(w, `]}}`)
	})
	adapter.config.PageLimit = 3

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	orders, err := adapter.FetchOrders(context.Background(), start, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, orders, 4)
	mu.Lock()
	assert.Equal(t, []string{"1", "2"}, pages)
	mu.Unlock()
	assert.Equal(t, relay.SituationAwaitingPayment, orders[0].Situation)
	assert.Equal(t, "Pix", orders[0].PaymentMethod)
}

func TestMagazordAdapter_FetchOrders_MaxPages(t *testing.T) {
	var calls atomic.Int32
	adapter := newTestMagazordAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"data":{"items":[{"id":1},{"id":2}]}}`)
	})
	adapter.config.PageLimit = 2
	adapter.config.MaxPages = 3

	orders, err := adapter.FetchOrders(context.Background(), time.Now().Add(-time.Hour), time.Now())
	assert.ErrorIs(t, err, relay.ErrSourceTruncated)
	assert.Len(t, orders, 6)
	assert.Equal(t, int32(3), calls.Load())
}

func TestMagazordAdapter_FetchCarts_MaxPagesKeepsReadCarts(t *testing.T) {
	adapter := newTestMagazordAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"items":[{"id":1,"itens":[{"nome":"A"}]},{"id":2,"itens":[{"nome":"B"}]}]}}`)
	})
	adapter.config.PageLimit = 2
	adapter.config.MaxPages = 2

	carts, err := adapter.FetchCarts(context.Background(), time.Now().Add(-time.Hour), time.Now())
	assert.ErrorIs(t, err, relay.ErrSourceTruncated)
	assert.Len(t, carts, 4)
}

func TestMagazordAdapter_FetchOrders_ShortLastPageNotTruncated(t *testing.T) {
	var calls atomic.Int32
	adapter := newTestMagazordAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 2 {
			fmt.Fprint(w, `{"data":{"items":[{"id":3}]}}`)
			return
		}
		fmt.Fprint(w, `{"data":{"items":[{"id":1},{"id":2}]}}`)
	})
	adapter.config.PageLimit = 2
	adapter.config.MaxPages = 2

	orders, err := adapter.FetchOrders(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Len(t, orders, 3)
}

func TestMagazordAdapter_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"server error", http.StatusBadGateway, "", relay.ErrSourceUnavailable},
		{"client error", http.StatusUnauthorized, "", relay.ErrSourceRequestFailed},
		{"invalid json", http.StatusOK, "<html>", relay.ErrSourceInvalidResponse},
		{"items not a list", http.StatusOK, `{"data":{"items":{"id":1}}}`, relay.ErrSourceInvalidResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := newTestMagazordAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})
			_, err := adapter.FetchOrders(context.Background(), time.Now().Add(-time.Hour), time.Now())
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		server.Close()
		adapter, err := NewMagazordAdapter(NewMagazordConfig(server.URL, "u", "p"), zap.NewNop())
		require.NoError(t, err)

		_, err = adapter.FetchCarts(context.Background(), time.Now().Add(-time.Hour), time.Now())
		assert.ErrorIs(t, err, relay.ErrSourceUnavailable)
	})
}

func TestMagazordAdapter_Lookups(t *testing.T) {
	adapter := newTestMagazordAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v2/site/pessoa/55":
			fmt.Fprint(w, `{"data":{"id":55,"nome":" Maria Silva ","email":"maria@example.com","telefone":"(83) 3333-4444","celular":"(83) 98751-6699"}}`)
		case "/api/v2/site/pedido/77/rastreio":
			fmt.Fprint(w, `{"data":{"codigoRastreio":"BR123","transportadora":"Correios","dataPostagem":"2025-06-02",
				"eventos":[{"dataHora":"2025-06-02T10:00:00-03:00","situacao":"Postado","local":"João Pessoa"}]}}`)
		case "/api/v2/site/pedido/88/rastreio":
			fmt.Fprint(w, `{"data":{}}`)
		case "/api/v2/site/pedido/P77/payments":
			fmt.Fprint(w, `{"data":{"items":[{"formaRecebimento":"Pix","gateway":"pagarme","valor":"250.90","pix":{"qrCode":"00020126pix"}}]}}`)
		case "/api/v2/site/pedido/P88/payments":
			fmt.Fprint(w, `{"data":{"items":[]}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	person, err := adapter.ResolvePerson(ctx, 55)
	require.NoError(t, err)
	require.NotNil(t, person)
	assert.Equal(t, "Maria Silva", person.Name)
	assert.Equal(t, "(83) 98751-6699", person.Phone)

	missing, err := adapter.ResolvePerson(ctx, 56)
	require.NoError(t, err)
	assert.Nil(t, missing)

	shipment, err := adapter.FetchShipment(ctx, 77)
	require.NoError(t, err)
	require.NotNil(t, shipment)
	assert.Equal(t, "BR123", shipment.TrackingCode)
	assert.Equal(t, "Correios", shipment.Carrier)
	require.NotNil(t, shipment.PostedAt)
	require.Len(t, shipment.Events, 1)
	assert.Equal(t, time.Date(2025, 6, 2, 13, 0, 0, 0, time.UTC), shipment.Events[0].At)

	empty, err := adapter.FetchShipment(ctx, 88)
	require.NoError(t, err)
	assert.Nil(t, empty)

	payment, err := adapter.FetchPaymentDetail(ctx, "P77")
	require.NoError(t, err)
	require.NotNil(t, payment)
	assert.Equal(t, "00020126pix", payment.Link())
	assert.Equal(t, "pagarme", payment.Gateway)

	none, err := adapter.FetchPaymentDetail(ctx, "P88")
	require.NoError(t, err)
	assert.Nil(t, none)
}

// ---------------------------------------------------------------------------
// Webhook decoding
// ---------------------------------------------------------------------------

func TestDecodeMagazordWebhook(t *testing.T) {
	received := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("cart event with cliente", func(t *testing.T) {
		body := `{"tipo_evento":"checkout_iniciado","id":"321","status":1,"hash":"h1","valorTotal":"50",
			"cliente":{"id":9,"nome":"Ana","email":"ana@example.com","telefone":"83987516699"}}`

		n, err := DecodeMagazordWebhook([]byte(body), received)
		require.NoError(t, err)
		assert.Equal(t, relay.WebhookCheckoutStarted, n.EventType)
		require.NotNil(t, n.Cart)
		assert.Nil(t, n.Order)
		assert.Equal(t, int64(321), n.Cart.ID)
		require.NotNil(t, n.Cart.PersonID)
		assert.Equal(t, int64(9), *n.Cart.PersonID)
		require.NotNil(t, n.Person)
		assert.Equal(t, "Ana", n.Person.Name)
		assert.Equal(t, received, n.ReceivedAt)
	})

	t.Run("order event via event field", func(t *testing.T) {
		body := `{"event":"status_atualizado","id":42,"codigo":"P42","pedidoSituacao":2,"formaPagamentoNome":"Boleto",
			"rastreamento":{"codigoRastreio":"BR9"}}`

		n, err := DecodeMagazordWebhook([]byte(body), received)
		require.NoError(t, err)
		require.NotNil(t, n.Order)
		assert.Equal(t, relay.SituationPaymentCanceled, n.Order.Situation)
		require.NotNil(t, n.Shipment)
		assert.Equal(t, "BR9", n.Shipment.TrackingCode)
	})

	t.Run("type field fallback", func(t *testing.T) {
		n, err := DecodeMagazordWebhook([]byte(`{"type":"carrinho_abandonado","id":1}`), received)
		require.NoError(t, err)
		assert.Equal(t, relay.WebhookCartAbandoned, n.EventType)
	})

	t.Run("unknown event", func(t *testing.T) {
		n, err := DecodeMagazordWebhook([]byte(`{"tipo_evento":"produto_criado"}`), received)
		assert.ErrorIs(t, err, relay.ErrUnknownWebhookEvent)
		require.NotNil(t, n)
		assert.Nil(t, n.Cart)
	})

	t.Run("malformed body", func(t *testing.T) {
		_, err := DecodeMagazordWebhook([]byte(`not json`), received)
		assert.ErrorIs(t, err, relay.ErrSourceInvalidResponse)
	})
}

func TestMagazordTime_Layouts(t *testing.T) {
	tests := map[string]time.Time{
		`"2025-06-01 09:10:00"`:       time.Date(2025, 6, 1, 12, 10, 0, 0, time.UTC),
		`"2025-06-01T09:10:00"`:       time.Date(2025, 6, 1, 12, 10, 0, 0, time.UTC),
		`"2025-06-01T09:10:00-03:00"`: time.Date(2025, 6, 1, 12, 10, 0, 0, time.UTC),
		`"2025-06-01T12:10:00Z"`:      time.Date(2025, 6, 1, 12, 10, 0, 0, time.UTC),
		`null`:                        {},
	}
	for in, expected := range tests {
		var mt magazordTime
		require.NoError(t, mt.UnmarshalJSON([]byte(in)), in)
		assert.True(t, expected.Equal(mt.Time), in)
	}
}
