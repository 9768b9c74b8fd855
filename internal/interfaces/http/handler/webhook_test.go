package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/neese/crmsync/internal/domain/relay"
	"github.com/neese/crmsync/internal/infrastructure/ecommerce"
	"github.com/neese/crmsync/internal/interfaces/http/dto"
	"github.com/neese/crmsync/internal/interfaces/http/middleware"
)

type fakeRelayer struct {
	mu       sync.Mutex
	received []*relay.WebhookNotification
	result   *relay.DeliveryResult
	err      error
	block    chan struct{}
}

func (f *fakeRelayer) Relay(ctx context.Context, n *relay.WebhookNotification) (*relay.DeliveryResult, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, n)
	return f.result, f.err
}

func (f *fakeRelayer) notifications() []*relay.WebhookNotification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*relay.WebhookNotification(nil), f.received...)
}

type webhookObservation struct {
	kind      relay.EventKind
	delivered bool
}

type fakeWebhookObserver struct {
	mu   sync.Mutex
	seen []webhookObservation
}

func (o *fakeWebhookObserver) ObserveWebhook(_ context.Context, kind relay.EventKind, delivered bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, webhookObservation{kind, delivered})
}

func newWebhookRouter(h *WebhookHandler, limit int64) *gin.Engine {
	router := gin.New()
	router.Use(middleware.BodyLimit(limit))
	router.POST("/api/v1/webhook/magazord", h.Magazord)
	router.GET("/api/v1/webhook/health", h.Health)
	return router
}

func postWebhook(router *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/magazord", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func waitRelays(t *testing.T, h *WebhookHandler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(ctx))
}

func TestWebhookHandler_AcknowledgesAndRelays(t *testing.T) {
	relayer := &fakeRelayer{result: &relay.DeliveryResult{Kind: relay.EventKindCartAbandoned, Success: true, StatusCode: 200}}
	observer := &fakeWebhookObserver{}
	h := NewWebhookHandler(ecommerce.DecodeMagazordWebhook, relayer, zap.NewNop(), WithWebhookObserver(observer))
	router := newWebhookRouter(h, 1<<20)

	w := postWebhook(router, `{"tipo_evento":"carrinho_abandonado","id":77,"status":4,
		"cliente":{"id":5,"nome":"Maria","email":"maria@example.com","telefone":"83987516699"}}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"message":"Webhook recebido"}`, w.Body.String())

	waitRelays(t, h)
	got := relayer.notifications()
	require.Len(t, got, 1)
	assert.Equal(t, relay.WebhookCartAbandoned, got[0].EventType)
	require.NotNil(t, got[0].Cart)
	assert.Equal(t, int64(77), got[0].Cart.ID)

	require.Len(t, observer.seen, 1)
	assert.Equal(t, webhookObservation{relay.EventKindCartAbandoned, true}, observer.seen[0])
}

func TestWebhookHandler_RespondsBeforeRelayCompletes(t *testing.T) {
	relayer := &fakeRelayer{block: make(chan struct{}), result: &relay.DeliveryResult{Success: true}}
	h := NewWebhookHandler(ecommerce.DecodeMagazordWebhook, relayer, zap.NewNop())
	router := newWebhookRouter(h, 1<<20)

	w := postWebhook(router, `{"event":"pedido_criado","id":9,"codigo":"P9","pedidoSituacao":1}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, relayer.notifications(), "relay still blocked")

	close(relayer.block)
	waitRelays(t, h)
	assert.Len(t, relayer.notifications(), 1)
}

func TestWebhookHandler_UnknownEventAcknowledgedNotRelayed(t *testing.T) {
	relayer := &fakeRelayer{}
	h := NewWebhookHandler(ecommerce.DecodeMagazordWebhook, relayer, zap.NewNop())
	router := newWebhookRouter(h, 1<<20)

	w := postWebhook(router, `{"tipo_evento":"produto_criado","id":1}`)

	assert.Equal(t, http.StatusOK, w.Code)
	waitRelays(t, h)
	assert.Empty(t, relayer.notifications())
}

func TestWebhookHandler_MalformedBody(t *testing.T) {
	relayer := &fakeRelayer{}
	h := NewWebhookHandler(ecommerce.DecodeMagazordWebhook, relayer, zap.NewNop())
	router := newWebhookRouter(h, 1<<20)

	w := postWebhook(router, `{"tipo_evento":`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), dto.ErrCodeInvalidJSON)
	waitRelays(t, h)
	assert.Empty(t, relayer.notifications())
}

func TestWebhookHandler_BodyTooLarge(t *testing.T) {
	h := NewWebhookHandler(ecommerce.DecodeMagazordWebhook, &fakeRelayer{}, zap.NewNop())
	router := newWebhookRouter(h, 64)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/magazord",
		strings.NewReader(`{"tipo_evento":"carrinho_abandonado","id":1,"padding":"`+strings.Repeat("x", 200)+`"}`))
	req.ContentLength = -1
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestWebhookHandler_FailuresAreObserved(t *testing.T) {
	tests := []struct {
		name    string
		relayer *fakeRelayer
		want    []webhookObservation
	}{
		{
			name: "delivery failure",
			relayer: &fakeRelayer{
				result: &relay.DeliveryResult{Kind: relay.EventKindCartOpened, StatusCode: 500},
				err:    relay.ErrDeliveryFailed,
			},
			want: []webhookObservation{{relay.EventKindCartOpened, false}},
		},
		{
			name:    "suppressed event",
			relayer: &fakeRelayer{err: relay.ErrEventSuppressed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			observer := &fakeWebhookObserver{}
			h := NewWebhookHandler(ecommerce.DecodeMagazordWebhook, tt.relayer, zap.NewNop(), WithWebhookObserver(observer))

			w := postWebhook(newWebhookRouter(h, 1<<20), `{"tipo_evento":"carrinho_criado","id":3}`)
			assert.Equal(t, http.StatusOK, w.Code)

			waitRelays(t, h)
			assert.Equal(t, tt.want, observer.seen)
		})
	}
}

func TestWebhookHandler_RelayTimeout(t *testing.T) {
	relayer := &fakeRelayer{block: make(chan struct{})}
	h := NewWebhookHandler(ecommerce.DecodeMagazordWebhook, relayer, zap.NewNop(), WithRelayTimeout(20*time.Millisecond))

	postWebhook(newWebhookRouter(h, 1<<20), `{"tipo_evento":"carrinho_criado","id":3}`)

	waitRelays(t, h)
	assert.Empty(t, relayer.notifications(), "relay gave up at the timeout")
}

func TestWebhookHandler_WaitHonoursContext(t *testing.T) {
	relayer := &fakeRelayer{block: make(chan struct{})}
	h := NewWebhookHandler(ecommerce.DecodeMagazordWebhook, relayer, zap.NewNop())
	postWebhook(newWebhookRouter(h, 1<<20), `{"tipo_evento":"carrinho_criado","id":3}`)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.Wait(ctx), context.DeadlineExceeded)

	close(relayer.block)
	waitRelays(t, h)
}

func TestWebhookHandler_Health(t *testing.T) {
	h := NewWebhookHandler(ecommerce.DecodeMagazordWebhook, &fakeRelayer{}, zap.NewNop())
	h.now = func() time.Time { return fixedNow }

	w := httptest.NewRecorder()
	newWebhookRouter(h, 0).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/webhook/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"message":"Webhook está funcionando","timestamp":"2025-06-01T15:00:00.000Z"}`, w.Body.String())
}
