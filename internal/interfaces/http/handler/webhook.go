package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/neese/crmsync/internal/domain/relay"
	"github.com/neese/crmsync/internal/interfaces/http/dto"
)

// DefaultWebhookRelayTimeout bounds one asynchronous relay
const DefaultWebhookRelayTimeout = 30 * time.Second

// WebhookDecoder parses a storefront notification body
type WebhookDecoder func(body []byte, receivedAt time.Time) (*relay.WebhookNotification, error)

// WebhookRelayer forwards one notification to the CRM; implemented by the
// relay WebhookRelay
type WebhookRelayer interface {
	Relay(ctx context.Context, n *relay.WebhookNotification) (*relay.DeliveryResult, error)
}

// WebhookObserver counts relayed notifications; implemented by telemetry.SyncMetrics
type WebhookObserver interface {
	ObserveWebhook(ctx context.Context, kind relay.EventKind, delivered bool)
}

// WebhookHandler acknowledges storefront notifications at once and relays
// them in the background
type WebhookHandler struct {
	BaseHandler
	decode   WebhookDecoder
	relayer  WebhookRelayer
	observer WebhookObserver
	timeout  time.Duration
	logger   *zap.Logger

	wg sync.WaitGroup
}

// WebhookHandlerOption configures optional collaborators
type WebhookHandlerOption func(*WebhookHandler)

// WithWebhookObserver records a metric per relayed notification
func WithWebhookObserver(observer WebhookObserver) WebhookHandlerOption {
	return func(h *WebhookHandler) {
		h.observer = observer
	}
}

// WithRelayTimeout overrides DefaultWebhookRelayTimeout
func WithRelayTimeout(d time.Duration) WebhookHandlerOption {
	return func(h *WebhookHandler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(decode WebhookDecoder, relayer WebhookRelayer, logger *zap.Logger, opts ...WebhookHandlerOption) *WebhookHandler {
	h := &WebhookHandler{
		decode:  decode,
		relayer: relayer,
		timeout: DefaultWebhookRelayTimeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Magazord receives a storefront notification.
// POST /api/v1/webhook/magazord
func (h *WebhookHandler) Magazord(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.Error(c, http.StatusRequestEntityTooLarge, dto.ErrCodeRequestTooLarge, "Request body exceeds maximum allowed size")
			return
		}
		h.BadRequest(c, "Could not read request body")
		return
	}

	n, err := h.decode(body, h.timestamp())
	if err != nil && !errors.Is(err, relay.ErrUnknownWebhookEvent) {
		h.logger.Warn("Malformed webhook body", zap.Error(err), zap.String("request_id", getRequestID(c)))
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidJSON, "Request body is not a valid notification")
		return
	}

	c.JSON(http.StatusOK, dto.Response{Success: true, Message: "Webhook recebido"})

	if err != nil {
		h.logger.Warn("Unknown webhook event type ignored",
			zap.String("event_type", string(n.EventType)),
			zap.String("request_id", getRequestID(c)),
		)
		return
	}
	h.dispatch(n, getRequestID(c))
}

func (h *WebhookHandler) dispatch(n *relay.WebhookNotification, requestID string) {
	log := h.logger.With(
		zap.String("request_id", requestID),
		zap.String("event_type", string(n.EventType)),
	)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()

		result, err := h.relayer.Relay(ctx, n)
		switch {
		case errors.Is(err, relay.ErrEventSuppressed):
			log.Debug("Webhook notification produced no event")
			return
		case err != nil:
			log.Error("Webhook relay failed", zap.Error(err))
		}

		if h.observer != nil && result != nil {
			h.observer.ObserveWebhook(ctx, result.Kind, result.Success)
		}
	}()
}

// Wait blocks until in-flight relays finish or ctx is done
func (h *WebhookHandler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Health reports that the webhook receiver is up.
// GET /api/v1/webhook/health
func (h *WebhookHandler) Health(c *gin.Context) {
	h.Message(c, "Webhook está funcionando", nil)
}
