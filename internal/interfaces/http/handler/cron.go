package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apprelay "github.com/neese/crmsync/internal/application/relay"
	"github.com/neese/crmsync/internal/domain/relay"
	"github.com/neese/crmsync/internal/interfaces/http/dto"
)

// SyncRunner starts sync passes; implemented by the relay SyncService
type SyncRunner interface {
	TriggerSyncPass(ctx context.Context, trigger relay.TriggerSource) (*apprelay.SyncResult, error)
}

// CronHandler exposes the scheduled and manual sync triggers
type CronHandler struct {
	BaseHandler
	runner SyncRunner
	logger *zap.Logger
}

// NewCronHandler creates a new CronHandler
func NewCronHandler(runner SyncRunner, logger *zap.Logger) *CronHandler {
	return &CronHandler{
		runner: runner,
		logger: logger,
	}
}

// Scheduled runs a pass on behalf of an external scheduler.
// GET /api/v1/cron
func (h *CronHandler) Scheduled(c *gin.Context) {
	h.run(c, relay.TriggerScheduled, "Sincronização executada", false)
}

// Manual runs a pass on operator request and reports per-event outcomes.
// POST /api/v1/cron/manual
func (h *CronHandler) Manual(c *gin.Context) {
	h.run(c, relay.TriggerManual, "Sincronização manual concluída", true)
}

func (h *CronHandler) run(c *gin.Context, trigger relay.TriggerSource, message string, withDeliveries bool) {
	// the pass outlives a dropped client connection; it is bounded by the pass timeout
	ctx := context.WithoutCancel(c.Request.Context())

	h.logger.Info("Sync pass requested",
		zap.String("trigger", string(trigger)),
		zap.String("request_id", getRequestID(c)),
		zap.String("user_agent", c.Request.UserAgent()),
	)

	result, err := h.runner.TriggerSyncPass(ctx, trigger)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	summary := dto.NewSyncPassResponse(trigger, result, withDeliveries)
	if result.Err != nil {
		_ = c.Error(result.Err)
		resp := dto.NewErrorResponseWithRequestID(dto.ErrCodeSyncFailed, result.Err.Error(), getRequestID(c))
		resp.Data = summary
		resp.Timestamp = dto.FormatTime(h.timestamp())
		c.JSON(http.StatusInternalServerError, resp)
		return
	}

	h.Message(c, message, summary)
}
