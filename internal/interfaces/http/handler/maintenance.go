package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	apprelay "github.com/neese/crmsync/internal/application/relay"
	"github.com/neese/crmsync/internal/interfaces/http/dto"
)

// Purger deletes expired ledger entries and sync logs; implemented by the
// relay RetentionService
type Purger interface {
	Purge(ctx context.Context) (*apprelay.PurgeResult, error)
}

// MaintenanceHandler exposes housekeeping operations
type MaintenanceHandler struct {
	BaseHandler
	purger Purger
}

// NewMaintenanceHandler creates a new MaintenanceHandler
func NewMaintenanceHandler(purger Purger) *MaintenanceHandler {
	return &MaintenanceHandler{purger: purger}
}

// Cleanup runs the retention purge.
// POST /api/v1/maintenance/cleanup
func (h *MaintenanceHandler) Cleanup(c *gin.Context) {
	result, err := h.purger.Purge(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Message(c, "Limpeza concluída", dto.NewCleanupResponse(result))
}
