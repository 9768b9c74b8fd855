package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/neese/crmsync/internal/domain/relay"
	"github.com/neese/crmsync/internal/interfaces/http/dto"
)

// Sync log paging bounds
const (
	DefaultSyncLogLimit = 20
	MaxSyncLogLimit     = 100
)

// SyncReporter reads pass history and ledger counts; implemented by the
// relay SyncService
type SyncReporter interface {
	RecentLogs(ctx context.Context, limit int) ([]relay.SyncLog, error)
	LedgerStats(ctx context.Context) (relay.LedgerStats, error)
}

// LedgerStatsRecorder publishes ledger counts as metrics
type LedgerStatsRecorder interface {
	RecordLedgerStats(ctx context.Context, stats relay.LedgerStats)
}

// SyncHandler serves sync history and ledger statistics
type SyncHandler struct {
	BaseHandler
	reporter SyncReporter
	recorder LedgerStatsRecorder
}

// NewSyncHandler creates a new SyncHandler. recorder may be nil.
func NewSyncHandler(reporter SyncReporter, recorder LedgerStatsRecorder) *SyncHandler {
	return &SyncHandler{reporter: reporter, recorder: recorder}
}

// ListLogs returns the most recent pass summaries, newest first.
// GET /api/v1/sync/logs?limit=20
func (h *SyncHandler) ListLogs(c *gin.Context) {
	limit := DefaultSyncLogLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > MaxSyncLogLimit {
			h.BadRequest(c, "limit must be an integer between 1 and 100")
			return
		}
		limit = n
	}

	logs, err := h.reporter.RecentLogs(c.Request.Context(), limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewSyncLogResponses(logs))
}

// LedgerStats returns total, delivered and pending ledger counts.
// GET /api/v1/ledger/stats
func (h *SyncHandler) LedgerStats(c *gin.Context) {
	stats, err := h.reporter.LedgerStats(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if h.recorder != nil {
		h.recorder.RecordLedgerStats(c.Request.Context(), stats)
	}
	h.Success(c, dto.NewLedgerStatsResponse(stats))
}
