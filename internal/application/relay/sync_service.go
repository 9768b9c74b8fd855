package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/neese/crmsync/internal/domain/relay"
)

// lockMargin is added to the pass timeout for the pass lock TTL
const lockMargin = 30 * time.Second

// SyncService is the single trigger entry point for sync passes. Both the
// scheduled and the manual path go through TriggerSyncPass.
type SyncService struct {
	orchestrator *Orchestrator
	window       relay.WindowPolicy
	ledger       relay.Ledger
	logs         relay.SyncLogRepository
	lock         relay.PassLock
	observer     relay.PassObserver
	lockTTL      time.Duration
	clock        clockwork.Clock
	logger       *zap.Logger
}

// SyncServiceOption configures optional collaborators
type SyncServiceOption func(*SyncService)

// WithPassLock keeps passes from overlapping
func WithPassLock(lock relay.PassLock) SyncServiceOption {
	return func(s *SyncService) {
		s.lock = lock
	}
}

// WithPassObserver records metrics for every pass
func WithPassObserver(observer relay.PassObserver) SyncServiceOption {
	return func(s *SyncService) {
		s.observer = observer
	}
}

// WithSyncLogs persists a summary row per pass
func WithSyncLogs(logs relay.SyncLogRepository) SyncServiceOption {
	return func(s *SyncService) {
		s.logs = logs
	}
}

// WithServiceClock overrides the clock used for sync log timestamps
func WithServiceClock(c clockwork.Clock) SyncServiceOption {
	return func(s *SyncService) {
		s.clock = c
	}
}

// NewSyncService creates a new SyncService
func NewSyncService(
	orchestrator *Orchestrator,
	window relay.WindowPolicy,
	ledger relay.Ledger,
	logger *zap.Logger,
	opts ...SyncServiceOption,
) *SyncService {
	s := &SyncService{
		orchestrator: orchestrator,
		window:       window,
		ledger:       ledger,
		lockTTL:      orchestrator.cfg.PassTimeout + lockMargin,
		clock:        clockwork.NewRealClock(),
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TriggerSyncPass computes the window and runs one pass. The error is
// non-nil only when the pass could not start (lock held, window invalid);
// a pass that ran and failed reports through result.Err.
func (s *SyncService) TriggerSyncPass(ctx context.Context, trigger relay.TriggerSource) (*SyncResult, error) {
	if s.lock != nil {
		release, ok, err := s.lock.TryAcquire(ctx, s.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire pass lock: %w", err)
		}
		if !ok {
			s.logger.Info("Sync pass skipped: another pass is running",
				zap.String("trigger", string(trigger)),
			)
			return nil, relay.ErrSyncInProgress
		}
		defer release()
	}

	startedAt := s.clock.Now().UTC()
	start, end, err := s.window.Compute(ctx, s.ledger)
	if err != nil {
		s.recordLog(ctx, &relay.SyncLog{
			ID:         uuid.New(),
			Trigger:    trigger,
			StartedAt:  startedAt,
			FinishedAt: s.clock.Now().UTC(),
			Status:     relay.SyncLogStatusFailed,
			Error:      err.Error(),
		})
		return nil, fmt.Errorf("compute sync window: %w", err)
	}

	s.logger.Info("Sync pass triggered",
		zap.String("trigger", string(trigger)),
		zap.String("window_mode", string(s.window.Mode)),
		zap.Time("window_start", start),
		zap.Time("window_end", end),
	)

	result := s.orchestrator.RunSyncPass(ctx, start, end)

	if s.observer != nil {
		s.observer.ObservePass(ctx, result.Stats(trigger))
	}
	s.recordLog(ctx, syncLogFromResult(trigger, startedAt, s.clock.Now().UTC(), result))
	return result, nil
}

func (s *SyncService) recordLog(ctx context.Context, entry *relay.SyncLog) {
	if s.logs == nil {
		return
	}
	// The pass context may already be done; the log row is still wanted.
	ctx = context.WithoutCancel(ctx)
	if err := s.logs.Record(ctx, entry); err != nil {
		s.logger.Warn("Failed to record sync log", zap.Error(err))
	}
}

// RecentLogs returns the most recent sync log rows
func (s *SyncService) RecentLogs(ctx context.Context, limit int) ([]relay.SyncLog, error) {
	if s.logs == nil {
		return []relay.SyncLog{}, nil
	}
	return s.logs.List(ctx, limit)
}

// LedgerStats returns ledger entry counts
func (s *SyncService) LedgerStats(ctx context.Context) (relay.LedgerStats, error) {
	return s.ledger.Stats(ctx)
}

func syncLogFromResult(trigger relay.TriggerSource, startedAt, finishedAt time.Time, r *SyncResult) *relay.SyncLog {
	entry := &relay.SyncLog{
		ID:              r.PassID,
		Trigger:         trigger,
		WindowStart:     r.WindowStart,
		WindowEnd:       r.WindowEnd,
		StartedAt:       startedAt,
		FinishedAt:      finishedAt,
		DurationMs:      r.Duration.Milliseconds(),
		EventsFound:     r.EventsFound,
		EventsProcessed: r.EventsRegistered,
		EventsDelivered: r.EventsDelivered,
		Status:          relay.SyncLogStatusSuccess,
	}
	switch {
	case r.Err != nil:
		entry.Status = relay.SyncLogStatusFailed
		entry.Error = r.Err.Error()
	case r.EventsFailed > 0 || !r.WatermarkAdvanced:
		entry.Status = relay.SyncLogStatusPartial
	}
	return entry
}
