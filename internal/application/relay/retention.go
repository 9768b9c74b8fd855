package relay

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/neese/crmsync/internal/domain/relay"
)

// Retention defaults
const (
	DefaultLedgerRetentionDays  = 30
	DefaultSyncLogRetentionDays = 15
)

// RetentionConfig sets how long ledger entries and sync logs are kept
type RetentionConfig struct {
	LedgerDays  int
	SyncLogDays int
}

// PurgeResult reports what a purge removed
type PurgeResult struct {
	EventsRemoved int64
	LogsRemoved   int64
	Config        RetentionConfig
}

// RetentionService deletes expired ledger entries and sync logs
type RetentionService struct {
	cfg    RetentionConfig
	ledger relay.Ledger
	logs   relay.SyncLogRepository
	clock  clockwork.Clock
	logger *zap.Logger
}

// NewRetentionService creates a new RetentionService
func NewRetentionService(
	cfg RetentionConfig,
	ledger relay.Ledger,
	logs relay.SyncLogRepository,
	clock clockwork.Clock,
	logger *zap.Logger,
) *RetentionService {
	if cfg.LedgerDays <= 0 {
		cfg.LedgerDays = DefaultLedgerRetentionDays
	}
	if cfg.SyncLogDays <= 0 {
		cfg.SyncLogDays = DefaultSyncLogRetentionDays
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RetentionService{cfg: cfg, ledger: ledger, logs: logs, clock: clock, logger: logger}
}

// Purge deletes ledger entries and sync logs past their retention
func (s *RetentionService) Purge(ctx context.Context) (*PurgeResult, error) {
	now := s.clock.Now().UTC()
	result := &PurgeResult{Config: s.cfg}

	events, err := s.ledger.PurgeOlderThan(ctx, now.AddDate(0, 0, -s.cfg.LedgerDays))
	if err != nil {
		return nil, fmt.Errorf("purge ledger: %w", err)
	}
	result.EventsRemoved = events

	if s.logs != nil {
		logs, err := s.logs.PurgeOlderThan(ctx, now.AddDate(0, 0, -s.cfg.SyncLogDays))
		if err != nil {
			return nil, fmt.Errorf("purge sync logs: %w", err)
		}
		result.LogsRemoved = logs
	}

	s.logger.Info("Retention purge completed",
		zap.Int64("events_removed", result.EventsRemoved),
		zap.Int64("logs_removed", result.LogsRemoved),
		zap.Duration("elapsed", s.clock.Since(now)),
	)
	return result, nil
}
