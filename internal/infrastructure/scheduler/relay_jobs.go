package scheduler

import (
	"context"
	"errors"

	"go.uber.org/zap"

	apprelay "github.com/neese/crmsync/internal/application/relay"
	"github.com/neese/crmsync/internal/domain/relay"
)

// SyncPassRunner runs a sync pass; implemented by the relay SyncService
type SyncPassRunner interface {
	TriggerSyncPass(ctx context.Context, trigger relay.TriggerSource) (*apprelay.SyncResult, error)
}

// Purger deletes expired data; implemented by the relay RetentionService
type Purger interface {
	Purge(ctx context.Context) (*apprelay.PurgeResult, error)
}

// SyncJob returns a job that runs a scheduled sync pass. A pass skipped
// because another one holds the lock is not a failure.
func SyncJob(runner SyncPassRunner, logger *zap.Logger) JobFunc {
	return func(ctx context.Context) error {
		result, err := runner.TriggerSyncPass(ctx, relay.TriggerScheduled)
		if errors.Is(err, relay.ErrSyncInProgress) {
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info("Scheduled sync pass finished",
			zap.Int("events_found", result.EventsFound),
			zap.Int("events_delivered", result.EventsDelivered),
			zap.Int("events_failed", result.EventsFailed),
			zap.Duration("duration", result.Duration),
		)
		return result.Err
	}
}

// RetentionJob returns a job that purges expired ledger entries and sync logs
func RetentionJob(purger Purger) JobFunc {
	return func(ctx context.Context) error {
		_, err := purger.Purge(ctx)
		return err
	}
}

// LedgerStatsSource reports ledger counts; implemented by the relay SyncService
type LedgerStatsSource interface {
	LedgerStats(ctx context.Context) (relay.LedgerStats, error)
}

// LedgerStatsRecorder publishes ledger counts; implemented by telemetry.SyncMetrics
type LedgerStatsRecorder interface {
	RecordLedgerStats(ctx context.Context, stats relay.LedgerStats)
}

// LedgerStatsJob returns a job that refreshes the ledger size gauge
func LedgerStatsJob(source LedgerStatsSource, recorder LedgerStatsRecorder) JobFunc {
	return func(ctx context.Context) error {
		stats, err := source.LedgerStats(ctx)
		if err != nil {
			return err
		}
		recorder.RecordLedgerStats(ctx, stats)
		return nil
	}
}
