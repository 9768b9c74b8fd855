package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/neese/crmsync/internal/domain/relay"
	"github.com/neese/crmsync/internal/infrastructure/persistence/models"
)

// GormLedger implements relay.Ledger on the relay_ledger and relay_watermark tables
type GormLedger struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormLedger creates a new GormLedger
func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db, now: time.Now}
}

// RegisterIfNew inserts the entry unless the key exists. The insert and the
// existence check are a single ON CONFLICT DO NOTHING statement, so
// concurrent callers with the same key see exactly one true.
func (l *GormLedger) RegisterIfNew(ctx context.Context, key string, kind relay.EventKind, subjectID int64, payload []byte) (bool, error) {
	model := &models.LedgerEntryModel{
		Key:       key,
		Kind:      string(kind),
		SubjectID: subjectID,
		Payload:   payload,
		CreatedAt: l.now().UTC(),
	}

	result := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "key"}}, DoNothing: true}).
		Create(model)
	if result.Error != nil {
		return false, fmt.Errorf("register ledger entry %s: %w", key, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// MarkDelivered flags the entry delivered. Marking an already delivered entry
// again is a no-op and not an error.
func (l *GormLedger) MarkDelivered(ctx context.Context, key, response string) error {
	now := l.now().UTC()
	result := l.db.WithContext(ctx).
		Model(&models.LedgerEntryModel{}).
		Where(map[string]any{"key": key, "delivered": false}).
		Updates(map[string]any{
			"delivered":         true,
			"delivery_response": response,
			"delivered_at":      now,
		})
	if result.Error != nil {
		return fmt.Errorf("mark ledger entry %s delivered: %w", key, result.Error)
	}
	if result.RowsAffected == 0 {
		return l.ensureExists(ctx, key)
	}
	return nil
}

// RecordFailure increments the attempt counter of an undelivered entry
func (l *GormLedger) RecordFailure(ctx context.Context, key, reason string) error {
	now := l.now().UTC()
	result := l.db.WithContext(ctx).
		Model(&models.LedgerEntryModel{}).
		Where(map[string]any{"key": key, "delivered": false}).
		Updates(map[string]any{
			"attempts":        gorm.Expr("attempts + 1"),
			"last_error":      reason,
			"last_attempt_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("record ledger failure %s: %w", key, result.Error)
	}
	if result.RowsAffected == 0 {
		return l.ensureExists(ctx, key)
	}
	return nil
}

func (l *GormLedger) ensureExists(ctx context.Context, key string) error {
	var count int64
	if err := l.db.WithContext(ctx).
		Model(&models.LedgerEntryModel{}).
		Where(map[string]any{"key": key}).
		Count(&count).Error; err != nil {
		return fmt.Errorf("look up ledger entry %s: %w", key, err)
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", relay.ErrLedgerEntryNotFound, key)
	}
	return nil
}

// ListPendingRetries returns undelivered entries created after createdAfter
// with fewer than maxAttempts failed attempts, oldest first
func (l *GormLedger) ListPendingRetries(ctx context.Context, createdAfter time.Time, maxAttempts, limit int) ([]relay.LedgerEntry, error) {
	var rows []models.LedgerEntryModel
	query := l.db.WithContext(ctx).
		Where("delivered = ? AND created_at > ? AND attempts < ?", false, createdAfter.UTC(), maxAttempts).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list pending ledger entries: %w", err)
	}

	entries := make([]relay.LedgerEntry, len(rows))
	for i := range rows {
		entries[i] = rows[i].ToDomain()
	}
	return entries, nil
}

// Get returns a single ledger entry
func (l *GormLedger) Get(ctx context.Context, key string) (*relay.LedgerEntry, error) {
	var row models.LedgerEntryModel
	if err := l.db.WithContext(ctx).Where(map[string]any{"key": key}).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", relay.ErrLedgerEntryNotFound, key)
		}
		return nil, fmt.Errorf("get ledger entry %s: %w", key, err)
	}
	entry := row.ToDomain()
	return &entry, nil
}

// GetLastWatermark returns the stored watermark; ok is false when none was set
func (l *GormLedger) GetLastWatermark(ctx context.Context) (time.Time, bool, error) {
	var row models.WatermarkModel
	err := l.db.WithContext(ctx).Where("id = ?", models.WatermarkID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read watermark: %w", err)
	}
	return row.Watermark.UTC(), true, nil
}

// SetWatermark upserts the single watermark row
func (l *GormLedger) SetWatermark(ctx context.Context, t time.Time) error {
	row := &models.WatermarkModel{
		ID:        models.WatermarkID,
		Watermark: t.UTC(),
		UpdatedAt: l.now().UTC(),
	}
	err := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"watermark", "updated_at"}),
		}).
		Create(row).Error
	if err != nil {
		return fmt.Errorf("set watermark: %w", err)
	}
	return nil
}

// Stats returns total, delivered and pending entry counts
func (l *GormLedger) Stats(ctx context.Context) (relay.LedgerStats, error) {
	var stats relay.LedgerStats
	db := l.db.WithContext(ctx).Model(&models.LedgerEntryModel{})

	if err := db.Count(&stats.Total).Error; err != nil {
		return relay.LedgerStats{}, fmt.Errorf("count ledger entries: %w", err)
	}
	if err := l.db.WithContext(ctx).Model(&models.LedgerEntryModel{}).
		Where("delivered = ?", true).
		Count(&stats.Delivered).Error; err != nil {
		return relay.LedgerStats{}, fmt.Errorf("count delivered ledger entries: %w", err)
	}
	stats.Pending = stats.Total - stats.Delivered
	return stats, nil
}

// PurgeOlderThan deletes entries created before cutoff
func (l *GormLedger) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := l.db.WithContext(ctx).
		Where("created_at < ?", cutoff.UTC()).
		Delete(&models.LedgerEntryModel{})
	if result.Error != nil {
		return 0, fmt.Errorf("purge ledger entries: %w", result.Error)
	}
	return result.RowsAffected, nil
}

var _ relay.Ledger = (*GormLedger)(nil)
