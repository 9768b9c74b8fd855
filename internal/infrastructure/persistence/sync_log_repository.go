package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/neese/crmsync/internal/domain/relay"
	"github.com/neese/crmsync/internal/infrastructure/persistence/models"
)

// DefaultSyncLogListLimit caps List when the caller passes no limit
const DefaultSyncLogListLimit = 50

// GormSyncLogRepository implements relay.SyncLogRepository on the sync_logs table
type GormSyncLogRepository struct {
	db *gorm.DB
}

// NewGormSyncLogRepository creates a new GormSyncLogRepository
func NewGormSyncLogRepository(db *gorm.DB) *GormSyncLogRepository {
	return &GormSyncLogRepository{db: db}
}

// Record inserts a pass summary, assigning an id when missing
func (r *GormSyncLogRepository) Record(ctx context.Context, log *relay.SyncLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	model := &models.SyncLogModel{}
	model.FromDomain(log)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("record sync log: %w", err)
	}
	return nil
}

// List returns the most recent pass summaries, newest first
func (r *GormSyncLogRepository) List(ctx context.Context, limit int) ([]relay.SyncLog, error) {
	if limit <= 0 {
		limit = DefaultSyncLogListLimit
	}
	var rows []models.SyncLogModel
	if err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list sync logs: %w", err)
	}

	logs := make([]relay.SyncLog, len(rows))
	for i := range rows {
		logs[i] = rows[i].ToDomain()
	}
	return logs, nil
}

// PurgeOlderThan deletes summaries of passes started before cutoff
func (r *GormSyncLogRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("started_at < ?", cutoff.UTC()).
		Delete(&models.SyncLogModel{})
	if result.Error != nil {
		return 0, fmt.Errorf("purge sync logs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

var _ relay.SyncLogRepository = (*GormSyncLogRepository)(nil)
