package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/neese/crmsync/internal/domain/relay"
)

// LedgerEntryModel is the persistence model of the deduplication ledger.
// The primary key on Key is the uniqueness guarantee RegisterIfNew relies on.
type LedgerEntryModel struct {
	Key              string `gorm:"type:varchar(255);primaryKey"`
	Kind             string `gorm:"type:varchar(64);not null"`
	SubjectID        int64  `gorm:"not null;index"`
	Payload          []byte `gorm:"type:jsonb;not null"`
	Delivered        bool   `gorm:"not null;default:false;index:idx_relay_ledger_pending,priority:1"`
	DeliveryResponse string `gorm:"type:text"`
	Attempts         int    `gorm:"not null;default:0"`
	LastError        string `gorm:"type:text"`
	LastAttemptAt    *time.Time
	CreatedAt        time.Time `gorm:"not null;index:idx_relay_ledger_pending,priority:2"`
	DeliveredAt      *time.Time
}

// TableName returns the table name for GORM
func (LedgerEntryModel) TableName() string {
	return "relay_ledger"
}

// ToDomain converts the persistence model to a domain LedgerEntry
func (m *LedgerEntryModel) ToDomain() relay.LedgerEntry {
	return relay.LedgerEntry{
		Key:              m.Key,
		Kind:             relay.EventKind(m.Kind),
		SubjectID:        m.SubjectID,
		Payload:          m.Payload,
		Delivered:        m.Delivered,
		DeliveryResponse: m.DeliveryResponse,
		Attempts:         m.Attempts,
		LastError:        m.LastError,
		LastAttemptAt:    m.LastAttemptAt,
		CreatedAt:        m.CreatedAt,
		DeliveredAt:      m.DeliveredAt,
	}
}

// WatermarkID is the id of the single watermark row
const WatermarkID = 1

// WatermarkModel holds the end of the last successful pass window
type WatermarkModel struct {
	ID        int       `gorm:"primaryKey;autoIncrement:false"`
	Watermark time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (WatermarkModel) TableName() string {
	return "relay_watermark"
}

// SyncLogModel is the persistence model of a sync pass summary
type SyncLogModel struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	Trigger         string    `gorm:"type:varchar(20);not null"`
	WindowStart     time.Time `gorm:"not null"`
	WindowEnd       time.Time `gorm:"not null"`
	StartedAt       time.Time `gorm:"not null;index"`
	FinishedAt      time.Time `gorm:"not null"`
	DurationMs      int64     `gorm:"not null;default:0"`
	EventsFound     int       `gorm:"not null;default:0"`
	EventsProcessed int       `gorm:"not null;default:0"`
	EventsDelivered int       `gorm:"not null;default:0"`
	Status          string    `gorm:"type:varchar(20);not null"`
	Error           string    `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (SyncLogModel) TableName() string {
	return "sync_logs"
}

// ToDomain converts the persistence model to a domain SyncLog
func (m *SyncLogModel) ToDomain() relay.SyncLog {
	return relay.SyncLog{
		ID:              m.ID,
		Trigger:         relay.TriggerSource(m.Trigger),
		WindowStart:     m.WindowStart,
		WindowEnd:       m.WindowEnd,
		StartedAt:       m.StartedAt,
		FinishedAt:      m.FinishedAt,
		DurationMs:      m.DurationMs,
		EventsFound:     m.EventsFound,
		EventsProcessed: m.EventsProcessed,
		EventsDelivered: m.EventsDelivered,
		Status:          relay.SyncLogStatus(m.Status),
		Error:           m.Error,
	}
}

// FromDomain populates the persistence model from a domain SyncLog
func (m *SyncLogModel) FromDomain(l *relay.SyncLog) {
	m.ID = l.ID
	m.Trigger = string(l.Trigger)
	m.WindowStart = l.WindowStart.UTC()
	m.WindowEnd = l.WindowEnd.UTC()
	m.StartedAt = l.StartedAt.UTC()
	m.FinishedAt = l.FinishedAt.UTC()
	m.DurationMs = l.DurationMs
	m.EventsFound = l.EventsFound
	m.EventsProcessed = l.EventsProcessed
	m.EventsDelivered = l.EventsDelivered
	m.Status = string(l.Status)
	m.Error = l.Error
}

// AllModels lists every model for sqlite auto-migration
func AllModels() []any {
	return []any{&LedgerEntryModel{}, &WatermarkModel{}, &SyncLogModel{}}
}
