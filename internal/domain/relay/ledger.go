package relay

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LedgerEntry is a durable record that a (subject, status) transition was
// seen and queued for the CRM.
type LedgerEntry struct {
	// Key is the globally unique business key, see DedupKey
	Key string
	// Kind is the event kind the entry was registered with
	Kind EventKind
	// SubjectID is the cart or order identifier
	SubjectID int64
	// Payload is the serialized OutboundEvent
	Payload []byte
	// Delivered flips to true only after a confirmed successful POST
	Delivered bool
	// DeliveryResponse is the CRM response body of the successful POST
	DeliveryResponse string
	// Attempts counts failed delivery attempts
	Attempts int
	// LastError is the reason of the most recent failed attempt
	LastError string
	// LastAttemptAt is when the most recent failed attempt happened
	LastAttemptAt *time.Time
	CreatedAt     time.Time
	DeliveredAt   *time.Time
}

// DedupKey builds the ledger key `{kind}-{id}-{status}`
func DedupKey(kind EventKind, subjectID int64, status string) string {
	return fmt.Sprintf("%s-%d-%s", kind, subjectID, status)
}

// LedgerStats summarizes ledger contents
type LedgerStats struct {
	Total     int64
	Delivered int64
	Pending   int64
}

// ---------------------------------------------------------------------------
// Sync log
// ---------------------------------------------------------------------------

// TriggerSource identifies what started a sync pass
type TriggerSource string

const (
	TriggerScheduled TriggerSource = "scheduled"
	TriggerManual    TriggerSource = "manual"
)

// SyncLogStatus is the outcome of a logged pass
type SyncLogStatus string

const (
	SyncLogStatusSuccess SyncLogStatus = "success"
	SyncLogStatusPartial SyncLogStatus = "partial"
	SyncLogStatusFailed  SyncLogStatus = "failed"
)

// SyncLog is the persisted summary of one sync pass
type SyncLog struct {
	ID              uuid.UUID
	Trigger         TriggerSource
	WindowStart     time.Time
	WindowEnd       time.Time
	StartedAt       time.Time
	FinishedAt      time.Time
	DurationMs      int64
	EventsFound     int
	EventsProcessed int
	EventsDelivered int
	Status          SyncLogStatus
	Error           string
}
