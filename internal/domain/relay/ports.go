package relay

import (
	"context"
	"time"
)

// SourceReader reads carts, orders and auxiliary order data from the storefront.
// Time bounds are absolute instants; adapters handle upstream formatting.
type SourceReader interface {
	// FetchCarts returns carts modified within [start, end]
	FetchCarts(ctx context.Context, start, end time.Time) ([]CartRecord, error)
	// FetchOrders returns orders created or modified within [start, end]
	FetchOrders(ctx context.Context, start, end time.Time) ([]OrderRecord, error)
	// FetchShipment returns tracking data, or nil when the order has none
	FetchShipment(ctx context.Context, orderID int64) (*ShipmentRecord, error)
	// FetchPaymentDetail returns payment data, or nil when none exists
	FetchPaymentDetail(ctx context.Context, orderCode string) (*PaymentInfo, error)
}

// PersonResolver resolves a storefront person by id; nil when not found
type PersonResolver interface {
	ResolvePerson(ctx context.Context, id int64) (*PersonRecord, error)
}

// DeliverySink posts events to the CRM serially with pacing between calls.
// It never fails as a whole; each event gets a DeliveryResult.
type DeliverySink interface {
	DeliverBatch(ctx context.Context, events []*OutboundEvent) []DeliveryResult
}

// Ledger is the durable deduplication store and incremental cursor
type Ledger interface {
	WatermarkReader

	// RegisterIfNew inserts the entry if the key is absent. It returns true
	// only when this call inserted it; an existing key is not an error.
	RegisterIfNew(ctx context.Context, key string, kind EventKind, subjectID int64, payload []byte) (bool, error)
	// MarkDelivered flags the entry delivered and stores the response; idempotent
	MarkDelivered(ctx context.Context, key, response string) error
	// RecordFailure increments the attempt counter of an undelivered entry
	RecordFailure(ctx context.Context, key, reason string) error
	// ListPendingRetries returns undelivered entries created after the given
	// instant with fewer than maxAttempts attempts, oldest first
	ListPendingRetries(ctx context.Context, createdAfter time.Time, maxAttempts, limit int) ([]LedgerEntry, error)
	// SetWatermark persists the end of the last successful pass
	SetWatermark(ctx context.Context, t time.Time) error
	// Stats returns entry counts
	Stats(ctx context.Context) (LedgerStats, error)
	// PurgeOlderThan deletes entries created before cutoff
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SyncLogRepository persists pass summaries
type SyncLogRepository interface {
	Record(ctx context.Context, log *SyncLog) error
	List(ctx context.Context, limit int) ([]SyncLog, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// PassLock keeps sync passes from overlapping. TryAcquire returns ok=false
// when another holder owns the lock.
type PassLock interface {
	TryAcquire(ctx context.Context, ttl time.Duration) (release func(), ok bool, err error)
}

// EventPublisher broadcasts delivered events to internal consumers
type EventPublisher interface {
	Publish(ctx context.Context, event *OutboundEvent) error
}

// PassStats is the metrics view of a finished sync pass
type PassStats struct {
	Trigger          TriggerSource
	EventsFound      int
	EventsRegistered int
	EventsDelivered  int
	EventsFailed     int
	Retried          int
	Duration         time.Duration
	Failed           bool
}

// PassObserver records pass metrics
type PassObserver interface {
	ObservePass(ctx context.Context, stats PassStats)
}
