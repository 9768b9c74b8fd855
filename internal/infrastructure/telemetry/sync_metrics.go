package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/neese/crmsync/internal/domain/relay"
)

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewSyncMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}

// SyncMetrics records sync pass, event and ledger metrics.
// It implements relay.PassObserver.
type SyncMetrics struct {
	logger *zap.Logger

	passTotal    *Counter
	eventsTotal  *Counter
	webhookTotal *Counter
	passDuration *Histogram
	ledgerSize   *Gauge
}

// NewSyncMetrics creates the sync instruments on the given meter
func NewSyncMetrics(meter metric.Meter, logger *zap.Logger) (*SyncMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &SyncMetrics{logger: logger}
	var err error

	m.passTotal, err = NewCounter(meter,
		"crmsync_sync_pass_total",
		"Total number of sync passes",
		"{passes}",
	)
	if err != nil {
		return nil, err
	}

	m.eventsTotal, err = NewCounter(meter,
		"crmsync_sync_events_total",
		"Events per pipeline stage",
		"{events}",
	)
	if err != nil {
		return nil, err
	}

	m.webhookTotal, err = NewCounter(meter,
		"crmsync_webhook_events_total",
		"Storefront webhook notifications relayed",
		"{events}",
	)
	if err != nil {
		return nil, err
	}

	m.passDuration, err = NewHistogram(meter,
		"crmsync_sync_pass_duration_seconds",
		"Sync pass duration",
		"s",
		PassDurationBuckets...,
	)
	if err != nil {
		return nil, err
	}

	m.ledgerSize, err = NewGauge(meter,
		"crmsync_ledger_entries",
		"Ledger entries by delivery state",
		"{entries}",
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// ObservePass records the counters and duration of a finished pass
func (m *SyncMetrics) ObservePass(ctx context.Context, stats relay.PassStats) {
	outcome := "success"
	switch {
	case stats.Failed:
		outcome = "failed"
	case stats.EventsFailed > 0:
		outcome = "partial"
	}
	trigger := AttrTrigger.String(string(stats.Trigger))

	m.passTotal.Inc(ctx, trigger, AttrOutcome.String(outcome))
	m.passDuration.RecordDuration(ctx, stats.Duration, trigger)

	stages := []struct {
		name  string
		value int
	}{
		{"found", stats.EventsFound},
		{"registered", stats.EventsRegistered},
		{"delivered", stats.EventsDelivered},
		{"failed", stats.EventsFailed},
		{"retried", stats.Retried},
	}
	for _, s := range stages {
		if s.value > 0 {
			m.eventsTotal.Add(ctx, int64(s.value), trigger, AttrStage.String(s.name))
		}
	}
}

// ObserveWebhook counts a relayed webhook notification
func (m *SyncMetrics) ObserveWebhook(ctx context.Context, kind relay.EventKind, delivered bool) {
	outcome := "delivered"
	if !delivered {
		outcome = "failed"
	}
	m.webhookTotal.Inc(ctx, AttrEventKind.String(string(kind)), AttrOutcome.String(outcome))
}

// RecordLedgerStats records the current ledger sizes
func (m *SyncMetrics) RecordLedgerStats(ctx context.Context, stats relay.LedgerStats) {
	m.ledgerSize.Record(ctx, stats.Delivered, AttrLedgerState.String("delivered"))
	m.ledgerSize.Record(ctx, stats.Pending, AttrLedgerState.String("pending"))
}

var _ relay.PassObserver = (*SyncMetrics)(nil)
