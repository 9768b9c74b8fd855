package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/neese/crmsync/internal/domain/relay"
)

// ---------------------------------------------------------------------------
// fakeLedger is an in-memory ledger with the same insert-if-absent semantics
// as the database adapter.
// ---------------------------------------------------------------------------

type fakeLedger struct {
	mu          sync.Mutex
	entries     map[string]*relay.LedgerEntry
	order       []string
	watermark   *time.Time
	registerErr error
	markErr     error
	now         func() time.Time
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		entries: make(map[string]*relay.LedgerEntry),
		now:     time.Now,
	}
}

func (l *fakeLedger) RegisterIfNew(_ context.Context, key string, kind relay.EventKind, subjectID int64, payload []byte) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.registerErr != nil {
		return false, l.registerErr
	}
	if _, ok := l.entries[key]; ok {
		return false, nil
	}
	l.entries[key] = &relay.LedgerEntry{
		Key:       key,
		Kind:      kind,
		SubjectID: subjectID,
		Payload:   payload,
		CreatedAt: l.now(),
	}
	l.order = append(l.order, key)
	return true, nil
}

func (l *fakeLedger) MarkDelivered(_ context.Context, key, response string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.markErr != nil {
		return l.markErr
	}
	e, ok := l.entries[key]
	if !ok {
		return relay.ErrLedgerEntryNotFound
	}
	now := l.now()
	e.Delivered = true
	e.DeliveryResponse = response
	e.DeliveredAt = &now
	return nil
}

func (l *fakeLedger) RecordFailure(_ context.Context, key, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok || e.Delivered {
		return nil
	}
	now := l.now()
	e.Attempts++
	e.LastError = reason
	e.LastAttemptAt = &now
	return nil
}

func (l *fakeLedger) ListPendingRetries(_ context.Context, createdAfter time.Time, maxAttempts, limit int) ([]relay.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]relay.LedgerEntry, 0)
	for _, key := range l.order {
		e := l.entries[key]
		if e.Delivered || e.Attempts >= maxAttempts || e.CreatedAt.Before(createdAfter) {
			continue
		}
		out = append(out, *e)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (l *fakeLedger) GetLastWatermark(context.Context) (time.Time, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watermark == nil {
		return time.Time{}, false, nil
	}
	return *l.watermark, true, nil
}

func (l *fakeLedger) SetWatermark(_ context.Context, t time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.watermark = &t
	return nil
}

func (l *fakeLedger) Stats(context.Context) (relay.LedgerStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var s relay.LedgerStats
	for _, e := range l.entries {
		s.Total++
		if e.Delivered {
			s.Delivered++
		}
	}
	s.Pending = s.Total - s.Delivered
	return s, nil
}

func (l *fakeLedger) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var removed int64
	kept := l.order[:0]
	for _, key := range l.order {
		if l.entries[key].CreatedAt.Before(cutoff) {
			delete(l.entries, key)
			removed++
			continue
		}
		kept = append(kept, key)
	}
	l.order = kept
	return removed, nil
}

func (l *fakeLedger) entry(key string) *relay.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries[key]
}

// ---------------------------------------------------------------------------
// fakeSource returns fixed records regardless of the window
// ---------------------------------------------------------------------------

type fakeSource struct {
	carts     []relay.CartRecord
	orders    []relay.OrderRecord
	cartErr   error
	orderErr  error
	shipments map[int64]*relay.ShipmentRecord
	payments  map[string]*relay.PaymentInfo

	mu            sync.Mutex
	shipmentCalls []int64
	paymentCalls  []string
}

func (s *fakeSource) FetchCarts(context.Context, time.Time, time.Time) ([]relay.CartRecord, error) {
	if s.cartErr != nil && !errors.Is(s.cartErr, relay.ErrSourceTruncated) {
		return nil, s.cartErr
	}
	return append([]relay.CartRecord(nil), s.carts...), s.cartErr
}

func (s *fakeSource) FetchOrders(context.Context, time.Time, time.Time) ([]relay.OrderRecord, error) {
	if s.orderErr != nil && !errors.Is(s.orderErr, relay.ErrSourceTruncated) {
		return nil, s.orderErr
	}
	return append([]relay.OrderRecord(nil), s.orders...), s.orderErr
}

func (s *fakeSource) FetchShipment(_ context.Context, orderID int64) (*relay.ShipmentRecord, error) {
	s.mu.Lock()
	s.shipmentCalls = append(s.shipmentCalls, orderID)
	s.mu.Unlock()
	return s.shipments[orderID], nil
}

func (s *fakeSource) FetchPaymentDetail(_ context.Context, orderCode string) (*relay.PaymentInfo, error) {
	s.mu.Lock()
	s.paymentCalls = append(s.paymentCalls, orderCode)
	s.mu.Unlock()
	if orderCode == "FAIL" {
		return nil, errors.New("payment endpoint down")
	}
	return s.payments[orderCode], nil
}

// ---------------------------------------------------------------------------
// MockPersonResolver / fakeSink
// ---------------------------------------------------------------------------

// MockPersonResolver is a mock implementation of PersonResolver
type MockPersonResolver struct {
	mock.Mock
}

func (m *MockPersonResolver) ResolvePerson(ctx context.Context, id int64) (*relay.PersonRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*relay.PersonRecord), args.Error(1)
}

type fakeSink struct {
	mu        sync.Mutex
	delivered []*relay.OutboundEvent
	// fail marks delivery keys that must fail
	fail map[string]bool
}

func (s *fakeSink) DeliverBatch(_ context.Context, events []*relay.OutboundEvent) []relay.DeliveryResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	results := make([]relay.DeliveryResult, 0, len(events))
	for _, e := range events {
		key := e.DeliveryKey()
		if s.fail[key] {
			results = append(results, relay.DeliveryResult{Key: key, Kind: e.Kind, StatusCode: 502, Err: errors.New("bad gateway")})
			continue
		}
		s.delivered = append(s.delivered, e)
		results = append(results, relay.DeliveryResult{Key: key, Kind: e.Kind, Success: true, StatusCode: 200, Response: `{"ok":true}`})
	}
	return results
}

func (s *fakeSink) deliveredKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.delivered))
	for _, e := range s.delivered {
		keys = append(keys, e.DeliveryKey())
	}
	return keys
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*relay.OutboundEvent
}

func (p *fakePublisher) Publish(_ context.Context, e *relay.OutboundEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

func int64Ptr(v int64) *int64 {
	return &v
}

func abandonedCartFixture() relay.CartRecord {
	return relay.CartRecord{
		ID:     999003,
		Status: relay.CartStatusAbandoned,
		Total:  decimal.RequireFromString("180.00"),
		Items: []relay.LineItem{{
			ProductID:   501,
			Description: "Jaleco Branco",
			Quantity:    3,
			UnitPrice:   decimal.RequireFromString("60.00"),
		}},
		Hash:          "abc123",
		PersonName:    "Maria Silva",
		PersonContact: "(83) 98751-6699",
		UpdatedAt:     time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}
}

func orderFixture(id int64, situation relay.SituationCode, method string) relay.OrderRecord {
	return relay.OrderRecord{
		ID:            id,
		Code:          fmt.Sprintf("P%d", id),
		Situation:     situation,
		Total:         decimal.RequireFromString("250.90"),
		PaymentMethod: method,
		PersonName:    "João",
		PersonContact: "83987516699",
		CreatedAt:     time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
}
