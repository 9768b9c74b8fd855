package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/neese/crmsync/internal/domain/relay"
)

// Orchestrator defaults
const (
	DefaultPassTimeout      = 4 * time.Minute
	DefaultPassSetLimit     = 10000
	DefaultAuxConcurrency   = 4
	DefaultRetryHorizon     = 72 * time.Hour
	DefaultRetryMaxAttempts = 5
	DefaultRetryBatchSize   = 50
)

// RetryPolicy controls the sweep of undelivered ledger entries
type RetryPolicy struct {
	Enabled bool
	// Horizon limits the sweep to entries created within this duration
	Horizon time.Duration
	// MaxAttempts stops retrying an entry after this many failures
	MaxAttempts int
	// BatchSize caps the entries re-delivered per pass
	BatchSize int
}

// OrchestratorConfig configures a sync pass
type OrchestratorConfig struct {
	CartPolicy     relay.CartStatusPolicy
	OrderAllowList relay.SituationSet
	// ShipmentLookup and PaymentLookup gate auxiliary order lookups
	ShipmentLookup relay.SituationSet
	PaymentLookup  relay.SituationSet
	// PassTimeout bounds every external call made during one pass
	PassTimeout time.Duration
	// PassSetLimit clears the pass-local dedup set once reached
	PassSetLimit      int
	PersonConcurrency int
	AuxConcurrency    int
	Retry             RetryPolicy
}

// DefaultOrchestratorConfig returns the default pass configuration
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		CartPolicy:        relay.CartPolicyAbandonedOnly,
		OrderAllowList:    relay.DefaultOrderAllowList,
		ShipmentLookup:    relay.DefaultShipmentLookupSituations,
		PaymentLookup:     relay.DefaultPaymentLookupSituations,
		PassTimeout:       DefaultPassTimeout,
		PassSetLimit:      DefaultPassSetLimit,
		PersonConcurrency: DefaultPersonConcurrency,
		AuxConcurrency:    DefaultAuxConcurrency,
		Retry: RetryPolicy{
			Enabled:     true,
			Horizon:     DefaultRetryHorizon,
			MaxAttempts: DefaultRetryMaxAttempts,
			BatchSize:   DefaultRetryBatchSize,
		},
	}
}

// SyncResult is the summary of one sync pass
type SyncResult struct {
	PassID      uuid.UUID
	WindowStart time.Time
	WindowEnd   time.Time
	// EventsFound counts records that survived relevance filtering
	EventsFound int
	// EventsRegistered counts events newly inserted into the ledger
	EventsRegistered int
	EventsDelivered  int
	EventsFailed     int
	// Retried counts ledger entries re-delivered by the retry sweep
	Retried           int
	RetriedDelivered  int
	Duration          time.Duration
	Deliveries        []relay.DeliveryResult
	WatermarkAdvanced bool
	// Err is set when the pass failed as a whole
	Err error
}

// Success reports whether the pass completed without a fatal failure
func (r *SyncResult) Success() bool {
	return r.Err == nil
}

// Stats returns the metrics view of the result
func (r *SyncResult) Stats(trigger relay.TriggerSource) relay.PassStats {
	return relay.PassStats{
		Trigger:          trigger,
		EventsFound:      r.EventsFound,
		EventsRegistered: r.EventsRegistered,
		EventsDelivered:  r.EventsDelivered,
		EventsFailed:     r.EventsFailed,
		Retried:          r.Retried,
		Duration:         r.Duration,
		Failed:           r.Err != nil,
	}
}

// Orchestrator drives sync passes: fetch, filter, resolve, transform,
// register, deliver and advance the watermark.
type Orchestrator struct {
	cfg         OrchestratorConfig
	source      relay.SourceReader
	persons     relay.PersonResolver
	transformer *Transformer
	ledger      relay.Ledger
	sink        relay.DeliverySink
	publisher   relay.EventPublisher
	clock       clockwork.Clock
	tracer      trace.Tracer
	logger      *zap.Logger
}

// OrchestratorOption configures optional collaborators
type OrchestratorOption func(*Orchestrator)

// WithPublisher fans delivered events out to internal consumers
func WithPublisher(p relay.EventPublisher) OrchestratorOption {
	return func(o *Orchestrator) {
		o.publisher = p
	}
}

// WithClock overrides the clock used for durations and retry horizons
func WithClock(c clockwork.Clock) OrchestratorOption {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// WithTracerProvider sets the provider of the pass spans; the global one is
// used otherwise
func WithTracerProvider(tp trace.TracerProvider) OrchestratorOption {
	return func(o *Orchestrator) {
		o.tracer = tp.Tracer(tracerName)
	}
}

const tracerName = "crmsync/relay"

// NewOrchestrator creates a new Orchestrator
func NewOrchestrator(
	cfg OrchestratorConfig,
	source relay.SourceReader,
	persons relay.PersonResolver,
	transformer *Transformer,
	ledger relay.Ledger,
	sink relay.DeliverySink,
	logger *zap.Logger,
	opts ...OrchestratorOption,
) *Orchestrator {
	if cfg.PassSetLimit <= 0 {
		cfg.PassSetLimit = DefaultPassSetLimit
	}
	if cfg.AuxConcurrency <= 0 {
		cfg.AuxConcurrency = DefaultAuxConcurrency
	}
	if cfg.OrderAllowList.Len() == 0 {
		cfg.OrderAllowList = relay.DefaultOrderAllowList
	}
	o := &Orchestrator{
		cfg:         cfg,
		source:      source,
		persons:     persons,
		transformer: transformer,
		ledger:      ledger,
		sink:        sink,
		clock:       clockwork.NewRealClock(),
		tracer:      otel.Tracer(tracerName),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ---------------------------------------------------------------------------
// Pass-local state
// ---------------------------------------------------------------------------

// passSet holds the keys handled during one pass. It is cleared when it
// reaches its limit; the ledger stays authoritative.
type passSet struct {
	keys  map[string]struct{}
	limit int
}

func newPassSet(limit int) *passSet {
	return &passSet{keys: make(map[string]struct{}), limit: limit}
}

func (s *passSet) Has(key string) bool {
	_, ok := s.keys[key]
	return ok
}

func (s *passSet) Add(key string) {
	if len(s.keys) >= s.limit {
		clear(s.keys)
	}
	s.keys[key] = struct{}{}
}

// pending is an event queued for delivery in this pass
type pending struct {
	key   string
	event *relay.OutboundEvent
}

// passState accumulates counters while a pass runs
type passState struct {
	result       *SyncResult
	seen         *passSet
	batch        []pending
	ledgerFailed bool
	// fetchPartial is set when a fetch branch failed or was truncated
	fetchPartial bool
}

// ---------------------------------------------------------------------------
// RunSyncPass
// ---------------------------------------------------------------------------

// RunSyncPass runs one synchronization pass over [windowStart, windowEnd].
// The returned result is never nil; result.Err is set on fatal failure, in
// which case the watermark is left untouched.
func (o *Orchestrator) RunSyncPass(ctx context.Context, windowStart, windowEnd time.Time) *SyncResult {
	started := o.clock.Now()
	state := &passState{
		result: &SyncResult{
			PassID:      uuid.New(),
			WindowStart: windowStart,
			WindowEnd:   windowEnd,
		},
		seen: newPassSet(o.cfg.PassSetLimit),
	}
	result := state.result

	if o.cfg.PassTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.PassTimeout)
		defer cancel()
	}

	ctx, span := o.tracer.Start(ctx, "relay.sync_pass", trace.WithAttributes(
		attribute.String("relay.pass_id", result.PassID.String()),
		attribute.String("relay.window_start", windowStart.UTC().Format(time.RFC3339)),
		attribute.String("relay.window_end", windowEnd.UTC().Format(time.RFC3339)),
	))
	defer span.End()

	log := o.logger.With(zap.String("pass_id", result.PassID.String()))
	log.Info("Starting sync pass",
		zap.Time("window_start", windowStart),
		zap.Time("window_end", windowEnd),
	)

	defer func() {
		result.Duration = o.clock.Since(started)
		span.SetAttributes(
			attribute.Int("relay.events_found", result.EventsFound),
			attribute.Int("relay.events_registered", result.EventsRegistered),
			attribute.Int("relay.events_delivered", result.EventsDelivered),
			attribute.Int("relay.events_failed", result.EventsFailed),
			attribute.Int("relay.retried", result.Retried),
			attribute.Bool("relay.watermark_advanced", result.WatermarkAdvanced),
		)
		if result.Err != nil {
			span.RecordError(result.Err)
			span.SetStatus(codes.Error, result.Err.Error())
		}
		fields := []zap.Field{
			zap.Int("events_found", result.EventsFound),
			zap.Int("events_registered", result.EventsRegistered),
			zap.Int("events_delivered", result.EventsDelivered),
			zap.Int("events_failed", result.EventsFailed),
			zap.Int("retried", result.Retried),
			zap.Int("retried_delivered", result.RetriedDelivered),
			zap.Bool("watermark_advanced", result.WatermarkAdvanced),
			zap.Duration("duration", result.Duration),
		}
		if result.Err != nil {
			log.Error("Sync pass failed", append(fields, zap.Error(result.Err))...)
			return
		}
		log.Info("Sync pass completed", fields...)
	}()

	carts, orders, err := o.fetch(ctx, state, windowStart, windowEnd, log)
	if err != nil {
		result.Err = err
		return result
	}

	carts = o.filterCarts(carts)
	orders = o.filterOrders(orders)
	result.EventsFound = len(carts) + len(orders)

	persons := o.resolvePersons(ctx, personIDs(carts, orders), log)

	for i := range carts {
		o.processCart(ctx, state, &carts[i], persons, log)
	}

	aux := o.lookupAux(ctx, orders, log)
	for i := range orders {
		o.processOrder(ctx, state, &orders[i], persons, aux[i], log)
	}

	o.deliverFresh(ctx, state, log)

	if o.cfg.Retry.Enabled {
		o.retrySweep(ctx, state, log)
	}

	if state.fetchPartial {
		log.Warn("Watermark not advanced: source window was not fully read")
		return result
	}
	if state.ledgerFailed {
		log.Warn("Watermark not advanced: ledger writes failed during pass")
		return result
	}
	if err := o.ledger.SetWatermark(ctx, windowEnd); err != nil {
		log.Error("Failed to persist watermark", zap.Error(err))
		return result
	}
	result.WatermarkAdvanced = true
	return result
}

// fetch reads carts and orders concurrently. A failing branch yields an
// empty list and a truncated one keeps what it read; either marks the pass
// partial. The pass is fatal only when both branches fail outright.
func (o *Orchestrator) fetch(ctx context.Context, state *passState, start, end time.Time, log *zap.Logger) ([]relay.CartRecord, []relay.OrderRecord, error) {
	ctx, span := o.tracer.Start(ctx, "relay.fetch")
	defer span.End()

	var (
		carts             []relay.CartRecord
		orders            []relay.OrderRecord
		cartErr, orderErr error
	)

	var g errgroup.Group
	g.Go(func() error {
		carts, cartErr = o.source.FetchCarts(ctx, start, end)
		carts = keepOnTruncation(carts, cartErr, "Cart", log)
		return nil
	})
	g.Go(func() error {
		orders, orderErr = o.source.FetchOrders(ctx, start, end)
		orders = keepOnTruncation(orders, orderErr, "Order", log)
		return nil
	})
	_ = g.Wait()

	if failedOutright(cartErr) && failedOutright(orderErr) {
		err := fmt.Errorf("%w: carts: %v; orders: %v", relay.ErrSourceFetchFailed, cartErr, orderErr)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, err
	}
	state.fetchPartial = cartErr != nil || orderErr != nil
	span.SetAttributes(
		attribute.Int("relay.carts", len(carts)),
		attribute.Int("relay.orders", len(orders)),
		attribute.Bool("relay.partial", state.fetchPartial),
	)

	log.Debug("Fetched source records",
		zap.Int("carts", len(carts)),
		zap.Int("orders", len(orders)),
	)
	return carts, orders, nil
}

// keepOnTruncation returns the records a fetch branch may still use: all of
// them when the listing was only truncated, none on any other failure
func keepOnTruncation[T any](records []T, err error, what string, log *zap.Logger) []T {
	switch {
	case err == nil:
		return records
	case errors.Is(err, relay.ErrSourceTruncated):
		log.Warn(what+" listing truncated", zap.Int("kept", len(records)), zap.Error(err))
		return records
	default:
		log.Warn(what+" fetch failed", zap.Error(err))
		return nil
	}
}

func failedOutright(err error) bool {
	return err != nil && !errors.Is(err, relay.ErrSourceTruncated)
}

func (o *Orchestrator) filterCarts(carts []relay.CartRecord) []relay.CartRecord {
	out := make([]relay.CartRecord, 0, len(carts))
	for _, c := range carts {
		if c.Status == relay.CartStatusConverted || !o.cfg.CartPolicy.Allows(c.Status) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (o *Orchestrator) filterOrders(orders []relay.OrderRecord) []relay.OrderRecord {
	out := make([]relay.OrderRecord, 0, len(orders))
	for _, ord := range orders {
		if !o.cfg.OrderAllowList.Contains(ord.Situation) {
			continue
		}
		out = append(out, ord)
	}
	return out
}

func personIDs(carts []relay.CartRecord, orders []relay.OrderRecord) []int64 {
	ids := make([]int64, 0, len(carts)+len(orders))
	for _, c := range carts {
		if c.PersonID != nil {
			ids = append(ids, *c.PersonID)
		}
	}
	for _, ord := range orders {
		if ord.PersonID != nil {
			ids = append(ids, *ord.PersonID)
		}
	}
	return ids
}

func (o *Orchestrator) resolvePersons(ctx context.Context, ids []int64, log *zap.Logger) map[int64]*relay.PersonRecord {
	ctx, span := o.tracer.Start(ctx, "relay.resolve_persons", trace.WithAttributes(
		attribute.Int("relay.person_ids", len(ids)),
	))
	defer span.End()

	persons := ResolvePersons(ctx, o.persons, ids, o.cfg.PersonConcurrency, log)
	span.SetAttributes(attribute.Int("relay.persons_resolved", len(persons)))
	return persons
}

func lookupPerson(persons map[int64]*relay.PersonRecord, id *int64) *relay.PersonRecord {
	if id == nil {
		return nil
	}
	return persons[*id]
}

func (o *Orchestrator) processCart(ctx context.Context, state *passState, cart *relay.CartRecord, persons map[int64]*relay.PersonRecord, log *zap.Logger) {
	kind, ok := CartEventKind(cart.Status)
	if !ok {
		return
	}
	key := relay.DedupKey(kind, cart.ID, cart.Status.String())
	if state.seen.Has(key) {
		return
	}

	event := o.transformer.TransformCart(cart, lookupPerson(persons, cart.PersonID))
	if event == nil {
		log.Info("Cart not forwarded", zap.Int64("cart_id", cart.ID), zap.String("key", key))
		return
	}
	o.register(ctx, state, key, event, log)
}

func (o *Orchestrator) processOrder(ctx context.Context, state *passState, order *relay.OrderRecord, persons map[int64]*relay.PersonRecord, aux OrderAux, log *zap.Logger) {
	kind, ok := OrderEventKind(order.Situation, order.PaymentMethod)
	if !ok {
		log.Debug("Order suppressed",
			zap.Int64("order_id", order.ID),
			zap.Int("situation", int(order.Situation)),
		)
		return
	}
	key := relay.DedupKey(kind, order.ID, order.Situation.String())
	if state.seen.Has(key) {
		return
	}

	event := o.transformer.TransformOrder(order, lookupPerson(persons, order.PersonID), aux)
	if event == nil {
		log.Info("Order not forwarded", zap.Int64("order_id", order.ID), zap.String("key", key))
		return
	}
	o.register(ctx, state, key, event, log)
}

// register inserts the event into the ledger and queues it when new
func (o *Orchestrator) register(ctx context.Context, state *passState, key string, event *relay.OutboundEvent, log *zap.Logger) {
	event.LedgerKey = key
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error("Failed to serialize event", zap.String("key", key), zap.Error(err))
		return
	}

	inserted, err := o.ledger.RegisterIfNew(ctx, key, event.Kind, event.SubjectID(), payload)
	if err != nil {
		state.ledgerFailed = true
		log.Error("Ledger registration failed", zap.String("key", key), zap.Error(err))
		return
	}
	if !inserted {
		log.Debug("Event already registered", zap.String("key", key))
		return
	}

	state.result.EventsRegistered++
	state.seen.Add(key)
	state.batch = append(state.batch, pending{key: key, event: event})
}

// lookupAux runs the gated shipment and payment lookups for each order
// concurrently. Failures leave the corresponding field nil.
func (o *Orchestrator) lookupAux(ctx context.Context, orders []relay.OrderRecord, log *zap.Logger) []OrderAux {
	aux := make([]OrderAux, len(orders))
	ctx, span := o.tracer.Start(ctx, "relay.order_lookups")
	defer span.End()

	var g errgroup.Group
	g.SetLimit(o.cfg.AuxConcurrency)
	for i := range orders {
		order := &orders[i]
		if o.cfg.ShipmentLookup.Contains(order.Situation) {
			g.Go(func() error {
				shipment, err := o.source.FetchShipment(ctx, order.ID)
				if err != nil {
					log.Warn("Shipment lookup failed", zap.Int64("order_id", order.ID), zap.Error(err))
					return nil
				}
				aux[i].Shipment = shipment
				return nil
			})
		}
		if o.cfg.PaymentLookup.Contains(order.Situation) && order.Code != "" {
			g.Go(func() error {
				payment, err := o.source.FetchPaymentDetail(ctx, order.Code)
				if err != nil {
					log.Warn("Payment lookup failed", zap.String("order_code", order.Code), zap.Error(err))
					return nil
				}
				aux[i].Payment = payment
				return nil
			})
		}
	}
	_ = g.Wait()

	shipments, payments := 0, 0
	for _, a := range aux {
		if a.Shipment != nil {
			shipments++
		}
		if a.Payment != nil {
			payments++
		}
	}
	span.SetAttributes(
		attribute.Int("relay.shipments", shipments),
		attribute.Int("relay.payments", payments),
	)
	return aux
}

// ---------------------------------------------------------------------------
// Delivery
// ---------------------------------------------------------------------------

func (o *Orchestrator) deliverFresh(ctx context.Context, state *passState, log *zap.Logger) {
	if len(state.batch) == 0 {
		return
	}
	events := make([]*relay.OutboundEvent, len(state.batch))
	for i, p := range state.batch {
		events[i] = p.event
	}

	ctx, span := o.tracer.Start(ctx, "relay.deliver", trace.WithAttributes(
		attribute.Int("relay.events", len(events)),
	))
	defer span.End()

	results := o.sink.DeliverBatch(ctx, events)
	delivered, failed := o.settle(ctx, state, events, results, log)
	span.SetAttributes(
		attribute.Int("relay.delivered", delivered),
		attribute.Int("relay.failed", failed),
	)
	state.result.EventsDelivered += delivered
	state.result.EventsFailed += failed
}

// retrySweep re-delivers undelivered ledger entries that were not handled
// in this pass.
func (o *Orchestrator) retrySweep(ctx context.Context, state *passState, log *zap.Logger) {
	policy := o.cfg.Retry
	if policy.BatchSize <= 0 {
		return
	}
	ctx, span := o.tracer.Start(ctx, "relay.retry_sweep")
	defer span.End()

	createdAfter := o.clock.Now().Add(-policy.Horizon)

	entries, err := o.ledger.ListPendingRetries(ctx, createdAfter, policy.MaxAttempts, policy.BatchSize+len(state.batch))
	if err != nil {
		log.Warn("Failed to list pending retries", zap.Error(err))
		return
	}

	handled := make(map[string]struct{}, len(state.batch))
	for _, p := range state.batch {
		handled[p.key] = struct{}{}
	}

	events := make([]*relay.OutboundEvent, 0, policy.BatchSize)
	for _, entry := range entries {
		if len(events) >= policy.BatchSize {
			break
		}
		if _, ok := handled[entry.Key]; ok {
			continue
		}
		var event relay.OutboundEvent
		if err := json.Unmarshal(entry.Payload, &event); err != nil {
			log.Warn("Skipping unreadable ledger payload", zap.String("key", entry.Key), zap.Error(err))
			continue
		}
		event.LedgerKey = entry.Key
		events = append(events, &event)
	}
	if len(events) == 0 {
		return
	}

	log.Info("Retrying undelivered events", zap.Int("count", len(events)))
	results := o.sink.DeliverBatch(ctx, events)
	delivered, _ := o.settle(ctx, state, events, results, log)
	span.SetAttributes(
		attribute.Int("relay.events", len(events)),
		attribute.Int("relay.delivered", delivered),
	)
	state.result.Retried += len(events)
	state.result.RetriedDelivered += delivered
}

// settle records delivery outcomes in the ledger and publishes delivered
// events. It returns the delivered and failed counts.
func (o *Orchestrator) settle(
	ctx context.Context,
	state *passState,
	events []*relay.OutboundEvent,
	results []relay.DeliveryResult,
	log *zap.Logger,
) (int, int) {
	byKey := make(map[string]*relay.OutboundEvent, len(events))
	for _, e := range events {
		byKey[e.DeliveryKey()] = e
	}

	delivered, failed := 0, 0
	for _, res := range results {
		state.result.Deliveries = append(state.result.Deliveries, res)
		if !res.Success {
			failed++
			reason := "delivery failed"
			if res.Err != nil {
				reason = res.Err.Error()
			}
			if err := o.ledger.RecordFailure(ctx, res.Key, reason); err != nil {
				log.Warn("Failed to record delivery failure", zap.String("key", res.Key), zap.Error(err))
			}
			continue
		}

		delivered++
		if err := o.ledger.MarkDelivered(ctx, res.Key, res.Response); err != nil {
			state.ledgerFailed = true
			log.Error("Failed to mark event delivered", zap.String("key", res.Key), zap.Error(err))
		}
		if o.publisher != nil {
			if event, ok := byKey[res.Key]; ok {
				if err := o.publisher.Publish(ctx, event); err != nil {
					log.Warn("Failed to publish delivered event", zap.String("key", res.Key), zap.Error(err))
				}
			}
		}
	}
	return delivered, failed
}
