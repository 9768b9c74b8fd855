package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/neese/crmsync/internal/domain/relay"
)

// JetStreamConfig holds NATS JetStream publishing settings
type JetStreamConfig struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration // how long delivered events are retained
	Replicas        int
	DuplicateWindow time.Duration // JetStream de-duplication window on Nats-Msg-Id
}

// DefaultJetStreamConfig returns defaults for a single-node stream
func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:             nats.DefaultURL,
		StreamName:      "CRMSYNC_EVENTS",
		SubjectPrefix:   "crmsync.events",
		MaxReconnects:   10,
		ReconnectWait:   2 * time.Second,
		MaxAge:          7 * 24 * time.Hour,
		Replicas:        1,
		DuplicateWindow: 2 * time.Hour,
	}
}

// ErrPublisherClosed is returned when publishing after Close
var ErrPublisherClosed = errors.New("broker: publisher closed")

// Envelope is the message body published for every delivered event
type Envelope struct {
	EventID   string               `json:"eventId"`
	EventType relay.EventKind      `json:"eventType"`
	SubjectID int64                `json:"subjectId"`
	Timestamp time.Time            `json:"timestamp"`
	Payload   *relay.OutboundEvent `json:"payload"`
}

// JetStreamPublisher publishes delivered events to a JetStream stream.
// It implements relay.EventPublisher.
type JetStreamPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig
	clock  clockwork.Clock
	logger *zap.Logger
}

// NewJetStreamPublisher connects to NATS and ensures the stream exists
func NewJetStreamPublisher(ctx context.Context, cfg JetStreamConfig, logger *zap.Logger) (*JetStreamPublisher, error) {
	logger = logger.Named("broker")

	opts := []nats.Option{
		nats.Name("crmsync"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("NATS error", zap.Error(err))
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	p := &JetStreamPublisher{
		nc:     nc,
		js:     js,
		config: cfg,
		clock:  clockwork.NewRealClock(),
		logger: logger,
	}

	if err := p.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return p, nil
}

func (p *JetStreamPublisher) streamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        p.config.StreamName,
		Description: "Events delivered to the CRM",
		Subjects:    []string{p.config.SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      p.config.MaxAge,
		Storage:     jetstream.FileStorage,
		Replicas:    p.config.Replicas,
		Duplicates:  p.config.DuplicateWindow,
	}
}

// ensureStream creates the stream or updates it when its limits changed
func (p *JetStreamPublisher) ensureStream(ctx context.Context) error {
	sc := p.streamConfig()

	stream, err := p.js.Stream(ctx, sc.Name)
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		if _, err := p.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		p.logger.Info("Created JetStream stream", zap.String("stream", sc.Name))
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup stream: %w", err)
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("get stream info: %w", err)
	}
	if !streamConfigEqual(info.Config, sc) {
		if _, err := p.js.UpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		p.logger.Info("Updated JetStream stream", zap.String("stream", sc.Name))
	}
	return nil
}

// Publish sends the event on <prefix>.<record kind>.<event kind>. The message
// id is the delivery key so redeliveries inside the duplicate window collapse.
func (p *JetStreamPublisher) Publish(ctx context.Context, event *relay.OutboundEvent) error {
	if p.nc == nil || p.nc.IsClosed() {
		return ErrPublisherClosed
	}

	msg, err := BuildMessage(p.config.SubjectPrefix, event, p.clock.Now())
	if err != nil {
		return err
	}

	ack, err := p.js.PublishMsg(ctx, msg,
		jetstream.WithMsgID(event.DeliveryKey()),
		jetstream.WithExpectStream(p.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	p.logger.Debug("Published event",
		zap.String("subject", msg.Subject),
		zap.String("event_key", event.DeliveryKey()),
		zap.Uint64("sequence", ack.Sequence),
		zap.Bool("duplicate", ack.Duplicate),
	)
	return nil
}

// Close drains and closes the NATS connection
func (p *JetStreamPublisher) Close() error {
	if p.nc == nil || p.nc.IsClosed() {
		return nil
	}
	return p.nc.Drain()
}

// Subject returns the subject an event is published on
func Subject(prefix string, event *relay.OutboundEvent) string {
	record := string(event.Kind.RecordKind())
	if record == "" {
		record = "unknown"
	}
	return strings.Join([]string{prefix, record, string(event.Kind)}, ".")
}

// BuildMessage encodes the event envelope and headers
func BuildMessage(prefix string, event *relay.OutboundEvent, now time.Time) (*nats.Msg, error) {
	env := Envelope{
		EventID:   event.DeliveryKey(),
		EventType: event.Kind,
		SubjectID: event.SubjectID(),
		Timestamp: now.UTC(),
		Payload:   event,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	msg := nats.NewMsg(Subject(prefix, event))
	msg.Data = data
	msg.Header.Set("Event-Type", string(event.Kind))
	msg.Header.Set("Event-ID", env.EventID)
	msg.Header.Set("Subject-ID", fmt.Sprintf("%d", env.SubjectID))
	return msg, nil
}

func streamConfigEqual(a, b jetstream.StreamConfig) bool {
	return a.Name == b.Name &&
		a.MaxAge == b.MaxAge &&
		a.Replicas == b.Replicas &&
		a.Duplicates == b.Duplicates &&
		len(a.Subjects) == len(b.Subjects) &&
		(len(a.Subjects) == 0 || a.Subjects[0] == b.Subjects[0])
}

var _ relay.EventPublisher = (*JetStreamPublisher)(nil)
