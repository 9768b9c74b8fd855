package broker

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neese/crmsync/internal/domain/relay"
)

func TestSubject(t *testing.T) {
	tests := []struct {
		kind relay.EventKind
		want string
	}{
		{relay.EventKindCartAbandoned, "crmsync.events.cart.carrinho_abandonado"},
		{relay.EventKindPixExpired, "crmsync.events.order.pix_expirado"},
		{relay.EventKind("other"), "crmsync.events.unknown.other"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, Subject("crmsync.events", &relay.OutboundEvent{Kind: tt.kind}))
		})
	}
}

func TestBuildMessage(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.FixedZone("BRT", -3*60*60))
	event := &relay.OutboundEvent{
		Kind:      relay.EventKindAwaitingPayment,
		OrderID:   77,
		OrderCode: "P77",
		LedgerKey: "order:77:1",
	}

	msg, err := BuildMessage("crmsync.events", event, now)
	require.NoError(t, err)

	assert.Equal(t, "crmsync.events.order.pedido_aguardando_pagamento", msg.Subject)
	assert.Equal(t, "pedido_aguardando_pagamento", msg.Header.Get("Event-Type"))
	assert.Equal(t, "order:77:1", msg.Header.Get("Event-ID"))
	assert.Equal(t, "77", msg.Header.Get("Subject-ID"))

	var env map[string]any
	require.NoError(t, json.Unmarshal(msg.Data, &env))
	assert.Equal(t, "order:77:1", env["eventId"])
	assert.Equal(t, "2025-06-01T12:00:00Z", env["timestamp"])
	payload, ok := env["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "P77", payload["pedido_codigo"])
}

func TestStreamConfigEqual(t *testing.T) {
	p := &JetStreamPublisher{config: DefaultJetStreamConfig()}
	sc := p.streamConfig()

	assert.Equal(t, []string{"crmsync.events.>"}, sc.Subjects)
	assert.True(t, streamConfigEqual(sc, sc))

	changed := sc
	changed.MaxAge = time.Hour
	assert.False(t, streamConfigEqual(sc, changed))

	var empty jetstream.StreamConfig
	assert.False(t, streamConfigEqual(sc, empty))
}
