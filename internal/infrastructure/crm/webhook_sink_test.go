package crm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/neese/crmsync/internal/domain/relay"
)

// ---------------------------------------------------------------------------
// Config Tests
// ---------------------------------------------------------------------------

func TestWebhookConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  *WebhookConfig
		wantErr error
	}{
		{name: "valid", config: &WebhookConfig{URL: " https://services.leadconnectorhq.com/hooks/abc "}},
		{name: "missing url", config: &WebhookConfig{}, wantErr: ErrWebhookConfigMissingURL},
		{name: "relative url", config: &WebhookConfig{URL: "/hooks/abc"}, wantErr: ErrWebhookConfigInvalidURL},
		{name: "unsupported scheme", config: &WebhookConfig{URL: "ftp://host/x"}, wantErr: ErrWebhookConfigInvalidURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "https://services.leadconnectorhq.com/hooks/abc", tt.config.URL)
			assert.Equal(t, DefaultWebhookTimeout, tt.config.Timeout)
			assert.Equal(t, DefaultUserAgent, tt.config.UserAgent)
			assert.Zero(t, tt.config.EventDelay)
		})
	}
}

// ---------------------------------------------------------------------------
// Sink Tests
// ---------------------------------------------------------------------------

type receivedPost struct {
	UserAgent   string
	ContentType string
	Traceparent string
	Body        map[string]any
	At          time.Time
}

func newTestSink(t *testing.T, delay time.Duration, status func(n int) int, opts ...SinkOption) (*WebhookSink, func() []receivedPost) {
	t.Helper()

	var (
		mu    sync.Mutex
		posts []receivedPost
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		assert.NoError(t, json.Unmarshal(raw, &body))

		mu.Lock()
		posts = append(posts, receivedPost{
			UserAgent:   r.UserAgent(),
			ContentType: r.Header.Get("Content-Type"),
			Traceparent: r.Header.Get("traceparent"),
			Body:        body,
			At:          time.Now(),
		})
		n := len(posts)
		mu.Unlock()

		code := status(n)
		w.WriteHeader(code)
		if code < 300 {
			_, _ = w.Write([]byte(`{"status":"Success: request sent to trigger execution server"}`))
			return
		}
		_, _ = w.Write([]byte(`{"message":"bad payload"}`))
	}))
	t.Cleanup(server.Close)

	cfg := NewWebhookConfig(server.URL + "/hooks/abc")
	cfg.EventDelay = delay
	sink, err := NewWebhookSink(cfg, zap.NewNop(), opts...)
	require.NoError(t, err)

	return sink, func() []receivedPost {
		mu.Lock()
		defer mu.Unlock()
		return append([]receivedPost(nil), posts...)
	}
}

func testEvent(key string, cartID int64) *relay.OutboundEvent {
	return &relay.OutboundEvent{
		Kind:   relay.EventKindCartAbandoned,
		CartID: cartID,
		Status: relay.StatusBlock{Code: 4, Description: "Carrinho Abandonado"},
		Person: relay.PersonBlock{Name: "Maria", Email: "maria@example.com", Phone: "+5583987516699"},
		Origin: relay.OriginBlock{
			Source:      "magazord",
			CapturedAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			UniqueToken: "carrinho_" + key,
		},
		LedgerKey: key,
	}
}

func TestWebhookSink_DeliverBatch(t *testing.T) {
	sink, posts := newTestSink(t, 0, func(int) int { return http.StatusOK })

	results := sink.DeliverBatch(context.Background(), []*relay.OutboundEvent{
		testEvent("cart:1:abandoned", 1),
		testEvent("cart:2:abandoned", 2),
	})

	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Success)
		assert.NoError(t, r.Err)
		assert.Equal(t, http.StatusOK, r.StatusCode)
		assert.Contains(t, r.Response, "Success")
		assert.Equal(t, relay.EventKindCartAbandoned, r.Kind)
	}
	assert.Equal(t, "cart:1:abandoned", results[0].Key)
	assert.Equal(t, "cart:2:abandoned", results[1].Key)

	received := posts()
	require.Len(t, received, 2)
	assert.Equal(t, DefaultUserAgent, received[0].UserAgent)
	assert.Equal(t, "application/json", received[0].ContentType)
	assert.Equal(t, "carrinho_abandonado", received[0].Body["tipo_evento"])
	assert.EqualValues(t, 1, received[0].Body["carrinho_id"])
	assert.NotContains(t, received[0].Body, "LedgerKey")
}

func TestWebhookSink_Rejected(t *testing.T) {
	sink, _ := newTestSink(t, 0, func(n int) int {
		if n == 2 {
			return http.StatusUnprocessableEntity
		}
		return http.StatusOK
	})

	results := sink.DeliverBatch(context.Background(), []*relay.OutboundEvent{
		testEvent("a", 1),
		testEvent("b", 2),
		testEvent("c", 3),
	})

	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Equal(t, http.StatusUnprocessableEntity, results[1].StatusCode)
	assert.ErrorIs(t, results[1].Err, relay.ErrDeliveryRejected)
	assert.Contains(t, results[1].Response, "bad payload")
	assert.True(t, results[2].Success, "a rejection does not stop the batch")
}

func TestWebhookSink_Pacing(t *testing.T) {
	delay := 50 * time.Millisecond
	sink, posts := newTestSink(t, delay, func(int) int { return http.StatusOK })

	results := sink.DeliverBatch(context.Background(), []*relay.OutboundEvent{
		testEvent("a", 1),
		testEvent("b", 2),
		testEvent("c", 3),
	})
	require.Len(t, results, 3)

	received := posts()
	require.Len(t, received, 3)
	for i := 1; i < len(received); i++ {
		gap := received[i].At.Sub(received[i-1].At)
		assert.GreaterOrEqual(t, gap, delay-10*time.Millisecond, "posts %d and %d too close", i-1, i)
	}
}

func TestWebhookSink_PauseFollowsSlowResponse(t *testing.T) {
	const (
		delay    = 50 * time.Millisecond
		response = 80 * time.Millisecond
	)
	var (
		mu    sync.Mutex
		spans [][2]time.Time
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		time.Sleep(response)
		w.WriteHeader(http.StatusOK)
		mu.Lock()
		spans = append(spans, [2]time.Time{began, time.Now()})
		mu.Unlock()
	}))
	t.Cleanup(server.Close)

	cfg := NewWebhookConfig(server.URL)
	cfg.EventDelay = delay
	sink, err := NewWebhookSink(cfg, zap.NewNop())
	require.NoError(t, err)

	results := sink.DeliverBatch(context.Background(), []*relay.OutboundEvent{testEvent("a", 1), testEvent("b", 2)})
	require.Len(t, results, 2)
	assert.True(t, results[1].Success)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, spans, 2)
	idle := spans[1][0].Sub(spans[0][1])
	assert.GreaterOrEqual(t, idle, delay-10*time.Millisecond)
}

func TestWebhookSink_PauseRespectsDeadline(t *testing.T) {
	sink, posts := newTestSink(t, time.Hour, func(int) int { return http.StatusOK })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	results := sink.DeliverBatch(ctx, []*relay.OutboundEvent{testEvent("a", 1), testEvent("b", 2)})
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.ErrorIs(t, results[1].Err, relay.ErrDeliveryFailed)
	assert.Len(t, posts(), 1)
}

func TestWebhookSink_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	cfg := NewWebhookConfig(server.URL)
	cfg.EventDelay = 0
	sink, err := NewWebhookSink(cfg, zap.NewNop())
	require.NoError(t, err)

	results := sink.DeliverBatch(context.Background(), []*relay.OutboundEvent{testEvent("a", 1)})
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Zero(t, results[0].StatusCode)
	assert.ErrorIs(t, results[0].Err, relay.ErrDeliveryFailed)
}

func TestWebhookSink_CancelledContext(t *testing.T) {
	sink, posts := newTestSink(t, time.Hour, func(int) int { return http.StatusOK })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := sink.DeliverBatch(ctx, []*relay.OutboundEvent{testEvent("a", 1), testEvent("b", 2)})
	require.Len(t, results, 2)
	for _, r := range results {
		assert.False(t, r.Success)
		assert.ErrorIs(t, r.Err, relay.ErrDeliveryFailed)
	}
	assert.Empty(t, posts())
}

func TestWebhookSink_DeliveryKeyFallsBackToToken(t *testing.T) {
	sink, _ := newTestSink(t, 0, func(int) int { return http.StatusOK })

	event := testEvent("", 9)
	result := sink.Deliver(context.Background(), event)
	assert.True(t, result.Success)
	assert.Equal(t, "carrinho_", result.Key)
}

func TestWebhookSink_SpanPerPost(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	sink, posts := newTestSink(t, 0, func(n int) int {
		if n == 2 {
			return http.StatusBadGateway
		}
		return http.StatusOK
	}, WithTracerProvider(tp))

	ctx, parent := tp.Tracer("test").Start(context.Background(), "relay.deliver")
	results := sink.DeliverBatch(ctx, []*relay.OutboundEvent{testEvent("a", 1), testEvent("b", 2)})
	parent.End()
	require.Len(t, results, 2)

	var postSpans []sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		if span.Name() == "crm.post" {
			postSpans = append(postSpans, span)
		}
	}
	require.Len(t, postSpans, 2)

	ok, rejected := postSpans[0], postSpans[1]
	assert.Equal(t, trace.SpanKindClient, ok.SpanKind())
	assert.Equal(t, parent.SpanContext().SpanID(), ok.Parent().SpanID())
	assert.Contains(t, ok.Attributes(), attribute.String("relay.event_key", "a"))
	assert.Contains(t, ok.Attributes(), attribute.String("relay.event_kind", string(relay.EventKindCartAbandoned)))
	assert.Contains(t, ok.Attributes(), attribute.Int("http.response.status_code", http.StatusOK))
	assert.NotEqual(t, codes.Error, ok.Status().Code)

	assert.Contains(t, rejected.Attributes(), attribute.Int("http.response.status_code", http.StatusBadGateway))
	assert.Equal(t, codes.Error, rejected.Status().Code)

	received := posts()
	require.Len(t, received, 2)
	for i, post := range received {
		sc := postSpans[i].SpanContext()
		assert.Equal(t, "00-"+sc.TraceID().String()+"-"+sc.SpanID().String()+"-01", post.Traceparent)
	}
}

func TestWebhookSink_NoTraceparentWithoutSpan(t *testing.T) {
	sink, posts := newTestSink(t, 0, func(int) int { return http.StatusOK })

	results := sink.DeliverBatch(context.Background(), []*relay.OutboundEvent{testEvent("a", 1)})
	require.True(t, results[0].Success)

	received := posts()
	require.Len(t, received, 1)
	assert.Empty(t, received[0].Traceparent)
}
