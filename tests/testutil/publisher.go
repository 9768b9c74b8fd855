package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/neese/crmsync/internal/domain/relay"
)

// RecordingPublisher is a relay.EventPublisher that keeps every published
// event in memory.
type RecordingPublisher struct {
	mu        sync.Mutex
	published []*relay.OutboundEvent
	err       error
}

// NewRecordingPublisher creates an empty publisher.
func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{}
}

// Publish records the event, or returns the configured error.
func (p *RecordingPublisher) Publish(_ context.Context, event *relay.OutboundEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, event)
	return nil
}

// Published returns a copy of the recorded events.
func (p *RecordingPublisher) Published() []*relay.OutboundEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*relay.OutboundEvent(nil), p.published...)
}

// Count returns the number of recorded events.
func (p *RecordingPublisher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

// SetError makes subsequent Publish calls fail with err.
func (p *RecordingPublisher) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Reset clears the recorded events and the error.
func (p *RecordingPublisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = nil
	p.err = nil
}

// WaitForPublished waits until at least count events were recorded.
func WaitForPublished(t *testing.T, p *RecordingPublisher, count int, timeout time.Duration) {
	t.Helper()
	require.Eventually(t, func() bool { return p.Count() >= count }, timeout, 10*time.Millisecond,
		"expected %d published events", count)
}

var _ relay.EventPublisher = (*RecordingPublisher)(nil)
