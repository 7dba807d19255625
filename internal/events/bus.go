// Package events provides the typed notification channel shared by the
// capture registry and the call gate. Subscribers receive admission and
// degradation events without coupling to the emitting packages.
package events

import (
	"reflect"
	"sync"
	"sync/atomic"
	"time"
)

// Kind identifies the event type carried by an Event.
type Kind string

const (
	// KindCaptureAccepted fires for every capture admitted into a source buffer.
	KindCaptureAccepted Kind = "capture_accepted"
	// KindBatchReady fires when a source buffer flushes a completed batch.
	KindBatchReady Kind = "batch_ready"
	// KindFuseTripped fires when a capability's circuit breaker trips.
	KindFuseTripped Kind = "fuse_tripped"
)

// CaptureItem is the buffer-item view carried by batch events. The raw frame
// stays in storage; subscribers get the admission metadata only.
type CaptureItem struct {
	RecordID    string    `json:"record_id"`
	SourceKey   string    `json:"source_key"`
	CapturedAt  time.Time `json:"captured_at"`
	AppHint     string    `json:"app_hint,omitempty"`
	WindowTitle string    `json:"window_title,omitempty"`
}

// CaptureAccepted is the payload for KindCaptureAccepted.
type CaptureAccepted struct {
	SourceKey string      `json:"source_key"`
	Record    CaptureItem `json:"record"`
}

// BatchReady is the payload for KindBatchReady. Items holds exactly the
// records buffered since the previous flush, in arrival order.
type BatchReady struct {
	SourceKey string        `json:"source_key"`
	BatchID   string        `json:"batch_id"`
	Items     []CaptureItem `json:"items"`
}

// FuseTripped is the payload for KindFuseTripped.
type FuseTripped struct {
	Capability string        `json:"capability"`
	Count      int           `json:"count"`
	Window     time.Duration `json:"window_ms"`
}

// Event is one bus message. Exactly one payload field is set, matching Kind.
type Event struct {
	Seq       uint64
	Kind      Kind
	Timestamp time.Time

	CaptureAccepted *CaptureAccepted
	BatchReady      *BatchReady
	FuseTripped     *FuseTripped
}

// Bus dispatches events to subscribers. Emission never blocks: subscriber
// channels are buffered and events are dropped when a subscriber lags.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan Event
	closed      bool

	seq atomic.Uint64
}

const subscriberBuffer = 64

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a channel that receives all subsequent events. The
// channel is closed by Unsubscribe or Close.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	if ch == nil {
		return
	}
	target := reflect.ValueOf(ch).Pointer()
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subscribers {
		if reflect.ValueOf(sub).Pointer() == target {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

// PublishCaptureAccepted emits a KindCaptureAccepted event.
func (b *Bus) PublishCaptureAccepted(p CaptureAccepted) {
	b.publish(Event{Kind: KindCaptureAccepted, CaptureAccepted: &p})
}

// PublishBatchReady emits a KindBatchReady event.
func (b *Bus) PublishBatchReady(p BatchReady) {
	b.publish(Event{Kind: KindBatchReady, BatchReady: &p})
}

// PublishFuseTripped emits a KindFuseTripped event.
func (b *Bus) PublishFuseTripped(p FuseTripped) {
	b.publish(Event{Kind: KindFuseTripped, FuseTripped: &p})
}

func (b *Bus) publish(ev Event) {
	ev.Seq = b.seq.Add(1)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subscribers {
		select {
		case sub <- ev:
		default: // drop rather than block the emitter
		}
	}
}

// Close shuts down the bus and closes all subscriber channels. Subsequent
// publishes are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subscribers {
		close(sub)
	}
	b.subscribers = nil
}
