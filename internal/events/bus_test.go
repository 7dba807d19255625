package events_test

import (
	"testing"
	"time"

	"github.com/mbaxszy7/mnemora/internal/events"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishReachesAllSubscribers(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	sub1 := bus.Subscribe()
	sub2 := bus.Subscribe()

	bus.PublishCaptureAccepted(events.CaptureAccepted{
		SourceKey: "screen:1",
		Record:    events.CaptureItem{RecordID: "r1", SourceKey: "screen:1"},
	})

	for _, sub := range []<-chan events.Event{sub1, sub2} {
		select {
		case ev := <-sub:
			require.Equal(t, events.KindCaptureAccepted, ev.Kind)
			require.NotNil(t, ev.CaptureAccepted)
			require.Equal(t, "r1", ev.CaptureAccepted.Record.RecordID)
			require.Nil(t, ev.BatchReady)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBus_SequenceNumbersIncrease(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	sub := bus.Subscribe()
	bus.PublishBatchReady(events.BatchReady{SourceKey: "screen:1", BatchID: "b1"})
	bus.PublishBatchReady(events.BatchReady{SourceKey: "screen:1", BatchID: "b2"})

	first := <-sub
	second := <-sub
	require.Less(t, first.Seq, second.Seq)
	require.Equal(t, "b1", first.BatchReady.BatchID)
	require.Equal(t, "b2", second.BatchReady.BatchID)
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	sub := bus.Subscribe()
	bus.Unsubscribe(sub)

	_, open := <-sub
	require.False(t, open)

	// Publishing after unsubscribe must not panic.
	bus.PublishFuseTripped(events.FuseTripped{Capability: "text", Count: 3})
}

func TestBus_SlowSubscriberDoesNotBlockEmitter(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	_ = bus.Subscribe() // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			bus.PublishCaptureAccepted(events.CaptureAccepted{SourceKey: "app:Slack"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}
}

func TestBus_CloseIsIdempotent(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe()
	bus.Close()
	bus.Close()

	_, open := <-sub
	require.False(t, open)
}
