package events

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"chargeledger/internal/ledger"
)

func TestBusFansOutToSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop())

	ch1, cancel1 := bus.Subscribe()
	ch2, cancel2 := bus.Subscribe()
	defer cancel1()
	defer cancel2()

	event := ledger.Event{Kind: ledger.EventSessionRequested, SessionID: "s1"}
	bus.Publish(event)

	for i, ch := range []<-chan ledger.Event{ch1, ch2} {
		select {
		case got := <-ch:
			if got.Kind != event.Kind || got.SessionID != event.SessionID {
				t.Fatalf("subscriber %d got %+v", i, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d did not receive the event", i)
		}
	}
}

func TestBusDropsWhenSubscriberIsFull(t *testing.T) {
	bus := NewBus(zap.NewNop())
	ch, cancel := bus.Subscribe()
	defer cancel()

	// Fill the buffer and publish one more; Publish must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+10; i++ {
			bus.Publish(ledger.Event{Kind: ledger.EventPriceModified})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	if len(ch) != subscriberBuffer {
		t.Fatalf("expected a full buffer of %d, got %d", subscriberBuffer, len(ch))
	}
}

func TestCancelClosesChannel(t *testing.T) {
	bus := NewBus(zap.NewNop())
	ch, cancel := bus.Subscribe()
	cancel()
	// Double cancel is safe.
	cancel()

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}

	// Publishing after cancel must not panic.
	bus.Publish(ledger.Event{Kind: ledger.EventSessionStarted})
}
