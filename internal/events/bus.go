package events

import (
	"sync"

	"go.uber.org/zap"

	"chargeledger/internal/ledger"
)

const subscriberBuffer = 64

// Bus fans ledger events out to in-process subscribers (websocket feed, Redis
// relay). Publish never blocks the ledger: a subscriber that cannot keep up
// has events dropped, with a warning.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan ledger.Event
	nextID int
	logger *zap.Logger
}

// NewBus builds an event bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		subs:   make(map[int]chan ledger.Event),
		logger: logger,
	}
}

// Publish delivers the event to every subscriber. Implements ledger.EventSink.
func (b *Bus) Publish(event ledger.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.logger.Warn("event subscriber is not keeping up, dropping event",
				zap.Int("subscriber", id),
				zap.String("kind", string(event.Kind)),
			)
		}
	}
}

// Subscribe registers a new subscriber and returns its channel plus a cancel
// function. The channel is closed on cancel.
func (b *Bus) Subscribe() (<-chan ledger.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan ledger.Event, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}
