package httpserver

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chargeledger/internal/events"
	"chargeledger/pkg/metrics"
)

const wsWriteTimeout = 5 * time.Second

// EventFeed streams ledger events to websocket subscribers (indexers,
// dashboards). Read-only: incoming frames are discarded.
type EventFeed struct {
	bus      *events.Bus
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewEventFeed builds the feed handler.
func NewEventFeed(bus *events.Bus, logger *zap.Logger) *EventFeed {
	return &EventFeed{
		bus:    bus,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// ServeHTTP handles GET /ws/events.
func (f *EventFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	metrics.WebsocketSubscribers.Inc()
	defer metrics.WebsocketSubscribers.Dec()

	ch, cancel := f.bus.Subscribe()
	defer cancel()

	// Drain reads so close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for event := range ch {
		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
			return
		}
		if err := conn.WriteJSON(event); err != nil {
			f.logger.Debug("event feed subscriber gone", zap.Error(err))
			return
		}
	}
}
