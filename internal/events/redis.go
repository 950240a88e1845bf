package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const publishTimeout = 3 * time.Second

// RedisRelay republishes bus events on a Redis channel so indexers outside
// the node process can follow the ledger without holding a websocket open.
type RedisRelay struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisRelay builds a relay publishing to the given channel.
func NewRedisRelay(client *redis.Client, channel string, logger *zap.Logger) *RedisRelay {
	if channel == "" {
		channel = "chargeledger:events"
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		logger:  logger,
	}
}

// Run consumes the bus subscription until ctx is done. Publish failures are
// logged and the event is dropped; the ledger itself is never affected.
func (r *RedisRelay) Run(ctx context.Context, bus *Bus) {
	ch, cancel := bus.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				r.logger.Error("failed to encode event", zap.Error(err))
				continue
			}
			pubCtx, cancelPub := context.WithTimeout(ctx, publishTimeout)
			if err := r.client.Publish(pubCtx, r.channel, payload).Err(); err != nil {
				r.logger.Warn("failed to publish event to redis",
					zap.String("kind", string(event.Kind)),
					zap.Error(err),
				)
			}
			cancelPub()
		}
	}
}
