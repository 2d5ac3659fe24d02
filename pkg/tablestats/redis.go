package tablestats

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultResetChannel is the Redis channel resets are published on.
const DefaultResetChannel = "ekaya-rest:table-stats:reset"

// RedisBroadcaster fans cache resets out to every engine instance sharing a
// Redis server. Each instance publishes its own id and ignores messages
// carrying it.
type RedisBroadcaster struct {
	client     *redis.Client
	channel    string
	instanceID string
	cache      *Cache
	logger     *zap.Logger
}

// NewRedisBroadcaster wires a broadcaster to cache and registers it as the
// cache's reset notifier.
func NewRedisBroadcaster(client *redis.Client, channel string, cache *Cache, logger *zap.Logger) *RedisBroadcaster {
	if channel == "" {
		channel = DefaultResetChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &RedisBroadcaster{
		client:     client,
		channel:    channel,
		instanceID: uuid.NewString(),
		cache:      cache,
		logger:     logger.Named("table-stats-broadcast"),
	}
	cache.SetResetNotifier(b)
	return b
}

// NotifyReset publishes a reset for peer instances.
func (b *RedisBroadcaster) NotifyReset(ctx context.Context) error {
	if err := b.client.Publish(ctx, b.channel, b.instanceID).Err(); err != nil {
		return fmt.Errorf("publish reset on %s: %w", b.channel, err)
	}
	return nil
}

// Run subscribes to the reset channel and resets the local cache for every
// peer message until ctx ends.
func (b *RedisBroadcaster) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed so no reset published after
	// Run returns control is missed.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", b.channel, err)
	}
	b.logger.Info("Listening for table stats resets", zap.String("channel", b.channel))

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			b.handle(msg.Payload)
		}
	}
}

func (b *RedisBroadcaster) handle(sender string) {
	if sender == b.instanceID {
		return
	}
	if err := b.cache.resetLocal("broadcast"); err != nil {
		b.logger.Warn("Failed to apply broadcast reset",
			zap.String("sender", sender),
			zap.Error(err))
	}
}
