package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBus - Bus over redis Pub/Sub, shared by every instance using the same redis.
type RedisBus struct {
	logger *slog.Logger
	client *redis.Client
}

func NewRedisBus(logger *slog.Logger, client *redis.Client) *RedisBus {
	return &RedisBus{
		logger: logger.With("component", "redis-bus"),
		client: client,
	}
}

func (that *RedisBus) Publish(ctx context.Context, channel string, payload string) error {
	if err := that.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}

	return nil
}

func (that *RedisBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := that.client.Subscribe(ctx, channel)

	// wait for the confirmation, so nothing published after this returns is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	sub := &redisSubscription{pubsub: pubsub, box: newMailbox(), done: make(chan struct{})}

	go sub.pump(that.logger.With("channel", channel))

	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	box    *mailbox
	done   chan struct{}
	once   sync.Once
}

func (that *redisSubscription) pump(log *slog.Logger) {
	defer close(that.done)

	for msg := range that.pubsub.Channel() {
		that.box.post(msg.Payload)
	}

	log.Debug("subscription closed")
}

func (that *redisSubscription) Notifications() <-chan string {
	return that.box.ch
}

func (that *redisSubscription) Close() error {
	var err error
	that.once.Do(func() {
		err = that.pubsub.Close()
		<-that.done
	})

	if err != nil {
		return fmt.Errorf("failed to close subscription: %w", err)
	}

	return nil
}
