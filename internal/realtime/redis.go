package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

// TopicPrefix namespaces per-user pub/sub channels.
const TopicPrefix = "herald:user:"

// Topic returns the Redis channel of a user.
func Topic(userID string) string {
	return TopicPrefix + userID
}

// RedisPublisher publishes to Redis so that every instance's Bridge
// delivers the message to its local sessions.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, userID string, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := p.client.Publish(ctx, Topic(userID), payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Bridge relays every user topic into the local Hub.
type Bridge struct {
	client *redis.Client
	hub    *Hub
	logger *slog.Logger
}

func NewBridge(client *redis.Client, hub *Hub, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{client: client, hub: hub, logger: logger}
}

// Run blocks until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	pubsub := b.client.PSubscribe(ctx, TopicPrefix+"*")
	defer pubsub.Close()

	// Receive confirms the subscription before messages are consumed.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe: %w", err)
	}
	b.logger.Info("realtime bridge subscribed", "pattern", TopicPrefix+"*")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			userID := strings.TrimPrefix(msg.Channel, TopicPrefix)
			b.hub.Deliver(userID, []byte(msg.Payload))
		}
	}
}
