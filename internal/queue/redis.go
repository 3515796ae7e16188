package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dukerupert/herald/internal/model"
)

// DefaultKey is the Redis list other services LPUSH requests onto.
const DefaultKey = "herald:requests"

// Consumer moves JSON-encoded requests from a Redis list into the queue.
type Consumer struct {
	client *redis.Client
	key    string
	queue  *Queue
	logger *slog.Logger
	// poll bounds each BRPOP so Run notices cancellation.
	poll time.Duration
}

func NewConsumer(client *redis.Client, key string, q *Queue, logger *slog.Logger) *Consumer {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{client: client, key: key, queue: q, logger: logger, poll: 5 * time.Second}
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("request consumer started", "key", c.key)
	for {
		res, err := c.client.BRPop(ctx, c.poll, c.key).Result()
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			c.logger.Warn("brpop failed", "key", c.key, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		// res is [key, value]
		if len(res) != 2 {
			continue
		}
		if err := c.handle(ctx, []byte(res[1])); err != nil {
			c.logger.Warn("dropping queued request", "key", c.key, "error", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, payload []byte) error {
	var req model.NotificationRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return c.queue.Submit(ctx, req)
}
