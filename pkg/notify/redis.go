package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultQueueKey is the list the mailer worker consumes with BRPOP.
	DefaultQueueKey = "funnel:leads"
	// defaultQueueCap bounds the list if the consumer falls behind; oldest
	// entries are dropped first.
	defaultQueueCap = 1000
)

// RedisNotifier pushes lead payloads onto a capped Redis list consumed by
// the outbound mailer.
type RedisNotifier struct {
	client   *redis.Client
	key      string
	queueCap int64
}

// RedisOption is a functional option for configuring a RedisNotifier.
type RedisOption func(*RedisNotifier)

// WithQueueKey overrides the list key.
func WithQueueKey(key string) RedisOption {
	return func(n *RedisNotifier) { n.key = key }
}

// WithQueueCap overrides the retained list length.
func WithQueueCap(n int64) RedisOption {
	return func(r *RedisNotifier) { r.queueCap = n }
}

// NewRedisNotifier wraps an existing client.
func NewRedisNotifier(client *redis.Client, opts ...RedisOption) *RedisNotifier {
	n := &RedisNotifier{
		client:   client,
		key:      DefaultQueueKey,
		queueCap: defaultQueueCap,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify implements Notifier. LPUSH then LTRIM keeps the newest queueCap
// entries.
func (n *RedisNotifier) Notify(ctx context.Context, lead Lead) (Delivery, error) {
	payload, err := json.Marshal(lead)
	if err != nil {
		return Delivery{}, fmt.Errorf("marshal lead: %w", err)
	}

	pipe := n.client.TxPipeline()
	pipe.LPush(ctx, n.key, payload)
	pipe.LTrim(ctx, n.key, 0, n.queueCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return Delivery{}, fmt.Errorf("push lead to redis: %w", err)
	}

	return Delivery{DeliveryID: lead.ID, Channel: "redis"}, nil
}

var _ Notifier = (*RedisNotifier)(nil)
