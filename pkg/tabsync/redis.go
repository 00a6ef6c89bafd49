package tabsync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBus carries sync messages over Redis pub/sub, connecting contexts
// in separate processes. Delivery is Redis pub/sub semantics: at-most-once,
// no replay for subscribers that connect late.
type RedisBus struct {
	rdb *redis.Client
}

// NewRedisBus creates a bus from Redis connection options.
func NewRedisBus(opts *redis.Options) *RedisBus {
	return &RedisBus{rdb: redis.NewClient(opts)}
}

// Close closes the Redis connection. Implements io.Closer.
func (b *RedisBus) Close() error {
	return b.rdb.Close()
}

// Publish sends msg as JSON on the named channel.
func (b *RedisBus) Publish(ctx context.Context, channel string, msg *Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal sync message: %w", err)
	}
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish sync message: %w", err)
	}
	return nil
}

// Subscribe listens on the named channel. Messages are decoded on a
// dedicated goroutine; payloads that fail to decode are skipped silently,
// matching the best-effort posture of the sync layer.
func (b *RedisBus) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	pubsub := b.rdb.Subscribe(ctx, channel)

	msgs := make(chan *Message, 16)
	subCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(msgs)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case raw, ok := <-ch:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
					continue
				}
				select {
				case msgs <- &msg:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{msgs: msgs, cancel: cancel}, nil
}
