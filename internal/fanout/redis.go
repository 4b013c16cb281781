package fanout

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBus maps topics onto Redis PUBLISH/SUBSCRIBE channels.  Redis
// pub/sub is fire-and-forget: subscribers that are offline when a
// message is published miss it.
type RedisBus struct {
	rdb    *redis.Client
	logger *zap.Logger

	mu   sync.Mutex
	subs map[*redis.PubSub]struct{}
}

// NewRedisBus wraps an existing client.  The client is owned by the
// caller and is not closed by Close.
func NewRedisBus(rdb *redis.Client, logger *zap.Logger) *RedisBus {
	return &RedisBus{rdb: rdb, logger: logger, subs: make(map[*redis.PubSub]struct{})}
}

// Publish implements Bus.
func (b *RedisBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.rdb.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe implements Bus.  It returns once Redis has confirmed the
// subscription so that messages published afterwards are not lost.
func (b *RedisBus) Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error) {
	ps := b.rdb.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}
	b.mu.Lock()
	b.subs[ps] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() error {
		var err error
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ps)
			b.mu.Unlock()
			err = ps.Close()
		})
		return err
	}

	go func() {
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = cancel()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := h(ctx, []byte(msg.Payload)); err != nil {
					b.logger.Warn("handler failed", zap.String("topic", topic), zap.Error(err))
				}
			}
		}
	}()
	return subscriptionFunc(cancel), nil
}

// Close ends every subscription opened through b.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[*redis.PubSub]struct{})
	b.mu.Unlock()
	for ps := range subs {
		_ = ps.Close()
	}
	return nil
}
