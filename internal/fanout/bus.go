// Package fanout carries seat notifications between server processes.
// Every subscriber of a topic receives every message published on it;
// delivery is at-least-once and unordered across publishers.
package fanout

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-hold/internal/config"
)

// Handler processes one message.  A returned error is logged by the bus
// and the message is dropped; it is never redelivered to the same
// subscriber.
type Handler func(ctx context.Context, payload []byte) error

// Subscription is an active subscription to one topic.
type Subscription interface {
	Unsubscribe() error
}

// Bus is a topic based publish/subscribe transport.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe registers h for topic.  Delivery stops when ctx is done
	// or the subscription is cancelled.
	Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error)
	Close() error
}

// New builds the bus selected by cfg.Driver.  rdb is required for the
// redis driver only.
func New(cfg config.FanoutConfig, rdb *redis.Client, logger *zap.Logger) (Bus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("fanout")
	switch cfg.Driver {
	case config.FanoutMemory, "":
		return NewMemoryBus(logger), nil
	case config.FanoutRedis:
		if rdb == nil {
			return nil, fmt.Errorf("fanout driver %q needs a reachable redis server", cfg.Driver)
		}
		return NewRedisBus(rdb, logger), nil
	case config.FanoutAMQP:
		return NewAMQPBus(cfg.AMQPURL, logger), nil
	case config.FanoutKafka:
		return NewKafkaBus(cfg.KafkaBrokers, cfg.KafkaClient, logger), nil
	default:
		return nil, fmt.Errorf("unsupported fanout driver %q", cfg.Driver)
	}
}

// subscriptionFunc adapts a cancel function to Subscription.
type subscriptionFunc func() error

func (f subscriptionFunc) Unsubscribe() error { return f() }
