package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const maxBackoff = 30 * time.Second

// AMQPBus publishes each topic to a RabbitMQ fanout exchange of the same
// name.  Every subscriber binds its own exclusive, auto-deleted queue to
// the exchange so each process receives a copy of every message.
type AMQPBus struct {
	url    string
	logger *zap.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	ch      *amqp.Channel
	closed  bool
	cancels []context.CancelFunc
	wg      sync.WaitGroup
}

// NewAMQPBus returns a bus that dials url lazily.
func NewAMQPBus(url string, logger *zap.Logger) *AMQPBus {
	return &AMQPBus{url: url, logger: logger}
}

func declareExchange(ch *amqp.Channel, topic string) error {
	return ch.ExchangeDeclare(
		topic,    // name
		"fanout", // kind
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	)
}

// channel returns the shared publishing channel, dialing when the
// previous connection has gone away.
func (b *AMQPBus) channel() (*amqp.Channel, error) {
	if b.closed {
		return nil, ErrClosed
	}
	if b.ch != nil && !b.ch.IsClosed() {
		return b.ch, nil
	}
	if b.conn == nil || b.conn.IsClosed() {
		conn, err := amqp.Dial(b.url)
		if err != nil {
			return nil, fmt.Errorf("amqp dial: %w", err)
		}
		b.conn = conn
	}
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp channel open: %w", err)
	}
	b.ch = ch
	return ch, nil
}

// Publish implements Bus.  Messages are marked persistent.
func (b *AMQPBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, err := b.channel()
	if err != nil {
		return err
	}
	if err := declareExchange(ch, topic); err != nil {
		return fmt.Errorf("amqp exchange declare: %w", err)
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	}
	if err := ch.PublishWithContext(ctx,
		topic, // exchange
		"",    // routing key, ignored by fanout exchanges
		false, // mandatory
		false, // immediate
		pub,
	); err != nil {
		return fmt.Errorf("amqp publish: %w", err)
	}
	return nil
}

// Subscribe implements Bus.  The queue is declared, bound and consumed
// before Subscribe returns.  After that a reconnect loop with
// exponential backoff keeps the subscription alive until ctx is done or
// it is cancelled, so a broker restart only pauses delivery.
func (b *AMQPBus) Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	conn, err := amqp.Dial(b.url)
	if err != nil {
		return nil, fmt.Errorf("amqp subscribe %s: dial: %w", topic, err)
	}
	ch, msgs, err := b.bind(conn, topic)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp subscribe %s: %w", topic, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		_ = conn.Close()
		return nil, ErrClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	b.cancels = append(b.cancels, cancel)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.consume(ctx, topic, h, conn, ch, msgs)
	}()
	return subscriptionFunc(func() error { cancel(); return nil }), nil
}

func (b *AMQPBus) consume(ctx context.Context, topic string, h Handler, conn *amqp.Connection, ch *amqp.Channel, msgs <-chan amqp.Delivery) {
	log := b.logger.With(zap.String("topic", topic))
	for {
		err := b.deliver(ctx, topic, h, msgs)
		_ = ch.Close()
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		log.Warn("consume loop ended, reconnecting", zap.Error(err))
		if conn, ch, msgs = b.reconnect(ctx, topic, log); conn == nil {
			return
		}
	}
}

// reconnect dials and binds again, backing off between attempts.  It
// returns a nil connection once ctx is done.
func (b *AMQPBus) reconnect(ctx context.Context, topic string, log *zap.Logger) (*amqp.Connection, *amqp.Channel, <-chan amqp.Delivery) {
	backoff := time.Second
	for {
		if !sleep(ctx, backoff) {
			return nil, nil, nil
		}
		conn, err := amqp.Dial(b.url)
		if err == nil {
			ch, msgs, berr := b.bind(conn, topic)
			if berr == nil {
				log.Info("resubscribed")
				return conn, ch, msgs
			}
			_ = conn.Close()
			err = berr
		}
		log.Warn("reconnect failed, retrying", zap.Error(err), zap.Duration("backoff", backoff))
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

// bind opens a channel on conn and consumes an exclusive queue bound to
// topic's exchange.
func (b *AMQPBus) bind(conn *amqp.Connection, topic string) (*amqp.Channel, <-chan amqp.Delivery, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("channel open: %w", err)
	}
	fail := func(err error) (*amqp.Channel, <-chan amqp.Delivery, error) {
		_ = ch.Close()
		return nil, nil, err
	}

	if err := ch.Qos(50, 0, false); err != nil {
		b.logger.Warn("set QoS failed", zap.Error(err))
	}
	if err := declareExchange(ch, topic); err != nil {
		return fail(fmt.Errorf("exchange declare: %w", err))
	}
	q, err := ch.QueueDeclare(
		"",    // server-generated name
		false, // durable
		true,  // autoDelete
		true,  // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return fail(fmt.Errorf("queue declare: %w", err))
	}
	if err := ch.QueueBind(q.Name, "", topic, false, nil); err != nil {
		return fail(fmt.Errorf("queue bind: %w", err))
	}
	msgs, err := ch.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		return fail(fmt.Errorf("queue consume: %w", err))
	}
	return ch, msgs, nil
}

func (b *AMQPBus) deliver(ctx context.Context, topic string, h Handler, msgs <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := h(ctx, d.Body); err != nil {
				b.logger.Warn("handler failed", zap.String("topic", topic), zap.Error(err))
				_ = d.Nack(false, false) // drop, requeueing would loop
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Close stops all consumers and closes the publishing connection.
func (b *AMQPBus) Close() error {
	b.mu.Lock()
	b.closed = true
	for _, cancel := range b.cancels {
		cancel()
	}
	b.cancels = nil
	conn := b.conn
	b.conn, b.ch = nil, nil
	b.mu.Unlock()

	b.wg.Wait()
	if conn != nil && !conn.IsClosed() {
		return conn.Close()
	}
	return nil
}

// sleep waits for d or until ctx is done, reporting whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
