package fanout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaBus publishes each topic to the Kafka topic of the same name.
// Each subscription reads every partition directly from the offsets
// that were current when it was made, so every process sees every
// message instead of sharing partitions in a consumer group.
type KafkaBus struct {
	brokers []string
	// client tags this process's connections in broker logs.
	client string
	dialer *kafka.Dialer
	writer *kafka.Writer
	logger *zap.Logger

	mu      sync.Mutex
	readers map[*kafka.Reader]context.CancelFunc
	wg      sync.WaitGroup
}

// NewKafkaBus returns a bus writing to brokers.  clientPrefix is
// suffixed with a random id to name this process's connections.
func NewKafkaBus(brokers []string, clientPrefix string, logger *zap.Logger) *KafkaBus {
	if clientPrefix == "" {
		clientPrefix = "seathold"
	}
	client := clientPrefix + "-" + uuid.NewString()
	return &KafkaBus{
		brokers: brokers,
		client:  client,
		dialer:  &kafka.Dialer{ClientID: client, Timeout: 10 * time.Second, DualStack: true},
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		},
		logger:  logger,
		readers: make(map[*kafka.Reader]context.CancelFunc),
	}
}

// Publish implements Bus.
func (b *KafkaBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.writer.WriteMessages(ctx, kafka.Message{Topic: topic, Value: payload}); err != nil {
		return fmt.Errorf("kafka publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe implements Bus.  It returns once the current end offset of
// every partition is known; messages published after that are
// delivered and earlier ones are not replayed.  A missing topic is
// created with one partition.
func (b *KafkaBus) Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error) {
	offsets, err := b.tailOffsets(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("kafka subscribe %s: %w", topic, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	var readers []*kafka.Reader
	for partition, offset := range offsets {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:   b.brokers,
			Topic:     topic,
			Partition: partition,
			Dialer:    b.dialer,
			MinBytes:  1,
			MaxBytes:  10e6,
			MaxWait:   500 * time.Millisecond,
		})
		if err := r.SetOffset(offset); err != nil {
			_ = r.Close()
			for _, r := range readers {
				_ = r.Close()
			}
			cancel()
			return nil, fmt.Errorf("kafka subscribe %s: set offset: %w", topic, err)
		}
		readers = append(readers, r)
	}

	b.mu.Lock()
	for _, r := range readers {
		b.readers[r] = cancel
		b.wg.Add(1)
		go b.read(ctx, r, h)
	}
	b.mu.Unlock()

	return subscriptionFunc(func() error {
		b.mu.Lock()
		for _, r := range readers {
			delete(b.readers, r)
		}
		b.mu.Unlock()
		cancel()
		return nil
	}), nil
}

func (b *KafkaBus) read(ctx context.Context, r *kafka.Reader, h Handler) {
	defer b.wg.Done()
	defer func() { _ = r.Close() }()
	cfg := r.Config()
	log := b.logger.With(zap.String("topic", cfg.Topic), zap.Int("partition", cfg.Partition), zap.String("client", b.client))
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			log.Warn("read failed", zap.Error(err))
			if !sleep(ctx, time.Second) {
				return
			}
			continue
		}
		if err := h(ctx, m.Value); err != nil {
			log.Warn("handler failed", zap.Error(err), zap.Int64("offset", m.Offset))
		}
	}
}

// tailOffsets returns the next offset of each partition of topic.
func (b *KafkaBus) tailOffsets(ctx context.Context, topic string) (map[int]int64, error) {
	partitions, err := b.partitions(ctx, topic)
	if err != nil {
		return nil, err
	}
	offsets := make(map[int]int64, len(partitions))
	for _, p := range partitions {
		conn, err := b.dialer.DialLeader(ctx, "tcp", b.brokers[0], topic, p.ID)
		if err != nil {
			return nil, fmt.Errorf("dial leader of partition %d: %w", p.ID, err)
		}
		last, err := conn.ReadLastOffset()
		_ = conn.Close()
		if err != nil {
			return nil, fmt.Errorf("read offset of partition %d: %w", p.ID, err)
		}
		offsets[p.ID] = last
	}
	return offsets, nil
}

// partitions looks up topic's partitions, creating the topic when the
// cluster does not know it yet.
func (b *KafkaBus) partitions(ctx context.Context, topic string) ([]kafka.Partition, error) {
	created := false
	for attempt := 0; ; attempt++ {
		partitions, err := b.dialer.LookupPartitions(ctx, "tcp", b.brokers[0], topic)
		if err == nil && len(partitions) > 0 {
			return partitions, nil
		}
		if err != nil && !errors.Is(err, kafka.UnknownTopicOrPartition) && !errors.Is(err, kafka.LeaderNotAvailable) {
			return nil, fmt.Errorf("lookup partitions: %w", err)
		}
		if !created {
			if err := b.createTopic(ctx, topic); err != nil {
				return nil, err
			}
			created = true
		}
		if attempt == 10 {
			return nil, fmt.Errorf("topic %s has no partitions", topic)
		}
		if !sleep(ctx, 200*time.Millisecond) {
			return nil, ctx.Err()
		}
	}
}

func (b *KafkaBus) createTopic(ctx context.Context, topic string) error {
	conn, err := b.dialer.DialContext(ctx, "tcp", b.brokers[0])
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("find controller: %w", err)
	}
	cc, err := b.dialer.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer cc.Close()
	err = cc.CreateTopics(kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	return nil
}

// Close stops every reader and flushes the writer.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	for r, cancel := range b.readers {
		cancel()
		delete(b.readers, r)
	}
	b.mu.Unlock()
	b.wg.Wait()
	return b.writer.Close()
}
