package fanout

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrClosed is returned by a bus that has been closed.
var ErrClosed = errors.New("fanout: bus closed")

// MemoryBus delivers messages synchronously to subscribers in the same
// process.  Publish returns after every handler has run.
type MemoryBus struct {
	logger *zap.Logger

	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]Handler
	closed bool
}

// NewMemoryBus returns an empty in-process bus.
func NewMemoryBus(logger *zap.Logger) *MemoryBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryBus{logger: logger, subs: make(map[string]map[int]Handler)}
}

// Publish implements Bus.
func (b *MemoryBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	handlers := make([]Handler, 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, payload); err != nil {
			b.logger.Warn("handler failed", zap.String("topic", topic), zap.Error(err))
		}
	}
	return nil
}

// Subscribe implements Bus.
func (b *MemoryBus) Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	id := b.nextID
	b.nextID++
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]Handler)
	}
	b.subs[topic][id] = h

	var once sync.Once
	cancel := func() error {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[topic], id)
			b.mu.Unlock()
		})
		return nil
	}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			_ = cancel()
		}()
	}
	return subscriptionFunc(cancel), nil
}

// Close drops every subscription.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string]map[int]Handler)
	return nil
}
