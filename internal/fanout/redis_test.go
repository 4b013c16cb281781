package fanout

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newRedisBus(t *testing.T) (*RedisBus, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisBus(rdb, zaptest.NewLogger(t)), mr
}

func TestRedisBus(t *testing.T) {
	bus, _ := newRedisBus(t)
	busContract(t, bus, 2*time.Second)
	require.NoError(t, bus.Close())
}

func TestRedisBusStopsOnContextDone(t *testing.T) {
	bus, mr := newRedisBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	got, _ := collect(t, ctx, bus, "seats.held")
	assert.Equal(t, 1, mr.PubSubNumSub("seats.held")["seats.held"])

	cancel()
	assert.Eventually(t, func() bool {
		return mr.PubSubNumSub("seats.held")["seats.held"] == 0
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, bus.Publish(context.Background(), "seats.held", []byte("late")))
	assert.Empty(t, got)
}

func TestRedisBusSubscribeFailsWhenServerIsDown(t *testing.T) {
	bus, mr := newRedisBus(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := bus.Subscribe(ctx, "seats.released", func(context.Context, []byte) error { return nil })
	assert.Error(t, err)
	assert.Error(t, bus.Publish(ctx, "seats.released", []byte("x")))
}
