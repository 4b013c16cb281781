package fanout

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestKafkaSubscribeFailsWithoutBroker(t *testing.T) {
	bus := NewKafkaBus([]string{"127.0.0.1:1"}, "test", zaptest.NewLogger(t))
	defer bus.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := bus.Subscribe(ctx, "seats.released", func(context.Context, []byte) error { return nil })
	assert.Error(t, err)
}

// Set KAFKA_TEST_BROKERS (comma separated) to run against a real
// cluster.  Topics are created on first subscribe.
func TestKafkaBus(t *testing.T) {
	brokers := os.Getenv("KAFKA_TEST_BROKERS")
	if brokers == "" {
		t.Skip("KAFKA_TEST_BROKERS not set")
	}
	bus := NewKafkaBus(strings.Split(brokers, ","), "test", zaptest.NewLogger(t))
	busContract(t, bus, 15*time.Second)
	require.NoError(t, bus.Close())
}
