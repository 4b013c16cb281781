package fanout

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collect subscribes to topic and returns the channel messages land on.
func collect(t *testing.T, ctx context.Context, bus Bus, topic string) (<-chan string, Subscription) {
	t.Helper()
	got := make(chan string, 16)
	sub, err := bus.Subscribe(ctx, topic, func(_ context.Context, p []byte) error {
		got <- string(p)
		return nil
	})
	require.NoError(t, err)
	return got, sub
}

func receive(t *testing.T, ch <-chan string, n int, within time.Duration) []string {
	t.Helper()
	var out []string
	deadline := time.After(within)
	for len(out) < n {
		select {
		case m := <-ch:
			out = append(out, m)
		case <-deadline:
			t.Fatalf("received %d of %d messages: %v", len(out), n, out)
		}
	}
	return out
}

// busContract checks the behaviour every transport shares: each
// subscriber gets each message published after Subscribe returned, and
// an unsubscribed handler gets nothing more.
func busContract(t *testing.T, bus Bus, within time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	topic := fmt.Sprintf("seats.released.%d", time.Now().UnixNano())

	a, _ := collect(t, ctx, bus, topic)
	b, subB := collect(t, ctx, bus, topic)
	other, _ := collect(t, ctx, bus, topic+".other")

	want := []string{`[{"screeningId":"s1","seatId":"a"}]`, `[{"screeningId":"s1","seatId":"b"}]`, `[]`}
	for _, m := range want {
		require.NoError(t, bus.Publish(ctx, topic, []byte(m)))
	}
	assert.Equal(t, want, receive(t, a, len(want), within))
	assert.Equal(t, want, receive(t, b, len(want), within))

	require.NoError(t, subB.Unsubscribe())
	require.NoError(t, bus.Publish(ctx, topic, []byte("after")))
	assert.Equal(t, []string{"after"}, receive(t, a, 1, within))
	select {
	case m := <-b:
		t.Fatalf("unsubscribed handler got %q", m)
	case <-time.After(200 * time.Millisecond):
	}
	assert.Empty(t, other)
}
