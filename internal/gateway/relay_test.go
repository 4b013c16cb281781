package gateway

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-seat-hold/internal/fanout"
	"github.com/iliyamo/cinema-seat-hold/internal/model"
	"github.com/iliyamo/cinema-seat-hold/internal/service"
	"github.com/iliyamo/cinema-seat-hold/internal/testutil"
)

func TestRelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := fanout.NewMemoryBus(nil)
	gw := New(NewHub(nil), nil, nil, nil)
	relay := NewRelay(bus, gw, Topics{Released: "seats.released", Held: "seats.held", Booked: "booking.confirmed"}, nil)
	require.NoError(t, relay.Start(ctx))

	a, b := uuid.NewString(), uuid.NewString()
	watcher := NewSession("watcher", 0)
	gw.Hub().Join(watcher, a)

	t.Run("released is grouped per screening", func(t *testing.T) {
		payload, err := fanout.EncodeReleased([]model.SeatKey{
			{ScreeningID: a, SeatID: "s1"},
			{ScreeningID: b, SeatID: "s9"},
			{ScreeningID: a, SeatID: "s2"},
		})
		require.NoError(t, err)
		require.NoError(t, bus.Publish(ctx, "seats.released", payload))

		m := next(t, watcher)
		assert.Equal(t, EventReleased, m.Event)
		assert.Equal(t, a, m.Data["screeningId"])
		assert.ElementsMatch(t, []string{"s1", "s2"}, stringList(m.Data["seatIds"]))
		assertQuiet(t, watcher)
	})

	t.Run("booked", func(t *testing.T) {
		payload, err := json.Marshal(fanout.BookingConfirmed{
			TransactionID: uuid.NewString(),
			UserID:        "alice",
			ScreeningID:   a,
			SeatIDs:       []string{"s3"},
		})
		require.NoError(t, err)
		require.NoError(t, bus.Publish(ctx, "booking.confirmed", payload))

		m := next(t, watcher)
		assert.Equal(t, EventBooked, m.Event)
		assert.Equal(t, []string{"s3"}, stringList(m.Data["seatIds"]))
	})

	t.Run("held from another instance", func(t *testing.T) {
		payload, err := json.Marshal(fanout.SeatHeld{Origin: "elsewhere", ScreeningID: a, SeatID: "s4", UserID: "bob"})
		require.NoError(t, err)
		require.NoError(t, bus.Publish(ctx, "seats.held", payload))

		m := next(t, watcher)
		assert.Equal(t, EventHeld, m.Event)
		assert.Equal(t, "s4", m.Data["seatId"])
		assert.Equal(t, "bob", m.Data["userId"])
	})

	t.Run("own messages are skipped", func(t *testing.T) {
		payload, err := json.Marshal(fanout.SeatHeld{Origin: gw.InstanceID(), ScreeningID: a, SeatID: "s5", UserID: "bob"})
		require.NoError(t, err)
		require.NoError(t, bus.Publish(ctx, "seats.held", payload))
		payload, err = fanout.EncodeReleasedFrom(gw.InstanceID(), []model.SeatKey{{ScreeningID: a, SeatID: "s5"}})
		require.NoError(t, err)
		require.NoError(t, bus.Publish(ctx, "seats.released", payload))
		assertQuiet(t, watcher)
	})

	t.Run("malformed payloads are dropped", func(t *testing.T) {
		require.NoError(t, bus.Publish(ctx, "seats.released", []byte(`nope`)))
		require.NoError(t, bus.Publish(ctx, "seats.held", []byte(`{}`)))
		require.NoError(t, bus.Publish(ctx, "booking.confirmed", []byte(`{}`)))
		assertQuiet(t, watcher)
	})
}

func TestSeatEventsCrossInstances(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db := testutil.OpenDB(t)
	f := testutil.Seed(t, db, testutil.SeedOptions{})
	repos := service.NewRepositories(db)
	screenings := service.NewScreeningService(repos)
	bus := fanout.NewMemoryBus(nil)
	topics := Topics{Released: "seats.released", Held: "seats.held", Booked: "booking.confirmed"}

	gwA := New(NewHub(nil), repos.Holds, screenings, nil, WithBus(bus, topics))
	gwB := New(NewHub(nil), repos.Holds, screenings, nil, WithBus(bus, topics))
	require.NotEqual(t, gwA.InstanceID(), gwB.InstanceID())
	for _, gw := range []*Gateway{gwA, gwB} {
		require.NoError(t, NewRelay(bus, gw, topics, nil).Start(ctx))
	}

	room := f.ScreeningID
	holder := NewSession("alice", 0)
	localViewer := NewSession("carol", 0)
	remoteViewer := NewSession("bob", 0)
	gwA.Hub().Join(holder, room)
	gwA.Hub().Join(localViewer, room)
	gwB.Hub().Join(remoteViewer, room)

	gwA.Hold(ctx, holder, room, f.Seats[0])
	gwA.Hold(ctx, holder, room, f.Seats[1])
	for _, seat := range f.Seats[:2] {
		m := next(t, remoteViewer)
		assert.Equal(t, EventHeld, m.Event)
		assert.Equal(t, seat, m.Data["seatId"])
		assert.Equal(t, "alice", m.Data["userId"])
		assert.Equal(t, EventHeld, next(t, localViewer).Event)
	}
	assertQuiet(t, remoteViewer)
	assertQuiet(t, localViewer)

	gwA.Release(ctx, holder, room, f.Seats[1])
	m := next(t, remoteViewer)
	assert.Equal(t, EventReleased, m.Event)
	assert.Equal(t, []string{f.Seats[1]}, stringList(m.Data["seatIds"]))
	assert.Equal(t, f.Seats[1], next(t, localViewer).Data["seatId"])

	gwA.Disconnect(ctx, holder)
	m = next(t, remoteViewer)
	assert.Equal(t, EventReleased, m.Event)
	assert.Equal(t, room, m.Data["screeningId"])
	assert.Equal(t, []string{f.Seats[0]}, stringList(m.Data["seatIds"]))
	assert.Equal(t, EventReleased, next(t, localViewer).Event)

	assertQuiet(t, remoteViewer)
	assertQuiet(t, localViewer)
}
