package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-seat-hold/internal/model"
	"github.com/iliyamo/cinema-seat-hold/internal/repository"
	"github.com/iliyamo/cinema-seat-hold/internal/service"
	"github.com/iliyamo/cinema-seat-hold/internal/testutil"
)

// received is a decoded outbound message.
type received struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

func next(t *testing.T, s *Session) received {
	t.Helper()
	select {
	case raw := <-s.Outbound():
		var m received
		require.NoError(t, json.Unmarshal(raw, &m))
		return m
	case <-time.After(time.Second):
		t.Fatal("no message queued")
		return received{}
	}
}

func assertQuiet(t *testing.T, s *Session) {
	t.Helper()
	select {
	case raw := <-s.Outbound():
		t.Fatalf("unexpected message %s", raw)
	default:
	}
}

func stringList(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.(string))
	}
	return out
}

type fixture struct {
	gw    *Gateway
	db    *sql.DB
	holds *repository.HoldRepo
	f     testutil.Fixture
	// second screening in the same hall, later in the day
	other string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := testutil.OpenDB(t)
	f := testutil.Seed(t, db, testutil.SeedOptions{})
	other := testutil.InsertScreening(t, db, f.MovieID, f.HallID, f.Start.Add(6*time.Hour), 120)
	repos := service.NewRepositories(db)
	screenings := service.NewScreeningService(repos)
	return fixture{
		gw:    New(NewHub(nil), repos.Holds, screenings, nil),
		db:    db,
		holds: repos.Holds,
		f:     f,
		other: other,
	}
}

func TestJoin(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	testutil.InsertPaidTicket(t, fx.db, fx.f.ScreeningID, fx.f.Seats[0], "zed")
	_, err := fx.holds.Acquire(ctx, fx.f.ScreeningID, fx.f.Seats[1], "bob")
	require.NoError(t, err)

	s := NewSession("alice", 0)
	fx.gw.Join(ctx, s, "not-an-id")
	m := next(t, s)
	assert.Equal(t, EventJoinFailed, m.Event)
	assert.Equal(t, ReasonInvalid, m.Data["reason"])

	fx.gw.Join(ctx, s, fx.f.ScreeningID)
	m = next(t, s)
	assert.Equal(t, EventSnapshot, m.Event)
	assert.Equal(t, fx.f.ScreeningID, m.Data["screeningId"])
	assert.Equal(t, []string{fx.f.Seats[0]}, stringList(m.Data["bookedSeats"]))
	assert.Equal(t, []string{fx.f.Seats[1]}, stringList(m.Data["heldSeats"]))
	assert.Equal(t, 1, fx.gw.Hub().Members(fx.f.ScreeningID))
}

type failingSnapshots struct{}

func (failingSnapshots) Snapshot(context.Context, string) (*service.Snapshot, error) {
	return nil, errors.New("db down")
}

func TestJoinSnapshotFailureKeepsMembership(t *testing.T) {
	gw := New(NewHub(nil), nil, failingSnapshots{}, nil)
	s := NewSession("alice", 0)
	room := uuid.NewString()

	gw.Join(context.Background(), s, room)
	m := next(t, s)
	assert.Equal(t, EventSnapshotFailed, m.Event)
	assert.Equal(t, ReasonServerError, m.Data["reason"])
	assert.Equal(t, 1, gw.Hub().Members(room))
}

func TestHold(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	room, seat := fx.f.ScreeningID, fx.f.Seats[0]

	alice, bob := NewSession("alice", 0), NewSession("bob", 0)
	fx.gw.Hub().Join(alice, room)
	fx.gw.Hub().Join(bob, room)

	fx.gw.Hold(ctx, alice, room, seat)
	held := next(t, alice)
	assert.Equal(t, EventHeld, held.Event)
	assert.Equal(t, "alice", held.Data["userId"])
	ok := next(t, alice)
	assert.Equal(t, EventHoldOK, ok.Event)
	assert.Equal(t, seat, ok.Data["seatId"])
	assert.NotEmpty(t, ok.Data["expiresAt"])
	assert.Equal(t, EventHeld, next(t, bob).Event)

	fx.gw.Hold(ctx, bob, room, seat)
	m := next(t, bob)
	assert.Equal(t, EventHoldFailed, m.Event)
	assert.Equal(t, ReasonSeatHeld, m.Data["reason"])
	assertQuiet(t, alice)

	testutil.InsertPaidTicket(t, fx.db, room, fx.f.Seats[1], "zed")
	fx.gw.Hold(ctx, bob, room, fx.f.Seats[1])
	assert.Equal(t, ReasonSeatBooked, next(t, bob).Data["reason"])

	fx.gw.Hold(ctx, bob, room, "")
	assert.Equal(t, ReasonInvalid, next(t, bob).Data["reason"])
	assertQuiet(t, alice)
}

type brokenHolds struct{}

func (brokenHolds) Acquire(context.Context, string, string, string) (*model.Hold, error) {
	return nil, errors.New("connection reset")
}

func (brokenHolds) Release(context.Context, string, string, string) (int64, error) {
	return 0, errors.New("connection reset")
}

func (brokenHolds) ReleaseAllByOwner(context.Context, string) ([]model.SeatKey, error) {
	return nil, errors.New("connection reset")
}

func TestStoreFailuresReportServerError(t *testing.T) {
	gw := New(NewHub(nil), brokenHolds{}, nil, nil)
	s := NewSession("alice", 0)
	id := uuid.NewString()

	gw.Hold(context.Background(), s, id, id)
	assert.Equal(t, ReasonServerError, next(t, s).Data["reason"])
	gw.Release(context.Background(), s, id, id)
	assert.Equal(t, ReasonServerError, next(t, s).Data["reason"])
	gw.Disconnect(context.Background(), s)
}

func TestRelease(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	room, seat := fx.f.ScreeningID, fx.f.Seats[0]

	alice, bob := NewSession("alice", 0), NewSession("bob", 0)
	fx.gw.Hub().Join(bob, room)

	fx.gw.Release(ctx, alice, room, "")
	assert.Equal(t, ReasonInvalid, next(t, alice).Data["reason"])

	fx.gw.Release(ctx, alice, room, seat)
	m := next(t, alice)
	assert.Equal(t, EventReleaseFailed, m.Event)
	assert.Equal(t, ReasonNotFound, m.Data["reason"])

	_, err := fx.holds.Acquire(ctx, room, seat, "alice")
	require.NoError(t, err)

	// Someone else's hold is not found for bob.
	fx.gw.Release(ctx, bob, room, seat)
	assert.Equal(t, ReasonNotFound, next(t, bob).Data["reason"])

	fx.gw.Release(ctx, alice, room, seat)
	assert.Equal(t, EventReleaseOK, next(t, alice).Event)
	released := next(t, bob)
	assert.Equal(t, EventReleased, released.Event)
	assert.Equal(t, seat, released.Data["seatId"])

	fx.gw.Release(ctx, alice, room, seat)
	assert.Equal(t, ReasonNotFound, next(t, alice).Data["reason"])
}

func TestDisconnectReleasesPerScreening(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	alice, bob := NewSession("alice", 0), NewSession("bob", 0)
	fx.gw.Hub().Join(alice, fx.f.ScreeningID)
	fx.gw.Hub().Join(bob, fx.f.ScreeningID)
	fx.gw.Hub().Join(bob, fx.other)

	for _, k := range []model.SeatKey{
		{ScreeningID: fx.f.ScreeningID, SeatID: fx.f.Seats[0]},
		{ScreeningID: fx.f.ScreeningID, SeatID: fx.f.Seats[1]},
		{ScreeningID: fx.other, SeatID: fx.f.Seats[0]},
	} {
		_, err := fx.holds.Acquire(ctx, k.ScreeningID, k.SeatID, "alice")
		require.NoError(t, err)
	}

	fx.gw.Disconnect(ctx, alice)
	assert.Equal(t, 1, fx.gw.Hub().Members(fx.f.ScreeningID))

	got := map[string][]string{}
	for i := 0; i < 2; i++ {
		m := next(t, bob)
		require.Equal(t, EventReleased, m.Event)
		got[m.Data["screeningId"].(string)] = stringList(m.Data["seatIds"])
	}
	assertQuiet(t, bob)
	assert.ElementsMatch(t, []string{fx.f.Seats[0], fx.f.Seats[1]}, got[fx.f.ScreeningID])
	assert.Equal(t, []string{fx.f.Seats[0]}, got[fx.other])

	keys, err := fx.holds.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, keys)

	// Nothing held: no broadcast.
	carol := NewSession("carol", 0)
	fx.gw.Disconnect(ctx, carol)
	assertQuiet(t, bob)
}

func TestDispatch(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	s := NewSession("alice", 0)

	fx.gw.Dispatch(ctx, s, []byte(`{not json`))
	assert.Equal(t, EventError, next(t, s).Event)

	fx.gw.Dispatch(ctx, s, []byte(`{"event":"teleport","data":{}}`))
	m := next(t, s)
	assert.Equal(t, EventError, m.Event)
	assert.Equal(t, ReasonInvalid, m.Data["reason"])

	fx.gw.Dispatch(ctx, s, []byte(`{"event":"join","data":{"screeningId":"`+fx.f.ScreeningID+`"}}`))
	assert.Equal(t, EventSnapshot, next(t, s).Event)

	fx.gw.Dispatch(ctx, s, []byte(`{"event":"hold","data":{"screeningId":"`+fx.f.ScreeningID+`","seatId":"`+fx.f.Seats[2]+`"}}`))
	assert.Equal(t, EventHeld, next(t, s).Event)
	assert.Equal(t, EventHoldOK, next(t, s).Event)

	fx.gw.Dispatch(ctx, s, []byte(`{"event":"hold","data":"oops"}`))
	assert.Equal(t, ReasonInvalid, next(t, s).Data["reason"])

	fx.gw.Dispatch(ctx, s, []byte(`{"event":"leave","data":{"screeningId":"`+fx.f.ScreeningID+`"}}`))
	assert.Equal(t, 0, fx.gw.Hub().Members(fx.f.ScreeningID))
	assertQuiet(t, s)
}

func TestSlowSessionIsClosed(t *testing.T) {
	hub := NewHub(nil)
	slow := NewSession("alice", 1)
	hub.Join(slow, "room")

	hub.Broadcast("room", Message{Event: EventBooked})
	select {
	case <-slow.Done():
		t.Fatal("closed too early")
	default:
	}
	hub.Broadcast("room", Message{Event: EventBooked})
	select {
	case <-slow.Done():
	default:
		t.Fatal("full queue did not close the session")
	}
	assert.False(t, slow.Send(Message{Event: EventBooked}))
}
