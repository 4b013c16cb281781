package service_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-seat-hold/internal/apperr"
	"github.com/iliyamo/cinema-seat-hold/internal/fanout"
	"github.com/iliyamo/cinema-seat-hold/internal/model"
	"github.com/iliyamo/cinema-seat-hold/internal/payment"
	"github.com/iliyamo/cinema-seat-hold/internal/service"
	"github.com/iliyamo/cinema-seat-hold/internal/testutil"
)

var validCard = payment.Details{
	Method:      payment.MethodCard,
	CardNumber:  "4242424242424242",
	ExpiryMonth: 12,
	ExpiryYear:  2099,
	CVV:         "123",
}

type env struct {
	svc     *service.ReservationService
	repos   service.Repositories
	fixture testutil.Fixture
	clock   *testutil.Clock
	booked  chan fanout.BookingConfirmed
	freed   chan []model.SeatKey
}

func newEnv(t *testing.T, validator payment.Validator) *env {
	t.Helper()
	db := testutil.OpenDB(t)
	f := testutil.Seed(t, db, testutil.SeedOptions{})
	clock := testutil.NewClock(f.Start.Add(-24 * time.Hour))
	if validator == nil {
		validator = payment.NewCardValidator().WithClock(clock.Now)
	}
	repos := service.NewRepositories(db)

	bus := fanout.NewMemoryBus(nil)
	e := &env{
		repos:   repos,
		fixture: f,
		clock:   clock,
		booked:  make(chan fanout.BookingConfirmed, 8),
		freed:   make(chan []model.SeatKey, 8),
	}
	ctx := context.Background()
	_, err := bus.Subscribe(ctx, "booking.confirmed", func(_ context.Context, p []byte) error {
		ev, err := fanout.DecodeBookingConfirmed(p)
		if err == nil {
			e.booked <- ev
		}
		return err
	})
	require.NoError(t, err)
	_, err = bus.Subscribe(ctx, "seats.released", func(_ context.Context, p []byte) error {
		keys, err := fanout.DecodeReleased(p)
		if err == nil {
			e.freed <- keys
		}
		return err
	})
	require.NoError(t, err)

	e.svc = service.NewReservationService(repos, validator,
		service.WithClock(clock.Now),
		service.WithBus(bus, service.Topics{Released: "seats.released", Booked: "booking.confirmed"}),
	)
	return e
}

func (e *env) reserve(userID string, seats ...string) (*service.ReserveResult, error) {
	return e.svc.Reserve(context.Background(), service.ReserveInput{
		ScreeningID: e.fixture.ScreeningID,
		SeatIDs:     seats,
		UserID:      userID,
		Payment:     validCard,
	})
}

func TestReserve_Completes(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	f := e.fixture

	// A hold by someone else does not stop the purchase and is cleared by it.
	_, err := e.repos.Holds.Acquire(ctx, f.ScreeningID, f.Seats[0], "bob")
	require.NoError(t, err)

	res, err := e.reserve("alice", f.Seats[0], f.Seats[1])
	require.NoError(t, err)

	assert.Equal(t, model.TransactionCompleted, res.Transaction.Status)
	assert.EqualValues(t, 16000, res.Transaction.TotalAmountCents)
	assert.Equal(t, "CARD", res.Transaction.PaymentMethod)
	require.Len(t, res.Tickets, 2)
	for _, tk := range res.Tickets {
		assert.Equal(t, model.TicketPaid, tk.Status)
		assert.EqualValues(t, 8000, tk.PriceCents)
		assert.Equal(t, res.Transaction.ID, tk.TransactionID)
	}

	stored, err := e.repos.Transactions.GetByID(ctx, res.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionCompleted, stored.Status)

	booked, err := e.repos.Tickets.BookedSeatIDs(ctx, f.ScreeningID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{f.Seats[0], f.Seats[1]}, booked)

	holds, err := e.repos.Holds.LiveHolds(ctx, f.ScreeningID)
	require.NoError(t, err)
	assert.Empty(t, holds)

	select {
	case ev := <-e.booked:
		assert.Equal(t, f.ScreeningID, ev.ScreeningID)
		assert.ElementsMatch(t, []string{f.Seats[0], f.Seats[1]}, ev.SeatIDs)
		assert.Equal(t, "alice", ev.UserID)
	default:
		t.Fatal("booking not published")
	}

	_, err = e.reserve("carol", f.Seats[1])
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, apperr.CodeSeatBooked, apperr.CodeOf(err))
}

func TestReserve_ConcurrentSingleWinner(t *testing.T) {
	e := newEnv(t, nil)
	seat := e.fixture.Seats[2]

	const n = 6
	var wg sync.WaitGroup
	errs := make([]error, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = e.reserve(uuid.NewString(), seat)
		}(i)
	}
	close(start)
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.Equal(t, apperr.CodeSeatBooked, apperr.CodeOf(err), err.Error())
	}
	assert.Equal(t, 1, wins)

	booked, err := e.repos.Tickets.BookedSeatIDs(context.Background(), e.fixture.ScreeningID)
	require.NoError(t, err)
	assert.Equal(t, []string{seat}, booked)
}

func TestReserve_PaymentRejected(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	f := e.fixture

	_, err := e.svc.Reserve(ctx, service.ReserveInput{
		ScreeningID: f.ScreeningID,
		SeatIDs:     []string{f.Seats[0], f.Seats[1]},
		UserID:      "alice",
		Payment:     payment.Details{Method: payment.MethodCard, CardNumber: "4242424242424241", ExpiryMonth: 1, ExpiryYear: 2099, CVV: "123"},
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindPayment, apperr.KindOf(err))

	var rejected *service.PaymentRejected
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, "card number failed checksum", rejected.Reason)
	assert.Len(t, rejected.TicketIDs, 2)

	lt, err := e.repos.Transactions.GetByID(ctx, rejected.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionRejected, lt.Status)
	assert.Equal(t, "card number failed checksum", lt.FailureReason)

	tickets, err := e.svc.ListUserTickets(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	for _, tk := range tickets {
		assert.Equal(t, model.TicketCancelled, tk.Status)
	}
	assert.Empty(t, e.booked)

	// Cancelled audit rows do not block a later purchase of the same seats.
	res, err := e.reserve("alice", f.Seats[0], f.Seats[1])
	require.NoError(t, err)
	assert.Equal(t, model.TransactionCompleted, res.Transaction.Status)
}

func TestReserve_ValidatorFailureLeavesNothing(t *testing.T) {
	e := newEnv(t, payment.ValidatorFunc(func(context.Context, payment.Charge) error {
		return errors.New("validator unreachable")
	}))
	ctx := context.Background()

	_, err := e.reserve("alice", e.fixture.Seats[0])
	assert.Equal(t, apperr.KindServer, apperr.KindOf(err))

	tickets, err := e.svc.ListUserTickets(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, tickets)
}

func TestReserve_Rejections(t *testing.T) {
	e := newEnv(t, nil)
	f := e.fixture
	testutil.InsertPaidTicket(t, e.repos.Tickets.DB(), f.ScreeningID, f.Seats[3], "zed")

	cases := []struct {
		name  string
		input service.ReserveInput
		kind  apperr.Kind
		code  string
	}{
		{"no seats", service.ReserveInput{ScreeningID: f.ScreeningID, UserID: "u", Payment: validCard}, apperr.KindValidation, apperr.CodeInvalid},
		{"bad screening id", service.ReserveInput{ScreeningID: "nope", SeatIDs: []string{f.Seats[0]}, UserID: "u", Payment: validCard}, apperr.KindValidation, apperr.CodeInvalid},
		{"bad seat id", service.ReserveInput{ScreeningID: f.ScreeningID, SeatIDs: []string{"A1"}, UserID: "u", Payment: validCard}, apperr.KindValidation, apperr.CodeInvalid},
		{"duplicate seat", service.ReserveInput{ScreeningID: f.ScreeningID, SeatIDs: []string{f.Seats[0], f.Seats[0]}, UserID: "u", Payment: validCard}, apperr.KindValidation, apperr.CodeInvalid},
		{"no payment method", service.ReserveInput{ScreeningID: f.ScreeningID, SeatIDs: []string{f.Seats[0]}, UserID: "u"}, apperr.KindValidation, apperr.CodeInvalid},
		{"no user", service.ReserveInput{ScreeningID: f.ScreeningID, SeatIDs: []string{f.Seats[0]}, Payment: validCard}, apperr.KindValidation, apperr.CodeInvalid},
		{"unknown screening", service.ReserveInput{ScreeningID: uuid.NewString(), SeatIDs: []string{f.Seats[0]}, UserID: "u", Payment: validCard}, apperr.KindNotFound, apperr.CodeNotFound},
		{"maintenance seat", service.ReserveInput{ScreeningID: f.ScreeningID, SeatIDs: []string{f.Seats[0], f.MaintenanceSeat}, UserID: "u", Payment: validCard}, apperr.KindValidation, apperr.CodeInvalid},
		{"removed seat", service.ReserveInput{ScreeningID: f.ScreeningID, SeatIDs: []string{f.RemovedSeat}, UserID: "u", Payment: validCard}, apperr.KindValidation, apperr.CodeInvalid},
		{"deleted seat", service.ReserveInput{ScreeningID: f.ScreeningID, SeatIDs: []string{f.DeletedSeat}, UserID: "u", Payment: validCard}, apperr.KindValidation, apperr.CodeInvalid},
		{"seat in another hall", service.ReserveInput{ScreeningID: f.ScreeningID, SeatIDs: []string{f.ForeignSeat}, UserID: "u", Payment: validCard}, apperr.KindValidation, apperr.CodeInvalid},
		{"already booked", service.ReserveInput{ScreeningID: f.ScreeningID, SeatIDs: []string{f.Seats[0], f.Seats[3]}, UserID: "u", Payment: validCard}, apperr.KindConflict, apperr.CodeSeatBooked},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.svc.Reserve(context.Background(), tc.input)
			require.Error(t, err)
			assert.Equal(t, tc.kind, apperr.KindOf(err), err.Error())
			assert.Equal(t, tc.code, apperr.CodeOf(err))
		})
	}

	t.Run("screening started", func(t *testing.T) {
		e.clock.Advance(24 * time.Hour)
		_, err := e.reserve("u", f.Seats[0])
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	})
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("refunds and frees the seat", func(t *testing.T) {
		e := newEnv(t, nil)
		res, err := e.reserve("alice", e.fixture.Seats[0])
		require.NoError(t, err)

		tk, err := e.svc.Cancel(ctx, res.Tickets[0].ID, "alice")
		require.NoError(t, err)
		assert.Equal(t, model.TicketRefunded, tk.Status)
		assert.NotNil(t, tk.DeletedAt)

		select {
		case keys := <-e.freed:
			assert.Equal(t, []model.SeatKey{{ScreeningID: e.fixture.ScreeningID, SeatID: e.fixture.Seats[0]}}, keys)
		default:
			t.Fatal("release not published")
		}

		_, err = e.svc.Cancel(ctx, res.Tickets[0].ID, "alice")
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

		_, err = e.reserve("bob", e.fixture.Seats[0])
		assert.NoError(t, err)
	})

	t.Run("rules", func(t *testing.T) {
		e := newEnv(t, nil)
		res, err := e.reserve("alice", e.fixture.Seats[0])
		require.NoError(t, err)
		ticketID := res.Tickets[0].ID

		_, err = e.svc.Cancel(ctx, uuid.NewString(), "alice")
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

		_, err = e.svc.Cancel(ctx, "not-a-uuid", "alice")
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

		_, err = e.svc.Cancel(ctx, ticketID, "mallory")
		assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

		e.clock.Advance(48 * time.Hour)
		_, err = e.svc.Cancel(ctx, ticketID, "alice")
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	})

	t.Run("cancelled ticket conflicts", func(t *testing.T) {
		e := newEnv(t, nil)
		bad := validCard
		bad.CVV = "x"
		_, err := e.svc.Reserve(ctx, service.ReserveInput{
			ScreeningID: e.fixture.ScreeningID,
			SeatIDs:     []string{e.fixture.Seats[0]},
			UserID:      "alice",
			Payment:     bad,
		})
		var rejected *service.PaymentRejected
		require.True(t, errors.As(err, &rejected))

		_, err = e.svc.Cancel(ctx, rejected.TicketIDs[0], "alice")
		assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
		assert.Equal(t, apperr.CodeTicketState, apperr.CodeOf(err))
	})
}

func TestReserveBooksUnderRepeatableRead(t *testing.T) {
	db, trace := testutil.OpenTracedDB(t)
	f := testutil.Seed(t, db, testutil.SeedOptions{})
	clock := testutil.NewClock(f.Start.Add(-24 * time.Hour))
	svc := service.NewReservationService(service.NewRepositories(db),
		payment.NewCardValidator().WithClock(clock.Now), service.WithClock(clock.Now))
	trace.Reset()

	_, err := svc.Reserve(context.Background(), service.ReserveInput{
		ScreeningID: f.ScreeningID,
		SeatIDs:     f.Seats[:2],
		UserID:      "alice",
		Payment:     validCard,
	})
	require.NoError(t, err)
	assert.Contains(t, trace.Levels(), sql.LevelRepeatableRead)
}
