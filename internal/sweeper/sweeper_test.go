package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-seat-hold/internal/fanout"
	"github.com/iliyamo/cinema-seat-hold/internal/model"
	"github.com/iliyamo/cinema-seat-hold/internal/repository"
	"github.com/iliyamo/cinema-seat-hold/internal/testutil"
)

type mockBus struct {
	mock.Mock
}

func (m *mockBus) Publish(ctx context.Context, topic string, payload []byte) error {
	return m.Called(ctx, topic, payload).Error(0)
}

func (m *mockBus) Subscribe(ctx context.Context, topic string, h fanout.Handler) (fanout.Subscription, error) {
	args := m.Called(ctx, topic, h)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(fanout.Subscription), args.Error(1)
}

func (m *mockBus) Close() error { return m.Called().Error(0) }

type stubSweeper struct {
	keys []model.SeatKey
	err  error
}

func (s stubSweeper) SweepExpired(context.Context) ([]model.SeatKey, error) { return s.keys, s.err }

func TestExpiryJob_NoPublishWhenNothingExpired(t *testing.T) {
	bus := new(mockBus)
	job := NewExpiryJob(stubSweeper{}, bus, "seats.released")

	require.NoError(t, job.Run(context.Background()))
	bus.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestExpiryJob_PublishesOnce(t *testing.T) {
	keys := []model.SeatKey{{ScreeningID: "s1", SeatID: "a"}, {ScreeningID: "s1", SeatID: "b"}}
	bus := new(mockBus)
	bus.On("Publish", mock.Anything, "seats.released", mock.MatchedBy(func(p []byte) bool {
		got, err := fanout.DecodeReleased(p)
		return err == nil && assert.ObjectsAreEqual(keys, got)
	})).Return(nil).Once()

	job := NewExpiryJob(stubSweeper{keys: keys}, bus, "seats.released")
	require.NoError(t, job.Run(context.Background()))
	bus.AssertExpectations(t)
}

func TestExpiryJob_Errors(t *testing.T) {
	bus := new(mockBus)
	job := NewExpiryJob(stubSweeper{err: errors.New("db gone")}, bus, "t")
	assert.ErrorContains(t, job.Run(context.Background()), "db gone")

	bus.On("Publish", mock.Anything, "t", mock.Anything).Return(errors.New("broker down"))
	job = NewExpiryJob(stubSweeper{keys: []model.SeatKey{{ScreeningID: "s", SeatID: "x"}}}, bus, "t")
	assert.ErrorContains(t, job.Run(context.Background()), "broker down")
}

func TestExpiryJob_AgainstStore(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	f := testutil.Seed(t, db, testutil.SeedOptions{})
	clock := testutil.NewClock(time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC))
	holds := repository.NewHoldRepo(db, repository.WithClock(clock.Now))

	_, err := holds.Acquire(ctx, f.ScreeningID, f.Seats[0], "alice")
	require.NoError(t, err)
	_, err = holds.Acquire(ctx, f.ScreeningID, f.Seats[1], "bob")
	require.NoError(t, err)

	bus := fanout.NewMemoryBus(nil)
	var got [][]model.SeatKey
	_, err = bus.Subscribe(ctx, "seats.released", func(_ context.Context, p []byte) error {
		keys, err := fanout.DecodeReleased(p)
		got = append(got, keys)
		return err
	})
	require.NoError(t, err)

	sched := NewScheduler(nil)
	sched.Every(5*time.Second, NewExpiryJob(holds, bus, "seats.released"))

	sched.RunOnce(ctx)
	assert.Empty(t, got)

	clock.Advance(repository.DefaultHoldTTL)
	sched.RunOnce(ctx)
	sched.RunOnce(ctx)
	require.Len(t, got, 1)
	assert.ElementsMatch(t, []model.SeatKey{
		{ScreeningID: f.ScreeningID, SeatID: f.Seats[0]},
		{ScreeningID: f.ScreeningID, SeatID: f.Seats[1]},
	}, got[0])
}

type countingJob struct {
	runs atomic.Int32
	err  error
}

func (j *countingJob) Name() string { return "counting" }

func (j *countingJob) Run(context.Context) error {
	j.runs.Add(1)
	return j.err
}

func TestScheduler_KeepsRunningAfterErrors(t *testing.T) {
	job := &countingJob{err: errors.New("publish failed")}
	sched := NewScheduler(nil)
	sched.Every(5*time.Millisecond, job)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = sched.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return job.runs.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
