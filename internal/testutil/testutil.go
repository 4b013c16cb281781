// Package testutil provides a migrated SQLite database and seed helpers
// for package tests.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-seat-hold/internal/config"
	"github.com/iliyamo/cinema-seat-hold/internal/database"
	"github.com/iliyamo/cinema-seat-hold/internal/model"
)

const layout = "2006-01-02 15:04:05"

// OpenDB returns a fresh, migrated database living in t.TempDir().
func OpenDB(t testing.TB) *sql.DB {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db, config.DriverSQLite))
	return db
}

// Fixture is a seeded screening with a handful of seats in every state.
type Fixture struct {
	MovieID     string
	HallID      string
	ScreeningID string
	Start       time.Time

	// Seats are ACTIVE seats in the screening's hall.
	Seats []string
	// MaintenanceSeat and RemovedSeat are in the hall but not bookable;
	// DeletedSeat is soft-deleted and ForeignSeat belongs to another hall.
	MaintenanceSeat string
	RemovedSeat     string
	DeletedSeat     string
	ForeignSeat     string
}

// SeedOptions shapes the fixture.  Zero values pick defaults: a 120
// minute movie in a STANDARD/STANDARD_2D hall with four active seats.
type SeedOptions struct {
	Start           time.Time
	DurationMinutes int
	HallClass       model.HallClass
	ScreenClass     model.ScreenClass
	Seats           int
}

// Seed inserts one movie, two halls, their seats and one screening.
func Seed(t testing.TB, db *sql.DB, opts SeedOptions) Fixture {
	t.Helper()
	if opts.DurationMinutes == 0 {
		opts.DurationMinutes = 120
	}
	if opts.HallClass == "" {
		opts.HallClass = model.HallStandard
	}
	if opts.ScreenClass == "" {
		opts.ScreenClass = model.Screen2D
	}
	if opts.Seats == 0 {
		opts.Seats = 4
	}
	if opts.Start.IsZero() {
		opts.Start = time.Now().UTC().Add(48 * time.Hour).Truncate(24 * time.Hour).Add(10 * time.Hour)
	}

	f := Fixture{Start: opts.Start.UTC().Truncate(time.Second)}
	f.MovieID = InsertMovie(t, db, "Feature", opts.DurationMinutes)
	f.HallID = InsertHall(t, db, "Hall 1", opts.HallClass, opts.ScreenClass)
	for i := 0; i < opts.Seats; i++ {
		f.Seats = append(f.Seats, InsertSeat(t, db, f.HallID, fmt.Sprintf("A%d", i+1), model.SeatActive))
	}
	f.MaintenanceSeat = InsertSeat(t, db, f.HallID, "M1", model.SeatUnderMaintenance)
	f.RemovedSeat = InsertSeat(t, db, f.HallID, "R1", model.SeatPermanentlyRemoved)
	f.DeletedSeat = InsertSeat(t, db, f.HallID, "D1", model.SeatActive)
	_, err := db.Exec(`UPDATE seats SET deleted_at = ? WHERE id = ?`, time.Now().UTC().Format(layout), f.DeletedSeat)
	require.NoError(t, err)

	other := InsertHall(t, db, "Hall 2", model.HallStandard, model.Screen2D)
	f.ForeignSeat = InsertSeat(t, db, other, "A1", model.SeatActive)

	f.ScreeningID = InsertScreening(t, db, f.MovieID, f.HallID, f.Start, opts.DurationMinutes)
	return f
}

// InsertMovie adds a movie and returns its id.
func InsertMovie(t testing.TB, db *sql.DB, title string, durationMinutes int) string {
	t.Helper()
	id := uuid.NewString()
	_, err := db.Exec(`INSERT INTO movies (id, title, duration_minutes, created_at) VALUES (?, ?, ?, ?)`,
		id, title, durationMinutes, time.Now().UTC().Format(layout))
	require.NoError(t, err)
	return id
}

// InsertHall adds a hall and returns its id.
func InsertHall(t testing.TB, db *sql.DB, name string, hc model.HallClass, sc model.ScreenClass) string {
	t.Helper()
	id := uuid.NewString()
	_, err := db.Exec(`INSERT INTO halls (id, name, hall_class, screen_class) VALUES (?, ?, ?, ?)`,
		id, name, string(hc), string(sc))
	require.NoError(t, err)
	return id
}

// InsertSeat adds a seat and returns its id.
func InsertSeat(t testing.TB, db *sql.DB, hallID, number string, status model.SeatStatus) string {
	t.Helper()
	id := uuid.NewString()
	_, err := db.Exec(`INSERT INTO seats (id, hall_id, seat_number, status) VALUES (?, ?, ?, ?)`,
		id, hallID, number, string(status))
	require.NoError(t, err)
	return id
}

// InsertScreening adds a screening whose end includes the cleaning buffer.
func InsertScreening(t testing.TB, db *sql.DB, movieID, hallID string, start time.Time, durationMinutes int) string {
	t.Helper()
	id := uuid.NewString()
	end := start.Add(time.Duration(durationMinutes)*time.Minute + model.CleaningBuffer)
	_, err := db.Exec(`INSERT INTO screenings (id, movie_id, hall_id, start_time, end_time) VALUES (?, ?, ?, ?, ?)`,
		id, movieID, hallID, start.UTC().Format(layout), end.UTC().Format(layout))
	require.NoError(t, err)
	return id
}

// InsertPaidTicket books a seat directly, bypassing the reservation flow.
func InsertPaidTicket(t testing.TB, db *sql.DB, screeningID, seatID, userID string) string {
	t.Helper()
	now := time.Now().UTC().Format(layout)
	txID := uuid.NewString()
	_, err := db.Exec(`INSERT INTO ledger_transactions (id, user_id, status, total_amount_cents, payment_method, created_at, updated_at)
		VALUES (?, ?, ?, 1000, 'CARD', ?, ?)`, txID, userID, string(model.TransactionCompleted), now, now)
	require.NoError(t, err)
	id := uuid.NewString()
	_, err = db.Exec(`INSERT INTO tickets (id, screening_id, seat_id, user_id, status, price_cents, transaction_id, live_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 1000, ?, 1, ?, ?)`, id, screeningID, seatID, userID, string(model.TicketPaid), txID, now, now)
	require.NoError(t, err)
	return id
}

// Clock is a settable time source for code that accepts func() time.Time.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// NewClock starts a clock at t.
func NewClock(t time.Time) *Clock { return &Clock{t: t.UTC()} }

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// TxTrace records the isolation level of every transaction begun on a
// traced database.
type TxTrace struct {
	mu     sync.Mutex
	levels []sql.IsolationLevel
}

// Levels returns the recorded levels in order.
func (tr *TxTrace) Levels() []sql.IsolationLevel {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]sql.IsolationLevel(nil), tr.levels...)
}

// Reset forgets what has been recorded so far.
func (tr *TxTrace) Reset() {
	tr.mu.Lock()
	tr.levels = nil
	tr.mu.Unlock()
}

func (tr *TxTrace) record(l sql.IsolationLevel) {
	tr.mu.Lock()
	tr.levels = append(tr.levels, l)
	tr.mu.Unlock()
}

// OpenTracedDB is OpenDB with every BeginTx recorded in the returned
// trace.
func OpenTracedDB(t testing.TB) (*sql.DB, *TxTrace) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	base, err := database.OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(context.Background(), base, config.DriverSQLite))
	drv := base.Driver()
	require.NoError(t, base.Close())

	trace := &TxTrace{}
	db := sql.OpenDB(tracingConnector{drv: drv, dsn: database.SQLiteDSN(path), trace: trace})
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db, trace
}

type tracingConnector struct {
	drv   driver.Driver
	dsn   string
	trace *TxTrace
}

func (c tracingConnector) Connect(context.Context) (driver.Conn, error) {
	conn, err := c.drv.Open(c.dsn)
	if err != nil {
		return nil, err
	}
	return tracingConn{Conn: conn, trace: c.trace}, nil
}

func (c tracingConnector) Driver() driver.Driver { return c.drv }

type tracingConn struct {
	driver.Conn
	trace *TxTrace
}

func (c tracingConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	c.trace.record(sql.IsolationLevel(opts.Isolation))
	if b, ok := c.Conn.(driver.ConnBeginTx); ok {
		return b.BeginTx(ctx, opts)
	}
	return c.Conn.Begin()
}
