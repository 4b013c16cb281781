// Package service implements the reservation and screening workflows on
// top of the repositories.  Services return *apperr.Error values so the
// HTTP and websocket layers can map failures without inspecting
// repository sentinels.
package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-hold/internal/fanout"
	"github.com/iliyamo/cinema-seat-hold/internal/repository"
)

// Repositories bundles the data access objects shared by the services.
type Repositories struct {
	Holds        *repository.HoldRepo
	Tickets      *repository.TicketRepo
	Transactions *repository.TransactionRepo
	Screenings   *repository.ScreeningRepo
	Seats        *repository.SeatRepo
}

// NewRepositories binds every repository to db.
func NewRepositories(db *sql.DB, holdOpts ...repository.HoldOption) Repositories {
	return Repositories{
		Holds:        repository.NewHoldRepo(db, holdOpts...),
		Tickets:      repository.NewTicketRepo(db),
		Transactions: repository.NewTransactionRepo(db),
		Screenings:   repository.NewScreeningRepo(db),
		Seats:        repository.NewSeatRepo(db),
	}
}

// Topics names the fanout topics services publish on.
type Topics struct {
	Released string
	Booked   string
}

// Option configures a service.
type Option func(*options)

type options struct {
	now    func() time.Time
	logger *zap.Logger
	bus    fanout.Bus
	topics Topics
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

// WithBus enables publishing of booking and release notifications.
func WithBus(bus fanout.Bus, topics Topics) Option {
	return func(o *options) {
		o.bus = bus
		o.topics = topics
	}
}

func buildOptions(name string, opts []Option) options {
	o := options{now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.Named(name)
	return o
}

func (o options) clock() time.Time { return o.now().UTC().Truncate(time.Second) }

// publish sends payload when a bus is configured.  Failures are logged
// and never surface to the caller: the database is already committed.
func (o options) publish(ctx context.Context, topic string, payload []byte) {
	if o.bus == nil || topic == "" {
		return
	}
	if err := o.bus.Publish(ctx, topic, payload); err != nil {
		o.logger.Warn("publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

func validUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
