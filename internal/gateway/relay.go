package gateway

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-hold/internal/fanout"
)

// Relay feeds fanout messages published by any process into this
// process's rooms.  Run it once per server.  Messages the gateway
// published itself are skipped; its rooms heard them already.
type Relay struct {
	bus    fanout.Bus
	gw     *Gateway
	topics Topics
	logger *zap.Logger
}

// NewRelay returns a relay for the seat topics.  Empty held or booked
// topics are not subscribed.
func NewRelay(bus fanout.Bus, gw *Gateway, topics Topics, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		bus:    bus,
		gw:     gw,
		topics: topics,
		logger: logger.Named("relay"),
	}
}

// Start subscribes to the topics and returns once the subscriptions are
// in place.  They end when ctx is done.
func (r *Relay) Start(ctx context.Context) error {
	subs := []struct {
		topic string
		h     fanout.Handler
	}{
		{r.topics.Released, r.handleReleased},
		{r.topics.Held, r.handleHeld},
		{r.topics.Booked, r.handleBooked},
	}
	for _, sub := range subs {
		if sub.topic == "" {
			continue
		}
		if _, err := r.bus.Subscribe(ctx, sub.topic, sub.h); err != nil {
			return fmt.Errorf("subscribe %s: %w", sub.topic, err)
		}
	}
	r.logger.Info("relay subscribed",
		zap.String("instance", r.gw.InstanceID()),
		zap.String("released_topic", r.topics.Released),
		zap.String("held_topic", r.topics.Held),
		zap.String("booked_topic", r.topics.Booked))
	return nil
}

// Run starts the relay and blocks until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func (r *Relay) handleReleased(_ context.Context, payload []byte) error {
	msg, err := fanout.DecodeReleasedMessage(payload)
	if err != nil {
		return err
	}
	if msg.Origin == r.gw.InstanceID() {
		return nil
	}
	r.gw.BroadcastReleased(msg.Keys)
	return nil
}

func (r *Relay) handleHeld(_ context.Context, payload []byte) error {
	ev, err := fanout.DecodeSeatHeld(payload)
	if err != nil {
		return err
	}
	if ev.Origin == r.gw.InstanceID() {
		return nil
	}
	r.gw.BroadcastHeld(ev)
	return nil
}

func (r *Relay) handleBooked(_ context.Context, payload []byte) error {
	ev, err := fanout.DecodeBookingConfirmed(payload)
	if err != nil {
		return err
	}
	r.logger.Info("booking confirmed",
		zap.String("transaction_id", ev.TransactionID),
		zap.String("user_id", ev.UserID),
		zap.String("screening_id", ev.ScreeningID),
		zap.String("hall", ev.HallName),
		zap.String("movie", ev.MovieTitle),
		zap.Int64("total_cents", ev.TotalAmountCents),
		zap.String("seats", strings.Join(ev.SeatIDs, ",")))
	r.gw.BroadcastBooked(ev.ScreeningID, ev.SeatIDs)
	return nil
}
