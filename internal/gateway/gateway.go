package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-hold/internal/fanout"
	"github.com/iliyamo/cinema-seat-hold/internal/model"
	"github.com/iliyamo/cinema-seat-hold/internal/repository"
	"github.com/iliyamo/cinema-seat-hold/internal/service"
)

// HoldStore is the lease store as seen by the gateway.
type HoldStore interface {
	Acquire(ctx context.Context, screeningID, seatID, userID string) (*model.Hold, error)
	Release(ctx context.Context, screeningID, seatID, userID string) (int64, error)
	ReleaseAllByOwner(ctx context.Context, userID string) ([]model.SeatKey, error)
}

// SnapshotSource reports the current seat state of a screening.
type SnapshotSource interface {
	Snapshot(ctx context.Context, screeningID string) (*service.Snapshot, error)
}

// disconnectTimeout bounds the hold cleanup that runs after the
// connection's own context is gone.
const disconnectTimeout = 5 * time.Second

// Topics names the fanout topics seat events travel on.
type Topics struct {
	Held     string
	Released string
	Booked   string
}

// Gateway handles client events for all sessions of this process.
type Gateway struct {
	hub       *Hub
	holds     HoldStore
	snapshots SnapshotSource
	logger    *zap.Logger

	// instance tags what this process publishes so its own relay can
	// skip it.
	instance string
	bus      fanout.Bus
	topics   Topics
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithBus publishes holds and releases made through this gateway so
// rooms on other processes hear them.
func WithBus(bus fanout.Bus, topics Topics) Option {
	return func(g *Gateway) {
		g.bus = bus
		g.topics = topics
	}
}

// New returns a Gateway broadcasting through hub.
func New(hub *Hub, holds HoldStore, snapshots SnapshotSource, logger *zap.Logger, opts ...Option) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{
		hub:       hub,
		holds:     holds,
		snapshots: snapshots,
		logger:    logger.Named("gateway"),
		instance:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Hub returns the room registry.
func (g *Gateway) Hub() *Hub { return g.hub }

// InstanceID identifies this gateway in the messages it publishes.
func (g *Gateway) InstanceID() string { return g.instance }

// Dispatch decodes one client message and runs its handler.  Malformed
// and unknown messages are answered with an error event; the connection
// stays open.
func (g *Gateway) Dispatch(ctx context.Context, s *Session, raw []byte) {
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		s.Send(Message{Event: EventError, Data: failure{Reason: ReasonInvalid}})
		return
	}
	var req seatRequest
	if len(in.Data) > 0 && json.Unmarshal(in.Data, &req) != nil {
		req = seatRequest{}
	}
	switch in.Event {
	case EventJoin:
		g.Join(ctx, s, req.ScreeningID)
	case EventLeave:
		g.Leave(s, req.ScreeningID)
	case EventHold:
		g.Hold(ctx, s, req.ScreeningID, req.SeatID)
	case EventRelease:
		g.Release(ctx, s, req.ScreeningID, req.SeatID)
	default:
		s.Send(Message{Event: EventError, Data: failure{Reason: ReasonInvalid}})
	}
}

// Join subscribes s to the screening's room and sends it a snapshot.  A
// failed snapshot is reported but the membership stands.
func (g *Gateway) Join(ctx context.Context, s *Session, screeningID string) {
	if !validID(screeningID) {
		s.Send(Message{Event: EventJoinFailed, Data: failure{ScreeningID: screeningID, Reason: ReasonInvalid}})
		return
	}
	g.hub.Join(s, screeningID)

	snap, err := g.snapshots.Snapshot(ctx, screeningID)
	if err != nil {
		g.logger.Error("snapshot failed", zap.String("screening_id", screeningID), zap.Error(err))
		s.Send(Message{Event: EventSnapshotFailed, Data: failure{ScreeningID: screeningID, Reason: ReasonServerError}})
		return
	}
	s.Send(Message{Event: EventSnapshot, Data: snap})
}

// Leave removes s from the screening's room.  There is no reply.
func (g *Gateway) Leave(s *Session, screeningID string) {
	if screeningID != "" {
		g.hub.Leave(s, screeningID)
	}
}

// Hold places a hold for the session's user.  On success the room hears
// "held" before the requester gets "holdOk".  Conflicts go to the
// requester only.
func (g *Gateway) Hold(ctx context.Context, s *Session, screeningID, seatID string) {
	if !validID(screeningID) || !validID(seatID) {
		s.Send(Message{Event: EventHoldFailed, Data: failure{ScreeningID: screeningID, SeatID: seatID, Reason: ReasonInvalid}})
		return
	}
	h, err := g.holds.Acquire(ctx, screeningID, seatID, s.UserID)
	if err != nil {
		reason := ReasonServerError
		switch {
		case errors.Is(err, repository.ErrSeatHeld):
			reason = ReasonSeatHeld
		case errors.Is(err, repository.ErrSeatBooked):
			reason = ReasonSeatBooked
		default:
			g.logger.Error("acquire failed",
				zap.String("screening_id", screeningID),
				zap.String("seat_id", seatID),
				zap.Error(err))
		}
		s.Send(Message{Event: EventHoldFailed, Data: failure{ScreeningID: screeningID, SeatID: seatID, Reason: reason}})
		return
	}
	ev := fanout.SeatHeld{
		Origin:      g.instance,
		ScreeningID: h.ScreeningID,
		SeatID:      h.SeatID,
		UserID:      h.UserID,
		ExpiresAt:   h.ExpiresAt,
	}
	g.BroadcastHeld(ev)
	s.Send(Message{Event: EventHoldOK, Data: holdOKPayload{
		ScreeningID: h.ScreeningID,
		SeatID:      h.SeatID,
		ExpiresAt:   h.ExpiresAt,
	}})
	if body, err := json.Marshal(ev); err == nil {
		g.publish(ctx, g.topics.Held, body)
	}
}

// Release drops the session user's hold on a seat.
func (g *Gateway) Release(ctx context.Context, s *Session, screeningID, seatID string) {
	if screeningID == "" || seatID == "" {
		s.Send(Message{Event: EventReleaseFailed, Data: failure{ScreeningID: screeningID, SeatID: seatID, Reason: ReasonInvalid}})
		return
	}
	n, err := g.holds.Release(ctx, screeningID, seatID, s.UserID)
	if err != nil {
		g.logger.Error("release failed", zap.String("screening_id", screeningID), zap.Error(err))
		s.Send(Message{Event: EventReleaseFailed, Data: failure{ScreeningID: screeningID, SeatID: seatID, Reason: ReasonServerError}})
		return
	}
	if n == 0 {
		s.Send(Message{Event: EventReleaseFailed, Data: failure{ScreeningID: screeningID, SeatID: seatID, Reason: ReasonNotFound}})
		return
	}
	payload := seatPayload{ScreeningID: screeningID, SeatID: seatID}
	g.hub.Broadcast(screeningID, Message{Event: EventReleased, Data: payload})
	s.Send(Message{Event: EventReleaseOK, Data: payload})
	g.publishReleased(ctx, []model.SeatKey{{ScreeningID: screeningID, SeatID: seatID}})
}

// Disconnect removes s from its rooms and releases every hold of its
// user, announcing one "released" per affected screening.
func (g *Gateway) Disconnect(ctx context.Context, s *Session) {
	s.Close()
	g.hub.LeaveAll(s)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
	defer cancel()
	keys, err := g.holds.ReleaseAllByOwner(ctx, s.UserID)
	if err != nil {
		g.logger.Error("release on disconnect failed", zap.String("user_id", s.UserID), zap.Error(err))
		return
	}
	if len(keys) == 0 {
		return
	}
	g.logger.Debug("released holds on disconnect", zap.String("user_id", s.UserID), zap.Int("seats", len(keys)))
	g.BroadcastReleased(keys)
	g.publishReleased(ctx, keys)
}

// BroadcastHeld announces a granted hold to the screening's room.
func (g *Gateway) BroadcastHeld(ev fanout.SeatHeld) {
	g.hub.Broadcast(ev.ScreeningID, Message{Event: EventHeld, Data: heldPayload{
		ScreeningID: ev.ScreeningID,
		SeatID:      ev.SeatID,
		UserID:      ev.UserID,
		ExpiresAt:   ev.ExpiresAt,
	}})
}

// BroadcastReleased announces freed seats, one message per screening.
func (g *Gateway) BroadcastReleased(keys []model.SeatKey) {
	groups := model.GroupByScreening(keys)
	for _, screeningID := range sortedKeys(groups) {
		g.hub.Broadcast(screeningID, Message{Event: EventReleased, Data: seatsPayload{
			ScreeningID: screeningID,
			SeatIDs:     groups[screeningID],
		}})
	}
}

// BroadcastBooked announces sold seats to the screening's room.
func (g *Gateway) BroadcastBooked(screeningID string, seatIDs []string) {
	g.hub.Broadcast(screeningID, Message{Event: EventBooked, Data: seatsPayload{
		ScreeningID: screeningID,
		SeatIDs:     seatIDs,
	}})
}

func (g *Gateway) publishReleased(ctx context.Context, keys []model.SeatKey) {
	if body, err := fanout.EncodeReleasedFrom(g.instance, keys); err == nil {
		g.publish(ctx, g.topics.Released, body)
	}
}

// publish is best effort: local rooms already have the event.
func (g *Gateway) publish(ctx context.Context, topic string, payload []byte) {
	if g.bus == nil || topic == "" {
		return
	}
	if err := g.bus.Publish(ctx, topic, payload); err != nil {
		g.logger.Warn("publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

func validID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

func sortedKeys(m map[string][]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
